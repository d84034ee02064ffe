package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/package-url/packageurl-go"
	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
)

// ReportService assembles the compliance report from whatever the run left
// behind. It must tolerate every partial state: no digest, zero artifacts,
// all stages skipped.
type ReportService struct {
	artifacts    ports.ArtifactRepository
	attestations ports.AttestationRepository
	audit        ports.AuditStore
}

// NewReportService initializes the ReportService with all injected dependencies.
// A nil audit store disables the audit trail. Records are put under the
// buildID; path namespacing belongs to the audit store.
func NewReportService(artifacts ports.ArtifactRepository, attestations ports.AttestationRepository, audit ports.AuditStore) *ReportService {
	return &ReportService{
		artifacts:    artifacts,
		attestations: attestations,
		audit:        audit,
	}
}

// Assemble builds the report from the settled main-region results, stores
// it and best-effort appends the audit trail entry.
func (s *ReportService) Assemble(ctx context.Context, bc *domain.BuildContext, stages []domain.StageResult, tools []domain.ToolIdentity) (domain.ComplianceReport, error) {
	ctx, span := otel.Tracer("").Start(ctx, "ReportService.Assemble")
	defer span.End()

	report := domain.ComplianceReport{
		BuildID:   bc.BuildID,
		ImageRef:  domain.UnresolvedImageRef,
		Outcome:   domain.OutcomeSuccess,
		Config:    runConfig(bc),
		Stages:    stages,
		SLSA:      SLSAProperties(bc),
		Tools:     tools,
		CreatedAt: time.Now().UTC(),
	}
	if ref, err := bc.ImageRef(); err == nil {
		report.ImageRef = ref
	}
	for _, stage := range stages {
		if !stage.Finalizer && stage.State == domain.StageFailed {
			report.Outcome = domain.OutcomeFailure
		}
	}

	refs, err := s.artifacts.ListArtifacts(ctx, bc.BuildID)
	if err != nil {
		logger.L().Ctx(ctx).Warning("artifact inventory unavailable",
			helpers.String("buildID", bc.BuildID), helpers.Error(err))
	}
	report.Artifacts = refs

	report.Summary = s.loadSummary(ctx, bc.BuildID)
	report.Ecosystems = s.loadEcosystems(ctx, bc.BuildID)

	if digest := bc.Digest(); digest != "" {
		records, err := s.attestations.ListAttestations(ctx, digest)
		if err != nil {
			logger.L().Ctx(ctx).Warning("attestation listing unavailable",
				helpers.String("subject", digest), helpers.Error(err))
		}
		for _, record := range records {
			report.Attestations = append(report.Attestations, record.Summary())
		}
	}

	content, err := json.Marshal(report)
	if err != nil {
		return domain.ComplianceReport{}, err
	}
	if _, err := s.artifacts.StoreArtifact(ctx, bc.BuildID, domain.KindReport, content); err != nil {
		return domain.ComplianceReport{}, err
	}

	s.appendAudit(ctx, bc, report)
	return report, nil
}

func runConfig(bc *domain.BuildContext) domain.RunConfig {
	platforms := make([]string, 0, len(bc.Platforms))
	for _, p := range bc.Platforms {
		platforms = append(platforms, p.String())
	}
	return domain.RunConfig{
		Registry:           bc.Registry,
		ImageName:          bc.ImageName,
		Platforms:          platforms,
		Threshold:          bc.Threshold,
		EnablePatching:     bc.EnablePatching,
		VEXAnalysisEnabled: bc.VEXAnalysisEnabled,
	}
}

// loadEcosystems rolls the consolidated SBOM components up by purl type.
// Components without a parsable purl count as "unknown".
func (s *ReportService) loadEcosystems(ctx context.Context, buildID string) map[string]int {
	content, err := s.artifacts.GetArtifact(ctx, buildID, domain.KindSBOMConsolidated)
	if err != nil {
		if !errors.Is(err, domain.ErrArtifactNotFound) {
			logger.L().Ctx(ctx).Warning("consolidated SBOM unavailable",
				helpers.String("buildID", buildID), helpers.Error(err))
		}
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(content, &doc); err != nil {
		logger.L().Ctx(ctx).Warning("consolidated SBOM corrupted",
			helpers.String("buildID", buildID), helpers.Error(err))
		return nil
	}
	components := domain.SBOM{Content: doc}.Components()
	if len(components) == 0 {
		return nil
	}
	ecosystems := map[string]int{}
	for _, c := range components {
		key := "unknown"
		if purl, ok := c["purl"].(string); ok && purl != "" {
			if p, err := packageurl.FromString(purl); err == nil {
				key = p.Type
			}
		}
		ecosystems[key]++
	}
	return ecosystems
}

func (s *ReportService) loadSummary(ctx context.Context, buildID string) *domain.VulnSummary {
	content, err := s.artifacts.GetArtifact(ctx, buildID, domain.KindVulnSummary)
	if err != nil {
		if !errors.Is(err, domain.ErrArtifactNotFound) {
			logger.L().Ctx(ctx).Warning("vulnerability summary unavailable",
				helpers.String("buildID", buildID), helpers.Error(err))
		}
		return nil
	}
	var summary domain.VulnSummary
	if err := json.Unmarshal(content, &summary); err != nil {
		logger.L().Ctx(ctx).Warning("vulnerability summary corrupted",
			helpers.String("buildID", buildID), helpers.Error(err))
		return nil
	}
	return &summary
}

// appendAudit is best-effort: failures are logged and never flip the outcome.
func (s *ReportService) appendAudit(ctx context.Context, bc *domain.BuildContext, report domain.ComplianceReport) {
	if s.audit == nil {
		return
	}
	record := domain.AuditRecord{
		BuildID:          report.BuildID,
		Outcome:          report.Outcome,
		Digest:           bc.Digest(),
		AttestationCount: len(report.Attestations),
		Timestamp:        time.Now().UTC(),
	}
	content, err := json.Marshal(record)
	if err != nil {
		logger.L().Ctx(ctx).Warning("audit record marshaling failed", helpers.Error(err))
		return
	}
	if err := s.audit.Put(ctx, report.BuildID, content); err != nil {
		logger.L().Ctx(ctx).Warning("audit trail write failed",
			helpers.String("buildID", report.BuildID), helpers.Error(err))
	}
}
