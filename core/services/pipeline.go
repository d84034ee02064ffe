package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/google/uuid"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
	"github.com/buildseal/buildseal/internal/pipeline"
	"github.com/buildseal/buildseal/internal/tools"
)

// Settings are the per-process pipeline parameters, mapped from config.
type Settings struct {
	Registry           string
	ImageName          string
	SourceDir          string
	Platforms          []domain.Platform
	Threshold          domain.Severity
	EnablePatching     bool
	VEXAnalysisEnabled bool
	BuildTimeout       time.Duration
	ScanTimeout        time.Duration
	SLSABuildType      string
	SLSABuilderID      string
	SLSALevel          string
}

// PipelineService implements PipelineRunner from ports, this is the business component
// business logic should be independent of implementations
type PipelineService struct {
	builder      ports.ImageBuilder
	scanner      ports.VulnerabilityScanner
	sbomGen      ports.SBOMGenerator
	vexProvider  ports.VEXProvider
	artifacts    ports.ArtifactRepository
	consolidator *ConsolidationService
	attestor     *AttestationService
	reporter     *ReportService
	settings     Settings
}

var _ ports.PipelineRunner = (*PipelineService)(nil)

// NewPipelineService initializes the PipelineService with all injected dependencies
func NewPipelineService(builder ports.ImageBuilder, scanner ports.VulnerabilityScanner, sbomGen ports.SBOMGenerator, vexProvider ports.VEXProvider, artifacts ports.ArtifactRepository, consolidator *ConsolidationService, attestor *AttestationService, reporter *ReportService, settings Settings) *PipelineService {
	return &PipelineService{
		builder:      builder,
		scanner:      scanner,
		sbomGen:      sbomGen,
		vexProvider:  vexProvider,
		artifacts:    artifacts,
		consolidator: consolidator,
		attestor:     attestor,
		reporter:     reporter,
		settings:     settings,
	}
}

// Ready proxies the builder's and scanner's readiness
func (s *PipelineService) Ready(ctx context.Context) bool {
	return s.builder.Ready(ctx) && s.scanner.Ready(ctx)
}

// ValidateRun prepares the run context: it assigns a buildID when the caller
// supplied none and records the start time.
func (s *PipelineService) ValidateRun(ctx context.Context, input domain.RunInput) (context.Context, error) {
	// record start time
	ctx = context.WithValue(ctx, domain.TimestampKey{}, time.Now().Unix())
	buildID := input.BuildID
	if buildID == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			return ctx, err
		}
		buildID = id.String()
	}
	ctx = context.WithValue(ctx, domain.BuildIDKey{}, buildID)
	if s.settings.Registry == "" {
		return ctx, &domain.ConfigError{Key: "registry", Reason: "is required"}
	}
	if s.settings.ImageName == "" {
		return ctx, &domain.ConfigError{Key: "imageName", Reason: "is required"}
	}
	return ctx, nil
}

// Run implements the "Sealed build flow": build, analyze, consolidate,
// attest, verify, with cleanup and report finalizers.
func (s *PipelineService) Run(ctx context.Context, input domain.RunInput) (domain.PipelineOutcome, error) {
	ctx, span := otel.Tracer("").Start(ctx, "PipelineService.Run")
	defer span.End()

	buildID := input.BuildID
	if buildID == "" {
		// ValidateRun already assigned one
		buildID, _ = ctx.Value(domain.BuildIDKey{}).(string)
	}
	if buildID == "" {
		return domain.PipelineOutcome{}, errors.New("no buildID assigned, call ValidateRun first")
	}

	bc := &domain.BuildContext{
		BuildID:            buildID,
		Registry:           s.settings.Registry,
		ImageName:          s.settings.ImageName,
		Platforms:          s.settings.Platforms,
		SourceDir:          s.settings.SourceDir,
		Threshold:          s.settings.Threshold,
		EnablePatching:     s.settings.EnablePatching,
		VEXAnalysisEnabled: s.settings.VEXAnalysisEnabled,
		SLSABuildType:      s.settings.SLSABuildType,
		SLSABuilderID:      s.settings.SLSABuilderID,
		SLSALevel:          s.settings.SLSALevel,
		CreatedAt:          time.Now().UTC(),
	}
	run := &pipelineRun{service: s, bc: bc, token: input.IdentityToken}

	runner, err := pipeline.NewRunner(run.stages())
	if err != nil {
		return domain.PipelineOutcome{}, err
	}
	logger.L().Info("pipeline started",
		helpers.String("buildID", bc.BuildID),
		helpers.String("image", bc.TagRef()))

	outcome, err := runner.Run(ctx)
	outcome.BuildID = bc.BuildID
	if ref, refErr := bc.ImageRef(); refErr == nil {
		outcome.ImageRef = ref
	}
	logger.L().Info("pipeline finished",
		helpers.String("buildID", bc.BuildID),
		helpers.String("outcome", string(outcome.Outcome)))
	return outcome, err
}

// pipelineRun carries the per-run state stage handlers hand to each other.
// Analysis outputs travel through the artifact store; only the consolidated
// documents stay in memory for the attest stage.
type pipelineRun struct {
	service *PipelineService
	bc      *domain.BuildContext
	token   domain.IdentityToken

	consolidated    domain.SBOM
	consolidatedVEX *domain.VEX
}

func (r *pipelineRun) stages() []pipeline.Stage {
	stages := []pipeline.Stage{
		{Name: "build", Run: r.build},
		{Name: "scan", Needs: []string{"build"}, Group: "analysis", Run: r.scan},
		{Name: "sbom", Needs: []string{"build"}, Group: "analysis", Run: r.sbom},
	}
	consolidateNeeds := []string{"scan", "sbom"}
	if r.bc.VEXAnalysisEnabled {
		stages = append(stages, pipeline.Stage{Name: "vex", Needs: []string{"build"}, Group: "analysis", Run: r.vex})
		consolidateNeeds = append(consolidateNeeds, "vex")
	}
	return append(stages,
		pipeline.Stage{Name: "consolidate", Needs: consolidateNeeds, Run: r.consolidate},
		pipeline.Stage{Name: "attest", Needs: []string{"consolidate"}, Run: r.attest},
		pipeline.Stage{Name: "verify", Needs: []string{"attest"}, Run: r.verify},
		pipeline.Stage{Name: "cleanup", Finalizer: true, Run: r.cleanup},
		pipeline.Stage{Name: "report", Finalizer: true, Run: r.report},
	)
}

func (r *pipelineRun) build(ctx context.Context) ([]domain.ArtifactRef, error) {
	ctx, cancel := context.WithTimeout(ctx, r.service.settings.BuildTimeout)
	defer cancel()
	digest, err := r.service.builder.Build(ctx, r.bc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewToolTimeout(domain.ErrBuildTimeout, "builder", r.service.settings.BuildTimeout)
		}
		return nil, err
	}
	if err := r.bc.SetDigest(digest); err != nil {
		return nil, err
	}
	metadata, err := r.bc.Metadata(r.service.builder.Version())
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	ref, err := r.service.artifacts.StoreArtifact(ctx, r.bc.BuildID, domain.KindBuildMetadata, content)
	if err != nil {
		return nil, err
	}
	return []domain.ArtifactRef{ref}, nil
}

func (r *pipelineRun) scan(ctx context.Context) ([]domain.ArtifactRef, error) {
	imageRef, err := r.bc.ImageRef()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.service.settings.ScanTimeout)
	defer cancel()

	// one retry on transient tool failure
	var report domain.ScanReport
	retry := retrier.New(retrier.ConstantBackoff(1, 500*time.Millisecond), transientClassifier{})
	err = retry.RunCtx(ctx, func(ctx context.Context) error {
		var scanErr error
		report, scanErr = r.service.scanner.Scan(ctx, imageRef)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewToolTimeout(domain.ErrScanTimeout, "scanner", r.service.settings.ScanTimeout)
		}
		return nil, err
	}

	content, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	scanRef, err := r.service.artifacts.StoreArtifact(ctx, r.bc.BuildID, domain.KindVulnScan, content)
	if err != nil {
		return nil, err
	}

	summary := report.Summarize(r.bc.BuildID, imageRef, r.bc.Threshold)
	content, err = json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	summaryRef, err := r.service.artifacts.StoreArtifact(ctx, r.bc.BuildID, domain.KindVulnSummary, content)
	if err != nil {
		return nil, err
	}

	refs := []domain.ArtifactRef{scanRef, summaryRef}
	if summary.Exceeded {
		// gate: the artifacts are stored, the stage still fails
		return refs, &domain.ThresholdExceededError{Threshold: r.bc.Threshold, Count: summary.AtOrAbove}
	}
	return refs, nil
}

func (r *pipelineRun) sbom(ctx context.Context) ([]domain.ArtifactRef, error) {
	var sources []domain.SBOM
	for _, ecosystem := range tools.DetectEcosystems(r.bc.SourceDir) {
		doc, err := r.service.sbomGen.GenerateSource(ctx, r.bc, ecosystem)
		if err != nil {
			return nil, err
		}
		sources = append(sources, doc)
	}
	buildSBOM, err := r.service.consolidator.ConsolidateSBOMs(ctx, r.bc, sources)
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(buildSBOM.Content)
	if err != nil {
		return nil, err
	}
	buildRef, err := r.service.artifacts.StoreArtifact(ctx, r.bc.BuildID, domain.KindSBOMBuild, content)
	if err != nil {
		return nil, err
	}

	containerSBOM, err := r.service.sbomGen.GenerateImage(ctx, r.bc)
	if err != nil {
		return nil, err
	}
	if err := ValidateCycloneDX(containerSBOM.Content); err != nil {
		return nil, err
	}
	content, err = json.Marshal(containerSBOM.Content)
	if err != nil {
		return nil, err
	}
	containerRef, err := r.service.artifacts.StoreArtifact(ctx, r.bc.BuildID, domain.KindSBOMContainer, content)
	if err != nil {
		return nil, err
	}
	return []domain.ArtifactRef{buildRef, containerRef}, nil
}

func (r *pipelineRun) vex(ctx context.Context) ([]domain.ArtifactRef, error) {
	var refs []domain.ArtifactRef
	for _, target := range []struct {
		scope domain.VEXScope
		kind  domain.ArtifactKind
	}{
		{domain.VEXScopeBuild, domain.KindVEXBuild},
		{domain.VEXScopeRuntime, domain.KindVEXRuntime},
	} {
		doc, err := r.service.vexProvider.Generate(ctx, r.bc, target.scope)
		if err != nil {
			return refs, err
		}
		if err := ValidateOpenVEX(doc.Content); err != nil {
			return refs, err
		}
		content, err := json.Marshal(doc.Content)
		if err != nil {
			return refs, err
		}
		ref, err := r.service.artifacts.StoreArtifact(ctx, r.bc.BuildID, target.kind, content)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// consolidate re-reads the per-source documents from the artifact store,
// so a foreign or corrupted document degrades to a warning instead of
// failing the run.
func (r *pipelineRun) consolidate(ctx context.Context) ([]domain.ArtifactRef, error) {
	inputs, err := r.loadRawDocuments(ctx, domain.KindSBOMBuild, domain.KindSBOMContainer)
	if err != nil {
		return nil, err
	}
	merged, err := r.service.consolidator.ConsolidateRawSBOMs(ctx, r.bc, inputs)
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(merged.Content)
	if err != nil {
		return nil, err
	}
	ref, err := r.service.artifacts.StoreArtifact(ctx, r.bc.BuildID, domain.KindSBOMConsolidated, content)
	if err != nil {
		return nil, err
	}
	r.consolidated = merged
	refs := []domain.ArtifactRef{ref}

	if r.bc.VEXAnalysisEnabled {
		vexInputs, err := r.loadRawDocuments(ctx, domain.KindVEXBuild, domain.KindVEXRuntime)
		if err != nil {
			return refs, err
		}
		mergedVEX, err := r.service.consolidator.ConsolidateRawVEX(ctx, r.bc, vexInputs)
		if err != nil {
			return refs, err
		}
		content, err := json.Marshal(mergedVEX.Content)
		if err != nil {
			return refs, err
		}
		vexRef, err := r.service.artifacts.StoreArtifact(ctx, r.bc.BuildID, domain.KindVEXConsolidated, content)
		if err != nil {
			return refs, err
		}
		r.consolidatedVEX = &mergedVEX
		refs = append(refs, vexRef)
	}
	return refs, nil
}

func (r *pipelineRun) loadRawDocuments(ctx context.Context, kinds ...domain.ArtifactKind) ([]RawDocument, error) {
	docs := make([]RawDocument, 0, len(kinds))
	for _, kind := range kinds {
		content, err := r.service.artifacts.GetArtifact(ctx, r.bc.BuildID, kind)
		if err != nil {
			return nil, err
		}
		docs = append(docs, RawDocument{Source: string(kind), Content: content})
	}
	return docs, nil
}

func (r *pipelineRun) attest(ctx context.Context) ([]domain.ArtifactRef, error) {
	if _, err := r.service.attestor.SignImage(ctx, r.bc, r.token); err != nil {
		return nil, err
	}

	provenance, err := json.Marshal(r.provenancePredicate())
	if err != nil {
		return nil, err
	}
	if _, err := r.service.attestor.Attest(ctx, r.bc, domain.PredicateSLSAProvenance, provenance, r.token); err != nil {
		return nil, err
	}

	sbomPredicate, err := json.Marshal(r.consolidated.Content)
	if err != nil {
		return nil, err
	}
	if _, err := r.service.attestor.Attest(ctx, r.bc, domain.PredicateCycloneDX, sbomPredicate, r.token); err != nil {
		return nil, err
	}

	if r.consolidatedVEX != nil {
		vexPredicate, err := json.Marshal(r.consolidatedVEX.Content)
		if err != nil {
			return nil, err
		}
		if _, err := r.service.attestor.Attest(ctx, r.bc, domain.PredicateOpenVEX, vexPredicate, r.token); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (r *pipelineRun) provenancePredicate() domain.Provenance {
	slsa := SLSAProperties(r.bc)
	platforms := make([]string, 0, len(r.bc.Platforms))
	for _, p := range r.bc.Platforms {
		platforms = append(platforms, p.String())
	}
	provenance := domain.Provenance{
		Builder:   domain.ProvenanceBuilder{ID: slsa[domain.PropertySLSABuilderID]},
		BuildType: slsa[domain.PropertySLSABuildType],
		Invocation: domain.ProvenanceInvocation{
			Parameters: map[string]any{
				"registry":  r.bc.Registry,
				"imageName": r.bc.ImageName,
				"platforms": platforms,
			},
		},
		Metadata: domain.ProvenanceMetadata{
			BuildInvocationID: r.bc.BuildID,
			BuildStartedOn:    r.bc.CreatedAt,
			BuildFinishedOn:   time.Now().UTC(),
			Completeness:      domain.ProvenanceCompleteness{Parameters: true},
		},
	}
	if hexPart, err := domain.SHA256Hex(r.bc.Digest()); err == nil {
		provenance.Materials = []domain.ProvenanceMaterial{{
			URI:    r.bc.PURL(),
			Digest: map[string]string{"sha256": hexPart},
		}}
	}
	return provenance
}

func (r *pipelineRun) verify(ctx context.Context) ([]domain.ArtifactRef, error) {
	var failed []string
	if !r.service.attestor.VerifySignature(ctx, r.bc) {
		failed = append(failed, "signature")
	}
	kinds := []domain.PredicateType{domain.PredicateSLSAProvenance, domain.PredicateCycloneDX}
	if r.consolidatedVEX != nil {
		kinds = append(kinds, domain.PredicateOpenVEX)
	}
	for _, kind := range kinds {
		if !r.service.attestor.Verify(ctx, r.bc, kind) {
			failed = append(failed, string(kind))
		}
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("verification failed for %s", strings.Join(failed, ", "))
	}
	return nil, nil
}

func (r *pipelineRun) cleanup(ctx context.Context) ([]domain.ArtifactRef, error) {
	return nil, r.service.builder.Cleanup(ctx, r.bc)
}

func (r *pipelineRun) report(ctx context.Context) ([]domain.ArtifactRef, error) {
	toolVersions := []domain.ToolIdentity{
		{Vendor: "buildseal", Name: "image-builder", Version: r.service.builder.Version()},
		{Vendor: "buildseal", Name: "vulnerability-scanner", Version: r.service.scanner.Version()},
		{Vendor: "buildseal", Name: "sbom-generator", Version: r.service.sbomGen.Version()},
		{Vendor: "buildseal", Name: "vex-provider", Version: r.service.vexProvider.Version()},
	}
	_, err := r.service.reporter.Assemble(ctx, r.bc, pipeline.StageResultsFromContext(ctx), toolVersions)
	return nil, err
}

// transientClassifier retries TransientToolError and nothing else.
type transientClassifier struct{}

func (transientClassifier) Classify(err error) retrier.Action {
	if err == nil {
		return retrier.Succeed
	}
	var transient *domain.TransientToolError
	if errors.As(err, &transient) {
		return retrier.Retry
	}
	return retrier.Fail
}
