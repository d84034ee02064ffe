package services

import (
	"context"
	"time"

	"github.com/DmitriyVTitov/size"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/domain"
)

// ConsolidationService merges per-source documents into single canonical
// ones. Pure document logic: no I/O ports, inputs in, one output out.
type ConsolidationService struct {
	tool            domain.ToolIdentity
	maxDocumentSize int
}

func NewConsolidationService(tool domain.ToolIdentity, maxDocumentSize int) *ConsolidationService {
	return &ConsolidationService{
		tool:            tool,
		maxDocumentSize: maxDocumentSize,
	}
}

// RawDocument is an undecoded document paired with the source that
// produced it, named in the warning when the document is skipped.
type RawDocument struct {
	Source  string
	Content []byte
}

// ConsolidateRawSBOMs decodes inputs before merging. A document that does
// not decode as CycloneDX is skipped with a warning instead of failing the
// whole consolidation, so one broken generator cannot sink the rest.
func (s *ConsolidationService) ConsolidateRawSBOMs(ctx context.Context, bc *domain.BuildContext, inputs []RawDocument) (domain.SBOM, error) {
	parsed := make([]domain.SBOM, 0, len(inputs))
	for _, input := range inputs {
		doc, err := ParseSBOM(bc.BuildID, input.Source, input.Content)
		if err != nil {
			logger.L().Ctx(ctx).Warning("skipping unparsable SBOM input",
				helpers.String("buildID", bc.BuildID),
				helpers.String("source", input.Source),
				helpers.Error(err))
			continue
		}
		parsed = append(parsed, doc)
	}
	return s.ConsolidateSBOMs(ctx, bc, parsed)
}

// ConsolidateRawVEX is the raw-input counterpart of ConsolidateVEX.
func (s *ConsolidationService) ConsolidateRawVEX(ctx context.Context, bc *domain.BuildContext, inputs []RawDocument) (domain.VEX, error) {
	parsed := make([]domain.VEX, 0, len(inputs))
	for _, input := range inputs {
		doc, err := ParseVEX(bc.BuildID, input.Content)
		if err != nil {
			logger.L().Ctx(ctx).Warning("skipping unparsable VEX input",
				helpers.String("buildID", bc.BuildID),
				helpers.String("source", input.Source),
				helpers.Error(err))
			continue
		}
		parsed = append(parsed, doc)
	}
	return s.ConsolidateVEX(ctx, bc, parsed)
}

// ConsolidateSBOMs merges CycloneDX documents in input order with
// first-seen-wins component deduplication. The output carries a fresh
// serial number, the image as metadata.component and SLSA stamping.
func (s *ConsolidationService) ConsolidateSBOMs(ctx context.Context, bc *domain.BuildContext, inputs []domain.SBOM) (domain.SBOM, error) {
	ctx, span := otel.Tracer("").Start(ctx, "ConsolidationService.ConsolidateSBOMs")
	defer span.End()

	seen := mapset.NewSet[string]()
	components := make([]any, 0)
	dropped := 0
	for _, input := range inputs {
		for _, c := range input.Components() {
			if !seen.Add(domain.ComponentKey(c)) {
				dropped++
				continue
			}
			components = append(components, c)
		}
	}
	if dropped > 0 {
		logger.L().Debug("dropped duplicate components",
			helpers.String("buildID", bc.BuildID), helpers.Int("count", dropped))
	}

	component := map[string]any{
		"type": "container",
		"name": bc.Registry + "/" + bc.ImageName,
		"purl": bc.PURL(),
	}
	if digest := bc.Digest(); digest != "" {
		component["version"] = digest
	}
	properties := slsaPropertyList(bc)
	content := map[string]any{
		"bomFormat":    domain.CycloneDXFormat,
		"specVersion":  domain.CycloneDXSpecVersion,
		"serialNumber": domain.SerialNumberPrefix + uuid.NewString(),
		"version":      1,
		"metadata": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"tools": []any{map[string]any{
				"vendor":  s.tool.Vendor,
				"name":    s.tool.Name,
				"version": s.tool.Version,
			}},
			"component":  component,
			"properties": properties,
		},
		"components": components,
	}

	if s.oversized(ctx, bc.BuildID, "CycloneDX", content) {
		metadata := content["metadata"].(map[string]any)
		metadata["properties"] = append(properties, sbomProperty(domain.PropertyOversized, "true"))
	}

	if err := ValidateCycloneDX(content); err != nil {
		return domain.SBOM{}, err
	}
	return domain.SBOM{
		BuildID:          bc.BuildID,
		Source:           "consolidated",
		GeneratorName:    s.tool.Name,
		GeneratorVersion: s.tool.Version,
		Content:          content,
	}, nil
}

// ConsolidateVEX unions OpenVEX statements in input order, without
// deduplication, under a fresh document identity.
func (s *ConsolidationService) ConsolidateVEX(ctx context.Context, bc *domain.BuildContext, inputs []domain.VEX) (domain.VEX, error) {
	ctx, span := otel.Tracer("").Start(ctx, "ConsolidationService.ConsolidateVEX")
	defer span.End()

	statements := make([]any, 0)
	for _, input := range inputs {
		statements = append(statements, input.Statements()...)
	}

	content := map[string]any{
		"@context":   domain.OpenVEXContext,
		"@id":        domain.OpenVEXDocPrefix + uuid.NewString(),
		"author":     s.tool.Vendor + " " + s.tool.Name,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"version":    1,
		"statements": statements,
	}

	// OpenVEX has no properties section, so an oversized document is only
	// logged, never annotated.
	s.oversized(ctx, bc.BuildID, "OpenVEX", content)

	if err := ValidateOpenVEX(content); err != nil {
		return domain.VEX{}, err
	}
	return domain.VEX{
		BuildID:          bc.BuildID,
		GeneratorName:    s.tool.Name,
		GeneratorVersion: s.tool.Version,
		Content:          content,
	}, nil
}

func (s *ConsolidationService) oversized(ctx context.Context, buildID, document string, content map[string]any) bool {
	if s.maxDocumentSize <= 0 {
		return false
	}
	measured := size.Of(content)
	if measured <= s.maxDocumentSize {
		return false
	}
	logger.L().Ctx(ctx).Warning("consolidated document exceeds size cap",
		helpers.String("buildID", buildID),
		helpers.String("document", document),
		helpers.Int("size", measured),
		helpers.Int("cap", s.maxDocumentSize))
	return true
}

// SLSAProperties resolves the stamping values for a run, applying defaults
// where the build context carries none.
func SLSAProperties(bc *domain.BuildContext) map[string]string {
	buildType := bc.SLSABuildType
	if buildType == "" {
		buildType = domain.DefaultSLSABuildType
	}
	level := bc.SLSALevel
	if level == "" {
		level = domain.DefaultSLSALevel
	}
	return map[string]string{
		domain.PropertySLSABuildType: buildType,
		domain.PropertySLSABuilderID: bc.SLSABuilderID,
		domain.PropertySLSABuildID:   bc.BuildID,
		domain.PropertySLSALevel:     level,
	}
}

func slsaPropertyList(bc *domain.BuildContext) []any {
	values := SLSAProperties(bc)
	return []any{
		sbomProperty(domain.PropertySLSABuildType, values[domain.PropertySLSABuildType]),
		sbomProperty(domain.PropertySLSABuilderID, values[domain.PropertySLSABuilderID]),
		sbomProperty(domain.PropertySLSABuildID, values[domain.PropertySLSABuildID]),
		sbomProperty(domain.PropertySLSALevel, values[domain.PropertySLSALevel]),
	}
}

func sbomProperty(name, value string) map[string]any {
	return map[string]any{"name": name, "value": value}
}
