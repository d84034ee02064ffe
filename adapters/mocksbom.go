package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

// MockSBOMAdapter implements a mocked SBOMGenerator to be used for tests.
// Documents are minimal but structurally valid CycloneDX, and the image
// document overlaps one component with every source document so
// consolidation has something to deduplicate.
type MockSBOMAdapter struct {
	failure bool
}

var _ ports.SBOMGenerator = (*MockSBOMAdapter)(nil)

// NewMockSBOMAdapter initializes the MockSBOMAdapter struct
func NewMockSBOMAdapter(failure bool) *MockSBOMAdapter {
	return &MockSBOMAdapter{
		failure: failure,
	}
}

// GenerateImage returns a fixed container SBOM skeleton
func (m *MockSBOMAdapter) GenerateImage(ctx context.Context, bc *domain.BuildContext) (domain.SBOM, error) {
	_, span := otel.Tracer("").Start(ctx, "MockSBOMAdapter.GenerateImage")
	defer span.End()
	if m.failure {
		return domain.SBOM{}, errors.New("mock SBOM generator failure")
	}
	return domain.SBOM{
		BuildID:          bc.BuildID,
		Source:           "container",
		GeneratorName:    "mock-sbom",
		GeneratorVersion: m.Version(),
		Content: m.skeleton(
			mockComponent("musl", "1.2.4", "pkg:apk/alpine/musl@1.2.4"),
			mockComponent("ca-certificates", "20240226", "pkg:apk/alpine/ca-certificates@20240226"),
			mockComponent(bc.ImageName, bc.Digest(), bc.PURL()),
		),
	}, nil
}

// GenerateSource returns a one-component SBOM for the ecosystem, sharing the
// musl component with GenerateImage
func (m *MockSBOMAdapter) GenerateSource(ctx context.Context, bc *domain.BuildContext, ecosystem string) (domain.SBOM, error) {
	_, span := otel.Tracer("").Start(ctx, "MockSBOMAdapter.GenerateSource")
	defer span.End()
	if m.failure {
		return domain.SBOM{}, errors.New("mock SBOM generator failure")
	}
	return domain.SBOM{
		BuildID:          bc.BuildID,
		Source:           ecosystem,
		GeneratorName:    "mock-sbom",
		GeneratorVersion: m.Version(),
		Content: m.skeleton(
			mockComponent(ecosystem+"-runtime", "1.0.0", "pkg:generic/"+ecosystem+"-runtime@1.0.0"),
			mockComponent("musl", "1.2.4", "pkg:apk/alpine/musl@1.2.4"),
		),
	}, nil
}

func (m *MockSBOMAdapter) skeleton(components ...map[string]any) map[string]any {
	list := make([]any, 0, len(components))
	for _, c := range components {
		list = append(list, c)
	}
	return map[string]any{
		"bomFormat":    domain.CycloneDXFormat,
		"specVersion":  domain.CycloneDXSpecVersion,
		"serialNumber": domain.SerialNumberPrefix + uuid.NewString(),
		"version":      1,
		"metadata": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"tools": []any{map[string]any{
				"vendor":  "buildseal",
				"name":    "mock-sbom",
				"version": m.Version(),
			}},
		},
		"components": list,
	}
}

func mockComponent(name, version, purl string) map[string]any {
	c := map[string]any{
		"type": "library",
		"name": name,
	}
	if version != "" {
		c["version"] = version
	}
	if purl != "" {
		c["purl"] = purl
	}
	return c
}

// Version returns a static version
func (m *MockSBOMAdapter) Version() string {
	return "Mock SBOM 1.0"
}
