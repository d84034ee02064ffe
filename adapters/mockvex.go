package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
	"go.opentelemetry.io/otel"
)

// MockVEXAdapter implements a mocked VEXProvider to be used for tests.
// Each scope yields one not_affected statement, so consolidation of both
// scopes sees two statements.
type MockVEXAdapter struct {
	failure bool
}

var _ ports.VEXProvider = (*MockVEXAdapter)(nil)

// NewMockVEXAdapter initializes the MockVEXAdapter struct
func NewMockVEXAdapter(failure bool) *MockVEXAdapter {
	return &MockVEXAdapter{
		failure: failure,
	}
}

// Generate returns a single-statement OpenVEX document for the scope
func (m *MockVEXAdapter) Generate(ctx context.Context, bc *domain.BuildContext, scope domain.VEXScope) (domain.VEX, error) {
	_, span := otel.Tracer("").Start(ctx, "MockVEXAdapter.Generate")
	defer span.End()
	if m.failure {
		return domain.VEX{}, errors.New("mock VEX provider failure")
	}
	return domain.VEX{
		BuildID:          bc.BuildID,
		Scope:            scope,
		GeneratorName:    "mock-vex",
		GeneratorVersion: m.Version(),
		Content: map[string]any{
			"@context":  domain.OpenVEXContext,
			"@id":       domain.OpenVEXDocPrefix + "mock-" + string(scope) + "-" + bc.BuildID,
			"author":    "buildseal mock-vex",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   1,
			"statements": []any{map[string]any{
				"vulnerability": map[string]any{"name": "CVE-2023-12345"},
				"products":      []any{map[string]any{"@id": bc.PURL()}},
				"status":        "not_affected",
				"justification": "vulnerable_code_not_in_execute_path",
			}},
		},
	}, nil
}

// Version returns a static version
func (m *MockVEXAdapter) Version() string {
	return "Mock VEX 1.0"
}
