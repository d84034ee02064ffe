package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
	"go.opentelemetry.io/otel"
)

// MockBuilderAdapter implements a mocked ImageBuilder to be used for tests.
// The digest it reports is derived from the tag reference, so repeated runs
// of the same build produce the same digest.
type MockBuilderAdapter struct {
	failure bool
	ready   bool
	mu      sync.Mutex
	cleaned []string
}

var _ ports.ImageBuilder = (*MockBuilderAdapter)(nil)

// NewMockBuilderAdapter initializes the MockBuilderAdapter struct
func NewMockBuilderAdapter(failure bool) *MockBuilderAdapter {
	return &MockBuilderAdapter{
		failure: failure,
		ready:   true,
	}
}

// Build returns a deterministic fake digest without touching any daemon
func (m *MockBuilderAdapter) Build(ctx context.Context, bc *domain.BuildContext) (string, error) {
	_, span := otel.Tracer("").Start(ctx, "MockBuilderAdapter.Build")
	defer span.End()
	if m.failure {
		return "", errors.New("mock builder failure")
	}
	sum := sha256.Sum256([]byte(bc.TagRef()))
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Cleanup records the build it was asked to clean
func (m *MockBuilderAdapter) Cleanup(_ context.Context, bc *domain.BuildContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned = append(m.cleaned, bc.BuildID)
	return nil
}

// Cleaned returns the buildIDs Cleanup saw, in call order
func (m *MockBuilderAdapter) Cleaned() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cleaned))
	copy(out, m.cleaned)
	return out
}

// SetReady overrides the readiness answer
func (m *MockBuilderAdapter) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = ready
}

// Ready returns the configured readiness
func (m *MockBuilderAdapter) Ready(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Version returns a static version
func (m *MockBuilderAdapter) Version() string {
	return "Mock Builder 1.0"
}
