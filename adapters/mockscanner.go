package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
	"go.opentelemetry.io/otel"
)

// MockScannerAdapter implements a mocked VulnerabilityScanner to be used for
// tests. It reports whatever findings it was seeded with.
type MockScannerAdapter struct {
	failure bool
	ready   bool
	mu      sync.Mutex
	calls   int
	flaky   int
	vulns   []domain.Vulnerability
}

var _ ports.VulnerabilityScanner = (*MockScannerAdapter)(nil)

// NewMockScannerAdapter initializes the MockScannerAdapter struct with the
// findings every Scan call reports
func NewMockScannerAdapter(failure bool, vulns ...domain.Vulnerability) *MockScannerAdapter {
	return &MockScannerAdapter{
		failure: failure,
		ready:   true,
		vulns:   vulns,
	}
}

// FailTransientTimes makes the next n Scan calls return a TransientToolError
func (m *MockScannerAdapter) FailTransientTimes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flaky = n
}

// Calls returns how many times Scan ran
func (m *MockScannerAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// DBVersion returns a static version
func (m *MockScannerAdapter) DBVersion(context.Context) string {
	return "mock-db-1"
}

// SetReady overrides the readiness answer
func (m *MockScannerAdapter) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = ready
}

// Ready returns the configured readiness
func (m *MockScannerAdapter) Ready(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Scan returns the seeded findings as a single-target report
func (m *MockScannerAdapter) Scan(ctx context.Context, imageRef string) (domain.ScanReport, error) {
	_, span := otel.Tracer("").Start(ctx, "MockScannerAdapter.Scan")
	defer span.End()
	m.mu.Lock()
	m.calls++
	flaky := m.flaky > 0
	if flaky {
		m.flaky--
	}
	m.mu.Unlock()
	if flaky {
		return domain.ScanReport{}, &domain.TransientToolError{Tool: "mock scanner", Err: errors.New("transient failure")}
	}
	if m.failure {
		return domain.ScanReport{}, errors.New("mock scanner failure")
	}
	return domain.ScanReport{
		SchemaVersion: 2,
		ArtifactName:  imageRef,
		ArtifactType:  "container_image",
		CreatedAt:     time.Now().UTC(),
		Results: []domain.ScanResult{{
			Target:          imageRef,
			Class:           "os-pkgs",
			Type:            "alpine",
			Vulnerabilities: m.vulns,
		}},
	}, nil
}

// Version returns a static version
func (m *MockScannerAdapter) Version() string {
	return "Mock Scanner 1.0"
}
