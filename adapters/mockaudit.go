package adapters

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/ports"
)

// MockAuditAdapter implements a mocked AuditStore to be used for tests
type MockAuditAdapter struct {
	mu      sync.RWMutex
	records map[string][]byte
}

var _ ports.AuditStore = (*MockAuditAdapter)(nil)

// NewMockAuditAdapter initializes the MockAuditAdapter struct
func NewMockAuditAdapter() *MockAuditAdapter {
	return &MockAuditAdapter{
		records: map[string][]byte{},
	}
}

// Get returns the record stored at path
func (m *MockAuditAdapter) Get(ctx context.Context, path string) ([]byte, error) {
	_, span := otel.Tracer("").Start(ctx, "MockAuditAdapter.Get")
	defer span.End()
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.records[path]
	if !ok {
		return nil, fmt.Errorf("audit record %s not found", path)
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

// Put stores the record at path, last write wins
func (m *MockAuditAdapter) Put(ctx context.Context, path string, content []byte) error {
	_, span := otel.Tracer("").Start(ctx, "MockAuditAdapter.Put")
	defer span.End()
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(content))
	copy(stored, content)
	m.records[path] = stored
	return nil
}

// Len returns how many records were stored
func (m *MockAuditAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
