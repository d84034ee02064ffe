package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
	"go.opentelemetry.io/otel"
)

// MockIssuer is the OIDC issuer MockSignerAdapter stamps into its bundles.
const MockIssuer = "https://mock.oidc.buildseal.dev"

// MockSignerAdapter implements a mocked KeylessSigner to be used for tests.
// Bundles embed the payload checksum, so verification replays for the exact
// bytes that were signed and fails for anything else.
type MockSignerAdapter struct {
	failure bool
	mu      sync.Mutex
	blobs   int
	stmts   int
}

var _ ports.KeylessSigner = (*MockSignerAdapter)(nil)

// NewMockSignerAdapter initializes the MockSignerAdapter struct
func NewMockSignerAdapter(failure bool) *MockSignerAdapter {
	return &MockSignerAdapter{
		failure: failure,
	}
}

// mockBundle stands in for a sigstore bundle. Verification trusts only what
// is embedded here.
type mockBundle struct {
	Mock          bool   `json:"mock"`
	PayloadSHA256 string `json:"payloadSHA256"`
	Subject       string `json:"subject,omitempty"`
	Issuer        string `json:"issuer"`
	SAN           string `json:"san"`
}

// BlobCalls returns how many times SignBlob ran
func (m *MockSignerAdapter) BlobCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs
}

// StatementCalls returns how many times SignStatement ran
func (m *MockSignerAdapter) StatementCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stmts
}

// SignBlob emits a fake bundle carrying the payload checksum
func (m *MockSignerAdapter) SignBlob(ctx context.Context, payload []byte, token domain.IdentityToken) (domain.AttestationRecord, error) {
	_, span := otel.Tracer("").Start(ctx, "MockSignerAdapter.SignBlob")
	defer span.End()
	m.mu.Lock()
	m.blobs++
	n := m.blobs + m.stmts
	m.mu.Unlock()
	if err := m.check(token); err != nil {
		return domain.AttestationRecord{}, err
	}
	return m.record("", payload, n)
}

// SignStatement emits a fake bundle carrying the payload checksum and the
// statement's subject digest
func (m *MockSignerAdapter) SignStatement(ctx context.Context, statement []byte, token domain.IdentityToken) (domain.AttestationRecord, error) {
	_, span := otel.Tracer("").Start(ctx, "MockSignerAdapter.SignStatement")
	defer span.End()
	m.mu.Lock()
	m.stmts++
	n := m.blobs + m.stmts
	m.mu.Unlock()
	if err := m.check(token); err != nil {
		return domain.AttestationRecord{}, err
	}
	var st domain.Statement
	if err := json.Unmarshal(statement, &st); err != nil {
		return domain.AttestationRecord{}, &domain.SigningError{Op: "sign-statement", Err: err}
	}
	if len(st.Subject) == 0 {
		return domain.AttestationRecord{}, &domain.SigningError{Op: "sign-statement", Err: errors.New("statement has no subject")}
	}
	return m.record(st.Subject[0].Digest["sha256"], statement, n)
}

func (m *MockSignerAdapter) check(token domain.IdentityToken) error {
	if m.failure {
		return &domain.SigningError{Op: "sign", Err: errors.New("mock signer failure")}
	}
	if token.IsEmpty() {
		return &domain.SigningError{Op: "sign", Err: errors.New("identity token is required")}
	}
	return nil
}

func (m *MockSignerAdapter) record(subject string, payload []byte, logIndex int) (domain.AttestationRecord, error) {
	sum := sha256.Sum256(payload)
	bundle, err := json.Marshal(mockBundle{
		Mock:          true,
		PayloadSHA256: hex.EncodeToString(sum[:]),
		Subject:       subject,
		Issuer:        MockIssuer,
		SAN:           "pipeline@buildseal.dev",
	})
	if err != nil {
		return domain.AttestationRecord{}, err
	}
	return domain.AttestationRecord{
		Bundle:            bundle,
		CertificateIssuer: MockIssuer,
		CertificateSAN:    "pipeline@buildseal.dev",
		LogIndex:          int64(logIndex),
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// VerifyArtifact replays the bundle against the exact artifact bytes
func (m *MockSignerAdapter) VerifyArtifact(ctx context.Context, bundle, artifact []byte, expectedIssuer string) error {
	_, span := otel.Tracer("").Start(ctx, "MockSignerAdapter.VerifyArtifact")
	defer span.End()
	b, err := m.parse(bundle, expectedIssuer)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(artifact)
	if hex.EncodeToString(sum[:]) != b.PayloadSHA256 {
		return errors.New("payload digest mismatch")
	}
	return nil
}

// VerifyDigest replays the bundle against the statement subject digest
func (m *MockSignerAdapter) VerifyDigest(ctx context.Context, bundle []byte, imageDigest, expectedIssuer string) error {
	_, span := otel.Tracer("").Start(ctx, "MockSignerAdapter.VerifyDigest")
	defer span.End()
	b, err := m.parse(bundle, expectedIssuer)
	if err != nil {
		return err
	}
	hexPart, err := domain.SHA256Hex(imageDigest)
	if err != nil {
		return err
	}
	if b.Subject != hexPart {
		return fmt.Errorf("subject digest mismatch: bundle has %q", b.Subject)
	}
	return nil
}

func (m *MockSignerAdapter) parse(bundle []byte, expectedIssuer string) (mockBundle, error) {
	var b mockBundle
	if err := json.Unmarshal(bundle, &b); err != nil || !b.Mock {
		return mockBundle{}, errors.New("not a mock bundle")
	}
	if expectedIssuer != "" && b.Issuer != expectedIssuer {
		return mockBundle{}, fmt.Errorf("unexpected issuer %q", b.Issuer)
	}
	return b, nil
}
