package repositories

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
)

type artifactID struct {
	BuildID string
	Kind    domain.ArtifactKind
}

type attestationID struct {
	Subject       string
	PredicateType domain.PredicateType
}

// predicateOrder fixes the enumeration order of ListAttestations.
var predicateOrder = []domain.PredicateType{
	domain.PredicateSignature,
	domain.PredicateSLSAProvenance,
	domain.PredicateCycloneDX,
	domain.PredicateOpenVEX,
}

// MemoryStore implements both ArtifactRepository and AttestationRepository
// with in-memory storage (maps) to be used for tests and the mock wiring.
// Analysis stages write concurrently, so access is mutex-guarded.
type MemoryStore struct {
	mu           sync.RWMutex
	artifacts    map[artifactID][]byte
	refs         map[artifactID]domain.ArtifactRef
	attestations map[attestationID]domain.AttestationRecord
}

var _ ports.ArtifactRepository = (*MemoryStore)(nil)

var _ ports.AttestationRepository = (*MemoryStore)(nil)

// NewMemoryStorage initializes the MemoryStore struct and its maps
func NewMemoryStorage() *MemoryStore {
	return &MemoryStore{
		artifacts:    map[artifactID][]byte{},
		refs:         map[artifactID]domain.ArtifactRef{},
		attestations: map[attestationID]domain.AttestationRecord{},
	}
}

// Checksum returns the hex sha256 of stored content.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// GetArtifact returns an artifact from an in-memory map
func (m *MemoryStore) GetArtifact(ctx context.Context, buildID string, kind domain.ArtifactKind) ([]byte, error) {
	_, span := otel.Tracer("").Start(ctx, "MemoryStore.GetArtifact")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.artifacts[artifactID{BuildID: buildID, Kind: kind}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrArtifactNotFound, buildID, kind)
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

// ListArtifacts enumerates stored artifacts for a build in kind
// declaration order
func (m *MemoryStore) ListArtifacts(ctx context.Context, buildID string) ([]domain.ArtifactRef, error) {
	_, span := otel.Tracer("").Start(ctx, "MemoryStore.ListArtifacts")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var refs []domain.ArtifactRef
	for _, kind := range domain.ArtifactKinds() {
		if ref, ok := m.refs[artifactID{BuildID: buildID, Kind: kind}]; ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// StoreArtifact stores an artifact to an in-memory map, last write wins
func (m *MemoryStore) StoreArtifact(ctx context.Context, buildID string, kind domain.ArtifactKind, content []byte) (domain.ArtifactRef, error) {
	_, span := otel.Tracer("").Start(ctx, "MemoryStore.StoreArtifact")
	defer span.End()

	if !kind.Valid() {
		return domain.ArtifactRef{}, fmt.Errorf("unknown artifact kind %q", kind)
	}
	stored := make([]byte, len(content))
	copy(stored, content)
	ref := domain.ArtifactRef{
		BuildID:  buildID,
		Kind:     kind,
		Checksum: Checksum(content),
		Size:     len(content),
		StoredAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := artifactID{BuildID: buildID, Kind: kind}
	m.artifacts[id] = stored
	m.refs[id] = ref
	return ref, nil
}

// GetAttestation returns an attestation record from an in-memory map
func (m *MemoryStore) GetAttestation(ctx context.Context, subject string, predicateType domain.PredicateType) (domain.AttestationRecord, error) {
	_, span := otel.Tracer("").Start(ctx, "MemoryStore.GetAttestation")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.attestations[attestationID{Subject: subject, PredicateType: predicateType}]
	if !ok {
		return domain.AttestationRecord{}, fmt.Errorf("%w: %s/%s", domain.ErrAttestationNotFound, subject, predicateType)
	}
	return record, nil
}

// ListAttestations enumerates records for a subject in fixed predicate order
func (m *MemoryStore) ListAttestations(ctx context.Context, subject string) ([]domain.AttestationRecord, error) {
	_, span := otel.Tracer("").Start(ctx, "MemoryStore.ListAttestations")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []domain.AttestationRecord
	for _, predicateType := range predicateOrder {
		if record, ok := m.attestations[attestationID{Subject: subject, PredicateType: predicateType}]; ok {
			records = append(records, record)
		}
	}
	return records, nil
}

// StoreAttestation stores an attestation record to an in-memory map,
// last write wins
func (m *MemoryStore) StoreAttestation(ctx context.Context, record domain.AttestationRecord) error {
	_, span := otel.Tracer("").Start(ctx, "MemoryStore.StoreAttestation")
	defer span.End()

	if record.Subject == "" || record.PredicateType == "" {
		return fmt.Errorf("attestation record needs subject and predicateType")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attestations[attestationID{Subject: record.Subject, PredicateType: record.PredicateType}] = record
	return nil
}
