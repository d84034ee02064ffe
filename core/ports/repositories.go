package ports

import (
	"context"

	"github.com/buildseal/buildseal/core/domain"
)

// ArtifactRepository is the port implemented by adapters to be used in PipelineService to store build artifacts
// keyed by (buildID, kind) with last-write-wins semantics
type ArtifactRepository interface {
	GetArtifact(ctx context.Context, buildID string, kind domain.ArtifactKind) ([]byte, error)
	ListArtifacts(ctx context.Context, buildID string) ([]domain.ArtifactRef, error)
	StoreArtifact(ctx context.Context, buildID string, kind domain.ArtifactKind, content []byte) (domain.ArtifactRef, error)
}

// AttestationRepository is the port implemented by adapters to be used in AttestationService to store attestation records
// keyed by (subject, predicateType) with last-write-wins semantics
type AttestationRepository interface {
	GetAttestation(ctx context.Context, subject string, predicateType domain.PredicateType) (domain.AttestationRecord, error)
	ListAttestations(ctx context.Context, subject string) ([]domain.AttestationRecord, error)
	StoreAttestation(ctx context.Context, record domain.AttestationRecord) error
}
