package repositories

import (
	"context"
	"errors"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
)

// BrokenStore fails every operation, for exercising degraded paths in tests.
type BrokenStore struct{}

var _ ports.ArtifactRepository = (*BrokenStore)(nil)

var _ ports.AttestationRepository = (*BrokenStore)(nil)

var _ ports.AuditStore = (*BrokenStore)(nil)

func (b BrokenStore) GetArtifact(context.Context, string, domain.ArtifactKind) ([]byte, error) {
	return nil, errors.New("expected error")
}

func (b BrokenStore) ListArtifacts(context.Context, string) ([]domain.ArtifactRef, error) {
	return nil, errors.New("expected error")
}

func (b BrokenStore) StoreArtifact(context.Context, string, domain.ArtifactKind, []byte) (domain.ArtifactRef, error) {
	return domain.ArtifactRef{}, errors.New("expected error")
}

func (b BrokenStore) GetAttestation(context.Context, string, domain.PredicateType) (domain.AttestationRecord, error) {
	return domain.AttestationRecord{}, errors.New("expected error")
}

func (b BrokenStore) ListAttestations(context.Context, string) ([]domain.AttestationRecord, error) {
	return nil, errors.New("expected error")
}

func (b BrokenStore) StoreAttestation(context.Context, domain.AttestationRecord) error {
	return errors.New("expected error")
}

func (b BrokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("expected error")
}

func (b BrokenStore) Put(context.Context, string, []byte) error {
	return errors.New("expected error")
}
