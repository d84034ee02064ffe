package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildseal/buildseal/adapters"
	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/internal/tools"
	"github.com/buildseal/buildseal/repositories"
)

const (
	testDigest      = "sha256:a3ed95caeb02ffe68cdd9fd84406680ae93d633cb16422d00e8a7c22955b46d4"
	testOtherDigest = "sha256:b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
)

// resolvedContext returns a build context whose digest already resolved,
// the state attest and verify operate on.
func resolvedContext(t *testing.T, buildID string) *domain.BuildContext {
	t.Helper()
	bc := &domain.BuildContext{
		BuildID:   buildID,
		Registry:  "registry.local",
		ImageName: "app",
		Threshold: domain.SeverityMedium,
	}
	tools.EnsureSetup(t, bc.SetDigest(testDigest) == nil)
	return bc
}

func TestAttestationService_SignImage(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	signer := adapters.NewMockSignerAdapter(false)
	s := NewAttestationService(signer, storage, storage, "registry.local/app", adapters.MockIssuer)
	bc := resolvedContext(t, "b-1")
	ctx := context.TODO()

	record, err := s.SignImage(ctx, bc, domain.NewIdentityToken("tok"))
	require.NoError(t, err)
	assert.Equal(t, testDigest, record.Subject)
	assert.Equal(t, domain.PredicateSignature, record.PredicateType)
	assert.Equal(t, adapters.MockIssuer, record.CertificateIssuer)

	stored, err := storage.GetAttestation(ctx, testDigest, domain.PredicateSignature)
	require.NoError(t, err)
	assert.Equal(t, record.Bundle, stored.Bundle)

	bundle, err := storage.GetArtifact(ctx, "b-1", domain.KindAttestSignature)
	require.NoError(t, err)
	assert.JSONEq(t, string(record.Bundle), string(bundle))
}

func TestAttestationService_SignImage_NoDigest(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	s := NewAttestationService(adapters.NewMockSignerAdapter(false), storage, storage, "registry.local/app", adapters.MockIssuer)
	bc := &domain.BuildContext{BuildID: "b-1", Registry: "registry.local", ImageName: "app"}
	_, err := s.SignImage(context.TODO(), bc, domain.NewIdentityToken("tok"))
	assert.ErrorIs(t, err, domain.ErrDigestNotSet)
}

func TestAttestationService_SignImage_EmptyToken(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	s := NewAttestationService(adapters.NewMockSignerAdapter(false), storage, storage, "registry.local/app", adapters.MockIssuer)
	bc := resolvedContext(t, "b-1")
	_, err := s.SignImage(context.TODO(), bc, domain.IdentityToken{})
	var signingErr *domain.SigningError
	require.ErrorAs(t, err, &signingErr)

	// nothing may be stored after a failed signing
	_, err = storage.GetAttestation(context.TODO(), testDigest, domain.PredicateSignature)
	assert.ErrorIs(t, err, domain.ErrAttestationNotFound)
}

func TestAttestationService_Attest(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	signer := adapters.NewMockSignerAdapter(false)
	s := NewAttestationService(signer, storage, storage, "registry.local/app", adapters.MockIssuer)
	bc := resolvedContext(t, "b-1")
	ctx := context.TODO()

	record, err := s.Attest(ctx, bc, domain.PredicateSLSAProvenance, json.RawMessage(`{"builder":{"id":"ci"}}`), domain.NewIdentityToken("tok"))
	require.NoError(t, err)
	assert.Equal(t, testDigest, record.Subject)
	assert.Equal(t, domain.PredicateSLSAProvenance, record.PredicateType)

	_, err = storage.GetArtifact(ctx, "b-1", domain.KindAttestProvenance)
	assert.NoError(t, err)
}

func TestAttestationService_Attest_Idempotent(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	signer := adapters.NewMockSignerAdapter(false)
	s := NewAttestationService(signer, storage, storage, "registry.local/app", adapters.MockIssuer)
	bc := resolvedContext(t, "b-1")
	ctx := context.TODO()
	predicate := json.RawMessage(`{"bomFormat":"CycloneDX"}`)

	first, err := s.Attest(ctx, bc, domain.PredicateCycloneDX, predicate, domain.NewIdentityToken("tok"))
	require.NoError(t, err)
	second, err := s.Attest(ctx, bc, domain.PredicateCycloneDX, predicate, domain.NewIdentityToken("tok"))
	require.NoError(t, err)

	assert.Equal(t, first.Bundle, second.Bundle)
	assert.Equal(t, 1, signer.StatementCalls())
}

func TestAttestationService_Attest_NoDigest(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	s := NewAttestationService(adapters.NewMockSignerAdapter(false), storage, storage, "registry.local/app", adapters.MockIssuer)
	bc := &domain.BuildContext{BuildID: "b-1", Registry: "registry.local", ImageName: "app"}
	_, err := s.Attest(context.TODO(), bc, domain.PredicateCycloneDX, json.RawMessage(`{}`), domain.NewIdentityToken("tok"))
	assert.ErrorIs(t, err, domain.ErrDigestNotSet)
}

func TestAttestationService_Attest_NullPredicate(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	s := NewAttestationService(adapters.NewMockSignerAdapter(false), storage, storage, "registry.local/app", adapters.MockIssuer)
	bc := resolvedContext(t, "b-1")
	_, err := s.Attest(context.TODO(), bc, domain.PredicateCycloneDX, json.RawMessage("null"), domain.NewIdentityToken("tok"))
	var schemaErr *domain.SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestAttestationService_VerifySignature(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	signer := adapters.NewMockSignerAdapter(false)
	s := NewAttestationService(signer, storage, storage, "registry.local/app", adapters.MockIssuer)
	bc := resolvedContext(t, "b-1")
	ctx := context.TODO()

	_, err := s.SignImage(ctx, bc, domain.NewIdentityToken("tok"))
	require.NoError(t, err)
	assert.True(t, s.VerifySignature(ctx, bc))
}

func TestAttestationService_VerifySignature_False(t *testing.T) {
	ctx := context.TODO()
	signer := adapters.NewMockSignerAdapter(false)

	t.Run("no record", func(t *testing.T) {
		storage := repositories.NewMemoryStorage()
		s := NewAttestationService(signer, storage, storage, "registry.local/app", adapters.MockIssuer)
		bc := resolvedContext(t, "b-1")
		assert.False(t, s.VerifySignature(ctx, bc))

		// verification never writes anything
		records, err := storage.ListAttestations(ctx, testDigest)
		assert.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("no digest", func(t *testing.T) {
		storage := repositories.NewMemoryStorage()
		s := NewAttestationService(signer, storage, storage, "registry.local/app", adapters.MockIssuer)
		bc := &domain.BuildContext{BuildID: "b-1", Registry: "registry.local", ImageName: "app"}
		assert.False(t, s.VerifySignature(ctx, bc))
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		storage := repositories.NewMemoryStorage()
		s := NewAttestationService(signer, storage, storage, "registry.local/app", adapters.MockIssuer)
		bc := resolvedContext(t, "b-1")
		_, err := s.SignImage(ctx, bc, domain.NewIdentityToken("tok"))
		require.NoError(t, err)

		other := NewAttestationService(signer, storage, storage, "registry.local/app", "https://other.issuer.dev")
		assert.False(t, other.VerifySignature(ctx, bc))
	})

	t.Run("repository mismatch", func(t *testing.T) {
		storage := repositories.NewMemoryStorage()
		s := NewAttestationService(signer, storage, storage, "registry.local/app", adapters.MockIssuer)
		bc := resolvedContext(t, "b-1")
		_, err := s.SignImage(ctx, bc, domain.NewIdentityToken("tok"))
		require.NoError(t, err)

		// the reconstructed payload names a different repository
		other := NewAttestationService(signer, storage, storage, "registry.local/renamed", adapters.MockIssuer)
		assert.False(t, other.VerifySignature(ctx, bc))
	})
}

func TestAttestationService_Verify(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	signer := adapters.NewMockSignerAdapter(false)
	s := NewAttestationService(signer, storage, storage, "registry.local/app", adapters.MockIssuer)
	bc := resolvedContext(t, "b-1")
	ctx := context.TODO()

	_, err := s.Attest(ctx, bc, domain.PredicateOpenVEX, json.RawMessage(`{"@context":"https://openvex.dev/ns/v0.2.0"}`), domain.NewIdentityToken("tok"))
	require.NoError(t, err)

	assert.True(t, s.Verify(ctx, bc, domain.PredicateOpenVEX))
	assert.False(t, s.Verify(ctx, bc, domain.PredicateSLSAProvenance), "never attested")
}

func TestAttestationService_Verify_SubjectMismatch(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	signer := adapters.NewMockSignerAdapter(false)
	s := NewAttestationService(signer, storage, storage, "registry.local/app", adapters.MockIssuer)
	bc := resolvedContext(t, "b-1")
	ctx := context.TODO()

	record, err := s.Attest(ctx, bc, domain.PredicateCycloneDX, json.RawMessage(`{"bomFormat":"CycloneDX"}`), domain.NewIdentityToken("tok"))
	require.NoError(t, err)

	// replant the bundle under another digest: the embedded subject no
	// longer matches and verification must fail
	record.Subject = testOtherDigest
	tools.EnsureSetup(t, storage.StoreAttestation(ctx, record) == nil)
	other := &domain.BuildContext{BuildID: "b-2", Registry: "registry.local", ImageName: "app"}
	tools.EnsureSetup(t, other.SetDigest(testOtherDigest) == nil)
	assert.False(t, s.Verify(ctx, other, domain.PredicateCycloneDX))
}
