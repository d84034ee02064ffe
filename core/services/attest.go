package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
)

// AttestationService signs and verifies the publishable proof set of a run:
// the bare image signature and the in-toto attestations. Subjects are always
// the resolved digest, never a tag.
type AttestationService struct {
	signer       ports.KeylessSigner
	attestations ports.AttestationRepository
	artifacts    ports.ArtifactRepository
	repository   string
	issuer       string
}

// NewAttestationService initializes the AttestationService with all injected dependencies
func NewAttestationService(signer ports.KeylessSigner, attestations ports.AttestationRepository, artifacts ports.ArtifactRepository, repository, issuer string) *AttestationService {
	return &AttestationService{
		signer:       signer,
		attestations: attestations,
		artifacts:    artifacts,
		repository:   repository,
		issuer:       issuer,
	}
}

// SignImage signs the simple-signing payload for the resolved digest and
// stores bundle and record.
func (s *AttestationService) SignImage(ctx context.Context, bc *domain.BuildContext, token domain.IdentityToken) (domain.AttestationRecord, error) {
	ctx, span := otel.Tracer("").Start(ctx, "AttestationService.SignImage")
	defer span.End()
	digest := bc.Digest()
	if digest == "" {
		return domain.AttestationRecord{}, domain.ErrDigestNotSet
	}
	payload, err := json.Marshal(domain.NewSimpleSigningPayload(s.repository, digest))
	if err != nil {
		return domain.AttestationRecord{}, err
	}
	record, err := s.signer.SignBlob(ctx, payload, token)
	if err != nil {
		return domain.AttestationRecord{}, err
	}
	record.Subject = digest
	record.PredicateType = domain.PredicateSignature
	if err := s.attestations.StoreAttestation(ctx, record); err != nil {
		return domain.AttestationRecord{}, err
	}
	if _, err := s.artifacts.StoreArtifact(ctx, bc.BuildID, domain.KindAttestSignature, record.Bundle); err != nil {
		return domain.AttestationRecord{}, err
	}
	return record, nil
}

// Attest wraps a predicate in an in-toto statement for the digest subject,
// signs it as a DSSE envelope and stores bundle and record. Idempotent per
// (subject, predicateType): an existing record short-circuits re-signing.
func (s *AttestationService) Attest(ctx context.Context, bc *domain.BuildContext, kind domain.PredicateType, predicate json.RawMessage, token domain.IdentityToken) (domain.AttestationRecord, error) {
	ctx, span := otel.Tracer("").Start(ctx, "AttestationService.Attest")
	defer span.End()
	digest := bc.Digest()
	if digest == "" {
		return domain.AttestationRecord{}, domain.ErrDigestNotSet
	}
	existing, err := s.attestations.GetAttestation(ctx, digest, kind)
	if err == nil {
		logger.L().Debug("attestation already recorded, skipping signing",
			helpers.String("subject", digest), helpers.String("predicateType", string(kind)))
		return existing, nil
	}
	if !errors.Is(err, domain.ErrAttestationNotFound) {
		return domain.AttestationRecord{}, err
	}
	statement, err := domain.NewStatement(s.repository, digest, kind, predicate)
	if err != nil {
		return domain.AttestationRecord{}, err
	}
	if err := ValidateStatement(statement); err != nil {
		return domain.AttestationRecord{}, err
	}
	payload, err := json.Marshal(statement)
	if err != nil {
		return domain.AttestationRecord{}, err
	}
	record, err := s.signer.SignStatement(ctx, payload, token)
	if err != nil {
		return domain.AttestationRecord{}, err
	}
	record.Subject = digest
	record.PredicateType = kind
	if err := s.attestations.StoreAttestation(ctx, record); err != nil {
		return domain.AttestationRecord{}, err
	}
	if _, err := s.artifacts.StoreArtifact(ctx, bc.BuildID, kind.ArtifactKind(), record.Bundle); err != nil {
		return domain.AttestationRecord{}, err
	}
	return record, nil
}

// VerifySignature checks the stored image signature against the
// reconstructed payload. All failure modes map to false, each one logged.
// Verification never mutates stored state.
func (s *AttestationService) VerifySignature(ctx context.Context, bc *domain.BuildContext) bool {
	ctx, span := otel.Tracer("").Start(ctx, "AttestationService.VerifySignature")
	defer span.End()
	digest := bc.Digest()
	if digest == "" {
		logger.L().Ctx(ctx).Warning("cannot verify signature without a digest")
		return false
	}
	record, err := s.attestations.GetAttestation(ctx, digest, domain.PredicateSignature)
	if err != nil {
		logger.L().Ctx(ctx).Warning("no signature record",
			helpers.String("subject", digest), helpers.Error(err))
		return false
	}
	payload, err := json.Marshal(domain.NewSimpleSigningPayload(s.repository, digest))
	if err != nil {
		logger.L().Ctx(ctx).Warning("payload reconstruction failed", helpers.Error(err))
		return false
	}
	if err := s.signer.VerifyArtifact(ctx, record.Bundle, payload, s.issuer); err != nil {
		logger.L().Ctx(ctx).Warning("image signature verification failed",
			helpers.String("subject", digest), helpers.Error(err))
		return false
	}
	return true
}

// Verify checks a stored attestation against the digest subject. All
// failure modes map to false, each one logged.
func (s *AttestationService) Verify(ctx context.Context, bc *domain.BuildContext, kind domain.PredicateType) bool {
	ctx, span := otel.Tracer("").Start(ctx, "AttestationService.Verify")
	defer span.End()
	digest := bc.Digest()
	if digest == "" {
		logger.L().Ctx(ctx).Warning("cannot verify attestation without a digest",
			helpers.String("predicateType", string(kind)))
		return false
	}
	record, err := s.attestations.GetAttestation(ctx, digest, kind)
	if err != nil {
		logger.L().Ctx(ctx).Warning("no attestation record",
			helpers.String("subject", digest),
			helpers.String("predicateType", string(kind)), helpers.Error(err))
		return false
	}
	if err := s.signer.VerifyDigest(ctx, record.Bundle, digest, s.issuer); err != nil {
		logger.L().Ctx(ctx).Warning("attestation verification failed",
			helpers.String("subject", digest),
			helpers.String("predicateType", string(kind)), helpers.Error(err))
		return false
	}
	return true
}
