package v1

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/akyoto/cache"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	protobundle "github.com/sigstore/protobuf-specs/gen/pb-go/bundle/v1"
	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/root"
	"github.com/sigstore/sigstore-go/pkg/sign"
	"github.com/sigstore/sigstore-go/pkg/verify"
	"go.opentelemetry.io/otel"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
)

// intotoPayloadType is the DSSE payload type for in-toto statements.
const intotoPayloadType = "application/vnd.in-toto+json"

// trustedRootTTL bounds how long the Sigstore trusted root is reused
// before it is fetched again.
const trustedRootTTL = time.Hour

const trustedRootKey = "trusted-root"

// Fulcio certificate extensions carrying the OIDC issuer. V2 is
// DER-encoded, V1 holds the raw string.
var (
	oidIssuerV1 = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 57264, 1, 1}
	oidIssuerV2 = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 57264, 1, 8}
)

// SigstoreAdapter implements the KeylessSigner port using the Sigstore
// public-good instance: ephemeral keypair, Fulcio certificate bound to the
// OIDC identity token, Rekor transparency log entry.
type SigstoreAdapter struct {
	fulcioURL   string
	rekorURL    string
	signTimeout time.Duration
	roots       *cache.Cache
}

var _ ports.KeylessSigner = (*SigstoreAdapter)(nil)

// NewSigstoreAdapter initializes the SigstoreAdapter struct
func NewSigstoreAdapter(fulcioURL, rekorURL string, signTimeout time.Duration) *SigstoreAdapter {
	return &SigstoreAdapter{
		fulcioURL:   fulcioURL,
		rekorURL:    rekorURL,
		signTimeout: signTimeout,
		roots:       cache.New(trustedRootTTL),
	}
}

// SignBlob signs a plain payload and returns the bundle record
func (a *SigstoreAdapter) SignBlob(ctx context.Context, payload []byte, token domain.IdentityToken) (domain.AttestationRecord, error) {
	ctx, span := otel.Tracer("").Start(ctx, "SigstoreAdapter.SignBlob")
	defer span.End()
	return a.signContent(ctx, "sign-blob", &sign.PlainData{Data: payload}, token)
}

// SignStatement signs an in-toto statement as a DSSE envelope and returns
// the bundle record
func (a *SigstoreAdapter) SignStatement(ctx context.Context, statement []byte, token domain.IdentityToken) (domain.AttestationRecord, error) {
	ctx, span := otel.Tracer("").Start(ctx, "SigstoreAdapter.SignStatement")
	defer span.End()
	return a.signContent(ctx, "sign-statement", &sign.DSSEData{Data: statement, PayloadType: intotoPayloadType}, token)
}

func (a *SigstoreAdapter) signContent(ctx context.Context, op string, content sign.Content, token domain.IdentityToken) (domain.AttestationRecord, error) {
	if token.IsEmpty() {
		return domain.AttestationRecord{}, &domain.SigningError{Op: op, Err: errors.New("identity token is required")}
	}
	keypair, err := sign.NewEphemeralKeypair(nil)
	if err != nil {
		return domain.AttestationRecord{}, &domain.SigningError{Op: op, Err: err}
	}

	opts := sign.BundleOptions{Context: ctx}
	opts.CertificateProvider = sign.NewFulcio(&sign.FulcioOptions{
		BaseURL: a.fulcioURL,
		Timeout: a.signTimeout,
		Retries: 1,
	})
	opts.CertificateProviderOptions = &sign.CertificateProviderOptions{
		IDToken: token.Reveal(),
	}
	opts.TransparencyLogs = append(opts.TransparencyLogs, sign.NewRekor(&sign.RekorOptions{
		BaseURL: a.rekorURL,
		Timeout: a.signTimeout,
		Retries: 1,
	}))

	pb, err := sign.Bundle(content, keypair, opts)
	if err != nil {
		return domain.AttestationRecord{}, &domain.SigningError{Op: op, Err: err}
	}
	bundleJSON, err := protojson.Marshal(pb)
	if err != nil {
		return domain.AttestationRecord{}, &domain.SigningError{Op: op, Err: err}
	}

	record := domain.AttestationRecord{
		Bundle:    bundleJSON,
		CreatedAt: time.Now().UTC(),
	}
	if summary, err := summarizeBundle(bundleJSON); err != nil {
		logger.L().Ctx(ctx).Warning("bundle summary extraction failed", helpers.Error(err))
	} else {
		record.CertificateIssuer = summary.issuer
		record.CertificateSAN = summary.san
		record.LogIndex = summary.logIndex
	}
	return record, nil
}

// VerifyArtifact verifies the bundle signature over the exact artifact
// bytes, the certificate chain to the trusted root, transparency log
// inclusion, and the certificate issuer
func (a *SigstoreAdapter) VerifyArtifact(ctx context.Context, bundleJSON, artifact []byte, expectedIssuer string) error {
	_, span := otel.Tracer("").Start(ctx, "SigstoreAdapter.VerifyArtifact")
	defer span.End()
	return a.verifyBundle(bundleJSON, expectedIssuer, verify.WithArtifact(bytes.NewReader(artifact)))
}

// VerifyDigest is VerifyArtifact with the artifact asserted by digest,
// used for DSSE bundles whose statement subject carries the digest
func (a *SigstoreAdapter) VerifyDigest(ctx context.Context, bundleJSON []byte, imageDigest, expectedIssuer string) error {
	_, span := otel.Tracer("").Start(ctx, "SigstoreAdapter.VerifyDigest")
	defer span.End()
	hexPart, err := domain.SHA256Hex(imageDigest)
	if err != nil {
		return err
	}
	digest, err := hex.DecodeString(hexPart)
	if err != nil {
		return err
	}
	return a.verifyBundle(bundleJSON, expectedIssuer, verify.WithArtifactDigest("sha256", digest))
}

func (a *SigstoreAdapter) verifyBundle(bundleJSON []byte, expectedIssuer string, artifactOpt verify.ArtifactPolicyOption) error {
	var b bundle.Bundle
	if err := b.UnmarshalJSON(bundleJSON); err != nil {
		return fmt.Errorf("parse bundle: %w", err)
	}

	trustedRoot, err := a.trustedRoot()
	if err != nil {
		return err
	}
	verifier, err := verify.NewVerifier(
		trustedRoot,
		verify.WithObserverTimestamps(1),
		verify.WithTransparencyLog(1),
	)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}

	var policyOpts []verify.PolicyOption
	if expectedIssuer != "" {
		identity, err := verify.NewShortCertificateIdentity(expectedIssuer, "", "", ".*")
		if err != nil {
			return fmt.Errorf("create identity: %w", err)
		}
		policyOpts = append(policyOpts, verify.WithCertificateIdentity(identity))
	} else {
		policyOpts = append(policyOpts, verify.WithoutIdentitiesUnsafe())
	}

	if _, err := verifier.Verify(&b, verify.NewPolicy(artifactOpt, policyOpts...)); err != nil {
		return fmt.Errorf("signature invalid: %w", err)
	}
	return nil
}

// trustedRoot returns the cached Sigstore trusted root, fetching it on a
// miss or after the TTL expired.
func (a *SigstoreAdapter) trustedRoot() (root.TrustedMaterial, error) {
	if cached, ok := a.roots.Get(trustedRootKey); ok {
		return cached.(root.TrustedMaterial), nil
	}
	tr, err := root.FetchTrustedRoot()
	if err != nil {
		return nil, fmt.Errorf("fetch trusted root: %w", err)
	}
	a.roots.Set(trustedRootKey, root.TrustedMaterial(tr), trustedRootTTL)
	return tr, nil
}

// bundleSummary is the report-facing slice of a bundle: who signed and
// where the log entry landed.
type bundleSummary struct {
	issuer   string
	san      string
	logIndex int64
}

// summarizeBundle lifts issuer, SAN and log index out of a serialized
// bundle without verifying it.
func summarizeBundle(bundleJSON []byte) (bundleSummary, error) {
	var pb protobundle.Bundle
	if err := protojson.Unmarshal(bundleJSON, &pb); err != nil {
		return bundleSummary{}, err
	}
	var summary bundleSummary
	vm := pb.GetVerificationMaterial()
	if vm == nil {
		return bundleSummary{}, errors.New("bundle has no verification material")
	}
	if entries := vm.GetTlogEntries(); len(entries) > 0 {
		summary.logIndex = entries[0].GetLogIndex()
	}
	raw := vm.GetCertificate().GetRawBytes()
	if raw == nil {
		if chain := vm.GetX509CertificateChain(); chain != nil && len(chain.GetCertificates()) > 0 {
			raw = chain.GetCertificates()[0].GetRawBytes()
		}
	}
	if raw == nil {
		return summary, nil
	}
	cert, err := x509.ParseCertificate(raw)
	if err != nil {
		return summary, fmt.Errorf("parse leaf certificate: %w", err)
	}
	summary.issuer = certIssuer(cert)
	summary.san = certSAN(cert)
	return summary, nil
}

func certIssuer(cert *x509.Certificate) string {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidIssuerV2) {
			var issuer string
			if _, err := asn1.Unmarshal(ext.Value, &issuer); err == nil {
				return issuer
			}
		}
	}
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidIssuerV1) {
			return string(ext.Value)
		}
	}
	return ""
}

func certSAN(cert *x509.Certificate) string {
	if len(cert.EmailAddresses) > 0 {
		return cert.EmailAddresses[0]
	}
	if len(cert.URIs) > 0 {
		return cert.URIs[0].String()
	}
	return ""
}
