package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StatementType is the in-toto statement envelope type.
const StatementType = "https://in-toto.io/Statement/v0.1"

// PredicateType identifies an attestation flavor.
type PredicateType string

const (
	PredicateSLSAProvenance PredicateType = "slsaprovenance"
	PredicateCycloneDX      PredicateType = "cyclonedx"
	PredicateOpenVEX        PredicateType = "openvex"

	// PredicateSignature keys the bare image signature record. It is not an
	// in-toto predicate and has no URI; nothing wraps it in a statement.
	PredicateSignature PredicateType = "signature"
)

var predicateURIs = map[PredicateType]string{
	PredicateSLSAProvenance: "https://slsa.dev/provenance/v0.2",
	PredicateCycloneDX:      "https://cyclonedx.org/bom",
	PredicateOpenVEX:        "https://openvex.dev/ns",
}

// URI returns the canonical predicate type URI.
func (p PredicateType) URI() string {
	return predicateURIs[p]
}

func (p PredicateType) Valid() bool {
	_, ok := predicateURIs[p]
	return ok
}

// ArtifactKind returns the store kind holding the bundle for this predicate.
func (p PredicateType) ArtifactKind() ArtifactKind {
	switch p {
	case PredicateSLSAProvenance:
		return KindAttestProvenance
	case PredicateCycloneDX:
		return KindAttestCycloneDX
	case PredicateOpenVEX:
		return KindAttestOpenVEX
	case PredicateSignature:
		return KindAttestSignature
	}
	return ""
}

// Subject is an in-toto subject: a name and a sha256 digest, never a tag.
type Subject struct {
	Name   string            `json:"name"`
	Digest map[string]string `json:"digest"`
}

// Statement is an in-toto v0.1 attestation statement.
type Statement struct {
	Type          string          `json:"_type"`
	Subject       []Subject       `json:"subject"`
	PredicateType string          `json:"predicateType"`
	Predicate     json.RawMessage `json:"predicate"`
}

// NewStatement wraps a predicate for the given digest-pinned subject.
// The digest must be sha256-prefixed; only the hex part lands in the subject.
func NewStatement(subjectName, imageDigest string, kind PredicateType, predicate json.RawMessage) (Statement, error) {
	hexPart, err := SHA256Hex(imageDigest)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		Type:          StatementType,
		Subject:       []Subject{{Name: subjectName, Digest: map[string]string{"sha256": hexPart}}},
		PredicateType: kind.URI(),
		Predicate:     predicate,
	}, nil
}

// SHA256Hex extracts and validates the hex part of a sha256-prefixed digest.
func SHA256Hex(imageDigest string) (string, error) {
	hexPart, ok := strings.CutPrefix(imageDigest, "sha256:")
	if !ok {
		return "", fmt.Errorf("digest %q is not sha256-prefixed", imageDigest)
	}
	if len(hexPart) != 64 {
		return "", fmt.Errorf("digest %q has wrong length", imageDigest)
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", fmt.Errorf("digest %q is not hex: %w", imageDigest, err)
	}
	return hexPart, nil
}

// AttestationRecord is the stored outcome of a sign or attest operation,
// keyed by (Subject, PredicateType) with last-write-wins semantics.
type AttestationRecord struct {
	Subject           string        `json:"subject"`
	PredicateType     PredicateType `json:"predicateType"`
	Bundle            []byte        `json:"bundle"`
	CertificateIssuer string        `json:"certificateIssuer,omitempty"`
	CertificateSAN    string        `json:"certificateSAN,omitempty"`
	LogIndex          int64         `json:"logIndex,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// AttestationSummary is the bundle-free view of a record, used in reports.
type AttestationSummary struct {
	PredicateType     PredicateType `json:"predicateType"`
	CertificateIssuer string        `json:"certificateIssuer,omitempty"`
	CertificateSAN    string        `json:"certificateSAN,omitempty"`
	LogIndex          int64         `json:"logIndex,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// Summary strips the bundle for report inclusion.
func (r AttestationRecord) Summary() AttestationSummary {
	return AttestationSummary{
		PredicateType:     r.PredicateType,
		CertificateIssuer: r.CertificateIssuer,
		CertificateSAN:    r.CertificateSAN,
		LogIndex:          r.LogIndex,
		CreatedAt:         r.CreatedAt,
	}
}

// SimpleSigningPayload is the payload signed for a bare image signature,
// following the container signature convention.
type SimpleSigningPayload struct {
	Critical struct {
		Identity struct {
			DockerReference string `json:"docker-reference"`
		} `json:"identity"`
		Image struct {
			DockerManifestDigest string `json:"docker-manifest-digest"`
		} `json:"image"`
		Type string `json:"type"`
	} `json:"critical"`
	Optional map[string]any `json:"optional,omitempty"`
}

// NewSimpleSigningPayload builds the signature payload for a digest-pinned
// image reference.
func NewSimpleSigningPayload(repository, imageDigest string) SimpleSigningPayload {
	var p SimpleSigningPayload
	p.Critical.Identity.DockerReference = repository
	p.Critical.Image.DockerManifestDigest = imageDigest
	p.Critical.Type = "cosign container image signature"
	return p
}

// Provenance is a SLSA v0.2 provenance predicate.
type Provenance struct {
	Builder    ProvenanceBuilder    `json:"builder"`
	BuildType  string               `json:"buildType"`
	Invocation ProvenanceInvocation `json:"invocation"`
	Metadata   ProvenanceMetadata   `json:"metadata"`
	Materials  []ProvenanceMaterial `json:"materials,omitempty"`
}

type ProvenanceBuilder struct {
	ID string `json:"id"`
}

type ProvenanceInvocation struct {
	ConfigSource map[string]any `json:"configSource,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Environment  map[string]any `json:"environment,omitempty"`
}

type ProvenanceMetadata struct {
	BuildInvocationID string                 `json:"buildInvocationId"`
	BuildStartedOn    time.Time              `json:"buildStartedOn"`
	BuildFinishedOn   time.Time              `json:"buildFinishedOn"`
	Completeness      ProvenanceCompleteness `json:"completeness"`
	Reproducible      bool                   `json:"reproducible"`
}

type ProvenanceCompleteness struct {
	Parameters  bool `json:"parameters"`
	Environment bool `json:"environment"`
	Materials   bool `json:"materials"`
}

type ProvenanceMaterial struct {
	URI    string            `json:"uri"`
	Digest map[string]string `json:"digest,omitempty"`
}
