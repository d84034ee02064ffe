package domain

import (
	"fmt"
	"time"
)

// ArtifactKind keys documents in the store. The relative filenames are
// stable: external tooling addresses artifacts by them.
type ArtifactKind string

const (
	KindBuildMetadata    ArtifactKind = "build-metadata"
	KindVulnScan         ArtifactKind = "vuln-scan"
	KindVulnSummary      ArtifactKind = "vuln-summary"
	KindSBOMBuild        ArtifactKind = "sbom-build"
	KindSBOMContainer    ArtifactKind = "sbom-container"
	KindSBOMConsolidated ArtifactKind = "sbom-consolidated"
	KindVEXBuild         ArtifactKind = "vex-build"
	KindVEXRuntime       ArtifactKind = "vex-runtime"
	KindVEXConsolidated  ArtifactKind = "vex-consolidated"
	KindAttestSignature  ArtifactKind = "attestation-signature"
	KindAttestProvenance ArtifactKind = "attestation-slsaprovenance"
	KindAttestCycloneDX  ArtifactKind = "attestation-cyclonedx"
	KindAttestOpenVEX    ArtifactKind = "attestation-openvex"
	KindReport           ArtifactKind = "report"
)

var artifactFilenames = map[ArtifactKind]string{
	KindBuildMetadata:    "build-metadata.json",
	KindVulnScan:         "scan-results.json",
	KindVulnSummary:      "vulnerability-summary.json",
	KindSBOMBuild:        "sbom-build.cdx.json",
	KindSBOMContainer:    "sbom-container.cdx.json",
	KindSBOMConsolidated: "sbom-consolidated.cdx.json",
	KindVEXBuild:         "vex-build.openvex.json",
	KindVEXRuntime:       "vex-runtime.openvex.json",
	KindVEXConsolidated:  "vex-consolidated.openvex.json",
	KindAttestSignature:  "signature.sigstore.json",
	KindAttestProvenance: "attestation-slsaprovenance.sigstore.json",
	KindAttestCycloneDX:  "attestation-cyclonedx.sigstore.json",
	KindAttestOpenVEX:    "attestation-openvex.sigstore.json",
	KindReport:           "compliance-report.json",
}

// ArtifactKinds lists all kinds in declaration order, which is also the
// order ListArtifacts reports them in.
func ArtifactKinds() []ArtifactKind {
	return []ArtifactKind{
		KindBuildMetadata,
		KindVulnScan,
		KindVulnSummary,
		KindSBOMBuild,
		KindSBOMContainer,
		KindSBOMConsolidated,
		KindVEXBuild,
		KindVEXRuntime,
		KindVEXConsolidated,
		KindAttestSignature,
		KindAttestProvenance,
		KindAttestCycloneDX,
		KindAttestOpenVEX,
		KindReport,
	}
}

// Filename returns the fixed relative filename for the kind, empty for
// unknown kinds. Callers validate kinds with Valid or ParseArtifactKind.
func (k ArtifactKind) Filename() string {
	return artifactFilenames[k]
}

func (k ArtifactKind) Valid() bool {
	_, ok := artifactFilenames[k]
	return ok
}

// ParseArtifactKind validates an externally supplied kind string.
func ParseArtifactKind(s string) (ArtifactKind, error) {
	k := ArtifactKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown artifact kind %q", s)
	}
	return k, nil
}

// KindForFilename is the inverse of Filename, used to rebuild store listings
// from directory contents.
func KindForFilename(name string) (ArtifactKind, bool) {
	for k, f := range artifactFilenames {
		if f == name {
			return k, true
		}
	}
	return "", false
}

// ArtifactRef points at a stored artifact and is sufficient to retrieve it.
type ArtifactRef struct {
	BuildID  string       `json:"buildID"`
	Kind     ArtifactKind `json:"kind"`
	Checksum string       `json:"checksum"`
	Size     int          `json:"size"`
	Path     string       `json:"path,omitempty"`
	StoredAt time.Time    `json:"storedAt"`
}

func (r ArtifactRef) String() string {
	return fmt.Sprintf("%s/%s@sha256:%s", r.BuildID, r.Kind, r.Checksum)
}
