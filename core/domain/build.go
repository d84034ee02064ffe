package domain

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
)

type BuildIDKey struct{}
type TimestampKey struct{}

// Platform is a build target in os/arch form.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// ParsePlatforms splits a comma-separated platform list, e.g.
// "linux/amd64,linux/arm64".
func ParsePlatforms(s string) ([]Platform, error) {
	var platforms []Platform
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid platform %q", entry)
		}
		platforms = append(platforms, Platform{OS: parts[0], Arch: parts[1]})
	}
	if len(platforms) == 0 {
		return nil, fmt.Errorf("empty platform list")
	}
	return platforms, nil
}

// BuildContext carries the identity of one pipeline run. The image digest
// starts empty and is set exactly once after a successful build.
type BuildContext struct {
	mu                 sync.RWMutex
	digest             string
	BuildID            string
	Registry           string
	ImageName          string
	Platforms          []Platform
	SourceDir          string
	Threshold          Severity
	EnablePatching     bool
	VEXAnalysisEnabled bool
	SLSABuildType      string
	SLSABuilderID      string
	SLSALevel          string
	CreatedAt          time.Time
}

// SetDigest records the resolved image digest. A second call or a malformed
// digest is an error.
func (bc *BuildContext) SetDigest(d string) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.digest != "" {
		return ErrDigestAlreadySet
	}
	parsed, err := digest.Parse(d)
	if err != nil {
		return fmt.Errorf("invalid digest %q: %w", d, err)
	}
	bc.digest = parsed.String()
	return nil
}

// Digest returns the resolved image digest, or empty while unresolved.
func (bc *BuildContext) Digest() string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.digest
}

// ImageRef returns the digest-pinned image reference. ErrDigestNotSet before
// the build stage resolved the digest.
func (bc *BuildContext) ImageRef() (string, error) {
	d := bc.Digest()
	if d == "" {
		return "", ErrDigestNotSet
	}
	return fmt.Sprintf("%s/%s@%s", bc.Registry, bc.ImageName, d), nil
}

// TagRef returns the mutable registry reference used for build and push.
func (bc *BuildContext) TagRef() string {
	return fmt.Sprintf("%s/%s:%s", bc.Registry, bc.ImageName, bc.BuildID)
}

// PURL returns the package URL of the image, digest-qualified when resolved.
func (bc *BuildContext) PURL() string {
	if d := bc.Digest(); d != "" {
		return fmt.Sprintf("pkg:docker/%s@%s?repository_url=%s", bc.ImageName, d, bc.Registry)
	}
	return fmt.Sprintf("pkg:docker/%s?repository_url=%s", bc.ImageName, bc.Registry)
}

// BuildMetadata is the machine-readable run descriptor stored as the
// build-metadata artifact once the digest is resolved.
type BuildMetadata struct {
	BuildID            string    `json:"buildID"`
	Registry           string    `json:"registry"`
	ImageName          string    `json:"imageName"`
	ImageRef           string    `json:"imageRef"`
	Digest             string    `json:"digest"`
	Platforms          []string  `json:"platforms"`
	Threshold          Severity  `json:"vulnerabilityThreshold"`
	EnablePatching     bool      `json:"enablePatching"`
	VEXAnalysisEnabled bool      `json:"vexAnalysisEnabled"`
	BuilderVersion     string    `json:"builderVersion,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Metadata snapshots the context into the stored descriptor. It requires a
// resolved digest.
func (bc *BuildContext) Metadata(builderVersion string) (BuildMetadata, error) {
	ref, err := bc.ImageRef()
	if err != nil {
		return BuildMetadata{}, err
	}
	platforms := make([]string, 0, len(bc.Platforms))
	for _, p := range bc.Platforms {
		platforms = append(platforms, p.String())
	}
	return BuildMetadata{
		BuildID:            bc.BuildID,
		Registry:           bc.Registry,
		ImageName:          bc.ImageName,
		ImageRef:           ref,
		Digest:             bc.Digest(),
		Platforms:          platforms,
		Threshold:          bc.Threshold,
		EnablePatching:     bc.EnablePatching,
		VEXAnalysisEnabled: bc.VEXAnalysisEnabled,
		BuilderVersion:     builderVersion,
		CreatedAt:          time.Now().UTC(),
	}, nil
}

// IdentityToken holds the OIDC token used for keyless signing. It lives in
// memory only: formatting redacts it and nothing serializes it.
type IdentityToken struct {
	value string
}

func NewIdentityToken(v string) IdentityToken {
	return IdentityToken{value: v}
}

func (t IdentityToken) Reveal() string {
	return t.value
}

func (t IdentityToken) IsEmpty() bool {
	return t.value == ""
}

func (t IdentityToken) String() string {
	return "[REDACTED]"
}

// GoString keeps %#v from reflecting the unexported value.
func (t IdentityToken) GoString() string {
	return "domain.IdentityToken{[REDACTED]}"
}
