package ports

import (
	"context"

	"github.com/buildseal/buildseal/core/domain"
)

// ImageBuilder is the port implemented by adapters to be used in PipelineService to build and push images
type ImageBuilder interface {
	Build(ctx context.Context, bc *domain.BuildContext) (string, error)
	Cleanup(ctx context.Context, bc *domain.BuildContext) error
	Ready(ctx context.Context) bool
	Version() string
}

// VulnerabilityScanner is the port implemented by adapters to be used in PipelineService to scan images for vulnerabilities
type VulnerabilityScanner interface {
	DBVersion(ctx context.Context) string
	Ready(ctx context.Context) bool
	Scan(ctx context.Context, imageRef string) (domain.ScanReport, error)
	Version() string
}

// SBOMGenerator is the port implemented by adapters to be used in PipelineService to generate SBOM documents
type SBOMGenerator interface {
	GenerateImage(ctx context.Context, bc *domain.BuildContext) (domain.SBOM, error)
	GenerateSource(ctx context.Context, bc *domain.BuildContext, ecosystem string) (domain.SBOM, error)
	Version() string
}

// VEXProvider is the port implemented by adapters to be used in PipelineService to seed VEX documents
type VEXProvider interface {
	Generate(ctx context.Context, bc *domain.BuildContext, scope domain.VEXScope) (domain.VEX, error)
	Version() string
}

// KeylessSigner is the port implemented by adapters to be used in AttestationService for keyless signing and verification
type KeylessSigner interface {
	SignBlob(ctx context.Context, payload []byte, token domain.IdentityToken) (domain.AttestationRecord, error)
	SignStatement(ctx context.Context, statement []byte, token domain.IdentityToken) (domain.AttestationRecord, error)
	VerifyArtifact(ctx context.Context, bundle, artifact []byte, expectedIssuer string) error
	VerifyDigest(ctx context.Context, bundle []byte, imageDigest, expectedIssuer string) error
}

// AuditStore is the port implemented by adapters to be used in ReportService to persist audit records by path
type AuditStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, content []byte) error
}
