package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"

	"github.com/buildseal/buildseal/adapters"
	v1 "github.com/buildseal/buildseal/adapters/v1"
	"github.com/buildseal/buildseal/config"
	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
	"github.com/buildseal/buildseal/core/services"
	"github.com/buildseal/buildseal/internal/tools"
	"github.com/buildseal/buildseal/repositories"
)

// storageRepository is the combined persistence surface the pipeline needs.
// Both the filesystem and the in-memory store satisfy it.
type storageRepository interface {
	ports.ArtifactRepository
	ports.AttestationRepository
}

func main() {
	// Define command line flags
	var (
		configDir = flag.String("config", ".", "Directory containing buildseal.json")
		sourceDir = flag.String("source", "", "Source tree to build (overrides config)")
		registry  = flag.String("registry", "", "Target registry (overrides config)")
		image     = flag.String("image", "", "Image name (overrides config)")
		platforms = flag.String("platforms", "", "Comma-separated target platforms (overrides config)")
		threshold = flag.String("threshold", "", "Vulnerability gate severity (overrides config)")
		buildID   = flag.String("build-id", "", "Build identifier (default: random UUID)")
		mock      = flag.Bool("mock", false, "Run with mock build tools and in-memory storage")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Println("buildseal - sealed container build pipeline")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  buildseal -registry <registry> -image <name> [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  buildseal -registry registry.example.com -image payments/api")
		fmt.Println("  buildseal -config /etc/buildseal -build-id rel-42")
		fmt.Println("  buildseal -registry registry.local -image app -threshold HIGH -mock")
		return
	}

	c, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}
	if *sourceDir != "" {
		c.SourceDir = *sourceDir
	}
	if *registry != "" {
		c.Registry = *registry
	}
	if *image != "" {
		c.ImageName = *image
	}
	if *platforms != "" {
		c.Platforms = *platforms
	}
	if *threshold != "" {
		c.VulnerabilityThreshold = *threshold
	}
	if *buildID != "" {
		c.BuildID = *buildID
	}
	if err := c.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	token := identityToken(c)
	if *mock && token.IsEmpty() {
		// mock runs need no real OIDC exchange
		token = domain.NewIdentityToken("mock-token")
	}

	service, storage, err := buildPipeline(c, *mock)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	input := domain.RunInput{BuildID: c.BuildID, IdentityToken: token}
	ctx, err = service.ValidateRun(ctx, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outcome, runErr := service.Run(ctx, input)
	printOutcome(outcome)
	printArtifacts(ctx, storage, outcome.BuildID)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
	}
	if runErr != nil || outcome.Failed() {
		os.Exit(1)
	}
}

// identityToken resolves the signing token from the environment or the
// configured file. The value stays in memory and is never echoed back.
func identityToken(c config.Config) domain.IdentityToken {
	if raw := os.Getenv("BUILDSEAL_IDENTITY_TOKEN"); raw != "" {
		return domain.NewIdentityToken(raw)
	}
	if c.IdentityTokenPath == "" {
		return domain.IdentityToken{}
	}
	token, err := tools.IdentityTokenFromFile(c.IdentityTokenPath)
	if err != nil {
		logger.L().Warning("identity token not loaded", helpers.Error(err))
		return domain.IdentityToken{}
	}
	return token
}

// buildPipeline wires the pipeline service with real tool adapters, or with
// mocks and in-memory storage when mock is set.
func buildPipeline(c config.Config, mock bool) (*services.PipelineService, storageRepository, error) {
	var (
		builder     ports.ImageBuilder
		scanner     ports.VulnerabilityScanner
		sbomGen     ports.SBOMGenerator
		vexProvider ports.VEXProvider
		signer      ports.KeylessSigner
		storage     storageRepository
		audit       ports.AuditStore
		issuer      string
	)
	if mock {
		builder = adapters.NewMockBuilderAdapter(false)
		scanner = adapters.NewMockScannerAdapter(false)
		sbomGen = adapters.NewMockSBOMAdapter(false)
		vexProvider = adapters.NewMockVEXAdapter(false)
		signer = adapters.NewMockSignerAdapter(false)
		storage = repositories.NewMemoryStorage()
		audit = adapters.NewMockAuditAdapter()
		issuer = adapters.MockIssuer
	} else {
		builder = v1.NewDockerBuilder(c.BuildTimeout, c.Dockerfile)
		scanner = v1.NewGrypeAdapter()
		sbomGen = v1.NewSyftAdapter(c.ScanTimeout, c.MaxImageSize, c.MaxDocumentSize)
		vexProvider = v1.NewOpenVEXGenerator("buildseal")
		signer = v1.NewSigstoreAdapter(c.FulcioURL, c.RekorURL, c.SignTimeout)
		issuer = c.OIDCIssuer
		fsStorage, err := repositories.NewFilesystemStorage(c.ArtifactsRoot)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing artifact storage: %w", err)
		}
		storage = fsStorage
		if c.VaultAddress != "" {
			// token comes from the environment (VAULT_TOKEN), never from config
			vault, err := v1.NewVaultAuditStore(c.VaultAddress, "", c.VaultMount, c.AuditPathPrefix)
			if err != nil {
				logger.L().Warning("audit trail disabled", helpers.Error(err))
			} else {
				audit = vault
			}
		}
	}

	buildsealVersion := tools.PackageVersion("github.com/buildseal/buildseal")
	consolidator := services.NewConsolidationService(domain.ToolIdentity{
		Vendor:  "buildseal",
		Name:    "buildseal",
		Version: buildsealVersion,
	}, c.MaxDocumentSize)
	attestor := services.NewAttestationService(signer, storage, storage, c.Registry+"/"+c.ImageName, issuer)
	reporter := services.NewReportService(storage, storage, audit)
	service := services.NewPipelineService(builder, scanner, sbomGen, vexProvider, storage, consolidator, attestor, reporter, services.Settings{
		Registry:           c.Registry,
		ImageName:          c.ImageName,
		SourceDir:          c.SourceDir,
		Platforms:          c.PlatformList(),
		Threshold:          c.Threshold(),
		EnablePatching:     c.EnablePatching,
		VEXAnalysisEnabled: c.VEXAnalysisEnabled,
		BuildTimeout:       c.BuildTimeout,
		ScanTimeout:        c.ScanTimeout,
		SLSABuildType:      c.SLSABuildType,
		SLSABuilderID:      c.SLSABuilderID,
		SLSALevel:          c.SLSALevel,
	})
	return service, storage, nil
}

func printOutcome(outcome domain.PipelineOutcome) {
	fmt.Println()
	fmt.Printf("buildID: %s\n", outcome.BuildID)
	if outcome.ImageRef != "" {
		fmt.Printf("image:   %s\n", outcome.ImageRef)
	}
	fmt.Printf("outcome: %s\n", outcome.Outcome)
	fmt.Println()
	fmt.Printf("%-12s %-9s %9s  %s\n", "STAGE", "STATE", "DURATION", "ERROR")
	for _, r := range outcome.Stages {
		duration := "-"
		if r.State == domain.StageSuccess || r.State == domain.StageFailed {
			duration = r.Duration.Round(time.Millisecond).String()
		}
		fmt.Printf("%-12s %-9s %9s  %s\n", r.Stage, r.State, duration, r.Error)
	}
}

func printArtifacts(ctx context.Context, artifacts ports.ArtifactRepository, buildID string) {
	refs, err := artifacts.ListArtifacts(ctx, buildID)
	if err != nil || len(refs) == 0 {
		return
	}
	fmt.Println()
	fmt.Printf("%-27s %10s  %s\n", "ARTIFACT", "SIZE", "CHECKSUM")
	for _, ref := range refs {
		fmt.Printf("%-27s %10d  %s\n", ref.Kind, ref.Size, ref.Checksum)
	}
}
