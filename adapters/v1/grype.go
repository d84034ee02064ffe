package v1

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/anchore/clio"
	"github.com/anchore/grype/grype"
	"github.com/anchore/grype/grype/db/v6/distribution"
	"github.com/anchore/grype/grype/db/v6/installation"
	"github.com/anchore/grype/grype/matcher"
	"github.com/anchore/grype/grype/matcher/dotnet"
	"github.com/anchore/grype/grype/matcher/golang"
	"github.com/anchore/grype/grype/matcher/java"
	"github.com/anchore/grype/grype/matcher/javascript"
	"github.com/anchore/grype/grype/matcher/python"
	"github.com/anchore/grype/grype/matcher/ruby"
	"github.com/anchore/grype/grype/matcher/stock"
	"github.com/anchore/grype/grype/pkg"
	"github.com/anchore/grype/grype/presenter/models"
	"github.com/anchore/grype/grype/vulnerability"
	"github.com/anchore/stereoscope/pkg/image"
	"github.com/anchore/syft/syft"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
	"github.com/buildseal/buildseal/internal/tools"
)

// latestDBURL points at the v6 vulnerability database feed.
const latestDBURL = "https://grype.anchore.io/databases/v6/latest.json"

// dbUpdateInterval is how long a loaded vulnerability DB stays fresh before
// the readiness probe refreshes it.
const dbUpdateInterval = 24 * time.Hour

// GrypeAdapter implements VulnerabilityScanner from ports using Grype's API
type GrypeAdapter struct {
	mu           sync.RWMutex
	provider     vulnerability.Provider
	dbStatus     *vulnerability.ProviderStatus
	distCfg      distribution.Config
	installCfg   installation.Config
	lastDBUpdate time.Time
}

var _ ports.VulnerabilityScanner = (*GrypeAdapter)(nil)

// NewGrypeAdapter initializes the GrypeAdapter structure
// DB loading is done via readiness probes
func NewGrypeAdapter() *GrypeAdapter {
	g := &GrypeAdapter{
		distCfg: distribution.Config{
			LatestURL: latestDBURL,
		},
		installCfg: installation.Config{
			DBRootDir: path.Join(xdg.CacheHome, "buildseal", "grype", "db"),
		},
	}
	return g
}

// DBVersion returns the vulnerability DB identity which is used to tag scan reports
func (g *GrypeAdapter) DBVersion(context.Context) string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.dbStatus == nil {
		return ""
	}
	return fmt.Sprintf("%v built %v", g.dbStatus.SchemaVersion, g.dbStatus.Built)
}

// Ready returns the status of the vulnerability DB, loading or refreshing it
// when stale
func (g *GrypeAdapter) Ready(ctx context.Context) bool {
	// DB update is in progress
	if !g.mu.TryRLock() {
		return false
	}
	g.mu.RUnlock() // because TryRLock doesn't unlock
	// DB is not initialized or needs to be updated
	now := time.Now()
	if g.dbStatus == nil || now.Sub(g.lastDBUpdate) > dbUpdateInterval {
		g.mu.Lock()
		defer g.mu.Unlock()
		ctx, span := otel.Tracer("").Start(ctx, "GrypeAdapter.UpdateDB")
		defer span.End()
		logger.L().Info("updating grype DB")
		var err error
		g.provider, g.dbStatus, err = grype.LoadVulnerabilityDB(g.distCfg, g.installCfg, true)
		if err != nil {
			logger.L().Ctx(ctx).Error("failed to update grype DB", helpers.Error(err))
			return false
		}
		g.lastDBUpdate = now
		logger.L().Info("grype DB updated")
		return true
	}

	return true
}

// Scan catalogs the image from the registry and matches its packages against
// the vulnerability DB
func (g *GrypeAdapter) Scan(ctx context.Context, imageRef string) (domain.ScanReport, error) {
	ctx, span := otel.Tracer("").Start(ctx, "GrypeAdapter.Scan")
	defer span.End()

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.dbStatus == nil {
		return domain.ScanReport{}, errors.New("grype DB is not initialized, run readiness probe first")
	}

	// stereoscope's registry provider needs a fully qualified reference
	imageRef = tools.NormalizeReference(imageRef)

	logger.L().Debug("cataloging image packages", helpers.String("imageRef", imageRef))
	providerCfg := pkg.ProviderConfig{
		SyftProviderConfig: pkg.SyftProviderConfig{
			SBOMOptions:     syft.DefaultCreateSBOMConfig(),
			RegistryOptions: &image.RegistryOptions{},
		},
	}
	packages, pkgContext, _, err := pkg.Provide(ctx, "registry:"+imageRef, providerCfg)
	if err != nil {
		// registry fetch errors are usually short-lived, let the caller retry
		return domain.ScanReport{}, &domain.TransientToolError{Tool: "grype", Err: err}
	}

	vulnMatcher := grype.VulnerabilityMatcher{
		VulnerabilityProvider: g.provider,
		Matchers:              matcher.NewDefaultMatchers(matcherConfig()),
	}

	logger.L().Debug("finding vulnerabilities", helpers.String("imageRef", imageRef))
	remainingMatches, ignoredMatches, err := vulnMatcher.FindMatches(packages, pkgContext)
	if err != nil {
		return domain.ScanReport{}, err
	}

	logger.L().Debug("compiling results", helpers.String("imageRef", imageRef))
	id := clio.Identification{Name: "buildseal", Version: tools.PackageVersion("github.com/buildseal/buildseal")}
	doc, err := models.NewDocument(id, packages, pkgContext, *remainingMatches, ignoredMatches, g.provider, nil, g.dbStatus, models.SortByPackage)
	if err != nil {
		return domain.ScanReport{}, err
	}

	logger.L().Debug("returning scan report", helpers.String("imageRef", imageRef))
	return grypeToScanReport(doc, imageRef), nil
}

func matcherConfig() matcher.Config {
	return matcher.Config{
		Java: java.MatcherConfig{
			ExternalSearchConfig: java.ExternalSearchConfig{MavenBaseURL: "https://search.maven.org/solrsearch/select"},
			UseCPEs:              true,
		},
		Ruby:       ruby.MatcherConfig{UseCPEs: true},
		Python:     python.MatcherConfig{UseCPEs: true},
		Dotnet:     dotnet.MatcherConfig{UseCPEs: true},
		Javascript: javascript.MatcherConfig{UseCPEs: true},
		Golang:     golang.MatcherConfig{UseCPEs: true},
		Stock:      stock.MatcherConfig{UseCPEs: true},
	}
}

// osPackageTypes are the grype artifact types fed by OS package databases.
var osPackageTypes = map[string]bool{
	"apk":     true,
	"deb":     true,
	"rpm":     true,
	"portage": true,
}

// grypeToScanReport converts a grype document to the shared scan report
// shape, grouping matches into per-package-class results.
func grypeToScanReport(doc models.Document, imageRef string) domain.ScanReport {
	report := domain.ScanReport{
		SchemaVersion: 2,
		ArtifactName:  imageRef,
		ArtifactType:  "container_image",
		CreatedAt:     time.Now().UTC(),
	}
	index := map[string]int{}
	for _, m := range doc.Matches {
		pkgType := fmt.Sprintf("%v", m.Artifact.Type)
		class := "lang-pkgs"
		target := imageRef
		if osPackageTypes[pkgType] {
			class = "os-pkgs"
			if doc.Distro.Name != "" {
				target = fmt.Sprintf("%s (%s %s)", imageRef, doc.Distro.Name, doc.Distro.Version)
			}
		}
		i, ok := index[class+"/"+pkgType]
		if !ok {
			report.Results = append(report.Results, domain.ScanResult{
				Target: target,
				Class:  class,
				Type:   pkgType,
			})
			i = len(report.Results) - 1
			index[class+"/"+pkgType] = i
		}
		report.Results[i].Vulnerabilities = append(report.Results[i].Vulnerabilities, domain.Vulnerability{
			VulnerabilityID:  m.Vulnerability.VulnerabilityMetadata.ID,
			PkgName:          m.Artifact.Name,
			InstalledVersion: m.Artifact.Version,
			FixedVersion:     fixedVersion(m),
			Severity:         domain.ParseSeverity(m.Vulnerability.VulnerabilityMetadata.Severity),
			Title:            m.Vulnerability.VulnerabilityMetadata.Description,
			PrimaryURL:       m.Vulnerability.VulnerabilityMetadata.DataSource,
		})
	}
	return report
}

// fixedVersion flattens the grype fix advice into the single version string
// the report shape carries.
func fixedVersion(m models.Match) string {
	if fmt.Sprintf("%v", m.Vulnerability.Fix.State) != "fixed" || len(m.Vulnerability.Fix.Versions) == 0 {
		return ""
	}
	return strings.Join(m.Vulnerability.Fix.Versions, ", ")
}

// Version returns Grype's version which is used to tag scan reports
func (g *GrypeAdapter) Version() string {
	return tools.PackageVersion("github.com/anchore/grype")
}
