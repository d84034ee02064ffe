package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DmitriyVTitov/size"
	"github.com/anchore/stereoscope/pkg/file"
	"github.com/anchore/stereoscope/pkg/image"
	"github.com/anchore/syft/syft"
	"github.com/anchore/syft/syft/format"
	"github.com/anchore/syft/syft/format/cyclonedxjson"
	"github.com/anchore/syft/syft/sbom"
	"github.com/anchore/syft/syft/source"
	"github.com/eapache/go-resiliency/deadline"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
	"github.com/buildseal/buildseal/internal/tools"
)

// DefaultMaxImageSize caps how much image data stereoscope may pull for a
// single catalog run.
const DefaultMaxImageSize = 512 * 1024 * 1024

// SyftAdapter implements SBOMGenerator from ports using Syft's API
type SyftAdapter struct {
	maxImageSize int64
	maxSBOMSize  int
	pullMutex    sync.Mutex
	scanTimeout  time.Duration
}

var _ ports.SBOMGenerator = (*SyftAdapter)(nil)

// NewSyftAdapter initializes the SyftAdapter struct
func NewSyftAdapter(scanTimeout time.Duration, maxImageSize int64, maxSBOMSize int) *SyftAdapter {
	if maxImageSize <= 0 {
		maxImageSize = DefaultMaxImageSize
	}
	return &SyftAdapter{
		maxImageSize: maxImageSize,
		maxSBOMSize:  maxSBOMSize,
		scanTimeout:  scanTimeout,
	}
}

// GenerateImage catalogs the published image, pulled from the registry by
// digest so the document describes the exact bytes the pipeline pushed.
// Pulls are serialized to prevent disk space issues and a timeout prevents
// the process from hanging for too long.
func (s *SyftAdapter) GenerateImage(ctx context.Context, bc *domain.BuildContext) (domain.SBOM, error) {
	ctx, span := otel.Tracer("").Start(ctx, "SyftAdapter.GenerateImage")
	defer span.End()

	imageRef, err := bc.ImageRef()
	if err != nil {
		return domain.SBOM{}, err
	}
	if _, err := name.NewDigest(imageRef); err != nil {
		return domain.SBOM{}, fmt.Errorf("invalid image reference %q: %w", imageRef, err)
	}
	registryOptions := image.RegistryOptions{}

	// prepare temporary directory for image download
	t := file.NewTempDirGenerator("stereoscope")
	defer func(t *file.TempDirGenerator) {
		if err := t.Cleanup(); err != nil {
			logger.L().Ctx(ctx).Warning("failed to cleanup temp dir", helpers.Error(err),
				helpers.String("imageRef", imageRef))
		}
	}(t)

	// download image
	logger.L().Debug("downloading image", helpers.String("imageRef", imageRef))
	ctxWithSize := context.WithValue(context.Background(), image.MaxImageSize, s.maxImageSize)
	src, err := syft.GetSource(ctxWithSize, imageRef, syft.DefaultGetSourceConfig().WithRegistryOptions(&registryOptions).WithSources("registry"))

	if err != nil && strings.Contains(err.Error(), "MANIFEST_UNKNOWN") {
		// some registries expose the manifest under the tag before the digest propagates
		logger.L().Debug("got MANIFEST_UNKNOWN, retrying with tag reference",
			helpers.String("tagRef", bc.TagRef()),
			helpers.String("imageRef", imageRef))
		src, err = syft.GetSource(ctxWithSize, bc.TagRef(), syft.DefaultGetSourceConfig().WithRegistryOptions(&registryOptions).WithSources("registry"))
	}

	switch {
	case err != nil && strings.Contains(err.Error(), image.ErrImageTooLarge.Error()):
		return domain.SBOM{}, fmt.Errorf("image exceeds size limit %d: %w", s.maxImageSize, err)
	case err != nil:
		return domain.SBOM{}, err
	}

	// ensure no parallel pulls
	s.pullMutex.Lock()
	defer s.pullMutex.Unlock()
	syftSBOM, err := s.createSBOM(ctx, src, imageRef)
	if err != nil {
		return domain.SBOM{}, err
	}
	return s.toCycloneDX(bc, "image", syftSBOM)
}

// GenerateSource catalogs the build source tree. The cataloger set is syft's
// directory default; the ecosystem only tags the resulting document, the
// consolidation step deduplicates components shared between ecosystems.
func (s *SyftAdapter) GenerateSource(ctx context.Context, bc *domain.BuildContext, ecosystem string) (domain.SBOM, error) {
	ctx, span := otel.Tracer("").Start(ctx, "SyftAdapter.GenerateSource")
	defer span.End()

	logger.L().Debug("cataloging source tree",
		helpers.String("dir", bc.SourceDir),
		helpers.String("ecosystem", ecosystem))
	src, err := syft.GetSource(ctx, bc.SourceDir, syft.DefaultGetSourceConfig().WithSources("dir"))
	if err != nil {
		return domain.SBOM{}, err
	}
	syftSBOM, err := s.createSBOM(ctx, src, bc.SourceDir)
	if err != nil {
		return domain.SBOM{}, err
	}
	return s.toCycloneDX(bc, ecosystem, syftSBOM)
}

// createSBOM runs the syft catalogers under the scan deadline and enforces
// the document size cap.
func (s *SyftAdapter) createSBOM(ctx context.Context, src source.Source, ref string) (*sbom.SBOM, error) {
	var syftSBOM *sbom.SBOM
	dl := deadline.New(s.scanTimeout)
	err := dl.Run(func(stopper <-chan struct{}) error {
		// make sure we clean the temp dir
		defer func(src source.Source) {
			if err := src.Close(); err != nil {
				logger.L().Ctx(ctx).Warning("failed to close source", helpers.Error(err),
					helpers.String("ref", ref))
			}
		}(src)
		logger.L().Debug("generating SBOM", helpers.String("ref", ref))
		cfg := syft.DefaultCreateSBOMConfig()
		cfg.ToolName = "syft"
		cfg.ToolVersion = s.Version()
		var err error
		syftSBOM, err = syft.CreateSBOM(context.Background(), src, cfg)
		if err != nil {
			return fmt.Errorf("failed to generate SBOM: %w", err)
		}
		return nil
	})
	switch {
	case errors.Is(err, deadline.ErrTimedOut):
		logger.L().Ctx(ctx).Warning("Syft timed out", helpers.String("ref", ref))
		return nil, fmt.Errorf("syft exceeded %s: %w", s.scanTimeout, err)
	case err != nil:
		return nil, err
	}

	// check the size of the SBOM
	if sz := size.Of(syftSBOM); s.maxSBOMSize > 0 && sz > s.maxSBOMSize {
		logger.L().Ctx(ctx).Warning("SBOM exceeds size limit",
			helpers.Int("maxSBOMSize", s.maxSBOMSize),
			helpers.Int("size", sz),
			helpers.String("ref", ref))
		return nil, fmt.Errorf("SBOM size %d exceeds limit %d", sz, s.maxSBOMSize)
	}
	return syftSBOM, nil
}

// toCycloneDX encodes a syft SBOM as a CycloneDX 1.5 JSON document.
func (s *SyftAdapter) toCycloneDX(bc *domain.BuildContext, docSource string, syftSBOM *sbom.SBOM) (domain.SBOM, error) {
	cfg := cyclonedxjson.DefaultEncoderConfig()
	cfg.Version = domain.CycloneDXSpecVersion
	encoder, err := cyclonedxjson.NewFormatEncoderWithConfig(cfg)
	if err != nil {
		return domain.SBOM{}, err
	}
	data, err := format.Encode(*syftSBOM, encoder)
	if err != nil {
		return domain.SBOM{}, err
	}
	var content map[string]any
	if err := json.Unmarshal(data, &content); err != nil {
		return domain.SBOM{}, err
	}
	return domain.SBOM{
		BuildID:          bc.BuildID,
		Source:           docSource,
		GeneratorName:    "syft",
		GeneratorVersion: s.Version(),
		Content:          content,
	}, nil
}

// Version returns Syft's version which is used to tag SBOM documents
func (s *SyftAdapter) Version() string {
	return tools.PackageVersion("github.com/anchore/syft")
}
