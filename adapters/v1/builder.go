package v1

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/eapache/go-resiliency/deadline"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/hashicorp/go-multierror"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
	"github.com/buildseal/buildseal/internal/tools"
)

// DockerBuilder implements ImageBuilder from ports against a Docker daemon.
// Multi-platform requests build and push one image per platform under
// arch-suffixed tags; the first platform's manifest digest pins the run.
// Manifest list assembly needs buildkit and stays out of this adapter.
type DockerBuilder struct {
	buildTimeout time.Duration
	dockerfile   string
	initOnce     sync.Once
	dockerClient *client.Client
	initErr      error
}

var _ ports.ImageBuilder = (*DockerBuilder)(nil)

// NewDockerBuilder initializes the DockerBuilder struct. The daemon
// connection is established lazily so construction never fails.
func NewDockerBuilder(buildTimeout time.Duration, dockerfile string) *DockerBuilder {
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	return &DockerBuilder{
		buildTimeout: buildTimeout,
		dockerfile:   dockerfile,
	}
}

func (d *DockerBuilder) cli() (*client.Client, error) {
	d.initOnce.Do(func() {
		d.dockerClient, d.initErr = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	})
	return d.dockerClient, d.initErr
}

// buildTarget pairs a platform with the tag its image is pushed under.
type buildTarget struct {
	platform domain.Platform
	ref      string
}

func (d *DockerBuilder) targets(bc *domain.BuildContext) []buildTarget {
	if len(bc.Platforms) == 0 {
		return []buildTarget{{ref: bc.TagRef()}}
	}
	targets := make([]buildTarget, 0, len(bc.Platforms))
	for _, platform := range bc.Platforms {
		ref := bc.TagRef()
		if len(bc.Platforms) > 1 {
			ref += "-" + platform.Arch
		}
		targets = append(targets, buildTarget{platform: platform, ref: ref})
	}
	return targets
}

// Build builds the source tree and pushes the result, returning the manifest
// digest of the primary platform. The whole sequence runs under buildTimeout.
func (d *DockerBuilder) Build(ctx context.Context, bc *domain.BuildContext) (string, error) {
	ctx, span := otel.Tracer("").Start(ctx, "DockerBuilder.Build")
	defer span.End()

	cli, err := d.cli()
	if err != nil {
		return "", err
	}

	var imageDigest string
	dl := deadline.New(d.buildTimeout)
	err = dl.Run(func(stopper <-chan struct{}) error {
		for i, target := range d.targets(bc) {
			if err := d.buildImage(ctx, cli, bc, target); err != nil {
				return err
			}
			digest, err := d.pushImage(ctx, cli, target.ref)
			if err != nil {
				return err
			}
			if digest == "" {
				// older registries omit the aux payload, ask the registry directly
				digest, err = crane.Digest(target.ref)
				if err != nil {
					return fmt.Errorf("resolving digest for %s: %w", target.ref, err)
				}
			}
			logger.L().Info("pushed image",
				helpers.String("ref", target.ref),
				helpers.String("digest", digest),
				helpers.String("platform", target.platform.String()))
			if i == 0 {
				imageDigest = digest
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, deadline.ErrTimedOut):
		return "", domain.NewToolTimeout(domain.ErrBuildTimeout, "docker build", d.buildTimeout)
	case err != nil:
		return "", err
	}
	return imageDigest, nil
}

func (d *DockerBuilder) buildImage(ctx context.Context, cli *client.Client, bc *domain.BuildContext, target buildTarget) error {
	logger.L().Debug("building image",
		helpers.String("ref", target.ref),
		helpers.String("dir", bc.SourceDir))
	buildCtx, err := archive.TarWithOptions(bc.SourceDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("preparing build context: %w", err)
	}
	defer buildCtx.Close()

	labels := tools.LabelsFromImageID(target.ref)
	labels[tools.LabelBuildID] = bc.BuildID
	platform := ""
	if target.platform.OS != "" {
		platform = target.platform.String()
	}
	res, err := cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{target.ref},
		Dockerfile: d.dockerfile,
		Platform:   platform,
		Labels:     labels,
		Remove:     true,
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()
	// the progress stream carries build failures as error messages
	return jsonmessage.DisplayJSONMessagesStream(res.Body, io.Discard, 0, false, nil)
}

func (d *DockerBuilder) pushImage(ctx context.Context, cli *client.Client, ref string) (string, error) {
	logger.L().Debug("pushing image", helpers.String("ref", ref))
	// the daemon requires an auth header even for anonymous pushes
	auth := base64.URLEncoding.EncodeToString([]byte("{}"))
	rc, err := cli.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var digest string
	err = jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, func(msg jsonmessage.JSONMessage) {
		if msg.Aux == nil {
			return
		}
		var result struct {
			Digest string `json:"Digest"`
		}
		if err := json.Unmarshal(*msg.Aux, &result); err == nil && result.Digest != "" {
			digest = result.Digest
		}
	})
	return digest, err
}

// Cleanup removes the local image tags a run left in the daemon. Failures are
// collected, not fatal, missing images count as already cleaned.
func (d *DockerBuilder) Cleanup(ctx context.Context, bc *domain.BuildContext) error {
	ctx, span := otel.Tracer("").Start(ctx, "DockerBuilder.Cleanup")
	defer span.End()

	cli, err := d.cli()
	if err != nil {
		return err
	}
	var problems error
	for _, target := range d.targets(bc) {
		if _, err := cli.ImageRemove(ctx, target.ref, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
			if client.IsErrNotFound(err) {
				continue
			}
			problems = multierror.Append(problems, err)
		}
	}
	return problems
}

// Ready reports whether the Docker daemon answers pings.
func (d *DockerBuilder) Ready(ctx context.Context) bool {
	cli, err := d.cli()
	if err != nil {
		return false
	}
	_, err = cli.Ping(ctx)
	return err == nil
}

// Version returns the Docker engine client version which is used to tag
// build metadata
func (d *DockerBuilder) Version() string {
	return tools.PackageVersion("github.com/docker/docker")
}
