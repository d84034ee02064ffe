package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gammazero/workerpool"
	"github.com/gin-gonic/gin"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"schneider.vip/problem"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
)

// HTTPController maps PipelineRunner and ArtifactRepository operations to gin
// handlers that can be mapped to paths and methods, this mapping is usually
// done in main()
type HTTPController struct {
	pipelineService ports.PipelineRunner
	artifacts       ports.ArtifactRepository
	workerPool      *workerpool.WorkerPool
}

// BuildRequest is the payload of POST /v1/builds. The identity token is kept
// in memory for the duration of the run and never stored or logged.
type BuildRequest struct {
	BuildID       string `json:"buildID"`
	IdentityToken string `json:"identityToken"`
}

// NewHTTPController initializes the HTTPController struct with the injected
// pipelineService and a worker pool of the given concurrency
func NewHTTPController(pipelineService ports.PipelineRunner, artifacts ports.ArtifactRepository, concurrency int) *HTTPController {
	return &HTTPController{
		pipelineService: pipelineService,
		artifacts:       artifacts,
		workerPool:      workerpool.New(concurrency),
	}
}

// Alive returns 200, it only proves the process is serving
func (h HTTPController) Alive(c *gin.Context) {
	problem.Of(http.StatusOK).WriteTo(c.Writer)
}

// Ready calls pipelineService.Ready
func (h HTTPController) Ready(c *gin.Context) {
	if !h.pipelineService.Ready(c.Request.Context()) {
		problem.Of(http.StatusServiceUnavailable).WriteTo(c.Writer)
		return
	}

	problem.Of(http.StatusOK).WriteTo(c.Writer)
}

// CreateBuild unmarshalls the payload, validates the run and submits it to
// the worker pool, answering 202 with the assigned buildID
func (h HTTPController) CreateBuild(c *gin.Context) {
	var req BuildRequest
	err := c.ShouldBindJSON(&req)
	if err != nil {
		logger.L().Ctx(c.Request.Context()).Error("handler error", helpers.Error(err))
		problem.Of(http.StatusBadRequest).WriteTo(c.Writer)
		return
	}

	input := domain.RunInput{
		BuildID:       req.BuildID,
		IdentityToken: domain.NewIdentityToken(req.IdentityToken),
	}
	ctx, err := h.pipelineService.ValidateRun(c.Request.Context(), input)
	if err != nil {
		logger.L().Ctx(ctx).Error("service error", helpers.Error(err))
		problem.Of(http.StatusInternalServerError).WriteTo(c.Writer)
		return
	}
	input.BuildID, _ = ctx.Value(domain.BuildIDKey{}).(string)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("buildID", input.BuildID))

	details := problem.Detailf("BuildID=%s", input.BuildID)

	// gin cancels the request context once the response is written, the run
	// has to outlive it
	ctx = context.WithoutCancel(ctx)
	h.workerPool.Submit(func() {
		outcome, err := h.pipelineService.Run(ctx, input)
		if err != nil {
			logger.L().Ctx(ctx).Error("service error",
				helpers.String("buildID", outcome.BuildID), helpers.Error(err))
		}
	})

	problem.Of(http.StatusAccepted).Append(details).WriteTo(c.Writer)
}

// GetReport returns the compliance report artifact for a build
func (h HTTPController) GetReport(c *gin.Context) {
	buildID := c.Param("id")
	content, err := h.artifacts.GetArtifact(c.Request.Context(), buildID, domain.KindReport)
	if err != nil {
		h.artifactProblem(c, buildID, err)
		return
	}

	c.Data(http.StatusOK, "application/json", content)
}

// ListArtifacts returns the artifact references recorded for a build
func (h HTTPController) ListArtifacts(c *gin.Context) {
	buildID := c.Param("id")
	refs, err := h.artifacts.ListArtifacts(c.Request.Context(), buildID)
	if err != nil {
		logger.L().Ctx(c.Request.Context()).Error("handler error", helpers.Error(err))
		problem.Of(http.StatusInternalServerError).WriteTo(c.Writer)
		return
	}
	if len(refs) == 0 {
		problem.Of(http.StatusNotFound).Append(problem.Detailf("BuildID=%s", buildID)).WriteTo(c.Writer)
		return
	}

	c.JSON(http.StatusOK, refs)
}

// GetArtifact returns one artifact's content, 400 on an unknown kind
func (h HTTPController) GetArtifact(c *gin.Context) {
	buildID := c.Param("id")
	kind, err := domain.ParseArtifactKind(c.Param("kind"))
	if err != nil {
		problem.Of(http.StatusBadRequest).Append(problem.Detailf("Kind=%s", c.Param("kind"))).WriteTo(c.Writer)
		return
	}
	content, err := h.artifacts.GetArtifact(c.Request.Context(), buildID, kind)
	if err != nil {
		h.artifactProblem(c, buildID, err)
		return
	}

	c.Data(http.StatusOK, "application/json", content)
}

func (h HTTPController) artifactProblem(c *gin.Context, buildID string, err error) {
	if errors.Is(err, domain.ErrArtifactNotFound) {
		problem.Of(http.StatusNotFound).Append(problem.Detailf("BuildID=%s", buildID)).WriteTo(c.Writer)
		return
	}
	logger.L().Ctx(c.Request.Context()).Error("handler error", helpers.Error(err))
	problem.Of(http.StatusInternalServerError).WriteTo(c.Writer)
}

// Shutdown waits for submitted runs to drain
func (h *HTTPController) Shutdown() {
	h.workerPool.StopWait()
}
