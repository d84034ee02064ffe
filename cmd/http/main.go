package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	v1 "github.com/buildseal/buildseal/adapters/v1"
	"github.com/buildseal/buildseal/config"
	"github.com/buildseal/buildseal/controllers"
	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
	"github.com/buildseal/buildseal/core/services"
	"github.com/buildseal/buildseal/internal/tools"
	"github.com/buildseal/buildseal/repositories"
)

func main() {
	ctx := context.Background()

	configDir := "/etc/config"
	if envPath := os.Getenv("CONFIG_DIR"); envPath != "" {
		configDir = envPath
	}

	c, err := config.LoadConfig(configDir)
	if err != nil {
		logger.L().Ctx(ctx).Fatal("load config error", helpers.Error(err))
	}
	if err := c.Validate(); err != nil {
		logger.L().Ctx(ctx).Fatal("config validation error", helpers.Error(err))
	}

	// image pulls leave layer scratch in the temp dir and a crashed run
	// never cleans it up
	if err := tools.DeleteContents(os.TempDir()); err != nil {
		logger.L().Warning("cleaning temp dir", helpers.Error(err))
	}

	// to enable otel, set telemetryEndpoint or OTEL_COLLECTOR_SVC=otel-collector:4317
	telemetryEndpoint := c.TelemetryEndpoint
	if otelHost, present := os.LookupEnv("OTEL_COLLECTOR_SVC"); present {
		telemetryEndpoint = otelHost
	}
	if telemetryEndpoint != "" {
		ctx = logger.InitOtel("buildseal",
			os.Getenv("RELEASE"),
			"",
			c.Registry,
			url.URL{Host: telemetryEndpoint})
		defer logger.ShutdownOtel(ctx)
	}

	// modify context to listen to interrupt signals from the OS.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := repositories.NewFilesystemStorage(c.ArtifactsRoot)
	if err != nil {
		logger.L().Ctx(ctx).Fatal("storage initialization error", helpers.Error(err))
	}

	var audit ports.AuditStore
	if c.VaultAddress != "" {
		// token comes from the environment (VAULT_TOKEN), never from config
		vaultStore, err := v1.NewVaultAuditStore(c.VaultAddress, "", c.VaultMount, c.AuditPathPrefix)
		if err != nil {
			logger.L().Ctx(ctx).Warning("audit store unavailable, continuing without audit trail", helpers.Error(err))
		} else {
			audit = vaultStore
		}
	}

	builderAdapter := v1.NewDockerBuilder(c.BuildTimeout, c.Dockerfile)
	scannerAdapter := v1.NewGrypeAdapter()
	sbomAdapter := v1.NewSyftAdapter(c.ScanTimeout, c.MaxImageSize, c.MaxDocumentSize)
	vexAdapter := v1.NewOpenVEXGenerator("buildseal")
	signerAdapter := v1.NewSigstoreAdapter(c.FulcioURL, c.RekorURL, c.SignTimeout)

	buildsealVersion := tools.PackageVersion("github.com/buildseal/buildseal")
	consolidator := services.NewConsolidationService(domain.ToolIdentity{
		Vendor:  "buildseal",
		Name:    "buildseal",
		Version: buildsealVersion,
	}, c.MaxDocumentSize)
	attestor := services.NewAttestationService(signerAdapter, storage, storage, c.Registry+"/"+c.ImageName, c.OIDCIssuer)
	reporter := services.NewReportService(storage, storage, audit)

	service := services.NewPipelineService(builderAdapter, scannerAdapter, sbomAdapter, vexAdapter, storage,
		consolidator, attestor, reporter, services.Settings{
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
	controller := controllers.NewHTTPController(service, storage, c.WorkerCount)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/v1/liveness", controller.Alive)
	router.GET("/v1/readiness", controller.Ready)

	group := router.Group("/v1")
	{
		group.Use(otelgin.Middleware("buildseal-svc"))
		group.POST("/builds", controller.CreateBuild)
		group.GET("/builds/:id/report", controller.GetReport)
		group.GET("/builds/:id/artifacts", controller.ListArtifacts)
		group.GET("/builds/:id/artifacts/:kind", controller.GetArtifact)
	}

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(c.HTTPPort),
		Handler: router,
	}

	// Initializing the server in a goroutine so that
	// it won't block the graceful shutdown handling below
	go func() {
		logger.L().Info("starting server", helpers.Int("port", c.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L().Ctx(ctx).Fatal("router error", helpers.Error(err))
		}
	}()

	// Listen for the interrupt signal.
	<-ctx.Done()

	// Restore default behavior on the interrupt signal and notify user of shutdown.
	stop()
	logger.L().Info("shutting down gracefully")

	// modify context to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.L().Ctx(ctx).Fatal("server forced to shutdown", helpers.Error(err))
	}

	// Purging the controller worker queue
	controller.Shutdown()

	logger.L().Info("buildseal exiting")
}
