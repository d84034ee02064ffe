package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/buildseal/buildseal/core/domain"
)

type Config struct {
	Registry               string        `mapstructure:"registry"`
	ImageName              string        `mapstructure:"imageName"`
	BuildID                string        `mapstructure:"buildID"`
	SourceDir              string        `mapstructure:"sourceDir"`
	Dockerfile             string        `mapstructure:"dockerfile"`
	Platforms              string        `mapstructure:"platforms"`
	VulnerabilityThreshold string        `mapstructure:"vulnerabilityThreshold"`
	EnablePatching         bool          `mapstructure:"enablePatching"`
	VEXAnalysisEnabled     bool          `mapstructure:"vexAnalysisEnabled"`
	BuildTimeout           time.Duration `mapstructure:"buildTimeout"`
	ScanTimeout            time.Duration `mapstructure:"scanTimeout"`
	SignTimeout            time.Duration `mapstructure:"signTimeout"`
	FulcioURL              string        `mapstructure:"fulcioURL"`
	RekorURL               string        `mapstructure:"rekorURL"`
	OIDCIssuer             string        `mapstructure:"oidcIssuer"`
	IdentityTokenPath      string        `mapstructure:"identityTokenPath"`
	MaxDocumentSize        int           `mapstructure:"maxDocumentSize"`
	ArtifactsRoot          string        `mapstructure:"artifactsRoot"`
	HTTPPort               int           `mapstructure:"httpPort"`
	WorkerCount            int           `mapstructure:"workerCount"`
	SLSABuildType          string        `mapstructure:"slsaBuildType"`
	SLSABuilderID          string        `mapstructure:"slsaBuilderID"`
	SLSALevel              string        `mapstructure:"slsaLevel"`
	VaultAddress           string        `mapstructure:"vaultAddress"`
	VaultMount             string        `mapstructure:"vaultMount"`
	AuditPathPrefix        string        `mapstructure:"auditPathPrefix"`
	TelemetryEndpoint      string        `mapstructure:"telemetryEndpoint"`
	MaxImageSize           int64         `mapstructure:"maxImageSize"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("buildseal")
	viper.SetConfigType("json")

	viper.SetDefault("sourceDir", ".")
	viper.SetDefault("dockerfile", "Dockerfile")
	viper.SetDefault("platforms", "linux/amd64,linux/arm64")
	viper.SetDefault("vulnerabilityThreshold", "MEDIUM")
	viper.SetDefault("enablePatching", true)
	viper.SetDefault("vexAnalysisEnabled", false)
	viper.SetDefault("buildTimeout", 10*time.Minute)
	viper.SetDefault("scanTimeout", 5*time.Minute)
	viper.SetDefault("signTimeout", 90*time.Second)
	viper.SetDefault("fulcioURL", "https://fulcio.sigstore.dev")
	viper.SetDefault("rekorURL", "https://rekor.sigstore.dev")
	viper.SetDefault("oidcIssuer", "https://oauth2.sigstore.dev/auth")
	viper.SetDefault("maxDocumentSize", 20*1024*1024)
	viper.SetDefault("maxImageSize", 512*1024*1024)
	viper.SetDefault("httpPort", 8080)
	viper.SetDefault("workerCount", 2)
	viper.SetDefault("slsaBuildType", "generic")
	viper.SetDefault("slsaLevel", "3")
	viper.SetDefault("vaultMount", "secret")
	viper.SetDefault("auditPathPrefix", "buildseal/audit")

	viper.AutomaticEnv()

	if err = viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		// defaults and environment apply when no config file exists
		err = nil
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if config.ArtifactsRoot == "" {
		config.ArtifactsRoot = filepath.Join(xdg.DataHome, "buildseal", "artifacts")
	}
	return
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Registry == "" {
		return &domain.ConfigError{Key: "registry", Reason: "is required"}
	}
	if c.ImageName == "" {
		return &domain.ConfigError{Key: "imageName", Reason: "is required"}
	}
	if _, ok := domain.ThresholdSeverity(c.VulnerabilityThreshold); !ok {
		return &domain.ConfigError{Key: "vulnerabilityThreshold", Reason: fmt.Sprintf("unknown severity %q", c.VulnerabilityThreshold)}
	}
	if _, err := domain.ParsePlatforms(c.Platforms); err != nil {
		return &domain.ConfigError{Key: "platforms", Reason: err.Error()}
	}
	for key, timeout := range map[string]time.Duration{
		"buildTimeout": c.BuildTimeout,
		"scanTimeout":  c.ScanTimeout,
		"signTimeout":  c.SignTimeout,
	} {
		if timeout <= 0 {
			return &domain.ConfigError{Key: key, Reason: "must be positive"}
		}
	}
	if c.MaxDocumentSize < 1024 {
		return &domain.ConfigError{Key: "maxDocumentSize", Reason: "must be at least 1024 bytes"}
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return &domain.ConfigError{Key: "httpPort", Reason: "must be a valid port"}
	}
	if c.WorkerCount < 1 {
		return &domain.ConfigError{Key: "workerCount", Reason: "must be at least 1"}
	}
	return nil
}

// Threshold returns the parsed gate severity. Call Validate first.
func (c Config) Threshold() domain.Severity {
	sev, _ := domain.ThresholdSeverity(c.VulnerabilityThreshold)
	return sev
}

// PlatformList returns the parsed target platforms. Call Validate first.
func (c Config) PlatformList() []domain.Platform {
	platforms, _ := domain.ParsePlatforms(c.Platforms)
	return platforms
}
