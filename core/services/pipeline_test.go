package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildseal/buildseal/adapters"
	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/internal/tools"
	"github.com/buildseal/buildseal/repositories"
)

func testSettings(vexEnabled bool) Settings {
	return Settings{
		Registry:           "registry.local",
		ImageName:          "app",
		Platforms:          []domain.Platform{{OS: "linux", Arch: "amd64"}},
		Threshold:          domain.SeverityMedium,
		VEXAnalysisEnabled: vexEnabled,
		BuildTimeout:       time.Minute,
		ScanTimeout:        time.Minute,
	}
}

type pipelineFixture struct {
	builder *adapters.MockBuilderAdapter
	scanner *adapters.MockScannerAdapter
	signer  *adapters.MockSignerAdapter
	storage *repositories.MemoryStore
	audit   *adapters.MockAuditAdapter
	service *PipelineService
}

func newPipelineFixture(settings Settings, builderFailure, scannerFailure, signerFailure bool, vulns ...domain.Vulnerability) *pipelineFixture {
	f := &pipelineFixture{
		builder: adapters.NewMockBuilderAdapter(builderFailure),
		scanner: adapters.NewMockScannerAdapter(scannerFailure, vulns...),
		signer:  adapters.NewMockSignerAdapter(signerFailure),
		storage: repositories.NewMemoryStorage(),
		audit:   adapters.NewMockAuditAdapter(),
	}
	consolidator := NewConsolidationService(domain.ToolIdentity{Vendor: "buildseal", Name: "buildseal", Version: "test"}, 20*1024*1024)
	attestor := NewAttestationService(f.signer, f.storage, f.storage, settings.Registry+"/"+settings.ImageName, adapters.MockIssuer)
	reporter := NewReportService(f.storage, f.storage, f.audit)
	f.service = NewPipelineService(f.builder, f.scanner, adapters.NewMockSBOMAdapter(false), adapters.NewMockVEXAdapter(false), f.storage, consolidator, attestor, reporter, settings)
	return f
}

func (f *pipelineFixture) run(t *testing.T, buildID string) (domain.PipelineOutcome, error) {
	t.Helper()
	ctx := context.TODO()
	input := domain.RunInput{BuildID: buildID, IdentityToken: domain.NewIdentityToken("tok")}
	ctx, err := f.service.ValidateRun(ctx, input)
	tools.EnsureSetup(t, err == nil)
	return f.service.Run(ctx, input)
}

func assertStageState(t *testing.T, outcome domain.PipelineOutcome, name string, want domain.StageState) {
	t.Helper()
	result, ok := outcome.Stage(name)
	require.True(t, ok, "stage %s not in outcome", name)
	assert.Equal(t, want, result.State, "stage %s", name)
}

func TestPipelineService_Ready(t *testing.T) {
	tests := []struct {
		name         string
		builderReady bool
		scannerReady bool
		want         bool
	}{
		{
			name:         "both ready",
			builderReady: true,
			scannerReady: true,
			want:         true,
		},
		{
			name:         "builder down",
			builderReady: false,
			scannerReady: true,
			want:         false,
		},
		{
			name:         "scanner down",
			builderReady: true,
			scannerReady: false,
			want:         false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(testSettings(false), false, false, false)
			f.builder.SetReady(tt.builderReady)
			f.scanner.SetReady(tt.scannerReady)
			assert.Equal(t, tt.want, f.service.Ready(context.TODO()))
		})
	}
}

func TestPipelineService_ValidateRun(t *testing.T) {
	t.Run("assigns a buildID when none given", func(t *testing.T) {
		f := newPipelineFixture(testSettings(false), false, false, false)
		ctx, err := f.service.ValidateRun(context.TODO(), domain.RunInput{})
		require.NoError(t, err)
		buildID, _ := ctx.Value(domain.BuildIDKey{}).(string)
		assert.Len(t, buildID, 36)
	})

	t.Run("keeps the caller's buildID", func(t *testing.T) {
		f := newPipelineFixture(testSettings(false), false, false, false)
		ctx, err := f.service.ValidateRun(context.TODO(), domain.RunInput{BuildID: "b-42"})
		require.NoError(t, err)
		assert.Equal(t, "b-42", ctx.Value(domain.BuildIDKey{}))
	})

	t.Run("rejects a missing registry", func(t *testing.T) {
		settings := testSettings(false)
		settings.Registry = ""
		f := newPipelineFixture(settings, false, false, false)
		_, err := f.service.ValidateRun(context.TODO(), domain.RunInput{})
		var configErr *domain.ConfigError
		require.ErrorAs(t, err, &configErr)
		assert.Equal(t, "registry", configErr.Key)
	})

	t.Run("rejects a missing imageName", func(t *testing.T) {
		settings := testSettings(false)
		settings.ImageName = ""
		f := newPipelineFixture(settings, false, false, false)
		_, err := f.service.ValidateRun(context.TODO(), domain.RunInput{})
		var configErr *domain.ConfigError
		require.ErrorAs(t, err, &configErr)
		assert.Equal(t, "imageName", configErr.Key)
	})
}

func TestPipelineService_Run_SealsBuild(t *testing.T) {
	sourceDir := t.TempDir()
	tools.EnsureSetup(t, os.WriteFile(filepath.Join(sourceDir, "go.mod"), []byte("module sample\n"), 0o644) == nil)
	settings := testSettings(true)
	settings.SourceDir = sourceDir
	f := newPipelineFixture(settings, false, false, false)
	ctx := context.TODO()

	outcome, err := f.run(t, "b-run")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, outcome.Outcome)
	assert.Equal(t, "b-run", outcome.BuildID)
	assert.True(t, strings.HasPrefix(outcome.ImageRef, "registry.local/app@sha256:"), outcome.ImageRef)
	for _, stage := range []string{"build", "scan", "sbom", "vex", "consolidate", "attest", "verify", "cleanup", "report"} {
		assertStageState(t, outcome, stage, domain.StageSuccess)
	}

	// one artifact of every kind
	refs, err := f.storage.ListArtifacts(ctx, "b-run")
	require.NoError(t, err)
	assert.Len(t, refs, 14)

	// one signature, three attestations
	assert.Equal(t, 1, f.signer.BlobCalls())
	assert.Equal(t, 3, f.signer.StatementCalls())

	// source and container SBOMs merged with first-seen-wins dedup
	content, err := f.storage.GetArtifact(ctx, "b-run", domain.KindSBOMConsolidated)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(content, &doc))
	assert.Len(t, domain.SBOM{Content: doc}.Components(), 4)

	assert.Equal(t, []string{"b-run"}, f.builder.Cleaned())
	assert.Equal(t, 1, f.audit.Len())

	content, err = f.storage.GetArtifact(ctx, "b-run", domain.KindReport)
	require.NoError(t, err)
	var report domain.ComplianceReport
	require.NoError(t, json.Unmarshal(content, &report))
	assert.Equal(t, domain.OutcomeSuccess, report.Outcome)
	require.NotNil(t, report.Summary)
	assert.False(t, report.Summary.Exceeded)
	assert.Equal(t, map[string]int{"generic": 1, "apk": 2, "docker": 1}, report.Ecosystems)
	assert.Len(t, report.Attestations, 4)
}

func TestPipelineService_Run_ThresholdGate(t *testing.T) {
	f := newPipelineFixture(testSettings(false), false, false, false, domain.Vulnerability{
		VulnerabilityID:  "CVE-2025-0001",
		PkgName:          "musl",
		InstalledVersion: "1.2.4",
		FixedVersion:     "1.2.5",
		Severity:         domain.SeverityCritical,
	})
	ctx := context.TODO()

	outcome, err := f.run(t, "b-gate")
	var thresholdErr *domain.ThresholdExceededError
	require.ErrorAs(t, err, &thresholdErr)
	assert.Equal(t, 1, thresholdErr.Count)
	assert.Equal(t, domain.SeverityMedium, thresholdErr.Threshold)

	assert.Equal(t, domain.OutcomeFailure, outcome.Outcome)
	assertStageState(t, outcome, "scan", domain.StageFailed)
	assertStageState(t, outcome, "sbom", domain.StageSuccess)
	assertStageState(t, outcome, "consolidate", domain.StageSkipped)
	assertStageState(t, outcome, "attest", domain.StageSkipped)
	assertStageState(t, outcome, "verify", domain.StageSkipped)
	assertStageState(t, outcome, "cleanup", domain.StageSuccess)
	assertStageState(t, outcome, "report", domain.StageSuccess)
	_, ok := outcome.Stage("vex")
	assert.False(t, ok, "vex analysis is disabled")

	// the gate stores its evidence before failing the stage
	content, err := f.storage.GetArtifact(ctx, "b-gate", domain.KindVulnSummary)
	require.NoError(t, err)
	var summary domain.VulnSummary
	require.NoError(t, json.Unmarshal(content, &summary))
	assert.True(t, summary.Exceeded)
	assert.Equal(t, 1, summary.AtOrAbove)
	assert.Equal(t, 1, summary.Fixable)

	_, err = f.storage.GetArtifact(ctx, "b-gate", domain.KindSBOMConsolidated)
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
	_, err = f.storage.GetArtifact(ctx, "b-gate", domain.KindAttestSignature)
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)

	content, err = f.storage.GetArtifact(ctx, "b-gate", domain.KindReport)
	require.NoError(t, err)
	var report domain.ComplianceReport
	require.NoError(t, json.Unmarshal(content, &report))
	assert.Equal(t, domain.OutcomeFailure, report.Outcome)
}

func TestPipelineService_Run_RetriesTransientScanner(t *testing.T) {
	f := newPipelineFixture(testSettings(false), false, false, false)
	f.scanner.FailTransientTimes(1)

	outcome, err := f.run(t, "b-retry")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, outcome.Outcome)
	assert.Equal(t, 2, f.scanner.Calls())
}

func TestPipelineService_Run_BuildFailure(t *testing.T) {
	f := newPipelineFixture(testSettings(false), true, false, false)
	ctx := context.TODO()

	outcome, err := f.run(t, "b-broken")
	assert.ErrorContains(t, err, "mock builder failure")
	assert.Equal(t, domain.OutcomeFailure, outcome.Outcome)
	assertStageState(t, outcome, "build", domain.StageFailed)
	for _, stage := range []string{"scan", "sbom", "consolidate", "attest", "verify"} {
		assertStageState(t, outcome, stage, domain.StageSkipped)
	}
	assertStageState(t, outcome, "cleanup", domain.StageSuccess)
	assertStageState(t, outcome, "report", domain.StageSuccess)

	// the report is all that survives a failed build
	refs, err := f.storage.ListArtifacts(ctx, "b-broken")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, domain.KindReport, refs[0].Kind)

	content, err := f.storage.GetArtifact(ctx, "b-broken", domain.KindReport)
	require.NoError(t, err)
	var report domain.ComplianceReport
	require.NoError(t, json.Unmarshal(content, &report))
	assert.Equal(t, domain.UnresolvedImageRef, report.ImageRef)
	assert.Equal(t, []string{"b-broken"}, f.builder.Cleaned())
}

func TestPipelineService_Run_SignerFailure(t *testing.T) {
	f := newPipelineFixture(testSettings(false), false, false, true)
	ctx := context.TODO()

	outcome, err := f.run(t, "b-unsigned")
	assert.ErrorContains(t, err, "mock signer failure")
	assert.Equal(t, domain.OutcomeFailure, outcome.Outcome)
	assertStageState(t, outcome, "consolidate", domain.StageSuccess)
	assertStageState(t, outcome, "attest", domain.StageFailed)
	assertStageState(t, outcome, "verify", domain.StageSkipped)

	_, err = f.storage.GetArtifact(ctx, "b-unsigned", domain.KindSBOMConsolidated)
	assert.NoError(t, err)
	_, err = f.storage.GetArtifact(ctx, "b-unsigned", domain.KindAttestSignature)
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
}

func TestPipelineService_Run_RequiresValidateRun(t *testing.T) {
	f := newPipelineFixture(testSettings(false), false, false, false)
	_, err := f.service.Run(context.TODO(), domain.RunInput{})
	assert.ErrorContains(t, err, "no buildID assigned")
}
