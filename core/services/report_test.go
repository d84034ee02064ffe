package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildseal/buildseal/adapters"
	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/internal/tools"
	"github.com/buildseal/buildseal/repositories"
)

func TestReportService_Assemble(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	audit := adapters.NewMockAuditAdapter()
	service := NewReportService(storage, storage, audit)
	bc := resolvedContext(t, "b-1")
	ctx := context.TODO()

	summary := domain.VulnSummary{
		BuildID:   "b-1",
		Counts:    map[domain.Severity]int{domain.SeverityLow: 3},
		Total:     3,
		Fixable:   1,
		Threshold: domain.SeverityMedium,
	}
	_, err := storage.StoreArtifact(ctx, "b-1", domain.KindVulnSummary, tools.MustMarshal(t, summary))
	tools.EnsureSetup(t, err == nil)
	doc := sbomWith(
		component("musl", "1.2.4", "pkg:apk/alpine/musl@1.2.4"),
		component("zlib", "1.3", "pkg:apk/alpine/zlib@1.3"),
	)
	_, err = storage.StoreArtifact(ctx, "b-1", domain.KindSBOMConsolidated, tools.MustMarshal(t, doc.Content))
	tools.EnsureSetup(t, err == nil)
	for _, predicate := range []domain.PredicateType{domain.PredicateSignature, domain.PredicateCycloneDX} {
		err = storage.StoreAttestation(ctx, domain.AttestationRecord{
			Subject:           testDigest,
			PredicateType:     predicate,
			Bundle:            []byte(`{"mock":true}`),
			CertificateIssuer: adapters.MockIssuer,
			CertificateSAN:    "pipeline@buildseal.dev",
			LogIndex:          1,
			CreatedAt:         time.Now().UTC(),
		})
		tools.EnsureSetup(t, err == nil)
	}

	stages := []domain.StageResult{
		{Stage: "build", State: domain.StageSuccess, Duration: time.Second},
		{Stage: "scan", State: domain.StageSuccess},
		{Stage: "attest", State: domain.StageSuccess},
	}
	toolVersions := []domain.ToolIdentity{
		{Vendor: "buildseal", Name: "image-builder", Version: "Mock Builder 1.0"},
		{Vendor: "buildseal", Name: "vulnerability-scanner", Version: "Mock Scanner 1.0"},
	}
	report, err := service.Assemble(ctx, bc, stages, toolVersions)
	require.NoError(t, err)

	assert.Equal(t, "b-1", report.BuildID)
	assert.Equal(t, "registry.local/app@"+testDigest, report.ImageRef)
	assert.Equal(t, domain.OutcomeSuccess, report.Outcome)
	assert.Equal(t, "registry.local", report.Config.Registry)
	assert.Equal(t, "app", report.Config.ImageName)
	assert.Equal(t, domain.SeverityMedium, report.Config.Threshold)
	assert.Equal(t, stages, report.Stages)
	assert.Equal(t, toolVersions, report.Tools)
	assert.Equal(t, domain.DefaultSLSABuildType, report.SLSA[domain.PropertySLSABuildType])
	assert.Equal(t, "b-1", report.SLSA[domain.PropertySLSABuildID])

	require.NotNil(t, report.Summary)
	assert.Equal(t, 3, report.Summary.Total)
	assert.False(t, report.Summary.Exceeded)
	assert.Equal(t, map[string]int{"apk": 2}, report.Ecosystems)

	require.Len(t, report.Attestations, 2)
	assert.Equal(t, domain.PredicateSignature, report.Attestations[0].PredicateType)
	assert.Equal(t, adapters.MockIssuer, report.Attestations[0].CertificateIssuer)

	// the inventory is snapshotted before the report itself lands in storage
	require.Len(t, report.Artifacts, 2)
	assert.Equal(t, domain.KindVulnSummary, report.Artifacts[0].Kind)
	assert.Equal(t, domain.KindSBOMConsolidated, report.Artifacts[1].Kind)

	content, err := storage.GetArtifact(ctx, "b-1", domain.KindReport)
	require.NoError(t, err)
	var stored domain.ComplianceReport
	require.NoError(t, json.Unmarshal(content, &stored))
	assert.Equal(t, report.BuildID, stored.BuildID)
	assert.Equal(t, report.Outcome, stored.Outcome)

	require.Equal(t, 1, audit.Len())
	content, err = audit.Get(ctx, "b-1")
	require.NoError(t, err)
	var record domain.AuditRecord
	require.NoError(t, json.Unmarshal(content, &record))
	assert.Equal(t, domain.OutcomeSuccess, record.Outcome)
	assert.Equal(t, testDigest, record.Digest)
	assert.Equal(t, 2, record.AttestationCount)
}

func TestReportService_Assemble_Outcome(t *testing.T) {
	tests := []struct {
		name   string
		stages []domain.StageResult
		want   domain.Outcome
	}{
		{
			name: "all success",
			stages: []domain.StageResult{
				{Stage: "build", State: domain.StageSuccess},
				{Stage: "scan", State: domain.StageSuccess},
			},
			want: domain.OutcomeSuccess,
		},
		{
			name: "main stage failed",
			stages: []domain.StageResult{
				{Stage: "build", State: domain.StageSuccess},
				{Stage: "scan", State: domain.StageFailed, Error: "mock scanner failure"},
			},
			want: domain.OutcomeFailure,
		},
		{
			name: "only a finalizer failed",
			stages: []domain.StageResult{
				{Stage: "build", State: domain.StageSuccess},
				{Stage: "cleanup", State: domain.StageFailed, Error: "scratch dir busy", Finalizer: true},
			},
			want: domain.OutcomeSuccess,
		},
		{
			name: "skipped stages do not fail the run",
			stages: []domain.StageResult{
				{Stage: "attest", State: domain.StageSkipped},
				{Stage: "verify", State: domain.StageSkipped},
			},
			want: domain.OutcomeSuccess,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := repositories.NewMemoryStorage()
			service := NewReportService(storage, storage, nil)

			report, err := service.Assemble(context.TODO(), resolvedContext(t, "b-1"), tt.stages, nil)

			require.NoError(t, err)
			assert.Equal(t, tt.want, report.Outcome)
		})
	}
}

func TestReportService_Assemble_PartialState(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	audit := adapters.NewMockAuditAdapter()
	service := NewReportService(storage, storage, audit)
	// build never produced a digest, storage is empty
	bc := &domain.BuildContext{
		BuildID:   "b-partial",
		Registry:  "registry.local",
		ImageName: "app",
		Threshold: domain.SeverityMedium,
	}
	ctx := context.TODO()

	report, err := service.Assemble(ctx, bc, []domain.StageResult{
		{Stage: "build", State: domain.StageFailed, Error: "mock builder failure"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.UnresolvedImageRef, report.ImageRef)
	assert.Equal(t, domain.OutcomeFailure, report.Outcome)
	assert.Nil(t, report.Summary)
	assert.Nil(t, report.Ecosystems)
	assert.Empty(t, report.Attestations)
	assert.Empty(t, report.Artifacts)

	_, err = storage.GetArtifact(ctx, "b-partial", domain.KindReport)
	assert.NoError(t, err)

	require.Equal(t, 1, audit.Len())
	content, err := audit.Get(ctx, "b-partial")
	require.NoError(t, err)
	var record domain.AuditRecord
	require.NoError(t, json.Unmarshal(content, &record))
	assert.Equal(t, domain.OutcomeFailure, record.Outcome)
	assert.Empty(t, record.Digest)
	assert.Zero(t, record.AttestationCount)
}

func TestReportService_Assemble_StorageFailure(t *testing.T) {
	service := NewReportService(repositories.BrokenStore{}, repositories.BrokenStore{}, nil)

	_, err := service.Assemble(context.TODO(), resolvedContext(t, "b-1"), nil, nil)

	assert.ErrorContains(t, err, "expected error")
}

func TestReportService_Assemble_AuditBestEffort(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	service := NewReportService(storage, storage, repositories.BrokenStore{})

	report, err := service.Assemble(context.TODO(), resolvedContext(t, "b-1"), nil, nil)

	require.NoError(t, err, "an unreachable audit store never fails the report")
	assert.Equal(t, domain.OutcomeSuccess, report.Outcome)
}

func TestReportService_Assemble_EcosystemRollup(t *testing.T) {
	storage := repositories.NewMemoryStorage()
	service := NewReportService(storage, storage, nil)
	ctx := context.TODO()

	doc := sbomWith(
		component("musl", "1.2.4", "pkg:apk/alpine/musl@1.2.4"),
		component("zlib", "1.3", "pkg:apk/alpine/zlib@1.3"),
		component("golang.org/x/net", "0.30.0", "pkg:golang/golang.org/x/net@0.30.0"),
		component("vendored-lib", "1.0.0", ""),
		component("odd", "1.0.0", "not-a-purl"),
	)
	_, err := storage.StoreArtifact(ctx, "b-1", domain.KindSBOMConsolidated, tools.MustMarshal(t, doc.Content))
	tools.EnsureSetup(t, err == nil)

	report, err := service.Assemble(ctx, resolvedContext(t, "b-1"), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, map[string]int{"apk": 2, "golang": 1, "unknown": 2}, report.Ecosystems)
}
