package v1

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/anchore/grype/grype/presenter/models"
	gcmp "github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gotest.tools/v3/assert"

	"github.com/buildseal/buildseal/core/domain"
)

const grypeDocJSON = `{
  "matches": [
    {
      "vulnerability": {
        "id": "CVE-2023-0001",
        "dataSource": "https://nvd.nist.gov/vuln/detail/CVE-2023-0001",
        "severity": "High",
        "fix": {"versions": ["1.2.4-r1"], "state": "fixed"}
      },
      "artifact": {"name": "musl", "version": "1.2.4-r0", "type": "apk"}
    },
    {
      "vulnerability": {
        "id": "CVE-2023-0002",
        "dataSource": "https://nvd.nist.gov/vuln/detail/CVE-2023-0002",
        "severity": "Negligible",
        "fix": {"versions": [], "state": "not-fixed"}
      },
      "artifact": {"name": "busybox", "version": "1.36.1", "type": "apk"}
    },
    {
      "vulnerability": {
        "id": "CVE-2023-0003",
        "dataSource": "https://nvd.nist.gov/vuln/detail/CVE-2023-0003",
        "severity": "Critical",
        "fix": {"versions": ["2.31.0"], "state": "fixed"}
      },
      "artifact": {"name": "requests", "version": "2.19.0", "type": "python"}
    }
  ],
  "distro": {"name": "alpine", "version": "3.18.2"}
}`

func grypeDoc(t *testing.T) models.Document {
	t.Helper()
	var doc models.Document
	err := json.Unmarshal([]byte(grypeDocJSON), &doc)
	assert.NilError(t, err)
	return doc
}

func Test_grypeToScanReport(t *testing.T) {
	imageRef := "registry.local:5000/payment-api@sha256:24ed95caeb02ffe68cdd9fd84406680ae93d633cb16422d00e8a7c22955b46d4"
	got := grypeToScanReport(grypeDoc(t), imageRef)

	assert.Equal(t, got.ArtifactName, imageRef)
	assert.Equal(t, got.ArtifactType, "container_image")
	want := []domain.ScanResult{
		{
			Target: imageRef + " (alpine 3.18.2)",
			Class:  "os-pkgs",
			Type:   "apk",
			Vulnerabilities: []domain.Vulnerability{
				{
					VulnerabilityID:  "CVE-2023-0001",
					PkgName:          "musl",
					InstalledVersion: "1.2.4-r0",
					FixedVersion:     "1.2.4-r1",
					Severity:         domain.SeverityHigh,
					PrimaryURL:       "https://nvd.nist.gov/vuln/detail/CVE-2023-0001",
				},
				{
					VulnerabilityID:  "CVE-2023-0002",
					PkgName:          "busybox",
					InstalledVersion: "1.36.1",
					Severity:         domain.SeverityLow,
					PrimaryURL:       "https://nvd.nist.gov/vuln/detail/CVE-2023-0002",
				},
			},
		},
		{
			Target: imageRef,
			Class:  "lang-pkgs",
			Type:   "python",
			Vulnerabilities: []domain.Vulnerability{
				{
					VulnerabilityID:  "CVE-2023-0003",
					PkgName:          "requests",
					InstalledVersion: "2.19.0",
					FixedVersion:     "2.31.0",
					Severity:         domain.SeverityCritical,
					PrimaryURL:       "https://nvd.nist.gov/vuln/detail/CVE-2023-0003",
				},
			},
		},
	}
	diff := gcmp.Diff(got.Results, want, cmpopts.EquateEmpty())
	assert.Equal(t, diff, "")
}

func Test_grypeToScanReport_summaryFeedsThreshold(t *testing.T) {
	report := grypeToScanReport(grypeDoc(t), "registry.local:5000/payment-api@sha256:aaaa")

	summary := report.Summarize("b-123", report.ArtifactName, domain.SeverityMedium)
	assert.Equal(t, summary.Total, 3)
	assert.Equal(t, summary.Fixable, 2)
	// the Negligible match normalizes to LOW and stays under the gate
	assert.Equal(t, summary.AtOrAbove, 2)
	assert.Assert(t, summary.Exceeded)
}

func Test_grypeAdapter_Scan_requiresDB(t *testing.T) {
	g := NewGrypeAdapter()
	_, err := g.Scan(context.TODO(), "registry.local:5000/payment-api@sha256:aaaa")
	assert.Error(t, err, "grype DB is not initialized, run readiness probe first")
}

func Test_grypeAdapter_DBVersion_uninitialized(t *testing.T) {
	g := NewGrypeAdapter()
	assert.Equal(t, g.DBVersion(context.TODO()), "")
}

func Test_grypeAdapter_Version(t *testing.T) {
	g := NewGrypeAdapter()
	assert.Assert(t, g.Version() != "")
}
