package domain

import (
	"strings"
	"time"
)

// Severity levels ordered from least to most severe.
type Severity string

const (
	SeverityUnknown  Severity = "UNKNOWN"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRanks = map[Severity]int{
	SeverityUnknown:  0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity normalizes a scanner severity string. Unrecognized values
// map to UNKNOWN rather than failing, scanners disagree on vocabulary.
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := severityRanks[sev]; ok {
		return sev
	}
	if sev == "NEGLIGIBLE" {
		return SeverityLow
	}
	return SeverityUnknown
}

// ThresholdSeverity validates a configured gate value. UNKNOWN is not a
// valid threshold.
func ThresholdSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	switch sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sev, true
	}
	return "", false
}

// AtLeast reports whether s ranks at or above threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return severityRanks[s] >= severityRanks[threshold]
}

// ScanReport is the vulnerability scanner result shape shared with external
// tooling: Results[].Vulnerabilities[].Severity.
type ScanReport struct {
	SchemaVersion int          `json:"SchemaVersion,omitempty"`
	ArtifactName  string       `json:"ArtifactName"`
	ArtifactType  string       `json:"ArtifactType,omitempty"`
	CreatedAt     time.Time    `json:"CreatedAt"`
	Results       []ScanResult `json:"Results"`
}

type ScanResult struct {
	Target          string          `json:"Target"`
	Class           string          `json:"Class,omitempty"`
	Type            string          `json:"Type,omitempty"`
	Vulnerabilities []Vulnerability `json:"Vulnerabilities"`
}

type Vulnerability struct {
	VulnerabilityID  string   `json:"VulnerabilityID"`
	PkgName          string   `json:"PkgName,omitempty"`
	InstalledVersion string   `json:"InstalledVersion,omitempty"`
	FixedVersion     string   `json:"FixedVersion,omitempty"`
	Severity         Severity `json:"Severity"`
	Title            string   `json:"Title,omitempty"`
	PrimaryURL       string   `json:"PrimaryURL,omitempty"`
}

// VulnSummary is the per-severity rollup compared against the configured
// threshold.
type VulnSummary struct {
	BuildID   string           `json:"buildID"`
	ImageRef  string           `json:"imageRef"`
	Counts    map[Severity]int `json:"counts"`
	Total     int              `json:"total"`
	Fixable   int              `json:"fixable"`
	Threshold Severity         `json:"threshold"`
	AtOrAbove int              `json:"atOrAbove"`
	Exceeded  bool             `json:"exceeded"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Summarize rolls up a scan report against the threshold. UNKNOWN severities
// count in totals but never trip the gate.
func (r ScanReport) Summarize(buildID, imageRef string, threshold Severity) VulnSummary {
	s := VulnSummary{
		BuildID:   buildID,
		ImageRef:  imageRef,
		Counts:    map[Severity]int{},
		Threshold: threshold,
		CreatedAt: time.Now().UTC(),
	}
	for _, result := range r.Results {
		for _, v := range result.Vulnerabilities {
			s.Counts[v.Severity]++
			s.Total++
			if v.FixedVersion != "" {
				s.Fixable++
			}
			if v.Severity != SeverityUnknown && v.Severity.AtLeast(threshold) {
				s.AtOrAbove++
			}
		}
	}
	s.Exceeded = s.AtOrAbove > 0
	return s
}
