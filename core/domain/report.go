package domain

import "time"

// UnresolvedImageRef is what the report shows when the build never
// resolved a digest.
const UnresolvedImageRef = "unresolved"

// RunConfig echoes the effective run parameters into the report, so the
// report alone is enough to reproduce the gate decision.
type RunConfig struct {
	Registry           string   `json:"registry"`
	ImageName          string   `json:"imageName"`
	Platforms          []string `json:"platforms,omitempty"`
	Threshold          Severity `json:"vulnerabilityThreshold"`
	EnablePatching     bool     `json:"enablePatching"`
	VEXAnalysisEnabled bool     `json:"vexAnalysisEnabled"`
}

// ComplianceReport is the always-written terminal artifact: one document
// that tells the whole story of a run, whatever state it ended in.
type ComplianceReport struct {
	BuildID      string               `json:"buildID"`
	ImageRef     string               `json:"imageRef"`
	Outcome      Outcome              `json:"outcome"`
	Config       RunConfig            `json:"config"`
	Stages       []StageResult        `json:"stages"`
	Artifacts    []ArtifactRef        `json:"artifacts,omitempty"`
	Summary      *VulnSummary         `json:"vulnerabilitySummary,omitempty"`
	Ecosystems   map[string]int       `json:"componentEcosystems,omitempty"`
	Attestations []AttestationSummary `json:"attestations,omitempty"`
	SLSA         map[string]string    `json:"slsaProperties"`
	Tools        []ToolIdentity       `json:"tools,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
}

// AuditRecord is the compact trail entry put to the secret store per run.
type AuditRecord struct {
	BuildID          string    `json:"buildID"`
	Outcome          Outcome   `json:"outcome"`
	Digest           string    `json:"digest,omitempty"`
	AttestationCount int       `json:"attestationCount"`
	Timestamp        time.Time `json:"timestamp"`
}
