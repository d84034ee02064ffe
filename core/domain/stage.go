package domain

import "time"

// StageState is the lifecycle of a pipeline stage.
type StageState string

const (
	StagePending StageState = "Pending"
	StageRunning StageState = "Running"
	StageSuccess StageState = "Success"
	StageFailed  StageState = "Failed"
	StageSkipped StageState = "Skipped"
)

// Terminal reports whether the state is final.
func (s StageState) Terminal() bool {
	switch s {
	case StageSuccess, StageFailed, StageSkipped:
		return true
	}
	return false
}

// StageResult records one stage execution.
type StageResult struct {
	Stage     string        `json:"stage"`
	State     StageState    `json:"state"`
	Error     string        `json:"error,omitempty"`
	Produced  []ArtifactRef `json:"produced,omitempty"`
	StartedAt time.Time     `json:"startedAt,omitzero"`
	Duration  time.Duration `json:"duration"`
	Finalizer bool          `json:"finalizer,omitempty"`
}

// Outcome is the overall pipeline verdict.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFailure Outcome = "Failure"
)

// PipelineOutcome aggregates the run: ordered stage results and the verdict.
// The verdict is Failure iff a main-region (non-finalizer) stage failed or
// the run was aborted before completing; Skipped stages and finalizer
// failures never flip it on their own.
type PipelineOutcome struct {
	BuildID    string        `json:"buildID"`
	ImageRef   string        `json:"imageRef,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	Stages     []StageResult `json:"stages"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Stage returns the result for a stage name, if recorded.
func (o PipelineOutcome) Stage(name string) (StageResult, bool) {
	for _, r := range o.Stages {
		if r.Stage == name {
			return r, true
		}
	}
	return StageResult{}, false
}

// Failed reports whether the run ended in Failure.
func (o PipelineOutcome) Failed() bool {
	return o.Outcome == OutcomeFailure
}

// RunInput is what a caller supplies to start a pipeline run.
type RunInput struct {
	BuildID       string
	IdentityToken IdentityToken
}
