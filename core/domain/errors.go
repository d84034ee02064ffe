package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrArtifactNotFound is returned on a document store miss, so callers
	// can tell an absent artifact from a broken store.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrAttestationNotFound is returned when no attestation exists for a
	// (subject, predicateType) pair.
	ErrAttestationNotFound = errors.New("attestation not found")
	// ErrDigestAlreadySet guards the set-once image digest.
	ErrDigestAlreadySet = errors.New("image digest already set")
	// ErrDigestNotSet is returned by operations that require a resolved digest.
	ErrDigestNotSet = errors.New("image digest not set")
	// ErrBuildTimeout marks an image build that exceeded its deadline.
	ErrBuildTimeout = errors.New("image build timed out")
	// ErrScanTimeout marks a vulnerability scan that exceeded its deadline.
	ErrScanTimeout = errors.New("vulnerability scan timed out")
	// ErrMockError is returned by mock collaborators wired for failure.
	ErrMockError = errors.New("mock error")
)

// ConfigError reports an invalid or missing configuration key.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// StageError wraps the causal error of a failed pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// SchemaError reports a structurally invalid security document.
// Invalid documents are rejected before persistence.
type SchemaError struct {
	Document string
	Reason   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Document, e.Reason)
}

// SigningError wraps failures of the keyless signing flow.
type SigningError struct {
	Op  string
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing %s: %v", e.Op, e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// TransientToolError marks a tool invocation failure worth retrying.
type TransientToolError struct {
	Tool string
	Err  error
}

func (e *TransientToolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *TransientToolError) Unwrap() error {
	return e.Err
}

// ThresholdExceededError fails the scan stage when vulnerability counts at or
// above the configured threshold are found.
type ThresholdExceededError struct {
	Threshold Severity
	Count     int
}

func (e *ThresholdExceededError) Error() string {
	return fmt.Sprintf("%d vulnerabilities at or above %s", e.Count, e.Threshold)
}

// NewToolTimeout maps a deadline expiry to the per-tool sentinel, keeping
// timeouts distinguishable from generic tool failure.
func NewToolTimeout(sentinel error, tool string, timeout time.Duration) error {
	return fmt.Errorf("%w: %s exceeded %s", sentinel, tool, timeout)
}
