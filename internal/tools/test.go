package tools

import (
	"encoding/json"
	"testing"

	"gotest.tools/v3/assert"
)

func EnsureSetup(t *testing.T, errored bool) {
	assert.Assert(t, errored, "Error during test setup")
}

// MustMarshal is a test helper for building document payloads inline.
func MustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	assert.NilError(t, err)
	return b
}
