package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSBOM_Components(t *testing.T) {
	s := SBOM{Content: map[string]any{
		"components": []any{
			map[string]any{"name": "musl"},
			"not-an-object",
			map[string]any{"name": "zlib"},
		},
	}}
	components := s.Components()
	require.Len(t, components, 2)
	assert.Equal(t, "musl", components[0]["name"])
	assert.Equal(t, "zlib", components[1]["name"])

	assert.Nil(t, SBOM{Content: map[string]any{}}.Components())
	assert.Nil(t, SBOM{}.Components())
}

func TestComponentKey(t *testing.T) {
	tests := []struct {
		name string
		c    map[string]any
		want string
	}{
		{
			name: "purl wins",
			c:    map[string]any{"purl": "pkg:golang/x@1.0", "bom-ref": "ref-1", "name": "x", "version": "1.0"},
			want: "pkg:golang/x@1.0",
		},
		{
			name: "name fallback ignores version",
			c:    map[string]any{"bom-ref": "ref-1", "name": "x", "version": "1.0"},
			want: "x",
		},
		{
			name: "empty purl falls through",
			c:    map[string]any{"purl": "", "name": "x"},
			want: "x",
		},
		{
			name: "anonymous component",
			c:    map[string]any{"version": "1.0"},
			want: "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComponentKey(tt.c))
		})
	}
}
