package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactKind_Filename(t *testing.T) {
	for _, kind := range ArtifactKinds() {
		name := kind.Filename()
		back, ok := KindForFilename(name)
		require.True(t, ok, name)
		assert.Equal(t, kind, back)
	}
	assert.Empty(t, ArtifactKind("junk").Filename())
	_, err := ParseArtifactKind("junk")
	assert.Error(t, err)
}
