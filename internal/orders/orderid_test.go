package orders

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewID_Format verifies the customer-facing code shape: BD prefix plus
// six characters from the base36 alphabet.
func TestNewID_Format(t *testing.T) {
	for i := 0; i < 100; i++ {
		id, err := NewID()
		require.NoError(t, err)
		require.Len(t, id, len(idPrefix)+idLength)
		assert.True(t, strings.HasPrefix(id, idPrefix))
		for _, c := range id[len(idPrefix):] {
			assert.Contains(t, idAlphabet, string(c))
		}
	}
}

// TestNewID_Varies verifies consecutive draws are not constant. Collisions
// are possible by design; the store rejects them, not the generator.
func TestNewID_Varies(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := NewID()
		require.NoError(t, err)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 1)
}
