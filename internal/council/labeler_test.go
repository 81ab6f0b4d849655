package council

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelMapRoundTrip(t *testing.T) {
	models := []string{"m1", "m2", "m3", "m4", "m5"}
	lm, err := NewLabelMap(models)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, m := range models {
		label, ok := lm.Label(m)
		require.True(t, ok, m)
		assert.Len(t, label, 1)
		assert.False(t, seen[label], "label %s assigned twice", label)
		seen[label] = true

		back, ok := lm.Delabel(label)
		require.True(t, ok)
		assert.Equal(t, m, back)
	}

	assert.Len(t, lm.Labels(), len(models))
	assert.Len(t, lm.Table(), len(models))
}

func TestLabelMapUnknownLookups(t *testing.T) {
	lm, err := NewLabelMap([]string{"m1", "m2"})
	require.NoError(t, err)

	_, ok := lm.Label("stranger")
	assert.False(t, ok)
	_, ok = lm.Delabel("Z")
	assert.False(t, ok)
}

func TestLabelMapTooManyModels(t *testing.T) {
	models := make([]string, 27)
	for i := range models {
		models[i] = fmt.Sprintf("m%d", i)
	}
	_, err := NewLabelMap(models)
	require.Error(t, err)
}

func TestSecurePermIsPermutation(t *testing.T) {
	perm, err := securePerm(10)
	require.NoError(t, err)
	require.Len(t, perm, 10)
	seen := map[int]bool{}
	for _, p := range perm {
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 10)
		assert.False(t, seen[p])
		seen[p] = true
	}
}
