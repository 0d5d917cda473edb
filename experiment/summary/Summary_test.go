package summary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "run")
	require.NoError(t, err)

	require.NoError(t, w.Scalar("mse_loss", 0.5, 1))
	require.NoError(t, w.Scalars(map[string]float64{"mae": 0.2,
		"mse_loss": 0.25}, 2))
	require.NoError(t, w.Close())

	scalars, err := Read(dir)
	require.NoError(t, err)
	require.Len(t, scalars, 3)

	assert.Equal(t, "mae", scalars[1].Tag)
	assert.Equal(t, 2, scalars[1].Step)
	assert.Equal(t, "run", scalars[0].RunID)
	assert.Equal(t, []float64{0.5, 0.25}, Tag(scalars, "mse_loss"))
}

func TestAppend(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		w, err := NewWriter(dir, "")
		require.NoError(t, err)
		require.NoError(t, w.Scalar("mae", float64(i), i))
		require.NoError(t, w.Close())
	}

	scalars, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, Tag(scalars, "mae"))
}
