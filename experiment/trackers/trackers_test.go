package trackers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ts "github.com/samuelfneumann/distillrl/timestep"
)

func episode(rewards ...float64) []ts.TimeStep {
	steps := []ts.TimeStep{ts.New(ts.First, 0, 1, nil, 0)}
	for i, r := range rewards {
		t := ts.Mid
		if i == len(rewards)-1 {
			t = ts.Last
		}
		steps = append(steps, ts.New(t, r, 1, nil, i+1))
	}
	return steps
}

func TestReturn(t *testing.T) {
	file := filepath.Join(t.TempDir(), "returns.bin")
	r := NewReturn(file)
	l := NewEpisodeLength("")

	for _, steps := range [][]ts.TimeStep{episode(1, 2, 3), episode(-1)} {
		for _, step := range steps {
			r.Track(step)
			l.Track(step)
		}
	}
	assert.Equal(t, []float64{6, -1}, r.Returns())
	assert.Equal(t, []float64{3, 1}, l.Lengths())

	require.NoError(t, r.Save())
	require.NoError(t, l.Save())
	data, err := LoadData(file)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, -1}, data)
}

func TestReturnNonSequential(t *testing.T) {
	r := NewReturn("")
	r.Track(ts.New(ts.First, 0, 1, nil, 0))
	assert.Panics(t, func() { r.Track(ts.New(ts.Mid, 0, 1, nil, 2)) })
}
