package demonstrations

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/distillrl/timestep"
)

func transitions(n int) []timestep.Transition {
	out := make([]timestep.Transition, n)
	for i := range out {
		v := float64(i)
		out[i] = timestep.Transition{
			State:      mat.NewVecDense(2, []float64{v, v}),
			Action:     mat.NewVecDense(1, []float64{-v}),
			Reward:     v,
			Discount:   0.9,
			NextState:  mat.NewVecDense(2, []float64{v + 1, v + 1}),
			NextAction: mat.NewVecDense(1, nil),
		}
	}
	return out
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demos.gob")
	want := transitions(5)

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)

	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, mat.Equal(want[i].State, got[i].State))
		assert.True(t, mat.Equal(want[i].Action, got[i].Action))
		assert.True(t, mat.Equal(want[i].NextState, got[i].NextState))
		assert.Equal(t, 1, got[i].NextAction.Len())
		assert.Equal(t, want[i].Reward, got[i].Reward)
		assert.Equal(t, want[i].Discount, got[i].Discount)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.gob"))
	assert.Error(t, err)
}

func TestIterator(t *testing.T) {
	it, err := FromTransitions(transitions(10), 4, 1)()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		batch, err := it.Next()
		require.NoError(t, err)
		require.NoError(t, batch.Validate(2, 1))
		assert.Equal(t, 4, batch.Size)
	}

	_, err = NewIterator(nil, 4, 1)
	assert.Error(t, err)
}

func TestFactoryIsDeterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demos.gob")
	require.NoError(t, Save(path, transitions(10)))

	a, err := Factory(path, 3, 7)()
	require.NoError(t, err)
	b, err := Factory(path, 3, 7)()
	require.NoError(t, err)

	batchA, err := a.Next()
	require.NoError(t, err)
	batchB, err := b.Next()
	require.NoError(t, err)
	assert.Equal(t, batchA, batchB)
}
