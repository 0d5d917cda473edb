package expreplay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/distillrl/timestep"
)

func transition(i float64) timestep.Transition {
	return timestep.Transition{
		State:      mat.NewVecDense(2, []float64{i, -i}),
		Action:     mat.NewVecDense(1, []float64{i / 10}),
		Reward:     i,
		Discount:   0.99,
		NextState:  mat.NewVecDense(2, []float64{i + 1, -i - 1}),
		NextAction: mat.NewVecDense(1, nil),
	}
}

func newFifo(t *testing.T, min, max, batch int) ExperienceReplayer {
	t.Helper()
	buffer, err := Config{
		Name:              "test",
		RemoveMethod:      Fifo,
		SampleMethod:      Fifo,
		RemoveSize:        1,
		SampleSize:        batch,
		MinReplayCapacity: min,
		MaxReplayCapacity: max,
	}.Create(2, 1, 0)
	require.NoError(t, err)
	return buffer
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"zero min", Config{RemoveMethod: Fifo, SampleMethod: Fifo,
			RemoveSize: 1, SampleSize: 1, MinReplayCapacity: 0,
			MaxReplayCapacity: 1}},
		{"max below min", Config{RemoveMethod: Fifo, SampleMethod: Fifo,
			RemoveSize: 1, SampleSize: 1, MinReplayCapacity: 2,
			MaxReplayCapacity: 1}},
		{"zero batch", Config{RemoveMethod: Fifo, SampleMethod: Uniform,
			RemoveSize: 1, SampleSize: 0, MinReplayCapacity: 1,
			MaxReplayCapacity: 1}},
		{"unknown selector", Config{RemoveMethod: "Priority",
			SampleMethod: Uniform, RemoveSize: 1, SampleSize: 1,
			MinReplayCapacity: 1, MaxReplayCapacity: 1}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := test.config.Create(2, 1, 0)
			assert.Error(t, err)
		})
	}
}

func TestSampleErrors(t *testing.T) {
	buffer := newFifo(t, 2, 4, 1)

	_, err := buffer.Sample()
	assert.True(t, IsEmptyBuffer(err))

	require.NoError(t, buffer.Add(transition(1)))
	_, err = buffer.Sample()
	assert.True(t, IsInsufficientSamples(err))
	assert.False(t, IsEmptyBuffer(err))
}

func TestAddValidatesSizes(t *testing.T) {
	buffer := newFifo(t, 1, 4, 1)

	bad := transition(1)
	bad.State = mat.NewVecDense(3, nil)
	assert.Error(t, buffer.Add(bad))

	bad = transition(1)
	bad.Action = mat.NewVecDense(2, nil)
	assert.Error(t, buffer.Add(bad))

	assert.Equal(t, 0, buffer.Capacity())
}

func TestFifoRemovesOldest(t *testing.T) {
	buffer := newFifo(t, 1, 3, 3)

	for i := 1.0; i <= 5; i++ {
		require.NoError(t, buffer.Add(transition(i)))
		assert.LessOrEqual(t, buffer.Capacity(), 3)
	}
	assert.Equal(t, 3, buffer.Capacity())

	batch, err := buffer.Sample()
	require.NoError(t, err)
	require.NoError(t, batch.Validate(2, 1))
	assert.Equal(t, []float64{3, 4, 5}, batch.Reward)
	assert.Equal(t, []float64{3, -3, 4, -4, 5, -5}, batch.State)
	assert.Equal(t, []float64{4, -4, 5, -5, 6, -6}, batch.NextState)
}

func TestUniformIsSeeded(t *testing.T) {
	newUniform := func(seed uint64) ExperienceReplayer {
		buffer, err := Config{
			RemoveMethod:      Fifo,
			SampleMethod:      Uniform,
			RemoveSize:        1,
			SampleSize:        8,
			MinReplayCapacity: 1,
			MaxReplayCapacity: 10,
		}.Create(2, 1, seed)
		require.NoError(t, err)
		for i := 0.0; i < 10; i++ {
			require.NoError(t, buffer.Add(transition(i)))
		}
		return buffer
	}

	a, err := newUniform(3).Sample()
	require.NoError(t, err)
	b, err := newUniform(3).Sample()
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 8, a.Size)
	for _, r := range a.Reward {
		assert.GreaterOrEqual(t, r, 0.0)
		assert.Less(t, r, 10.0)
	}
}
