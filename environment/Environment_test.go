package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/distillrl/timestep"
)

func TestStepLimit(t *testing.T) {
	limit := NewStepLimit(3)

	step := timestep.New(timestep.Mid, 0, 1, mat.NewVecDense(1, nil), 2)
	assert.False(t, limit.End(&step))
	assert.Equal(t, timestep.Mid, step.StepType)

	step.Number = 3
	assert.True(t, limit.End(&step))
	assert.True(t, step.Last())
}

func TestUniformStarter(t *testing.T) {
	bounds := []r1.Interval{{Min: -1, Max: 1}, {Min: 5, Max: 6}}
	a := NewUniformStarter(bounds, 4)
	b := NewUniformStarter(bounds, 4)

	for i := 0; i < 10; i++ {
		start := a.Start()
		assert.True(t, mat.Equal(start, b.Start()))
		for j, bound := range bounds {
			assert.GreaterOrEqual(t, start.AtVec(j), bound.Min)
			assert.LessOrEqual(t, start.AtVec(j), bound.Max)
		}
	}
}

func TestSpecBounds(t *testing.T) {
	spec := NewSpec(mat.NewVecDense(2, nil), Action,
		mat.NewVecDense(2, []float64{-1, -2}),
		mat.NewVecDense(2, []float64{1, 2}), Continuous)
	assert.Equal(t, []r1.Interval{{Min: -1, Max: 1}, {Min: -2, Max: 2}},
		spec.Bounds())

	assert.Panics(t, func() {
		NewSpec(mat.NewVecDense(2, nil), Action, mat.NewVecDense(1, nil),
			mat.NewVecDense(2, nil), Continuous)
	})
}
