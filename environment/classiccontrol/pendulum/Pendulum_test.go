package pendulum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/distillrl/environment"
)

func newPendulum(t *testing.T, start []r1.Interval, steps int) *Continuous {
	starter := environment.NewUniformStarter(start, 1)
	env, first, err := NewContinuous(NewSwingUp(starter, steps), 0.99)
	require.NoError(t, err)
	assert.True(t, first.First())
	return env
}

func TestStepDynamics(t *testing.T) {
	env := newPendulum(t, []r1.Interval{{Min: 0, Max: 0}, {Min: 0, Max: 0}}, 5)

	// Upright and still with no torque stays upright
	step, last := env.Step(mat.NewVecDense(1, []float64{0}))
	assert.False(t, last)
	assert.InDelta(t, 0, step.Observation.AtVec(0), 1e-12)
	assert.InDelta(t, 1, step.Reward, 1e-12)
	assert.Equal(t, 0.99, step.Discount)

	// Torque beyond the bounds is clipped
	clipped, _ := env.Step(mat.NewVecDense(1, []float64{100}))
	env.Reset()
	env.Step(mat.NewVecDense(1, []float64{0}))
	bounded, _ := env.Step(mat.NewVecDense(1, []float64{TorqueBound}))
	assert.InDelta(t, bounded.Observation.AtVec(1), clipped.Observation.AtVec(1),
		1e-12)
}

func TestEpisodeEnds(t *testing.T) {
	env := newPendulum(t, []r1.Interval{{Min: -1, Max: 1}, {Min: -1, Max: 1}}, 3)

	var last bool
	for i := 0; i < 3; i++ {
		var step = env.LastTimeStep()
		assert.False(t, step.Last())
		_, last = env.Step(mat.NewVecDense(1, []float64{1}))
	}
	assert.True(t, last)

	first := env.Reset()
	assert.True(t, first.First())
	assert.Equal(t, 0, first.Number)
}

func TestInvalidStart(t *testing.T) {
	starter := environment.NewUniformStarter(
		[]r1.Interval{{Min: 4, Max: 5}, {Min: 0, Max: 0}}, 1)
	_, _, err := NewContinuous(NewSwingUp(starter, 10), 1)
	assert.Error(t, err)
}

func TestNormalizeAngle(t *testing.T) {
	assert.InDelta(t, 0, normalizeAngle(2*math.Pi), 1e-12)
	assert.InDelta(t, -math.Pi+0.5, normalizeAngle(math.Pi+0.5), 1e-12)
	assert.InDelta(t, math.Pi-0.5, normalizeAngle(-math.Pi-0.5), 1e-12)
}

func TestSpecs(t *testing.T) {
	env := newPendulum(t, []r1.Interval{{Min: 0, Max: 0}, {Min: 0, Max: 0}}, 5)
	assert.Equal(t, []r1.Interval{{Min: -TorqueBound, Max: TorqueBound}},
		env.ActionSpec().Bounds())
	assert.Equal(t, ObservationDims, env.ObservationSpec().Shape.Len())
	assert.Equal(t, -1.0, env.RewardSpec().LowerBound.AtVec(0))
}
