package timestep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestStepTypes(t *testing.T) {
	step := New(First, 0, 0.99, mat.NewVecDense(1, nil), 0)
	assert.True(t, step.First())
	assert.False(t, step.Mid())
	assert.False(t, step.Last())

	step.StepType = Last
	assert.True(t, step.Last())
	assert.Equal(t, "Last", step.StepType.String())
	assert.Equal(t, "Mid", Mid.String())
}

func TestNewTransition(t *testing.T) {
	step := New(First, 0, 0.99, mat.NewVecDense(2, []float64{1, 2}), 0)
	next := New(Last, 1.5, 0, mat.NewVecDense(2, []float64{3, 4}), 1)
	action := mat.NewVecDense(1, []float64{0.5})

	tr := NewTransition(step, action, next, nil)
	assert.Equal(t, 1.5, tr.Reward)
	assert.Equal(t, 0.0, tr.Discount)
	assert.Equal(t, []float64{3, 4}, tr.NextState.RawVector().Data)
	assert.Equal(t, 1, tr.NextAction.Len())
	assert.Equal(t, 0.0, tr.NextAction.AtVec(0))
}

func TestBatchValidate(t *testing.T) {
	batch := Batch{
		Size:       2,
		State:      make([]float64, 4),
		Action:     make([]float64, 2),
		Reward:     make([]float64, 2),
		Discount:   make([]float64, 2),
		NextState:  make([]float64, 4),
		NextAction: make([]float64, 2),
	}
	assert.NoError(t, batch.Validate(2, 1))
	assert.Error(t, batch.Validate(3, 1))
	assert.Error(t, batch.Validate(2, 2))

	batch.Reward = batch.Reward[:1]
	assert.Error(t, batch.Validate(2, 1))
}
