package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Transition is a single (S, A, R, γ, S', A') tuple. Demonstrations
// are stored as slices of Transitions.
type Transition struct {
	State      *mat.VecDense
	Action     *mat.VecDense
	Reward     float64
	Discount   float64
	NextState  *mat.VecDense
	NextAction *mat.VecDense
}

// NewTransition constructs the transition from step to nextStep when
// taking action. The reward and discount are taken from nextStep. If
// nextStep is the last step of an episode, the transition's discount
// is set to the nextStep's discount; environments which terminate
// (rather than truncate) should set that discount to 0.
func NewTransition(step TimeStep, action *mat.VecDense, nextStep TimeStep,
	nextAction *mat.VecDense) Transition {
	if nextAction == nil {
		nextAction = mat.NewVecDense(action.Len(), nil)
	}
	return Transition{
		State:      step.Observation,
		Action:     action,
		Reward:     nextStep.Reward,
		Discount:   nextStep.Discount,
		NextState:  nextStep.Observation,
		NextAction: nextAction,
	}
}

// Batch is a batch of transitions stored in row major order. For a
// Batch of Size n with features f and action dimensions a, State and
// NextState have length n*f, Action and NextAction have length n*a,
// and Reward and Discount have length n.
type Batch struct {
	Size       int
	State      []float64
	Action     []float64
	Reward     []float64
	Discount   []float64
	NextState  []float64
	NextAction []float64
}

// Validate checks that the lengths of the batch's fields are
// consistent with the argument feature and action sizes.
func (b Batch) Validate(features, actions int) error {
	if len(b.State) != b.Size*features || len(b.NextState) != b.Size*features {
		return fmt.Errorf("validate: invalid state batch length"+
			"\n\twant(%v)\n\thave(%v)", b.Size*features, len(b.State))
	}
	if len(b.Action) != b.Size*actions {
		return fmt.Errorf("validate: invalid action batch length"+
			"\n\twant(%v)\n\thave(%v)", b.Size*actions, len(b.Action))
	}
	if len(b.Reward) != b.Size || len(b.Discount) != b.Size {
		return fmt.Errorf("validate: invalid reward or discount batch "+
			"length\n\twant(%v)\n\thave(%v, %v)", b.Size, len(b.Reward),
			len(b.Discount))
	}
	return nil
}
