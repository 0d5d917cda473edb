package snr

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/distillrl/agent"
	"github.com/samuelfneumann/distillrl/agent/nonlinear/continuous/policy"
	"github.com/samuelfneumann/distillrl/network"
	"github.com/samuelfneumann/distillrl/timestep"
	"github.com/samuelfneumann/distillrl/utils/floatutils"
)

// squashed is the range of actions of a SquashedGaussian
var squashed = r1.Interval{Min: -1, Max: 1}

// Actor selects actions with a SquashedGaussian policy whose weights
// are pulled from a VariableClient. Actions are rescaled from (-1, 1)
// to the action bounds of the environment.
type Actor struct {
	policy  *policy.SquashedGaussian
	client  *agent.VariableClient
	adder   agent.Adder
	bounds  []r1.Interval
	version int
}

// NewActor returns a new Actor. The adder may be nil, in which case
// observations are dropped. If bounds is nil actions are not rescaled,
// otherwise there must be one bound per action dimension.
func NewActor(p *policy.SquashedGaussian, client *agent.VariableClient,
	adder agent.Adder, bounds []r1.Interval) (*Actor, error) {
	if client == nil {
		return nil, fmt.Errorf("newActor: %w", agent.ErrNoVariableSource)
	}
	if p.BatchSize() != 1 {
		return nil, fmt.Errorf("newActor: policy must have a batch size of 1")
	}
	if bounds != nil && len(bounds) != p.ActionDims() {
		return nil, fmt.Errorf("newActor: want %v action bounds, got %v",
			p.ActionDims(), len(bounds))
	}
	return &Actor{policy: p, client: client, adder: adder, bounds: bounds}, nil
}

// SelectAction selects an action at timestep t with the latest
// weights pulled by the Actor's client. If no weights were pulled yet,
// they are pulled first.
func (a *Actor) SelectAction(t timestep.TimeStep) *mat.VecDense {
	if _, version := a.client.Params(); version == 0 {
		if err := a.client.Update(true); err != nil {
			panic(fmt.Sprintf("selectAction: %v", err))
		}
	}
	if err := a.apply(); err != nil {
		panic(fmt.Sprintf("selectAction: %v", err))
	}

	action := a.policy.SelectAction(t)
	if a.bounds != nil {
		for i, bound := range a.bounds {
			action.SetVec(i, floatutils.Rescale(action.AtVec(i), squashed,
				bound))
		}
	}
	return action
}

// apply sets the weights of the policy if the client holds a newer
// snapshot than the one last applied
func (a *Actor) apply() error {
	params, version := a.client.Params()
	if version == a.version {
		return nil
	}
	if len(params) == 0 {
		return fmt.Errorf("apply: no policy variables")
	}
	if err := network.SetParams(a.policy, params[0]); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	a.version = version
	return nil
}

// ObserveFirst records the first timestep of an episode
func (a *Actor) ObserveFirst(t timestep.TimeStep) error {
	if a.adder == nil {
		return nil
	}
	return a.adder.AddFirst(t)
}

// Observe records that action led to nextStep
func (a *Actor) Observe(action mat.Vector, nextStep timestep.TimeStep) error {
	if a.adder == nil {
		return nil
	}
	return a.adder.Add(action, nextStep)
}

// Update pulls the latest policy weights. If wait is true, the weights
// are applied before Update returns.
func (a *Actor) Update(wait bool) error {
	if err := a.client.Update(wait); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if wait {
		return a.apply()
	}
	return nil
}

// Eval sets the Actor to select mean actions
func (a *Actor) Eval() { a.policy.Eval() }

// Train sets the Actor to select sampled actions
func (a *Actor) Train() { a.policy.Train() }

// IsEval returns whether the Actor is in evaluation mode
func (a *Actor) IsEval() bool { return a.policy.IsEval() }

// Close releases the resources of the Actor's policy
func (a *Actor) Close() error { return a.policy.Close() }
