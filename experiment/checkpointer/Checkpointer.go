// Package checkpointer saves and restores training state. Checkpoints
// are written to numbered directories with a JSON index of the
// retained checkpoints, and old checkpoints beyond a retention count
// are deleted.
package checkpointer

import (
	"fmt"

	"gorgonia.org/tensor"

	"github.com/samuelfneumann/distillrl/network"
	"github.com/samuelfneumann/distillrl/solver"
)

// State is the state saved in a checkpoint
type State struct {
	// Step is the global step at which the checkpoint was taken
	Step int

	// Params is a weight snapshot encoded by network.EncodeParams
	Params []byte

	Optimizer solver.State
}

// NewState returns a State holding the weights params and optimizer
// state opt at the global step
func NewState(step int, params []*tensor.Dense, opt solver.State) (State,
	error) {
	encoded, err := network.EncodeParams(params)
	if err != nil {
		return State{}, fmt.Errorf("newState: %w", err)
	}
	return State{Step: step, Params: encoded, Optimizer: opt}, nil
}

// Weights returns the weight snapshot of the State
func (s State) Weights() ([]*tensor.Dense, error) {
	return network.DecodeParams(s.Params)
}

// Checkpointable is anything whose state can be checkpointed
type Checkpointable interface {
	Checkpoint() (State, error)
	Restore(State) error
}

// Checkpointer checkpoints an object based on the global step,
// returning whether a checkpoint was saved
type Checkpointer interface {
	Checkpoint(step int) (bool, error)
}
