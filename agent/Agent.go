// Package agent defines the interfaces that connect learners, actors
// and the builders that construct them.
//
// An agent is split into a Learner, which updates weights from data,
// and an Actor, which selects actions. The Actor does not own its
// weights. It pulls them from a VariableSource, usually the Learner.
package agent

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/distillrl/counting"
	"github.com/samuelfneumann/distillrl/logging"
	"github.com/samuelfneumann/distillrl/timestep"
)

var (
	// ErrNoVariableSource is returned when an actor is constructed
	// without a source of weights
	ErrNoVariableSource = errors.New("no variable source")

	// ErrUnknownVariable is returned when a VariableSource does not
	// serve a requested name
	ErrUnknownVariable = errors.New("unknown variable")
)

// Device is the device computation is placed on
type Device string

// CPU is the only device supported by Gorgonia's tape machines
const CPU Device = "cpu"

// VariableSource provides the latest snapshot of named parameters.
// For each name, the returned slice holds the tensors of that
// parameter set in a stable order. Returned tensors are copies.
type VariableSource interface {
	Variables(names ...string) ([][]*tensor.Dense, error)
}

// Learner implements a learning algorithm that defines how weights are
// updated.
type Learner interface {
	VariableSource

	// Step performs a single update to the learner
	Step() error
}

// Policy represents a policy that an agent can have.
//
// Policies determine how agents select actions.
type Policy interface {
	SelectAction(t timestep.TimeStep) *mat.VecDense
	Eval()        // Set policy to evaluation mode
	Train()       // Set policy to training mode
	IsEval() bool // Indicates if in evaluation mode
}

// Actor selects actions with weights pulled from a VariableSource
type Actor interface {
	Policy

	// ObserveFirst records the first timestep in an episode
	ObserveFirst(t timestep.TimeStep) error

	// Observe records that an action lead to some timestep
	Observe(action mat.Vector, nextStep timestep.TimeStep) error

	// Update pulls the latest weights from the variable source. If
	// wait is false the weights may arrive after Update returns.
	Update(wait bool) error
}

// Iterator produces batches of transitions
type Iterator interface {
	Next() (timestep.Batch, error)
}

// Adder adds the experience of an actor to replay tables
type Adder interface {
	AddFirst(t timestep.TimeStep) error
	Add(action mat.Vector, nextStep timestep.TimeStep) error
}

// ReplayTable is a table of experience served to learners. The
// expreplay.ExperienceReplayer satisfies ReplayTable.
type ReplayTable interface {
	Name() string
	Capacity() int
	MaxCapacity() int
}

// Networks describes the networks of an agent. Each builder asserts
// the concrete type it was designed for.
type Networks interface {
	Validate() error
}

// OfflineBuilder builds agents that learn only from previously
// collected data
type OfflineBuilder interface {
	// MakeLearner returns a new learner. Learners constructed with the
	// same seed and networks have identical initial weights.
	MakeLearner(seed uint64, networks Networks, logger logging.Logger,
		counter *counting.Counter) (Learner, error)

	// MakeActor returns an actor which reads its weights from source.
	// ErrNoVariableSource is returned if source is nil.
	MakeActor(seed uint64, policy Policy, source VariableSource) (Actor,
		error)
}

// ActorLearnerBuilder builds agents which may generate their own
// experience. Offline agents implement the replay hooks trivially.
type ActorLearnerBuilder interface {
	OfflineBuilder

	MakeReplayTables(spec EnvironmentSpec) []ReplayTable
	MakeDatasetIterator(tables []ReplayTable) Iterator
	MakeAdder(tables []ReplayTable) Adder
}

// EnvironmentSpec gives the sizes of observations and actions of an
// environment
type EnvironmentSpec struct {
	ObservationDims int
	ActionDims      int
}
