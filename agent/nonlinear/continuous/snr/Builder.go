// Package snr implements an offline actor critic regularized by the
// spectral norms of its weights (SNR), together with the builder that
// wires it into the agent interfaces.
//
// The agent learns only from demonstrations: its learner draws batches
// from a demonstration iterator and it uses no replay tables, dataset
// iterators or adders.
package snr

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/distillrl/agent"
	"github.com/samuelfneumann/distillrl/agent/nonlinear/continuous/policy"
	"github.com/samuelfneumann/distillrl/counting"
	"github.com/samuelfneumann/distillrl/logging"
)

// Builder builds the learner and actors of the SNR agent
type Builder struct {
	config         Config
	demonstrations func() (agent.Iterator, error)
	bounds         []r1.Interval
}

// Option configures a Builder
type Option func(*Builder)

// WithActionBounds makes built actors rescale actions to bounds, one
// interval per action dimension
func WithActionBounds(bounds ...r1.Interval) Option {
	return func(b *Builder) {
		b.bounds = append([]r1.Interval(nil), bounds...)
	}
}

// NewBuilder returns a new Builder. The demonstrations factory is
// called once per learner built.
func NewBuilder(config Config, demonstrations func() (agent.Iterator, error),
	opts ...Option) (*Builder, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newBuilder: %w", err)
	}
	if demonstrations == nil {
		return nil, fmt.Errorf("newBuilder: no demonstrations factory")
	}

	b := &Builder{config: config, demonstrations: demonstrations}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Config returns the configuration of the agents built
func (b *Builder) Config() Config {
	return b.config
}

// MakeLearner returns a new Learner of networks, which must be
// *Networks. Learners made with the same seed, networks and
// demonstrations are identical.
func (b *Builder) MakeLearner(seed uint64, networks agent.Networks,
	logger logging.Logger, counter *counting.Counter) (agent.Learner, error) {
	nets, ok := networks.(*Networks)
	if !ok {
		return nil, fmt.Errorf("makeLearner: networks of type %T are not "+
			"SNR networks", networks)
	}

	demonstrations, err := b.demonstrations()
	if err != nil {
		return nil, fmt.Errorf("makeLearner: could not create "+
			"demonstrations: %w", err)
	}

	learner, err := NewLearner(b.config, nets, demonstrations, logger,
		counter, seed)
	if err != nil {
		return nil, fmt.Errorf("makeLearner: %w", err)
	}
	return learner, nil
}

// MakeActor returns a new Actor selecting actions with a copy of
// pol, which must be a *policy.SquashedGaussian. The Actor reads the
// PolicyVariables of source on the CPU.
func (b *Builder) MakeActor(seed uint64, pol agent.Policy,
	source agent.VariableSource) (agent.Actor, error) {
	if source == nil {
		return nil, fmt.Errorf("makeActor: %w", agent.ErrNoVariableSource)
	}
	squashedGaussian, ok := pol.(*policy.SquashedGaussian)
	if !ok {
		return nil, fmt.Errorf("makeActor: policy of type %T is not a "+
			"squashed Gaussian", pol)
	}

	client, err := agent.NewVariableClient(source, agent.CPU,
		PolicyVariables)
	if err != nil {
		return nil, fmt.Errorf("makeActor: %w", err)
	}

	actorPolicy, err := squashedGaussian.CloneWithBatch(1, seed)
	if err != nil {
		return nil, fmt.Errorf("makeActor: %w", err)
	}

	actor, err := NewActor(actorPolicy, client, nil, b.bounds)
	if err != nil {
		return nil, fmt.Errorf("makeActor: %w", err)
	}
	return actor, nil
}

// MakeReplayTables returns no tables, the agent learns only from
// demonstrations
func (b *Builder) MakeReplayTables(agent.EnvironmentSpec) []agent.ReplayTable {
	return []agent.ReplayTable{}
}

// MakeDatasetIterator returns nil, the learner iterates over
// demonstrations instead
func (b *Builder) MakeDatasetIterator([]agent.ReplayTable) agent.Iterator {
	return nil
}

// MakeAdder returns nil, actors of the agent add no experience
func (b *Builder) MakeAdder([]agent.ReplayTable) agent.Adder {
	return nil
}

var _ agent.ActorLearnerBuilder = (*Builder)(nil)
