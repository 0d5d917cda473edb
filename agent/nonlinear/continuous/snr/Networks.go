package snr

import (
	"fmt"

	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/distillrl/agent"
	"github.com/samuelfneumann/distillrl/agent/nonlinear/continuous/policy"
	"github.com/samuelfneumann/distillrl/network"
)

// Networks holds the networks of the SNR agent: a tanh squashed
// Gaussian policy and a critic Q(s, a) taking the concatenation of
// states and actions as input. Both have a batch size of 1; the
// learner clones them to its own batch size.
type Networks struct {
	Policy *policy.SquashedGaussian
	Critic network.NeuralNet
}

// MakeNetworks returns the networks of the SNR agent for an
// environment with the given spec. Networks made with the same seed
// and config have identical weights.
func MakeNetworks(spec agent.EnvironmentSpec, c Config,
	seed uint64) (*Networks, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("makeNetworks: %w", err)
	}
	if spec.ObservationDims < 1 || spec.ActionDims < 1 {
		return nil, fmt.Errorf("makeNetworks: invalid environment spec %+v",
			spec)
	}

	init, err := c.initWFn()
	if err != nil {
		return nil, fmt.Errorf("makeNetworks: %w", err)
	}
	// One stream initializes both networks, the policy first
	initFn := init.Seeded(seed)

	pol, err := policy.NewSquashedGaussian(
		"policy",
		spec.ObservationDims,
		spec.ActionDims,
		1,
		G.NewGraph(),
		c.PolicyLayers,
		trues(len(c.PolicyLayers)),
		network.ReLUs(len(c.PolicyLayers)),
		initFn,
		seed,
	)
	if err != nil {
		return nil, fmt.Errorf("makeNetworks: could not create policy: %w",
			err)
	}

	critic, err := network.NewSingleHeadMLP(
		"critic",
		spec.ObservationDims+spec.ActionDims,
		1,
		G.NewGraph(),
		c.CriticLayers,
		trues(len(c.CriticLayers)),
		initFn,
		network.ReLUs(len(c.CriticLayers)),
	)
	if err != nil {
		return nil, fmt.Errorf("makeNetworks: could not create critic: %w",
			err)
	}

	return &Networks{Policy: pol, Critic: critic}, nil
}

// Validate checks that the policy and critic fit together
func (n *Networks) Validate() error {
	if n == nil || n.Policy == nil || n.Critic == nil {
		return fmt.Errorf("validate: missing policy or critic")
	}
	want := n.Policy.Features() + n.Policy.ActionDims()
	if n.Critic.Features() != want {
		return fmt.Errorf("validate: critic input size %v does not match "+
			"state and action sizes (%v)", n.Critic.Features(), want)
	}
	if n.Critic.Outputs() != 1 {
		return fmt.Errorf("validate: critic must have a single output")
	}
	if _, ok := n.Critic.(weighted); !ok {
		return fmt.Errorf("validate: critic does not expose its weights")
	}
	return nil
}

func trues(n int) []bool {
	b := make([]bool, n)
	for i := range b {
		b[i] = true
	}
	return b
}
