package snr

import (
	"fmt"

	"github.com/samuelfneumann/distillrl/agent"
	"github.com/samuelfneumann/distillrl/initwfn"
	"github.com/samuelfneumann/distillrl/solver"
)

func init() {
	// Register the Config so that agent.TypedConfig can deserialize it
	agent.Register(agent.SNR, Config{})
}

// AppliedTo selects the networks regularized by their spectral norms
type AppliedTo string

const (
	Policy AppliedTo = "policy"
	Critic AppliedTo = "critic"
	Both   AppliedTo = "both"
)

// regularizes returns whether networks named name are regularized
func (a AppliedTo) regularizes(name AppliedTo) bool {
	return a == Both || a == name
}

// PowerIterationConfig configures the power iteration estimating the
// largest singular value of each weight matrix
type PowerIterationConfig struct {
	// PowerIterations is the number of iterations run per SGD step.
	// The singular vectors persist between steps, so a single
	// iteration per step is usually enough.
	PowerIterations int

	// Eps is added to norms before normalizing singular vectors
	Eps float64
}

// Config implements a configuration of the SNR agent
type Config struct {
	// NumBCIters is the number of learner steps at the start of
	// training in which the policy is trained by behaviour cloning
	// only
	NumBCIters int

	// EntropyCoefficient is the fixed entropy temperature α. If nil,
	// α is learned so that the entropy of the policy tracks
	// TargetEntropy.
	EntropyCoefficient *float64

	// TargetEntropy is the target entropy of a learned temperature.
	// If 0, the negative number of action dimensions is used.
	TargetEntropy float64

	UseSNRInBCIters bool
	SNRAppliedTo    AppliedTo
	SNRAlpha        float64
	SNRKwargs       PowerIterationConfig

	PolicyLR           float64
	QLR                float64
	NumSGDStepsPerStep int
	BatchSize          int

	Discount float64
	Tau      float64 // Polyak averaging constant of the target critic

	PolicyLayers []int
	CriticLayers []int

	// InitWFn initializes all networks. Defaults to Glorot uniform.
	InitWFn *initwfn.InitWFn

	// Solver is the type of solver used by both networks. Defaults to
	// Adam.
	Solver solver.Type
}

// DefaultConfig returns a Config with the hyperparameters commonly
// used for offline continuous control
func DefaultConfig() Config {
	return Config{
		NumBCIters:         0,
		SNRAppliedTo:       Both,
		SNRAlpha:           0.1,
		SNRKwargs:          PowerIterationConfig{PowerIterations: 1, Eps: 1e-12},
		PolicyLR:           1e-4,
		QLR:                3e-4,
		NumSGDStepsPerStep: 1,
		BatchSize:          256,
		Discount:           0.99,
		Tau:                0.005,
		PolicyLayers:       []int{256, 256},
		CriticLayers:       []int{256, 256},
		Solver:             solver.Adam,
	}
}

// Type returns the type of agent described by the Config
func (c Config) Type() agent.Type {
	return agent.SNR
}

// Validate checks a Config for invalid hyperparameters
func (c Config) Validate() error {
	if c.NumBCIters < 0 {
		return fmt.Errorf("validate: number of behaviour cloning "+
			"iterations must be non-negative (%v)", c.NumBCIters)
	}
	if c.EntropyCoefficient != nil && *c.EntropyCoefficient < 0 {
		return fmt.Errorf("validate: entropy coefficient must be "+
			"non-negative (%v)", *c.EntropyCoefficient)
	}
	switch c.SNRAppliedTo {
	case Policy, Critic, Both:
	default:
		return fmt.Errorf("validate: SNR cannot be applied to %q",
			c.SNRAppliedTo)
	}
	if c.SNRAlpha < 0 {
		return fmt.Errorf("validate: SNR alpha must be non-negative (%v)",
			c.SNRAlpha)
	}
	if c.SNRKwargs.PowerIterations < 1 {
		return fmt.Errorf("validate: at least one power iteration is " +
			"required")
	}
	if c.SNRKwargs.Eps < 0 {
		return fmt.Errorf("validate: power iteration eps must be " +
			"non-negative")
	}
	if c.PolicyLR <= 0 || c.QLR <= 0 {
		return fmt.Errorf("validate: learning rates must be positive "+
			"(policy: %v, critic: %v)", c.PolicyLR, c.QLR)
	}
	if c.NumSGDStepsPerStep < 1 {
		return fmt.Errorf("validate: SGD steps per step must be positive "+
			"(%v)", c.NumSGDStepsPerStep)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("validate: batch size must be positive (%v)",
			c.BatchSize)
	}
	if c.Discount < 0 || c.Discount > 1 {
		return fmt.Errorf("validate: discount must be in [0, 1] (%v)",
			c.Discount)
	}
	if c.Tau <= 0 || c.Tau > 1 {
		return fmt.Errorf("validate: tau must be in (0, 1] (%v)", c.Tau)
	}
	for _, layers := range [][]int{c.PolicyLayers, c.CriticLayers} {
		for _, size := range layers {
			if size < 1 {
				return fmt.Errorf("validate: hidden layer sizes must be "+
					"positive (%v)", layers)
			}
		}
	}
	switch c.solverType() {
	case solver.Adam, solver.RMSProp, solver.Vanilla:
	default:
		return fmt.Errorf("validate: no such solver %v", c.Solver)
	}
	return nil
}

// BCIters returns whether learner step number step trains the policy
// by behaviour cloning
func (c Config) BCIters(step int) bool {
	return step < c.NumBCIters
}

func (c Config) solverType() solver.Type {
	if c.Solver == "" {
		return solver.Adam
	}
	return c.Solver
}

func (c Config) initWFn() (*initwfn.InitWFn, error) {
	if c.InitWFn != nil {
		return c.InitWFn, nil
	}
	return initwfn.NewGlorotU(1.0)
}

func (c Config) targetEntropy(actionDims int) float64 {
	if c.TargetEntropy != 0 {
		return c.TargetEntropy
	}
	return -float64(actionDims)
}
