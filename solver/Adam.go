package solver

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// AdamConfig describes a configuration of the Adam solver
type AdamConfig struct {
	StepSize float64
	Epsilon  float64 // Smoothing factor
	Beta1    float64
	Beta2    float64
	Batch    int
}

// NewDefaultAdam returns a new Adam Solver with default hyperparameters
func NewDefaultAdam(stepSize float64, batchSize int) (*Solver, error) {
	return NewAdam(stepSize, 1e-8, 0.9, 0.999, batchSize)
}

// NewAdam returns a new Adam Solver
func NewAdam(stepSize, epsilon, beta1, beta2 float64, batchSize int) (*Solver,
	error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("newAdam: step size must be positive")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("newAdam: batch size must be positive")
	}
	adam := AdamConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Beta1:    beta1,
		Beta2:    beta2,
		Batch:    batchSize,
	}

	return newSolver(Adam, adam)
}

// Create returns a new Adam Solver as described by the AdamConfig. The
// returned solver satisfies Checkpointable.
func (a AdamConfig) Create() G.Solver {
	return &adam{config: a}
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (a AdamConfig) ValidType(t Type) bool {
	return t == Adam
}

// State is the exported state of a Checkpointable solver. For Adam,
// M and V hold the first and second moment estimates of each
// learnable, in the order the learnables are passed to Step.
type State struct {
	Iteration int
	M, V      [][]float64
}

// adam implements the Adam solver. Unlike Gorgonia's Adam solver, the
// moment estimates are indexed by position in the model passed to
// Step, which allows them to be exported and restored.
type adam struct {
	config AdamConfig
	iter   int
	m, v   [][]float64
}

// Step takes one step of Adam using the gradients of model
func (a *adam) Step(model []G.ValueGrad) error {
	if a.m == nil {
		a.m = make([][]float64, len(model))
		a.v = make([][]float64, len(model))
	} else if len(a.m) != len(model) {
		return fmt.Errorf("step: expected model with %v learnables but "+
			"got %v", len(a.m), len(model))
	}
	a.iter++

	batch := float64(a.config.Batch)
	if batch < 1 {
		batch = 1
	}
	correction1 := 1 - math.Pow(a.config.Beta1, float64(a.iter))
	correction2 := 1 - math.Pow(a.config.Beta2, float64(a.iter))

	for i, n := range model {
		grad, err := n.Grad()
		if err != nil {
			return fmt.Errorf("step: could not get gradient of learnable "+
				"%v: %w", i, err)
		}
		weights, ok := n.Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("step: learnable %v is not a dense tensor", i)
		}
		g, ok := grad.Data().([]float64)
		if !ok {
			return fmt.Errorf("step: gradient %v is not float64", i)
		}
		w := weights.Data().([]float64)

		if len(a.m[i]) == 0 {
			a.m[i] = make([]float64, len(w))
			a.v[i] = make([]float64, len(w))
		} else if len(a.m[i]) != len(w) {
			return fmt.Errorf("step: learnable %v changed size from %v to %v",
				i, len(a.m[i]), len(w))
		}

		m, v := a.m[i], a.v[i]
		for j := range w {
			gj := g[j] / batch
			m[j] = a.config.Beta1*m[j] + (1-a.config.Beta1)*gj
			v[j] = a.config.Beta2*v[j] + (1-a.config.Beta2)*gj*gj

			mHat := m[j] / correction1
			vHat := v[j] / correction2
			w[j] -= a.config.StepSize * mHat / (math.Sqrt(vHat) + a.config.Epsilon)
		}
	}
	return nil
}

// State returns a copy of the solver's step counter and moments
func (a *adam) State() State {
	return State{
		Iteration: a.iter,
		M:         copyMoments(a.m),
		V:         copyMoments(a.v),
	}
}

// SetState restores the solver's step counter and moments
func (a *adam) SetState(s State) error {
	if len(s.M) != len(s.V) {
		return fmt.Errorf("setState: mismatched moments %v != %v", len(s.M),
			len(s.V))
	}
	if s.Iteration < 0 {
		return fmt.Errorf("setState: negative iteration %v", s.Iteration)
	}
	a.iter = s.Iteration
	a.m = copyMoments(s.M)
	a.v = copyMoments(s.V)
	return nil
}

func copyMoments(moments [][]float64) [][]float64 {
	if moments == nil {
		return nil
	}
	out := make([][]float64, len(moments))
	for i := range moments {
		if moments[i] != nil {
			out[i] = append([]float64(nil), moments[i]...)
		}
	}
	return out
}
