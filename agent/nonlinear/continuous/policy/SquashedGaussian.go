// Package policy implements neural network policies for continuous
// actions.
package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/distillrl/network"
	"github.com/samuelfneumann/distillrl/timestep"
)

// squashEps keeps the tanh correction of the log probability finite
// when actions saturate at ±1
const squashEps float64 = 1e-6

// SquashedGaussian implements a Gaussian policy whose samples are
// squashed by tanh into (-1, 1). The mean μ(s) is predicted by an MLP
// and the log standard deviation is a learnable vector shared by all
// states.
//
// Actions are sampled with the reparameterization trick:
//
//	u = μ(s) + σ ⊙ ɛ,   ɛ ~ N(0, I)
//	a = tanh(u)
//
// The noise ɛ is an input node of the graph so that losses of sampled
// actions can be differentiated with respect to μ and σ. In
// evaluation mode the noise is zero and the policy selects tanh(μ(s)).
//
// A SquashedGaussian with a batch size of 1 can select actions with
// SelectAction. Larger batches are meant to be extended with loss
// nodes by a learner.
type SquashedGaussian struct {
	name string
	g    *G.ExprGraph
	net  network.NeuralNet

	logStd *G.Node
	noise  *G.Node
	action *G.Node

	logProb    *G.Node
	actionVal  *G.Value
	logProbVal *G.Value

	hiddenSizes []int
	biases      []bool
	activations []*network.Activation

	normal distuv.Normal
	vm     G.VM
	eval   bool

	features   int
	actionDims int
	batch      int
}

// NewSquashedGaussian returns a new SquashedGaussian on graph g. The
// mean network has hidden layers described by hiddenSizes, biases and
// activations (see network.NewMultiHeadMLP), with weights drawn from
// init. All nodes are prefixed by name. The seed determines the
// source of the action noise.
func NewSquashedGaussian(name string, features, actionDims, batch int,
	g *G.ExprGraph, hiddenSizes []int, biases []bool,
	activations []*network.Activation, init G.InitWFn,
	seed uint64) (*SquashedGaussian, error) {
	if actionDims < 1 {
		return nil, fmt.Errorf("newSquashedGaussian: action dimensions " +
			"must be positive")
	}

	net, err := network.NewMultiHeadMLP(name, features, batch, actionDims, g,
		hiddenSizes, biases, init, activations)
	if err != nil {
		return nil, fmt.Errorf("newSquashedGaussian: %w", err)
	}

	logStd := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, actionDims),
		G.WithName(name+"LogStd"),
		G.WithInit(G.Zeroes()),
	)

	p := &SquashedGaussian{
		name:        name,
		g:           g,
		net:         net,
		logStd:      logStd,
		hiddenSizes: append([]int(nil), hiddenSizes...),
		biases:      append([]bool(nil), biases...),
		activations: append([]*network.Activation(nil), activations...),
		normal: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(seed),
		},
		features:   features,
		actionDims: actionDims,
		batch:      batch,
	}
	p.build()

	return p, nil
}

// build adds the sampling and log probability nodes to the graph
func (p *SquashedGaussian) build() {
	p.noise = G.NewMatrix(
		p.g,
		tensor.Float64,
		G.WithShape(p.batch, p.actionDims),
		G.WithName(p.name+"Noise"),
		G.WithInit(G.Zeroes()),
	)

	std := G.Must(G.Exp(p.logStd))
	scaledNoise := G.Must(G.BroadcastHadamardProd(std, p.noise, []byte{0},
		nil))
	preTanh := G.Must(G.Add(p.net.Prediction(), scaledNoise))
	p.action = G.Must(G.Tanh(preTanh))

	// log π(a|s) = log N(u; μ, σ) - Σ log(1 - tanh(u)²), where
	// (u - μ) / σ is exactly the noise
	gaussian := p.gaussianLogProb(p.noise)
	squash := G.Must(G.Sub(G.NewConstant(1+squashEps), G.Must(G.Square(p.action))))
	correction := G.Must(G.Sum(G.Must(G.Log(squash)), 1))
	p.logProb = G.Must(G.Sub(gaussian, correction))

	p.actionVal = new(G.Value)
	p.logProbVal = new(G.Value)
	G.Read(p.action, p.actionVal)
	G.Read(p.logProb, p.logProbVal)
}

// gaussianLogProb returns the node computing log N(u; μ, σ) summed
// over action dimensions given the standardized values z = (u - μ) / σ
func (p *SquashedGaussian) gaussianLogProb(z *G.Node) *G.Node {
	halfSquare := G.Must(G.Mul(G.NewConstant(-0.5), G.Must(G.Square(z))))
	logProb := G.Must(G.Sum(halfSquare, 1))

	normalizer := G.Must(G.Add(
		G.Must(G.Sum(p.logStd)),
		G.NewConstant(0.5*float64(p.actionDims)*math.Log(2*math.Pi)),
	))
	return G.Must(G.Sub(logProb, normalizer))
}

// LogProbOf adds nodes computing the log probability of the pre-tanh
// actions preTanh under the Gaussian of the policy, that is before the
// tanh correction. The correction does not depend on the weights of
// the policy and so is left out. preTanh must be a node of the
// policy's graph with shape (batch, action dimensions).
func (p *SquashedGaussian) LogProbOf(preTanh *G.Node) (*G.Node, error) {
	if preTanh.Graph() != p.g {
		return nil, fmt.Errorf("logProbOf: actions are not on the policy's " +
			"graph")
	}
	if !preTanh.Shape().Eq(p.noise.Shape()) {
		return nil, fmt.Errorf("logProbOf: invalid action shape "+
			"\n\twant(%v)\n\thave(%v)", p.noise.Shape(), preTanh.Shape())
	}

	std := G.Must(G.Exp(p.logStd))
	diff := G.Must(G.Sub(preTanh, p.net.Prediction()))
	z := G.Must(G.BroadcastHadamardDiv(diff, std, nil, []byte{0}))
	return p.gaussianLogProb(z), nil
}

// CloneWithBatch returns a copy of the policy with a new batch size on
// a new graph. The weights of the clone equal those of the policy.
func (p *SquashedGaussian) CloneWithBatch(batch int,
	seed uint64) (*SquashedGaussian, error) {
	clone, err := NewSquashedGaussian(p.name, p.features, p.actionDims,
		batch, G.NewGraph(), p.hiddenSizes, p.biases, p.activations,
		G.Zeroes(), seed)
	if err != nil {
		return nil, fmt.Errorf("cloneWithBatch: %w", err)
	}
	if err := network.Set(clone, p); err != nil {
		return nil, fmt.Errorf("cloneWithBatch: %w", err)
	}
	return clone, nil
}

// SampleNoise draws new noise for the next run of the graph. In
// evaluation mode the noise is zero.
func (p *SquashedGaussian) SampleNoise() error {
	noise := make([]float64, p.batch*p.actionDims)
	if !p.eval {
		for i := range noise {
			noise[i] = p.normal.Rand()
		}
	}
	return p.SetNoise(noise)
}

// SetNoise sets the value of the noise input ɛ
func (p *SquashedGaussian) SetNoise(noise []float64) error {
	if len(noise) != p.batch*p.actionDims {
		return fmt.Errorf("setNoise: invalid noise size\n\twant(%v)"+
			"\n\thave(%v)", p.batch*p.actionDims, len(noise))
	}
	t := tensor.New(
		tensor.WithShape(p.batch, p.actionDims),
		tensor.WithBacking(noise),
	)
	return G.Let(p.noise, t)
}

// SelectAction selects an action in (-1, 1) for the observation of t.
// The policy must have a batch size of 1.
func (p *SquashedGaussian) SelectAction(t timestep.TimeStep) *mat.VecDense {
	if p.batch != 1 {
		panic("selectAction: cannot select actions with a batch policy")
	}

	obs := t.Observation.RawVector().Data
	if err := p.net.SetInput(append([]float64(nil), obs...)); err != nil {
		panic(fmt.Sprintf("selectAction: %v", err))
	}
	if err := p.SampleNoise(); err != nil {
		panic(fmt.Sprintf("selectAction: %v", err))
	}

	if p.vm == nil {
		p.vm = G.NewTapeMachine(p.g)
	}
	if err := p.vm.RunAll(); err != nil {
		panic(fmt.Sprintf("selectAction: could not run policy: %v", err))
	}
	p.vm.Reset()

	return mat.NewVecDense(p.actionDims, p.ActionValue())
}

// ActionValue returns a copy of the actions computed by the last run
// of the graph, in row major order
func (p *SquashedGaussian) ActionValue() []float64 {
	return copyValue(*p.actionVal)
}

// LogProbValue returns a copy of the log probabilities of the actions
// computed by the last run of the graph
func (p *SquashedGaussian) LogProbValue() []float64 {
	return copyValue(*p.logProbVal)
}

func copyValue(v G.Value) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v.Data().([]float64)...)
}

// Learnables returns the learnable nodes of the policy. The log
// standard deviation is last.
func (p *SquashedGaussian) Learnables() G.Nodes {
	learnables := append(G.Nodes(nil), p.net.Learnables()...)
	return append(learnables, p.logStd)
}

// Model returns the learnables of the policy with their gradients
func (p *SquashedGaussian) Model() []G.ValueGrad {
	learnables := p.Learnables()
	model := make([]G.ValueGrad, len(learnables))
	for i := range learnables {
		model[i] = learnables[i]
	}
	return model
}

// Network returns the network predicting the mean of the policy
func (p *SquashedGaussian) Network() network.NeuralNet { return p.net }

// Graph returns the computational graph of the policy
func (p *SquashedGaussian) Graph() *G.ExprGraph { return p.g }

// Input returns the state input node of the policy
func (p *SquashedGaussian) Input() *G.Node { return p.net.Input() }

// SetInput sets the states input to the policy
func (p *SquashedGaussian) SetInput(states []float64) error {
	return p.net.SetInput(states)
}

// Action returns the node of the squashed sampled actions
func (p *SquashedGaussian) Action() *G.Node { return p.action }

// LogProb returns the node of the log probabilities of the sampled
// actions, of shape (batch)
func (p *SquashedGaussian) LogProb() *G.Node { return p.logProb }

// LogStd returns the node of the log standard deviation
func (p *SquashedGaussian) LogStd() *G.Node { return p.logStd }

// BatchSize returns the batch size of the policy
func (p *SquashedGaussian) BatchSize() int { return p.batch }

// Features returns the number of features in a state
func (p *SquashedGaussian) Features() int { return p.features }

// ActionDims returns the number of action dimensions
func (p *SquashedGaussian) ActionDims() int { return p.actionDims }

// Eval sets the policy to evaluation mode
func (p *SquashedGaussian) Eval() { p.eval = true }

// Train sets the policy to training mode
func (p *SquashedGaussian) Train() { p.eval = false }

// IsEval returns whether the policy is in evaluation mode
func (p *SquashedGaussian) IsEval() bool { return p.eval }

// Close releases the resources of the policy's tape machine
func (p *SquashedGaussian) Close() error {
	if p.vm == nil {
		return nil
	}
	return p.vm.Close()
}
