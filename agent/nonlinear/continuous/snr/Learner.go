package snr

import (
	"fmt"
	"math"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/distillrl/agent"
	"github.com/samuelfneumann/distillrl/agent/nonlinear/continuous/policy"
	"github.com/samuelfneumann/distillrl/counting"
	"github.com/samuelfneumann/distillrl/logging"
	"github.com/samuelfneumann/distillrl/network"
	"github.com/samuelfneumann/distillrl/solver"
	"github.com/samuelfneumann/distillrl/timestep"
	"github.com/samuelfneumann/distillrl/utils/floatutils"
)

// Variable names served by the Learner
const (
	PolicyVariables = "policy"
	CriticVariables = "critic"
)

// atanhEps clips demonstration actions away from ±1 before inverting
// the tanh squashing of the policy
const atanhEps float64 = 1e-6

// Learner implements the SNR learner: an offline soft actor critic
// whose policy is trained by behaviour cloning for a number of initial
// steps, and whose networks are regularized by the spectral norms of
// their weights.
//
// Each SGD step draws a batch of demonstrations and:
//
//  1. updates the critic towards the TD target
//     r + γ·d·(Q_target(s', a') - α·log π(a'|s')), a' ~ π(·|s')
//  2. updates the policy on
//     bcW·(-log π(a|s)) + (1-bcW)·(-Q(s, ã)) + α·log π(ã|s), ã ~ π(·|s)
//     where bcW is 1 during behaviour cloning and 0 afterwards
//  3. updates α if it is learned
//  4. Polyak averages the target critic towards the critic
//
// Networks selected by the config add SNRAlpha times the sum of the
// spectral norms of their weight matrices to their loss. The penalty
// is disabled during behaviour cloning unless UseSNRInBCIters is set.
//
// The Learner is a VariableSource of the policy and critic weights.
// Variables may be called concurrently with Step.
type Learner struct {
	config         Config
	demonstrations agent.Iterator
	logger         logging.Logger
	counter        *counting.Counter

	mu sync.Mutex

	features   int
	actionDims int
	batchSize  int

	// Policy update
	policy          *policy.SquashedGaussian
	policyCritic    network.NeuralNet
	dataPreTanh     *G.Node
	bcWeight        *G.Node
	qWeight         *G.Node
	alphaNode       *G.Node
	policySNRWeight *G.Node
	policySNR       *spectralNorm
	policyLossVal   *G.Value
	bcLossVal       *G.Value
	qLossVal        *G.Value
	policyVM        G.VM
	policySolver    *solver.Solver

	// Actions in next states for TD targets
	nextPolicy   *policy.SquashedGaussian
	nextPolicyVM G.VM

	// Critic update
	critic          network.NeuralNet
	targets         *G.Node
	criticSNRWeight *G.Node
	criticSNR       *spectralNorm
	criticLossVal   *G.Value
	criticVM        G.VM
	criticSolver    *solver.Solver

	targetCritic   network.NeuralNet
	targetCriticVM G.VM

	learnAlpha    bool
	logAlpha      float64
	targetEntropy float64

	steps int
}

// NewLearner returns a new Learner training clones of networks on
// batches from demonstrations. The seed determines the action noise
// and the initial singular vectors of the spectral norm estimates. A
// nil counter is replaced by a new counter and a nil logger by
// logging.Discard.
func NewLearner(c Config, networks *Networks, demonstrations agent.Iterator,
	logger logging.Logger, counter *counting.Counter,
	seed uint64) (*Learner, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newLearner: %w", err)
	}
	if err := networks.Validate(); err != nil {
		return nil, fmt.Errorf("newLearner: %w", err)
	}
	if demonstrations == nil {
		return nil, fmt.Errorf("newLearner: no demonstrations")
	}
	if logger == nil {
		logger = logging.Discard
	}
	if counter == nil {
		counter = counting.NewCounter(nil, "learner")
	}

	l := &Learner{
		config:         c,
		demonstrations: demonstrations,
		logger:         logger,
		counter:        counter,
		features:       networks.Policy.Features(),
		actionDims:     networks.Policy.ActionDims(),
		batchSize:      c.BatchSize,
		learnAlpha:     c.EntropyCoefficient == nil,
		targetEntropy:  c.targetEntropy(networks.Policy.ActionDims()),
	}

	if err := l.buildCritic(networks.Critic, seed); err != nil {
		return nil, fmt.Errorf("newLearner: %w", err)
	}
	if err := l.buildPolicy(networks.Policy, seed); err != nil {
		return nil, fmt.Errorf("newLearner: %w", err)
	}

	var err error
	l.policySolver, err = solver.New(c.solverType(), c.PolicyLR, 1)
	if err != nil {
		return nil, fmt.Errorf("newLearner: %w", err)
	}
	l.criticSolver, err = solver.New(c.solverType(), c.QLR, 1)
	if err != nil {
		return nil, fmt.Errorf("newLearner: %w", err)
	}

	return l, nil
}

// buildCritic creates the graphs of the critic, its TD error loss and
// the target critic
func (l *Learner) buildCritic(source network.NeuralNet, seed uint64) error {
	critic, err := source.CloneWithBatch(l.batchSize)
	if err != nil {
		return fmt.Errorf("buildCritic: %w", err)
	}
	if err := network.Set(critic, source); err != nil {
		return fmt.Errorf("buildCritic: %w", err)
	}
	g := critic.Graph()

	targetCritic, err := critic.CloneWithBatch(l.batchSize)
	if err != nil {
		return fmt.Errorf("buildCritic: could not create target: %w", err)
	}
	if err := network.Set(targetCritic, critic); err != nil {
		return fmt.Errorf("buildCritic: could not create target: %w", err)
	}

	targets := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(l.batchSize, 1),
		G.WithName("criticTargets"),
		G.WithInit(G.Zeroes()),
	)
	loss := G.Must(G.Sub(critic.Prediction(), targets))
	loss = G.Must(G.Mean(G.Must(G.Square(loss))))

	if l.config.SNRAppliedTo.regularizes(Critic) {
		l.criticSNRWeight = newWeight(g, "criticSNRWeight")
		l.criticSNR, err = newSpectralNorm("critic",
			critic.(weighted).Weights(), l.config.SNRKwargs,
			rand.NewSource(seed+2))
		if err != nil {
			return fmt.Errorf("buildCritic: %w", err)
		}
		penalty := G.Must(G.Mul(l.criticSNRWeight, l.criticSNR.Penalty()))
		loss = G.Must(G.Add(loss, penalty))
	}

	l.criticLossVal = new(G.Value)
	G.Read(loss, l.criticLossVal)

	if _, err := G.Grad(loss, critic.Learnables()...); err != nil {
		return fmt.Errorf("buildCritic: could not compute gradient: %w",
			err)
	}

	l.critic = critic
	l.targets = targets
	l.targetCritic = targetCritic
	l.criticVM = G.NewTapeMachine(g, G.BindDualValues(critic.Learnables()...))
	l.targetCriticVM = G.NewTapeMachine(targetCritic.Graph())
	return nil
}

// buildPolicy creates the graph of the policy and its loss and the
// graph sampling next actions. The critic must already be built.
func (l *Learner) buildPolicy(source *policy.SquashedGaussian,
	seed uint64) error {
	pol, err := source.CloneWithBatch(l.batchSize, seed)
	if err != nil {
		return fmt.Errorf("buildPolicy: %w", err)
	}
	g := pol.Graph()

	nextPolicy, err := pol.CloneWithBatch(l.batchSize, seed+1)
	if err != nil {
		return fmt.Errorf("buildPolicy: could not create next action "+
			"policy: %w", err)
	}

	// Q(s, ã) with ã the reparameterized action of the policy
	policyCritic, err := l.critic.CloneWithInputTo(1,
		[]*G.Node{pol.Input(), pol.Action()}, g)
	if err != nil {
		return fmt.Errorf("buildPolicy: could not clone critic: %w", err)
	}

	dataPreTanh := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(l.batchSize, l.actionDims),
		G.WithName("policyDataPreTanh"),
		G.WithInit(G.Zeroes()),
	)
	bcLogProb, err := pol.LogProbOf(dataPreTanh)
	if err != nil {
		return fmt.Errorf("buildPolicy: %w", err)
	}

	bcLoss := G.Must(G.Neg(G.Must(G.Mean(bcLogProb))))
	qLoss := G.Must(G.Neg(G.Must(G.Mean(policyCritic.Prediction()))))
	entropyLoss := G.Must(G.Mean(pol.LogProb()))

	l.bcWeight = newWeight(g, "policyBCWeight")
	l.qWeight = newWeight(g, "policyQWeight")
	l.alphaNode = newWeight(g, "policyAlpha")

	loss := G.Must(G.Add(
		G.Must(G.Mul(l.bcWeight, bcLoss)),
		G.Must(G.Mul(l.qWeight, qLoss)),
	))
	loss = G.Must(G.Add(loss, G.Must(G.Mul(l.alphaNode, entropyLoss))))

	if l.config.SNRAppliedTo.regularizes(Policy) {
		net, ok := pol.Network().(weighted)
		if !ok {
			return fmt.Errorf("buildPolicy: policy does not expose its " +
				"weights")
		}
		l.policySNRWeight = newWeight(g, "policySNRWeight")
		l.policySNR, err = newSpectralNorm("policy", net.Weights(),
			l.config.SNRKwargs, rand.NewSource(seed+3))
		if err != nil {
			return fmt.Errorf("buildPolicy: %w", err)
		}
		penalty := G.Must(G.Mul(l.policySNRWeight, l.policySNR.Penalty()))
		loss = G.Must(G.Add(loss, penalty))
	}

	l.policyLossVal = new(G.Value)
	l.bcLossVal = new(G.Value)
	l.qLossVal = new(G.Value)
	G.Read(loss, l.policyLossVal)
	G.Read(bcLoss, l.bcLossVal)
	G.Read(qLoss, l.qLossVal)

	if _, err := G.Grad(loss, pol.Learnables()...); err != nil {
		return fmt.Errorf("buildPolicy: could not compute gradient: %w",
			err)
	}

	l.policy = pol
	l.policyCritic = policyCritic
	l.dataPreTanh = dataPreTanh
	l.nextPolicy = nextPolicy
	l.policyVM = G.NewTapeMachine(g, G.BindDualValues(pol.Learnables()...))
	l.nextPolicyVM = G.NewTapeMachine(nextPolicy.Graph())
	return nil
}

// newWeight adds a scalar input to g which weights a loss term
func newWeight(g *G.ExprGraph, name string) *G.Node {
	return G.NewScalar(g, tensor.Float64, G.WithName(name),
		G.WithValue(G.NewF64(0.0)))
}

// Step performs a single learner step of NumSGDStepsPerStep SGD steps
func (l *Learner) Step() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bc := l.config.BCIters(l.steps)
	stats := make(map[string]float64)

	for i := 0; i < l.config.NumSGDStepsPerStep; i++ {
		batch, err := l.demonstrations.Next()
		if err != nil {
			return fmt.Errorf("step: could not get demonstrations: %w", err)
		}
		if err := batch.Validate(l.features, l.actionDims); err != nil {
			return fmt.Errorf("step: %w", err)
		}
		if batch.Size != l.batchSize {
			return fmt.Errorf("step: invalid batch size\n\twant(%v)"+
				"\n\thave(%v)", l.batchSize, batch.Size)
		}

		if err := l.updateCritic(batch, bc, stats); err != nil {
			return fmt.Errorf("step: %w", err)
		}
		if err := l.updatePolicy(batch, bc, stats); err != nil {
			return fmt.Errorf("step: %w", err)
		}
		if err := network.Polyak(l.targetCritic, l.critic,
			l.config.Tau); err != nil {
			return fmt.Errorf("step: could not update target critic: %w",
				err)
		}
	}

	counts := l.counter.Increment(map[string]int{"steps": 1})
	l.steps++

	stats["learner_steps"] = float64(counts["steps"])
	stats["alpha"] = l.alpha()
	l.logger.Write(stats)

	return nil
}

// snrWeight returns the weight of spectral norm penalties
func (l *Learner) snrWeight(bc bool) float64 {
	if bc && !l.config.UseSNRInBCIters {
		return 0
	}
	return l.config.SNRAlpha
}

func (l *Learner) alpha() float64 {
	if l.learnAlpha {
		return math.Exp(l.logAlpha)
	}
	return *l.config.EntropyCoefficient
}

// updateCritic takes one SGD step of the critic on batch
func (l *Learner) updateCritic(batch timestep.Batch, bc bool,
	stats map[string]float64) error {
	// Sample next actions from the current policy
	if err := network.Set(l.nextPolicy, l.policy); err != nil {
		return fmt.Errorf("updateCritic: %w", err)
	}
	if err := l.nextPolicy.SetInput(batch.NextState); err != nil {
		return fmt.Errorf("updateCritic: %w", err)
	}
	if err := l.nextPolicy.SampleNoise(); err != nil {
		return fmt.Errorf("updateCritic: %w", err)
	}
	if err := l.nextPolicyVM.RunAll(); err != nil {
		return fmt.Errorf("updateCritic: could not sample next actions: %w",
			err)
	}
	l.nextPolicyVM.Reset()
	nextActions := l.nextPolicy.ActionValue()
	nextLogProbs := l.nextPolicy.LogProbValue()

	// Target values
	nextInput := concat(batch.NextState, l.features, nextActions,
		l.actionDims)
	if err := l.targetCritic.SetInput(nextInput); err != nil {
		return fmt.Errorf("updateCritic: %w", err)
	}
	if err := l.targetCriticVM.RunAll(); err != nil {
		return fmt.Errorf("updateCritic: could not run target critic: %w",
			err)
	}
	l.targetCriticVM.Reset()
	nextValues := l.targetCritic.Output().Data().([]float64)

	alpha := l.alpha()
	targets := make([]float64, batch.Size)
	for i := range targets {
		softValue := nextValues[i] - alpha*nextLogProbs[i]
		targets[i] = batch.Reward[i] +
			l.config.Discount*batch.Discount[i]*softValue
	}
	targetTensor := tensor.New(
		tensor.WithShape(batch.Size, 1),
		tensor.WithBacking(targets),
	)
	if err := G.Let(l.targets, targetTensor); err != nil {
		return fmt.Errorf("updateCritic: could not set targets: %w", err)
	}

	input := concat(batch.State, l.features, batch.Action, l.actionDims)
	if err := l.critic.SetInput(input); err != nil {
		return fmt.Errorf("updateCritic: %w", err)
	}
	if l.criticSNR != nil {
		if err := l.criticSNR.update(); err != nil {
			return fmt.Errorf("updateCritic: %w", err)
		}
		err := G.Let(l.criticSNRWeight, G.NewF64(l.snrWeight(bc)))
		if err != nil {
			return fmt.Errorf("updateCritic: %w", err)
		}
		stats["critic_sigma_max"] = l.criticSNR.Max()
	}

	if err := l.criticVM.RunAll(); err != nil {
		return fmt.Errorf("updateCritic: could not run critic: %w", err)
	}
	if err := l.criticSolver.Step(l.critic.Model()); err != nil {
		return fmt.Errorf("updateCritic: could not step critic: %w", err)
	}
	l.criticVM.Reset()

	stats["critic_loss"] = scalarValue(*l.criticLossVal)
	return nil
}

// updatePolicy takes one SGD step of the policy on batch and, if
// learned, one step of the entropy temperature
func (l *Learner) updatePolicy(batch timestep.Batch, bc bool,
	stats map[string]float64) error {
	if err := network.Set(l.policyCritic, l.critic); err != nil {
		return fmt.Errorf("updatePolicy: %w", err)
	}
	if err := l.policy.SetInput(batch.State); err != nil {
		return fmt.Errorf("updatePolicy: %w", err)
	}
	if err := l.policy.SampleNoise(); err != nil {
		return fmt.Errorf("updatePolicy: %w", err)
	}

	preTanh := make([]float64, len(batch.Action))
	for i, a := range batch.Action {
		preTanh[i] = floatutils.Atanh(a, atanhEps)
	}
	preTanhTensor := tensor.New(
		tensor.WithShape(batch.Size, l.actionDims),
		tensor.WithBacking(preTanh),
	)
	if err := G.Let(l.dataPreTanh, preTanhTensor); err != nil {
		return fmt.Errorf("updatePolicy: could not set actions: %w", err)
	}

	bcWeight, qWeight := 0.0, 1.0
	if bc {
		bcWeight, qWeight = 1.0, 0.0
	}
	weights := map[*G.Node]float64{
		l.bcWeight:  bcWeight,
		l.qWeight:   qWeight,
		l.alphaNode: l.alpha(),
	}
	if l.policySNR != nil {
		if err := l.policySNR.update(); err != nil {
			return fmt.Errorf("updatePolicy: %w", err)
		}
		weights[l.policySNRWeight] = l.snrWeight(bc)
		stats["policy_sigma_max"] = l.policySNR.Max()
	}
	for node, weight := range weights {
		if err := G.Let(node, G.NewF64(weight)); err != nil {
			return fmt.Errorf("updatePolicy: %w", err)
		}
	}

	if err := l.policyVM.RunAll(); err != nil {
		return fmt.Errorf("updatePolicy: could not run policy: %w", err)
	}
	if err := l.policySolver.Step(l.policy.Model()); err != nil {
		return fmt.Errorf("updatePolicy: could not step policy: %w", err)
	}
	l.policyVM.Reset()

	meanLogProb := stat.Mean(l.policy.LogProbValue(), nil)
	if l.learnAlpha {
		// SGD on -log α · (log π + target entropy)
		l.logAlpha += l.config.PolicyLR * (meanLogProb + l.targetEntropy)
	}

	stats["policy_loss"] = scalarValue(*l.policyLossVal)
	stats["bc_loss"] = scalarValue(*l.bcLossVal)
	stats["q_loss"] = scalarValue(*l.qLossVal)
	stats["entropy"] = -meanLogProb
	return nil
}

// Variables returns copies of the weights of the named networks,
// either PolicyVariables or CriticVariables
func (l *Learner) Variables(names ...string) ([][]*tensor.Dense, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	vars := make([][]*tensor.Dense, len(names))
	for i, name := range names {
		switch name {
		case PolicyVariables:
			vars[i] = network.Params(l.policy)
		case CriticVariables:
			vars[i] = network.Params(l.critic)
		default:
			return nil, fmt.Errorf("variables: %w %q", agent.ErrUnknownVariable,
				name)
		}
	}
	return vars, nil
}

// Steps returns the number of learner steps taken
func (l *Learner) Steps() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.steps
}

// Close releases the resources held by the tape machines of the
// Learner
func (l *Learner) Close() error {
	for _, vm := range []G.VM{l.policyVM, l.nextPolicyVM, l.criticVM,
		l.targetCriticVM} {
		if err := vm.Close(); err != nil {
			return err
		}
	}
	return nil
}

// concat concatenates the rows of a and b, matrices in row major order
// with aCols and bCols columns
func concat(a []float64, aCols int, b []float64, bCols int) []float64 {
	rows := len(a) / aCols
	out := make([]float64, 0, len(a)+len(b))
	for i := 0; i < rows; i++ {
		out = append(out, a[i*aCols:(i+1)*aCols]...)
		out = append(out, b[i*bCols:(i+1)*bCols]...)
	}
	return out
}

func scalarValue(v G.Value) float64 {
	if v == nil {
		return math.NaN()
	}
	switch data := v.Data().(type) {
	case float64:
		return data
	case []float64:
		return data[0]
	}
	return math.NaN()
}
