package snr

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/distillrl/agent"
	"github.com/samuelfneumann/distillrl/counting"
	"github.com/samuelfneumann/distillrl/demonstrations"
	"github.com/samuelfneumann/distillrl/timestep"
)

var testSpec = agent.EnvironmentSpec{ObservationDims: 3, ActionDims: 1}

func testConfig() Config {
	c := DefaultConfig()
	c.BatchSize = 4
	c.PolicyLayers = []int{8}
	c.CriticLayers = []int{8}
	c.NumBCIters = 1
	return c
}

func testTransitions(n int) []timestep.Transition {
	rng := rand.New(rand.NewSource(11))
	out := make([]timestep.Transition, n)
	for i := range out {
		state := mat.NewVecDense(3, []float64{rng.Float64(), rng.Float64(),
			rng.Float64()})
		next := mat.NewVecDense(3, []float64{rng.Float64(), rng.Float64(),
			rng.Float64()})
		out[i] = timestep.Transition{
			State:      state,
			Action:     mat.NewVecDense(1, []float64{2*rng.Float64() - 1}),
			Reward:     rng.Float64(),
			Discount:   1,
			NextState:  next,
			NextAction: mat.NewVecDense(1, nil),
		}
	}
	return out
}

func testBuilder(t *testing.T, c Config) *Builder {
	b, err := NewBuilder(c, demonstrations.FromTransitions(testTransitions(16),
		c.BatchSize, 3), WithActionBounds(r1.Interval{Min: -2, Max: 2}))
	require.NoError(t, err)
	return b
}

func testLearner(t *testing.T, b *Builder, seed uint64,
	logger *recorder, counter *counting.Counter) *Learner {
	networks, err := MakeNetworks(testSpec, b.Config(), seed)
	require.NoError(t, err)

	var l agent.Learner
	if logger == nil {
		l, err = b.MakeLearner(seed, networks, nil, counter)
	} else {
		l, err = b.MakeLearner(seed, networks, logger, counter)
	}
	require.NoError(t, err)
	return l.(*Learner)
}

type recorder struct {
	records []map[string]float64
}

func (r *recorder) Write(values map[string]float64) {
	r.records = append(r.records, values)
}

func equalVariables(t *testing.T, a, b [][]*tensor.Dense) {
	t.Helper()
	require.Len(t, b, len(a))
	for i := range a {
		require.Len(t, b[i], len(a[i]))
		for j := range a[i] {
			assert.Equal(t, a[i][j].Shape(), b[i][j].Shape())
			assert.Equal(t, a[i][j].Data(), b[i][j].Data())
		}
	}
}

func TestConfigValidate(t *testing.T) {
	negative := -1.0
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"batch", func(c *Config) { c.BatchSize = 0 }},
		{"policyLR", func(c *Config) { c.PolicyLR = 0 }},
		{"qLR", func(c *Config) { c.QLR = -1 }},
		{"sgdSteps", func(c *Config) { c.NumSGDStepsPerStep = 0 }},
		{"appliedTo", func(c *Config) { c.SNRAppliedTo = "value" }},
		{"bcIters", func(c *Config) { c.NumBCIters = -1 }},
		{"entropy", func(c *Config) { c.EntropyCoefficient = &negative }},
		{"tau", func(c *Config) { c.Tau = 0 }},
		{"powerIterations", func(c *Config) { c.SNRKwargs.PowerIterations = 0 }},
		{"layers", func(c *Config) { c.CriticLayers = []int{0} }},
		{"solver", func(c *Config) { c.Solver = "SGD" }},
	}

	require.NoError(t, testConfig().Validate())
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := testConfig()
			test.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestTypedConfigJSON(t *testing.T) {
	alpha := 0.2
	c := testConfig()
	c.EntropyCoefficient = &alpha

	data, err := json.Marshal(agent.NewTypedConfig(c))
	require.NoError(t, err)

	var typed agent.TypedConfig
	require.NoError(t, json.Unmarshal(data, &typed))
	assert.Equal(t, agent.SNR, typed.Type)

	got, ok := typed.Config.(Config)
	require.True(t, ok)
	assert.Equal(t, c.BatchSize, got.BatchSize)
	assert.Equal(t, c.SNRAppliedTo, got.SNRAppliedTo)
	assert.Equal(t, c.SNRKwargs, got.SNRKwargs)
	require.NotNil(t, got.EntropyCoefficient)
	assert.Equal(t, alpha, *got.EntropyCoefficient)
}

func TestMakeLearnerIsDeterministic(t *testing.T) {
	b := testBuilder(t, testConfig())
	names := []string{PolicyVariables, CriticVariables}

	first := testLearner(t, b, 42, nil, nil)
	defer first.Close()
	second := testLearner(t, b, 42, nil, nil)
	defer second.Close()

	a, err := first.Variables(names...)
	require.NoError(t, err)
	c, err := second.Variables(names...)
	require.NoError(t, err)
	equalVariables(t, a, c)

	// Identical learners stay identical
	for i := 0; i < 3; i++ {
		require.NoError(t, first.Step())
		require.NoError(t, second.Step())
	}
	a, err = first.Variables(names...)
	require.NoError(t, err)
	c, err = second.Variables(names...)
	require.NoError(t, err)
	equalVariables(t, a, c)
}

func TestMakeLearnerRejectsOtherNetworks(t *testing.T) {
	b := testBuilder(t, testConfig())
	_, err := b.MakeLearner(1, nil, nil, nil)
	assert.Error(t, err)
}

func TestMakeActorRequiresSource(t *testing.T) {
	b := testBuilder(t, testConfig())
	networks, err := MakeNetworks(testSpec, b.Config(), 1)
	require.NoError(t, err)

	for _, seed := range []uint64{0, 1, 99} {
		for _, pol := range []agent.Policy{nil, networks.Policy} {
			_, err := b.MakeActor(seed, pol, nil)
			assert.True(t, errors.Is(err, agent.ErrNoVariableSource))
		}
	}
}

func TestReplayHooks(t *testing.T) {
	b := testBuilder(t, testConfig())

	tables := b.MakeReplayTables(testSpec)
	assert.NotNil(t, tables)
	assert.Empty(t, tables)
	assert.Nil(t, b.MakeDatasetIterator(tables))
	assert.Nil(t, b.MakeAdder(tables))
	assert.Nil(t, b.MakeDatasetIterator(nil))
	assert.Nil(t, b.MakeAdder(nil))
}

func TestLearnerStep(t *testing.T) {
	b := testBuilder(t, testConfig())
	parent := counting.NewCounter(nil, "")
	counter := counting.NewCounter(parent, "learner")
	logger := &recorder{}

	l := testLearner(t, b, 5, logger, counter)
	defer l.Close()

	before, err := l.Variables(PolicyVariables)
	require.NoError(t, err)

	require.NoError(t, l.Step())
	require.NoError(t, l.Step())

	assert.Equal(t, 2, l.Steps())
	assert.Equal(t, 2, counter.Count("steps"))
	assert.Equal(t, 2, parent.Count("learner_steps"))

	require.Len(t, logger.records, 2)
	for _, key := range []string{"critic_loss", "policy_loss", "bc_loss",
		"q_loss", "alpha", "entropy", "learner_steps", "critic_sigma_max",
		"policy_sigma_max"} {
		assert.Contains(t, logger.records[1], key)
	}
	assert.Equal(t, 2.0, logger.records[1]["learner_steps"])

	after, err := l.Variables(PolicyVariables)
	require.NoError(t, err)
	assert.NotEqual(t, before[0][0].Data(), after[0][0].Data())

	_, err = l.Variables("value")
	assert.True(t, errors.Is(err, agent.ErrUnknownVariable))
}

func TestFixedEntropyCoefficient(t *testing.T) {
	alpha := 0.3
	c := testConfig()
	c.EntropyCoefficient = &alpha
	c.SNRAppliedTo = Critic
	logger := &recorder{}

	l := testLearner(t, testBuilder(t, c), 5, logger, nil)
	defer l.Close()

	require.NoError(t, l.Step())
	assert.Equal(t, alpha, logger.records[0]["alpha"])
	assert.NotContains(t, logger.records[0], "policy_sigma_max")
}

func TestActorPullsPolicy(t *testing.T) {
	b := testBuilder(t, testConfig())
	learner := testLearner(t, b, 5, nil, nil)
	defer learner.Close()
	require.NoError(t, learner.Step())

	networks, err := MakeNetworks(testSpec, b.Config(), 9)
	require.NoError(t, err)
	a, err := b.MakeActor(1, networks.Policy, learner)
	require.NoError(t, err)
	actor := a.(*Actor)
	defer actor.Close()

	actor.Eval()
	obs := mat.NewVecDense(3, []float64{0.1, 0.2, 0.3})
	action := actor.SelectAction(timestep.New(timestep.First, 0, 1, obs, 0))
	require.Equal(t, 1, action.Len())
	assert.LessOrEqual(t, action.AtVec(0), 2.0)
	assert.GreaterOrEqual(t, action.AtVec(0), -2.0)

	want, err := learner.Variables(PolicyVariables)
	require.NoError(t, err)
	got := [][]*tensor.Dense{nil}
	for _, node := range actor.policy.Learnables() {
		got[0] = append(got[0], node.Value().(*tensor.Dense))
	}
	equalVariables(t, want, got)

	require.NoError(t, learner.Step())
	require.NoError(t, actor.Update(true))
	want, err = learner.Variables(PolicyVariables)
	require.NoError(t, err)
	assert.Equal(t, want[0][0].Data(),
		actor.policy.Learnables()[0].Value().Data())
}

func TestSpectralNorm(t *testing.T) {
	g := G.NewGraph()
	w := G.NewMatrix(g, tensor.Float64, G.WithShape(2, 3), G.WithName("w"),
		G.WithValue(tensor.New(tensor.WithShape(2, 3),
			tensor.WithBacking([]float64{3, 0, 0, 0, 1, 0}))))

	config := PowerIterationConfig{PowerIterations: 20, Eps: 1e-12}
	s, err := newSpectralNorm("test", G.Nodes{w}, config, rand.NewSource(1))
	require.NoError(t, err)
	require.NoError(t, s.update())
	assert.InDelta(t, 3.0, s.Max(), 1e-6)

	var penalty G.Value
	G.Read(s.Penalty(), &penalty)
	vm := G.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	assert.InDelta(t, 3.0, penalty.Data().(float64), 1e-6)
}
