package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/distillrl/network"
	"github.com/samuelfneumann/distillrl/timestep"
)

func newZeroPolicy(t *testing.T, batch int) *SquashedGaussian {
	p, err := NewSquashedGaussian("policy", 3, 2, batch, G.NewGraph(),
		[]int{4}, []bool{true}, network.ReLUs(1), G.Zeroes(), 1)
	require.NoError(t, err)
	return p
}

func TestSelectActionEval(t *testing.T) {
	p := newZeroPolicy(t, 1)
	defer p.Close()

	p.Eval()
	assert.True(t, p.IsEval())

	obs := mat.NewVecDense(3, []float64{1, 2, 3})
	step := timestep.New(timestep.First, 0, 1, obs, 0)
	action := p.SelectAction(step)

	require.Equal(t, 2, action.Len())
	assert.Equal(t, 0.0, action.AtVec(0))
	assert.Equal(t, 0.0, action.AtVec(1))
}

func TestSelectActionTrainIsBounded(t *testing.T) {
	p := newZeroPolicy(t, 1)
	defer p.Close()

	obs := mat.NewVecDense(3, []float64{1, 2, 3})
	step := timestep.New(timestep.First, 0, 1, obs, 0)
	for i := 0; i < 10; i++ {
		action := p.SelectAction(step)
		for j := 0; j < action.Len(); j++ {
			assert.Less(t, math.Abs(action.AtVec(j)), 1.0)
		}
	}
}

func TestSelectActionBatchPanics(t *testing.T) {
	p := newZeroPolicy(t, 2)
	obs := mat.NewVecDense(3, nil)
	assert.Panics(t, func() {
		p.SelectAction(timestep.New(timestep.First, 0, 1, obs, 0))
	})
}

func TestLogProb(t *testing.T) {
	p := newZeroPolicy(t, 2)
	noise := []float64{0.5, -1, 0, 2}
	require.NoError(t, p.SetInput(make([]float64, 6)))
	require.NoError(t, p.SetNoise(noise))

	vm := G.NewTapeMachine(p.Graph())
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	logProbs := p.LogProbValue()
	require.Len(t, logProbs, 2)
	for i := 0; i < 2; i++ {
		want := 0.0
		for _, e := range noise[2*i : 2*i+2] {
			want += -0.5*e*e - 0.5*math.Log(2*math.Pi) -
				math.Log(1+squashEps-math.Pow(math.Tanh(e), 2))
		}
		assert.InDelta(t, want, logProbs[i], 1e-9)
	}

	actions := p.ActionValue()
	for i, e := range noise {
		assert.InDelta(t, math.Tanh(e), actions[i], 1e-12)
	}
}

func TestLogProbOf(t *testing.T) {
	p := newZeroPolicy(t, 1)
	preTanh := G.NewMatrix(p.Graph(), tensor.Float64, G.WithShape(1, 2),
		G.WithName("preTanh"), G.WithInit(G.Zeroes()))
	logProb, err := p.LogProbOf(preTanh)
	require.NoError(t, err)

	var val G.Value
	G.Read(logProb, &val)

	require.NoError(t, p.SetInput(make([]float64, 3)))
	require.NoError(t, G.Let(preTanh, tensor.New(tensor.WithShape(1, 2),
		tensor.WithBacking([]float64{1, -2}))))

	vm := G.NewTapeMachine(p.Graph())
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	want := -0.5*(1+4) - math.Log(2*math.Pi)
	assert.InDelta(t, want, val.Data().([]float64)[0], 1e-9)

	wrong := G.NewMatrix(p.Graph(), tensor.Float64, G.WithShape(1, 3),
		G.WithName("wrong"), G.WithInit(G.Zeroes()))
	_, err = p.LogProbOf(wrong)
	assert.Error(t, err)
}

func TestCloneWithBatch(t *testing.T) {
	init := G.Uniform(-1, 1)
	p, err := NewSquashedGaussian("policy", 3, 2, 1, G.NewGraph(), []int{4},
		[]bool{true}, network.ReLUs(1), init, 1)
	require.NoError(t, err)

	clone, err := p.CloneWithBatch(5, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, clone.BatchSize())

	want := network.Params(p)
	got := network.Params(clone)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Data(), got[i].Data())
	}
	assert.Len(t, p.Learnables(), 5)
	assert.Same(t, p.LogStd(), p.Learnables()[4])
}
