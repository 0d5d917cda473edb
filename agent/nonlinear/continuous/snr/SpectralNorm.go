package snr

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// weighted is a network exposing the weight matrices of its layers
type weighted interface {
	Weights() G.Nodes
}

// spectralNorm regularizes the largest singular values of a set of
// weight matrices.
//
// For each weight matrix W, the leading left and right singular
// vectors u and v are estimated by power iteration outside of the
// graph. The graph holds u and v as inputs and computes the penalty
//
//	Σ_W uᵀ W v
//
// whose value is the sum of the estimated spectral norms and whose
// gradient with respect to W is u vᵀ. The singular vectors persist
// between calls to update.
type spectralNorm struct {
	weights G.Nodes
	uNodes  []*G.Node
	vNodes  []*G.Node
	u       []*mat.VecDense
	v       []*mat.VecDense
	sigmas  []float64

	iterations int
	eps        float64

	penalty *G.Node
}

// newSpectralNorm adds the spectral norm penalty of weights to their
// graph. Each weight must be a matrix. The singular vectors are
// initialized from src.
func newSpectralNorm(name string, weights G.Nodes, config PowerIterationConfig,
	src rand.Source) (*spectralNorm, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("newSpectralNorm: no weights")
	}
	g := weights[0].Graph()
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	s := &spectralNorm{
		weights:    weights,
		uNodes:     make([]*G.Node, len(weights)),
		vNodes:     make([]*G.Node, len(weights)),
		u:          make([]*mat.VecDense, len(weights)),
		v:          make([]*mat.VecDense, len(weights)),
		sigmas:     make([]float64, len(weights)),
		iterations: config.PowerIterations,
		eps:        config.Eps,
	}

	var penalty *G.Node
	for i, w := range weights {
		if !w.IsMatrix() {
			return nil, fmt.Errorf("newSpectralNorm: weight %v is not a "+
				"matrix", i)
		}
		rows, cols := w.Shape()[0], w.Shape()[1]

		s.u[i] = mat.NewVecDense(rows, nil)
		for j := 0; j < rows; j++ {
			s.u[i].SetVec(j, normal.Rand())
		}
		s.normalize(s.u[i])
		s.v[i] = mat.NewVecDense(cols, nil)

		s.uNodes[i] = G.NewMatrix(g, tensor.Float64, G.WithShape(1, rows),
			G.WithName(fmt.Sprintf("%vSNRU%d", name, i)),
			G.WithInit(G.Zeroes()))
		s.vNodes[i] = G.NewMatrix(g, tensor.Float64, G.WithShape(cols, 1),
			G.WithName(fmt.Sprintf("%vSNRV%d", name, i)),
			G.WithInit(G.Zeroes()))

		uw := G.Must(G.Mul(s.uNodes[i], w))
		sigma := G.Must(G.Sum(G.Must(G.Mul(uw, s.vNodes[i]))))
		if penalty == nil {
			penalty = sigma
		} else {
			penalty = G.Must(G.Add(penalty, sigma))
		}
	}
	s.penalty = penalty

	return s, nil
}

// update runs power iteration on the current value of each weight and
// sets the singular vector inputs of the graph
func (s *spectralNorm) update() error {
	for i, w := range s.weights {
		rows, cols := w.Shape()[0], w.Shape()[1]
		data := w.Value().Data().([]float64)
		W := mat.NewDense(rows, cols, data)

		u, v := s.u[i], s.v[i]
		for j := 0; j < s.iterations; j++ {
			v.MulVec(W.T(), u)
			s.normalize(v)
			u.MulVec(W, v)
			s.normalize(u)
		}

		var wv mat.VecDense
		wv.MulVec(W, v)
		s.sigmas[i] = mat.Dot(u, &wv)

		uData := append([]float64(nil), u.RawVector().Data...)
		vData := append([]float64(nil), v.RawVector().Data...)
		if err := G.Let(s.uNodes[i], tensor.New(tensor.WithShape(1, rows),
			tensor.WithBacking(uData))); err != nil {
			return fmt.Errorf("update: %w", err)
		}
		if err := G.Let(s.vNodes[i], tensor.New(tensor.WithShape(cols, 1),
			tensor.WithBacking(vData))); err != nil {
			return fmt.Errorf("update: %w", err)
		}
	}
	return nil
}

func (s *spectralNorm) normalize(x *mat.VecDense) {
	x.ScaleVec(1/(mat.Norm(x, 2)+s.eps), x)
}

// Penalty returns the scalar node of the summed spectral norms
func (s *spectralNorm) Penalty() *G.Node {
	return s.penalty
}

// Max returns the largest spectral norm estimated by the last update
func (s *spectralNorm) Max() float64 {
	max := s.sigmas[0]
	for _, sigma := range s.sigmas[1:] {
		if sigma > max {
			max = sigma
		}
	}
	return max
}

// Sigmas returns a copy of the spectral norms estimated by the last
// update, one per weight
func (s *spectralNorm) Sigmas() []float64 {
	return append([]float64(nil), s.sigmas...)
}
