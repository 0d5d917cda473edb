// Package network implements neural networks on Gorgonia computational
// graphs, along with functions for copying, averaging and
// snapshotting their weights.
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Parameterized is anything with learnable nodes on a computational
// graph. The order of the returned learnables must be stable so that
// weights can be copied between two Parameterized values of the same
// architecture.
type Parameterized interface {
	Learnables() G.Nodes
}

// NeuralNet implements a neural network on a Gorgonia computational
// graph
type NeuralNet interface {
	Parameterized

	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)

	// CloneWithInputTo clones the network to graph g using inputs as
	// the input node. Multiple inputs are concatenated along axis.
	CloneWithInputTo(axis int, inputs []*G.Node, g *G.ExprGraph) (NeuralNet,
		error)

	BatchSize() int
	Features() int
	Outputs() int
	Input() *G.Node
	SetInput([]float64) error
	Model() []G.ValueGrad
	Output() G.Value
	Prediction() *G.Node
}

// Set sets the weights of dest to be equal to the weights of source
func Set(dest, source Parameterized) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(nodes) != len(sourceNodes) {
		return fmt.Errorf("set: cannot set weights of network with %v "+
			"learnables from network with %v learnables", len(nodes),
			len(sourceNodes))
	}

	for i := range nodes {
		sourceWeights, ok := sourceNodes[i].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("set: learnable %v is not a dense tensor", i)
		}
		if !sourceWeights.Shape().Eq(nodes[i].Shape()) {
			return fmt.Errorf("set: learnable %v shape mismatch %v != %v",
				i, nodes[i].Shape(), sourceWeights.Shape())
		}
		if err := G.Let(nodes[i], sourceWeights.Clone().(*tensor.Dense)); err != nil {
			return fmt.Errorf("set: could not set learnable %v: %w", i, err)
		}
	}
	return nil
}

// Polyak sets the weights of dest to be a polyak average between its
// existing weights and the weights of source:
//
//	dest ← (1 - tau) * dest + tau * source
func Polyak(dest, source Parameterized, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(nodes) != len(sourceNodes) {
		return fmt.Errorf("polyak: learnables mismatch %v != %v",
			len(nodes), len(sourceNodes))
	}

	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		if err := G.Let(nodes[i], newWeights); err != nil {
			return err
		}
	}
	return nil
}

// Params returns a snapshot of the weights of p. The returned tensors
// do not share memory with p.
func Params(p Parameterized) []*tensor.Dense {
	learnables := p.Learnables()
	params := make([]*tensor.Dense, len(learnables))
	for i, node := range learnables {
		params[i] = node.Value().(*tensor.Dense).Clone().(*tensor.Dense)
	}
	return params
}

// SetParams sets the weights of p from a snapshot returned by Params
func SetParams(p Parameterized, params []*tensor.Dense) error {
	learnables := p.Learnables()
	if len(learnables) != len(params) {
		return fmt.Errorf("setParams: want %v tensors, got %v",
			len(learnables), len(params))
	}

	for i, node := range learnables {
		if !params[i].Shape().Eq(node.Shape()) {
			return fmt.Errorf("setParams: tensor %v shape mismatch "+
				"\n\twant(%v)\n\thave(%v)", i, node.Shape(), params[i].Shape())
		}
		if err := G.Let(node, params[i].Clone().(*tensor.Dense)); err != nil {
			return fmt.Errorf("setParams: could not set tensor %v: %w", i, err)
		}
	}
	return nil
}
