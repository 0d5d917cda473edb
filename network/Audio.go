package network

import (
	"fmt"
	"strconv"
	"strings"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Model types understood by NewAudioEmbedder. An MLP model type lists
// its hidden layer sizes after the prefix, e.g. "mlp_256_256".
const (
	LinearModel = "linear"
	MLPModel    = "mlp"
)

// ParseModelType returns the hidden layer sizes described by modelType
func ParseModelType(modelType string) ([]int, error) {
	if modelType == LinearModel {
		return nil, nil
	}

	fields := strings.Split(modelType, "_")
	if fields[0] != MLPModel || len(fields) < 2 {
		return nil, fmt.Errorf("parseModelType: unknown model type %q",
			modelType)
	}

	sizes := make([]int, 0, len(fields)-1)
	for _, field := range fields[1:] {
		size, err := strconv.Atoi(field)
		if err != nil || size < 1 {
			return nil, fmt.Errorf("parseModelType: invalid layer size %q "+
				"in model type %q", field, modelType)
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}

// audioEmbedder maps raw audio of shape (batch, samples) to embeddings
// of shape (batch, outputs). Audio is split into non-overlapping frames
// of frameHop samples, each frame is embedded with an MLP, and frame
// embeddings are averaged over the frames of each clip.
type audioEmbedder struct {
	g         *G.ExprGraph
	modelType string
	input     *G.Node
	frameNet  *multiHeadMLP

	batch    int
	samples  int
	frameHop int
	outputs  int

	prediction *G.Node
	predVal    *G.Value
}

// NewAudioEmbedder returns the student embedding model described by
// modelType on graph g. The number of samples must be a multiple of
// frameHop.
func NewAudioEmbedder(modelType string, batch, samples, frameHop,
	outputs int, g *G.ExprGraph, init G.InitWFn) (NeuralNet, error) {
	hidden, err := ParseModelType(modelType)
	if err != nil {
		return nil, fmt.Errorf("newAudioEmbedder: %w", err)
	}
	if batch < 1 || outputs < 1 || frameHop < 1 {
		return nil, fmt.Errorf("newAudioEmbedder: batch (%v), outputs (%v) "+
			"and frame hop (%v) must be positive", batch, outputs, frameHop)
	}
	if samples < frameHop || samples%frameHop != 0 {
		return nil, fmt.Errorf("newAudioEmbedder: samples (%v) must be a "+
			"positive multiple of frame hop (%v)", samples, frameHop)
	}

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, samples),
		G.WithName("studentInput"), G.WithInit(G.Zeroes()))

	// Rows of the input are contiguous, so reshaping yields the frames
	// of clip b at rows b*frames ... (b+1)*frames-1
	frames := samples / frameHop
	framed := G.Must(G.Reshape(input, tensor.Shape{batch * frames, frameHop}))

	biases := make([]bool, len(hidden))
	for i := range biases {
		biases[i] = true
	}
	frameNet, err := newMultiHeadMLPFromInput("student", []*G.Node{framed},
		outputs, g, hidden, biases, init, ReLUs(len(hidden)), true)
	if err != nil {
		return nil, fmt.Errorf("newAudioEmbedder: %w", err)
	}

	pool := G.NewConstant(poolingMatrix(batch, frames),
		G.WithName("framePooling"))
	prediction := G.Must(G.Mul(pool, frameNet.Prediction()))

	a := &audioEmbedder{
		g:          g,
		modelType:  modelType,
		input:      input,
		frameNet:   frameNet,
		batch:      batch,
		samples:    samples,
		frameHop:   frameHop,
		outputs:    outputs,
		prediction: prediction,
		predVal:    new(G.Value),
	}
	G.Read(a.prediction, a.predVal)

	return a, nil
}

// poolingMatrix returns the (batch, batch*frames) matrix which averages
// the frame embeddings of each clip
func poolingMatrix(batch, frames int) *tensor.Dense {
	backing := make([]float64, batch*batch*frames)
	weight := 1.0 / float64(frames)
	for b := 0; b < batch; b++ {
		for f := 0; f < frames; f++ {
			backing[b*batch*frames+b*frames+f] = weight
		}
	}
	return tensor.New(tensor.WithShape(batch, batch*frames),
		tensor.WithBacking(backing))
}

// Graph returns the computational graph of the model
func (a *audioEmbedder) Graph() *G.ExprGraph {
	return a.g
}

// Clone clones the model to a new graph, copying its weights
func (a *audioEmbedder) Clone() (NeuralNet, error) {
	return a.CloneWithBatch(a.batch)
}

// CloneWithBatch clones the model to a new graph with a new batch
// size, copying its weights
func (a *audioEmbedder) CloneWithBatch(batch int) (NeuralNet, error) {
	clone, err := NewAudioEmbedder(a.modelType, batch, a.samples,
		a.frameHop, a.outputs, G.NewGraph(), G.Zeroes())
	if err != nil {
		return nil, fmt.Errorf("cloneWithBatch: %w", err)
	}
	if err := Set(clone, a); err != nil {
		return nil, fmt.Errorf("cloneWithBatch: %w", err)
	}
	return clone, nil
}

// CloneWithInputTo is not supported, since the input of the model is
// raw audio which is reshaped into frames.
func (a *audioEmbedder) CloneWithInputTo(int, []*G.Node,
	*G.ExprGraph) (NeuralNet, error) {
	return nil, fmt.Errorf("cloneWithInputTo: not supported by audio " +
		"embedding models")
}

// BatchSize returns the number of clips per batch
func (a *audioEmbedder) BatchSize() int {
	return a.batch
}

// Features returns the number of samples per clip
func (a *audioEmbedder) Features() int {
	return a.samples
}

// Outputs returns the embedding dimension
func (a *audioEmbedder) Outputs() int {
	return a.outputs
}

// Input returns the (batch, samples) input node
func (a *audioEmbedder) Input() *G.Node {
	return a.input
}

// SetInput sets the raw audio of a batch, in row major order
func (a *audioEmbedder) SetInput(input []float64) error {
	if len(input) != a.batch*a.samples {
		return fmt.Errorf("setInput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", a.batch*a.samples, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(a.batch, a.samples),
	)
	return G.Let(a.input, inputTensor)
}

// Learnables returns the learnable nodes of the frame MLP
func (a *audioEmbedder) Learnables() G.Nodes {
	return a.frameNet.Learnables()
}

// Model returns the learnable nodes with their gradients
func (a *audioEmbedder) Model() []G.ValueGrad {
	return a.frameNet.Model()
}

// Output returns the embeddings after the graph has been run
func (a *audioEmbedder) Output() G.Value {
	return *a.predVal
}

// Prediction returns the embedding node
func (a *audioEmbedder) Prediction() *G.Node {
	return a.prediction
}
