package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// MLP implements a multi-layered perceptron
type MLP struct {
	g          *G.ExprGraph
	layers     []*fcLayer
	input      *G.Node
	numOutputs int
	numInputs  int
	batchSize  int

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// newMLPFromInput returns a new MLP that has a specific node as its
// input node. If addFinalLayer is true, a final linear layer with a
// bias is added so that the MLP predicts outputs values. Otherwise,
// the last hidden layer must have outputs units.
func newMLPFromInput(input *G.Node, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, prefix string,
	addFinalLayer bool) (*MLP, error) {
	if len(hiddenSizes) != len(activations) {
		msg := "newmlp: invalid number of activations" +
			"\n\twant(%d)\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		msg := "newmlp: invalid number of biases\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(biases))
	}
	if !input.IsMatrix() {
		return nil, fmt.Errorf("newmlp: input must be a matrix")
	}

	// Copy so that appending the final layer never aliases the
	// caller's slices
	hiddenSizes = append([]int(nil), hiddenSizes...)
	biases = append([]bool(nil), biases...)
	activations = append([]*Activation(nil), activations...)

	if addFinalLayer {
		hiddenSizes = append(hiddenSizes, outputs)
		biases = append(biases, true)
		activations = append(activations, Identity())
	} else if len(hiddenSizes) == 0 ||
		outputs != hiddenSizes[len(hiddenSizes)-1] {
		return nil, fmt.Errorf("newmlp: final layer must have %v units",
			outputs)
	}

	features := input.Shape()[1]
	layers := newfcLayers(g, features, hiddenSizes, biases, activations,
		init, prefix)

	network := &MLP{
		g:          g,
		layers:     layers,
		input:      input,
		numOutputs: outputs,
		numInputs:  features,
		batchSize:  input.Shape()[0],
	}
	if err := network.fwd(); err != nil {
		return nil, fmt.Errorf("newmlp: could not compute forward pass: %v",
			err)
	}
	return network, nil
}

// NewMLP creates and returns a new multi-layered perceptron with
// outputs output units. The graph parameter g is populated with the
// MLP.
//
// The MLP has number of layers equal to len(hiddenSizes) + 1. A final
// linear layer with a bias unit is always added. For index i,
// hiddenSizes[i] is the number of nodes in hidden layer i; biases[i]
// is true if the hidden layer will contain a bias unit and false
// otherwise; and activations[i] is the activation function for hidden
// layer i. The parameter init determines the weight initialization
// scheme.
func NewMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (*MLP, error) {
	input := newInput(g, batch, features)

	return newMLPFromInput(input, outputs, g, hiddenSizes, biases, init,
		activations, "", true)
}

// NewReLUMLP returns an MLP where each hidden layer has a bias and a
// ReLU activation
func NewReLUMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, init G.InitWFn) (*MLP, error) {
	biases := make([]bool, len(hiddenSizes))
	for i := range biases {
		biases[i] = true
	}

	return NewMLP(features, batch, outputs, g, hiddenSizes, biases, init,
		repeat(ReLU, len(hiddenSizes)))
}

// Graph returns the computational graph of the MLP.
func (m *MLP) Graph() *G.ExprGraph {
	return m.g
}

// Clone clones an MLP
func (m *MLP) Clone() (NeuralNet, error) {
	return m.CloneWithBatch(m.batchSize)
}

// CloneWithBatch clones an MLP to a new graph with a new input batch
// size.
func (m *MLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()
	input := newInput(graph, batchSize, m.numInputs)

	return m.cloneWithInputTo(input, graph, "")
}

func (m *MLP) cloneWithInputTo(input *G.Node, graph *G.ExprGraph,
	prefix string) (NeuralNet, error) {
	layers := make([]*fcLayer, len(m.layers))
	for i := range m.layers {
		layers[i] = m.layers[i].cloneTo(graph, prefix)
	}

	network := &MLP{
		g:          graph,
		layers:     layers,
		input:      input,
		numOutputs: m.numOutputs,
		numInputs:  m.numInputs,
		batchSize:  input.Shape()[0],
	}
	if err := network.fwd(); err != nil {
		return nil, fmt.Errorf("clonewithinputto: could not clone: %v", err)
	}
	return network, nil
}

// BatchSize returns the batch size of inputs to the network
func (m *MLP) BatchSize() int {
	return m.batchSize
}

// Features returns the number of features in a single input vector
func (m *MLP) Features() int {
	return m.numInputs
}

// Outputs returns the number of outputs from the network
func (m *MLP) Outputs() []int {
	return []int{m.numOutputs}
}

// SetInput sets the value of the input node before running the forward
// pass.
func (m *MLP) SetInput(input []float64) error {
	return setInput(m.input, input)
}

// Learnables returns the learnable nodes in an MLP
func (m *MLP) Learnables() G.Nodes {
	if m.learnables == nil {
		learnables := make([]*G.Node, 0, 2*len(m.layers))
		for _, l := range m.layers {
			learnables = append(learnables, l.weights)
			if l.bias != nil {
				learnables = append(learnables, l.bias)
			}
		}
		m.learnables = learnables
	}
	return m.learnables
}

// Model returns the learnables nodes with their gradients.
func (m *MLP) Model() []G.ValueGrad {
	if m.model == nil {
		for _, node := range m.Learnables() {
			m.model = append(m.model, node)
		}
	}
	return m.model
}

// fwd adds the forward pass of the MLP on its input node to the graph
func (m *MLP) fwd() error {
	pred := m.input
	var err error
	for i, l := range m.layers {
		if pred, err = l.fwd(pred); err != nil {
			return fmt.Errorf("fwd: could not compute forward pass of "+
				"layer %v: %v", i, err)
		}
	}

	m.prediction = pred
	G.Read(m.prediction, &m.predVal)

	return nil
}

// Output returns the output of the MLP after the graph has been run
func (m *MLP) Output() []G.Value {
	return []G.Value{m.predVal}
}

// Prediction returns the node of the computational graph the stores
// the output of the MLP
func (m *MLP) Prediction() []*G.Node {
	return []*G.Node{m.prediction}
}
