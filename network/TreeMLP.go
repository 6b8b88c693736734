package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// TreeMLP implements a multi-layered perceptron with a root network
// and multiple leaf networks that use the output of the root network
// as their own inputs. A diagram of a tree MLP:
//
//	                  ╭─→ Leaf Network 1 ─→ Output
//	                  ├─→ Leaf Network 2 ─→ Output
//	Input ─→ Root Net ┼─→ ...            ─→ ...
//	                  ╰─→ Leaf Network N ─→ Output
//
// Prediction() returns one node per leaf network. Gradients of every
// leaf flow back into the shared root network.
type TreeMLP struct {
	g            *G.ExprGraph
	rootNetwork  *MLP
	leafNetworks []*MLP
	input        *G.Node

	numOutputs []int
	numInputs  int
	batchSize  int

	learnables G.Nodes
	model      []G.ValueGrad

	predVal    []G.Value
	prediction []*G.Node
}

// LayerConfig describes the hidden layers of a network
type LayerConfig struct {
	HiddenSizes []int
	Biases      []bool
	Activations []*Activation
}

func (l LayerConfig) validate() error {
	if len(l.HiddenSizes) != len(l.Activations) {
		return fmt.Errorf("invalid number of activations"+
			"\n\twant(%d)\n\thave(%d)", len(l.HiddenSizes),
			len(l.Activations))
	}
	if len(l.HiddenSizes) != len(l.Biases) {
		return fmt.Errorf("invalid number of biases"+
			"\n\twant(%d)\n\thave(%d)", len(l.HiddenSizes), len(l.Biases))
	}
	return nil
}

// ReLULayers returns a LayerConfig of hidden layers with biases and
// ReLU activations
func ReLULayers(hiddenSizes ...int) LayerConfig {
	biases := make([]bool, len(hiddenSizes))
	for i := range biases {
		biases[i] = true
	}
	return LayerConfig{hiddenSizes, biases, repeat(ReLU, len(hiddenSizes))}
}

// NewTreeMLP returns a new TreeMLP.
//
// The root network has the hidden layers described by root and no
// final output layer, so its output has root.HiddenSizes[last]
// features. There is one leaf network per element of leaves, each
// followed by a final linear layer with outputs[i] units.
func NewTreeMLP(features, batch int, outputs []int, g *G.ExprGraph,
	root LayerConfig, leaves []LayerConfig, init G.InitWFn) (*TreeMLP,
	error) {
	if len(root.HiddenSizes) == 0 {
		return nil, fmt.Errorf("newtreemlp: root network must have at " +
			"least one hidden layer")
	}
	if err := root.validate(); err != nil {
		return nil, fmt.Errorf("newtreemlp: root network: %v", err)
	}
	if len(leaves) == 0 || len(leaves) != len(outputs) {
		return nil, fmt.Errorf("newtreemlp: need one output size per leaf "+
			"network \n\twant(%v) \n\thave(%v)", len(leaves), len(outputs))
	}

	input := newInput(g, batch, features)

	rootOutputs := root.HiddenSizes[len(root.HiddenSizes)-1]
	rootNetwork, err := newMLPFromInput(input, rootOutputs, g,
		root.HiddenSizes, root.Biases, init, root.Activations, "Root", false)
	if err != nil {
		return nil, fmt.Errorf("newtreemlp: could not construct root "+
			"network: %v", err)
	}

	rootOutput := rootNetwork.Prediction()[0]
	leafNetworks := make([]*MLP, len(leaves))
	for i, leaf := range leaves {
		if err := leaf.validate(); err != nil {
			return nil, fmt.Errorf("newtreemlp: leaf network %v: %v", i, err)
		}
		if outputs[i] <= 0 {
			return nil, fmt.Errorf("newtreemlp: leaf network %v must have "+
				"more than 0 outputs", i)
		}

		leafNetworks[i], err = newMLPFromInput(rootOutput, outputs[i], g,
			leaf.HiddenSizes, leaf.Biases, init, leaf.Activations,
			fmt.Sprintf("Leaf%d", i), true)
		if err != nil {
			return nil, fmt.Errorf("newtreemlp: could not construct leaf "+
				"network %v: %v", i, err)
		}
	}

	net := &TreeMLP{
		g:            g,
		rootNetwork:  rootNetwork,
		leafNetworks: leafNetworks,
		input:        input,
		numOutputs:   append([]int(nil), outputs...),
		numInputs:    features,
		batchSize:    batch,
	}
	net.fwd()

	return net, nil
}

// SetInput sets the value of the input node before running the forward
// pass.
func (t *TreeMLP) SetInput(input []float64) error {
	return setInput(t.input, input)
}

// Outputs returns the number of outputs per leaf network
func (t *TreeMLP) Outputs() []int {
	return t.numOutputs
}

// Graph returns the computational graph of the network
func (t *TreeMLP) Graph() *G.ExprGraph {
	return t.g
}

// Features returns the number of input features
func (t *TreeMLP) Features() int {
	return t.numInputs
}

// Clone returns a clone of the TreeMLP.
func (t *TreeMLP) Clone() (NeuralNet, error) {
	return t.CloneWithBatch(t.batchSize)
}

// CloneWithBatch returns a clone of the TreeMLP with a new input
// batch size.
func (t *TreeMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()
	input := newInput(graph, batchSize, t.numInputs)

	return t.cloneWithInputTo(input, graph, "")
}

func (t *TreeMLP) cloneWithInputTo(input *G.Node, graph *G.ExprGraph,
	prefix string) (NeuralNet, error) {
	rootClone, err := t.rootNetwork.cloneWithInputTo(input, graph, prefix)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputto: could not clone root "+
			"network: %v", err)
	}
	root := rootClone.(*MLP)

	leafClones := make([]*MLP, len(t.leafNetworks))
	for i, leaf := range t.leafNetworks {
		clone, err := leaf.cloneWithInputTo(root.prediction, graph, prefix)
		if err != nil {
			return nil, fmt.Errorf("clonewithinputto: could not clone leaf "+
				"network %v: %v", i, err)
		}
		leafClones[i] = clone.(*MLP)
	}

	net := &TreeMLP{
		g:            graph,
		rootNetwork:  root,
		leafNetworks: leafClones,
		input:        input,
		numOutputs:   t.numOutputs,
		numInputs:    t.numInputs,
		batchSize:    input.Shape()[0],
	}
	net.fwd()

	return net, nil
}

// BatchSize returns the batch size for inputs to the network
func (t *TreeMLP) BatchSize() int {
	return t.batchSize
}

// fwd collects the predictions of the leaf networks, each of which
// has already computed its own forward pass
func (t *TreeMLP) fwd() {
	t.prediction = make([]*G.Node, 0, len(t.leafNetworks))
	t.predVal = make([]G.Value, 0, len(t.leafNetworks))
	for _, leaf := range t.leafNetworks {
		t.prediction = append(t.prediction, leaf.prediction)
		t.predVal = append(t.predVal, nil)
	}
}

// Output returns the output of each leaf network after the graph has
// been run
func (t *TreeMLP) Output() []G.Value {
	for i, leaf := range t.leafNetworks {
		t.predVal[i] = leaf.predVal
	}
	return t.predVal
}

// Prediction returns the nodes of the computational graph that store
// the output of each leaf network
func (t *TreeMLP) Prediction() []*G.Node {
	return t.prediction
}

// Model returns the learnable nodes with their gradients.
func (t *TreeMLP) Model() []G.ValueGrad {
	if t.model == nil {
		for _, learnable := range t.Learnables() {
			t.model = append(t.model, learnable)
		}
	}
	return t.model
}

// Learnables returns the learnable nodes of the root network followed
// by those of each leaf network
func (t *TreeMLP) Learnables() G.Nodes {
	if t.learnables == nil {
		learnables := append(G.Nodes(nil), t.rootNetwork.Learnables()...)
		for _, leaf := range t.leafNetworks {
			learnables = append(learnables, leaf.Learnables()...)
		}
		t.learnables = learnables
	}
	return t.learnables
}
