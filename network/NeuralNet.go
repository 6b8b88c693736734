// Package network implements feed forward neural networks on top of
// gorgonia computational graphs
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NeuralNet is a neural network whose forward pass has been added to a
// gorgonia computational graph. Input data is set with SetInput and
// the predictions can be read with Output after running a VM on the
// graph.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)
	BatchSize() int
	Features() int
	Outputs() []int
	SetInput([]float64) error
	Learnables() G.Nodes
	Model() []G.ValueGrad
	Output() []G.Value
	Prediction() []*G.Node

	cloneWithInputTo(input *G.Node, g *G.ExprGraph,
		prefix string) (NeuralNet, error)
}

// CloneWithInputTo clones net into the graph g with inputs as the
// input. Multiple inputs are concatenated along the feature axis. The
// weights of the clone are copies of the weights of net and are
// prefixed with prefix.
func CloneWithInputTo(net NeuralNet, inputs []*G.Node, g *G.ExprGraph,
	prefix string) (NeuralNet, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("clonewithinputto: no inputs given")
	}
	for _, input := range inputs {
		if input.Graph() != g {
			return nil, fmt.Errorf("clonewithinputto: not all inputs " +
				"have the same graph")
		}
	}

	input := inputs[0]
	if len(inputs) > 1 {
		var err error
		input, err = G.Concat(1, inputs...)
		if err != nil {
			return nil, fmt.Errorf("clonewithinputto: could not "+
				"concatenate inputs: %v", err)
		}
	}
	if !input.IsMatrix() {
		return nil, fmt.Errorf("clonewithinputto: input must be a matrix")
	}
	if input.Shape()[1] != net.Features() {
		return nil, fmt.Errorf("clonewithinputto: invalid number of input "+
			"features \n\twant(%v) \n\thave(%v)", net.Features(),
			input.Shape()[1])
	}

	return net.cloneWithInputTo(input, g, prefix)
}

// Set sets the weights of dest to be equal to the weights of source
func Set(dest, source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("set: cannot set %v learnables from %v learnables",
			len(nodes), len(sourceNodes))
	}

	for i := range nodes {
		weights := sourceNodes[i].Value().(*tensor.Dense)
		if err := G.Let(nodes[i], weights.Clone().(*tensor.Dense)); err != nil {
			return fmt.Errorf("set: %v", err)
		}
	}
	return nil
}

// Polyak sets the weights of dest to be a polyak average between its
// existing weights and the weights of source:
//
//	dest ← (1 - tau) * dest + tau * source
func Polyak(dest, source NeuralNet, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("polyak: cannot average %v learnables with %v "+
			"learnables", len(nodes), len(sourceNodes))
	}

	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return fmt.Errorf("polyak: %v", err)
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return fmt.Errorf("polyak: %v", err)
		}

		newWeights, err := weights.Add(sourceWeights)
		if err != nil {
			return fmt.Errorf("polyak: %v", err)
		}

		if err := G.Let(nodes[i], newWeights); err != nil {
			return fmt.Errorf("polyak: %v", err)
		}
	}
	return nil
}

// Weights returns a copy of the weights of each learnable node of net
func Weights(net NeuralNet) [][]float64 {
	learnables := net.Learnables()
	weights := make([][]float64, len(learnables))
	for i, node := range learnables {
		data := node.Value().Data().([]float64)
		weights[i] = append([]float64(nil), data...)
	}
	return weights
}

// SetWeights sets the weights of each learnable node of net from a
// list of weights as returned by Weights
func SetWeights(net NeuralNet, weights [][]float64) error {
	learnables := net.Learnables()
	if len(weights) != len(learnables) {
		return fmt.Errorf("setweights: want weights for %v learnables, "+
			"have %v", len(learnables), len(weights))
	}

	for i, node := range learnables {
		if len(weights[i]) != node.Shape().TotalSize() {
			return fmt.Errorf("setweights: learnable %v (%v) has size %v, "+
				"got %v weights", i, node.Name(), node.Shape().TotalSize(),
				len(weights[i]))
		}
		backing := append([]float64(nil), weights[i]...)
		t := tensor.New(tensor.WithShape(node.Shape()...),
			tensor.WithBacking(backing))
		if err := G.Let(node, t); err != nil {
			return fmt.Errorf("setweights: %v", err)
		}
	}
	return nil
}

// newInput returns a new matrix input node of shape (batch, features)
func newInput(g *G.ExprGraph, batch, features int) *G.Node {
	return G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))
}

// setInput sets the value of the input node of a network
func setInput(input *G.Node, data []float64) error {
	size := input.Shape().TotalSize()
	if len(data) != size {
		return fmt.Errorf("setinput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", size, len(data))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(data),
		tensor.WithShape(input.Shape()...),
	)
	return G.Let(input, inputTensor)
}
