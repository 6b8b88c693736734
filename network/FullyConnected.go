package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// newfcLayers adds len(hiddenSizes) fully connected layers to g. The
// first layer takes features inputs.
func newfcLayers(g *G.ExprGraph, features int, hiddenSizes []int,
	biases []bool, activations []*Activation, init G.InitWFn,
	prefix string) []*fcLayer {
	layers := make([]*fcLayer, len(hiddenSizes))

	in := features
	for i, out := range hiddenSizes {
		weights := G.NewMatrix(g, tensor.Float64, G.WithShape(in, out),
			G.WithName(fmt.Sprintf("%sL%dW", prefix, i)), G.WithInit(init))

		var bias *G.Node
		if biases[i] {
			bias = G.NewMatrix(g, tensor.Float64, G.WithShape(1, out),
				G.WithName(fmt.Sprintf("%sL%dB", prefix, i)),
				G.WithInit(G.Zeroes()))
		}

		layers[i] = &fcLayer{weights: weights, bias: bias, act: activations[i]}
		in = out
	}
	return layers
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	x, err := G.Mul(x, f.weights)
	if err != nil {
		return nil, err
	}
	if f.bias != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x, err = G.BroadcastAdd(x, f.bias, nil, []byte{0})
		if err != nil {
			return nil, err
		}
	}
	return f.act.fwd(x)
}

// cloneTo clones an fcLayer to a new computational graph. The names of
// the cloned weights are prefixed with prefix, so that the same layer
// can be cloned more than once into a single graph.
func (f *fcLayer) cloneTo(g *G.ExprGraph, prefix string) *fcLayer {
	clone := &fcLayer{
		weights: cloneNodeTo(f.weights, g, prefix),
		act:     f.act,
	}
	if f.bias != nil {
		clone.bias = cloneNodeTo(f.bias, g, prefix)
	}
	return clone
}

// cloneNodeTo creates a new matrix node in g with the same shape and
// a copy of the value of n
func cloneNodeTo(n *G.Node, g *G.ExprGraph, prefix string) *G.Node {
	value := n.Value().(*tensor.Dense).Clone().(*tensor.Dense)
	return G.NewMatrix(g, tensor.Float64, G.WithShape(n.Shape()...),
		G.WithName(prefix+n.Name()), G.WithValue(value))
}
