package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
)

func run(t *testing.T, net NeuralNet, input []float64) [][]float64 {
	t.Helper()
	require.NoError(t, net.SetInput(input))

	vm := G.NewTapeMachine(net.Graph())
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	var out [][]float64
	for _, v := range net.Output() {
		out = append(out, append([]float64(nil), v.Data().([]float64)...))
	}
	return out
}

func TestMLPForward(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMLP(2, 1, 1, g, []int{2}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, net.Outputs())
	require.Len(t, net.Learnables(), 4)

	// Hidden layer is the identity (for positive inputs), output layer
	// sums the hidden units and adds a bias of 0.5
	weights := [][]float64{{1, 0, 0, 1}, {0, 0}, {1, 1}, {0.5}}
	require.NoError(t, SetWeights(net, weights))

	out := run(t, net, []float64{2, 3})
	assert.InDelta(t, 5.5, out[0][0], 1e-12)

	out = run(t, net, []float64{-2, 3})
	assert.InDelta(t, 3.5, out[0][0], 1e-12)

	assert.Equal(t, weights, Weights(net))
}

func TestMLPMultipleOutputs(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMLP(2, 2, 3, g, nil, nil, G.GlorotU(1.0), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, net.Outputs())
	require.Len(t, net.Prediction(), 1)

	// One column per output: x₁, x₂, and x₁ + x₂ + 1
	weights := [][]float64{{1, 0, 1, 0, 1, 1}, {0, 0, 1}}
	require.NoError(t, SetWeights(net, weights))

	out := run(t, net, []float64{1, 2, 3, 4})
	require.Len(t, out, 1)
	assert.InDeltaSlice(t, []float64{1, 2, 4, 3, 4, 8}, out[0], 1e-12)
}

func TestSetWeightsErrors(t *testing.T) {
	net, err := NewReLUMLP(2, 1, 1, G.NewGraph(), []int{2}, G.GlorotU(1.0))
	require.NoError(t, err)

	assert.Error(t, SetWeights(net, [][]float64{{1}}))
	assert.Error(t, SetWeights(net, [][]float64{{1}, {1}, {1}, {1}}))
	assert.Error(t, net.SetInput([]float64{1, 2, 3}))
}

func TestCloneWithBatch(t *testing.T) {
	net, err := NewReLUMLP(3, 1, 2, G.NewGraph(), []int{8, 8}, G.GlorotU(1.0))
	require.NoError(t, err)

	clone, err := net.CloneWithBatch(2)
	require.NoError(t, err)
	assert.Equal(t, 2, clone.BatchSize())
	assert.NotSame(t, net.Graph(), clone.Graph())

	single := run(t, net, []float64{0.1, -0.2, 0.3})
	batch := run(t, clone, []float64{0.1, -0.2, 0.3, 0.1, -0.2, 0.3})
	assert.InDeltaSlice(t, single[0], batch[0][:2], 1e-12)
	assert.InDeltaSlice(t, single[0], batch[0][2:], 1e-12)
}

func TestSetAndPolyak(t *testing.T) {
	a, err := NewReLUMLP(2, 1, 1, G.NewGraph(), []int{3}, G.GlorotU(1.0))
	require.NoError(t, err)
	b, err := NewReLUMLP(2, 1, 1, G.NewGraph(), []int{3}, G.GlorotU(1.0))
	require.NoError(t, err)

	before := Weights(b)
	source := Weights(a)
	require.NoError(t, Polyak(b, a, 0.25))
	after := Weights(b)
	for i := range after {
		for j := range after[i] {
			want := 0.75*before[i][j] + 0.25*source[i][j]
			assert.InDelta(t, want, after[i][j], 1e-12)
		}
	}

	require.NoError(t, Set(b, a))
	assert.Equal(t, Weights(a), Weights(b))

	// Set copies, it does not alias
	require.NoError(t, SetWeights(a, before))
	assert.Equal(t, source, Weights(b))
}

func TestCloneWithInputToPrefixes(t *testing.T) {
	net, err := NewReLUMLP(3, 4, 1, G.NewGraph(), []int{5}, G.GlorotU(1.0))
	require.NoError(t, err)

	g := G.NewGraph()
	obs := newInput(g, 4, 2)
	act := G.NewMatrix(g, G.Float64, G.WithShape(4, 1), G.WithName("act"),
		G.WithInit(G.Zeroes()))

	c1, err := CloneWithInputTo(net, []*G.Node{obs, act}, g, "C1")
	require.NoError(t, err)
	c2, err := CloneWithInputTo(net, []*G.Node{obs, act}, g, "C2")
	require.NoError(t, err)
	assert.NotEqual(t, c1.Learnables()[0].Name(), c2.Learnables()[0].Name())

	_, err = CloneWithInputTo(net, []*G.Node{obs}, g, "C3")
	assert.Error(t, err)
}

func TestTreeMLP(t *testing.T) {
	g := G.NewGraph()
	root := LayerConfig{[]int{4}, []bool{true}, []*Activation{Identity()}}
	tree, err := NewTreeMLP(3, 1, []int{2, 2}, g, root,
		[]LayerConfig{ReLULayers(8), ReLULayers(8)}, G.GlorotU(1.0))
	require.NoError(t, err)
	require.Len(t, tree.Prediction(), 2)

	// root: 2 learnables, each leaf: 4 learnables
	assert.Len(t, tree.Learnables(), 10)

	clone, err := tree.CloneWithBatch(2)
	require.NoError(t, err)

	single := run(t, tree, []float64{0.5, -0.1, 0.2})
	batch := run(t, clone, []float64{0.5, -0.1, 0.2, 0.5, -0.1, 0.2})
	require.Len(t, batch, 2)
	for i := range single {
		assert.InDeltaSlice(t, single[i], batch[i][:2], 1e-12)
	}

	_, err = NewTreeMLP(3, 1, []int{2}, G.NewGraph(), root,
		[]LayerConfig{ReLULayers(8), ReLULayers(8)}, G.GlorotU(1.0))
	assert.Error(t, err)
}

func TestActivationFromName(t *testing.T) {
	var a Activation
	require.NoError(t, a.UnmarshalText([]byte("relu")))
	assert.Equal(t, "relu", a.String())

	_, err := ActivationFromName("sigmoid")
	assert.Error(t, err)
}
