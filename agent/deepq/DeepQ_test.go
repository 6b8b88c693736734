package deepq

import (
	"testing"

	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/network"
	"github.com/samuelfneumann/offlinerl/solver"
	"github.com/samuelfneumann/offlinerl/timestep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

var info = environment.SpaceInfo{
	ObsDim:     2,
	ActionDim:  1,
	NumActions: 2,
	MaxAction:  []float64{1},
	MinAction:  []float64{0},
}

func testConfig() Config {
	c := DefaultConfig()
	c.PolicyLayers = []int{16}
	c.Biases = []bool{true}
	c.Activations = []*network.Activation{network.ReLU()}
	c.Solver = solver.NewDefaultAdam(1e-2)
	c.BatchSize = 16
	c.NStep = 1
	c.TargetUpdateInterval = 4
	return c
}

// banditBuffer returns a buffer of single step episodes where action 1
// is rewarded and action 0 is not
func banditBuffer(t *testing.T, n int) *expreplay.ReplayBuffer {
	t.Helper()
	r, err := expreplay.NewReplayBuffer(n, 2, 1)
	require.NoError(t, err)
	r.Seed(6)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < n; i++ {
		a := float64(rng.Intn(2))
		obs := []float64{rng.Float64(), rng.Float64()}
		require.NoError(t, r.Add(timestep.Transition{
			State:      mat.NewVecDense(2, obs),
			Action:     mat.NewVecDense(1, []float64{a}),
			Reward:     a,
			NextState:  mat.NewVecDense(2, []float64{0, 0}),
			Terminated: true,
		}))
	}
	return r
}

func TestNewErrors(t *testing.T) {
	continuous := environment.SpaceInfo{ObsDim: 3, ActionDim: 1,
		MaxAction: []float64{2}, MinAction: []float64{-2}}
	_, err := New(continuous, testConfig(), 0)
	assert.Error(t, err)

	c := testConfig()
	c.Biases = nil
	_, err = New(info, c, 0)
	assert.Error(t, err)

	c = testConfig()
	c.TargetUpdateInterval = 0
	_, err = New(info, c, 0)
	assert.Error(t, err)
}

func TestLearnsBandit(t *testing.T) {
	for _, double := range []bool{false, true} {
		c := testConfig()
		c.Double = double
		d, err := New(info, c, 0)
		require.NoError(t, err)

		buffer := banditBuffer(t, 64)
		for i := 0; i < 300; i++ {
			_, err := d.Update(16, buffer)
			require.NoError(t, err)
		}

		obs := timestep.New(timestep.Mid, 0, 1,
			mat.NewVecDense(2, []float64{0.5, 0.5}), 1)
		a, err := d.SelectAction(obs)
		require.NoError(t, err)
		assert.Equal(t, 1.0, a.AtVec(0), "double: %v", double)
		require.NoError(t, d.Close())
	}
}

func TestTargetUpdates(t *testing.T) {
	d, err := New(info, testConfig(), 0)
	require.NoError(t, err)
	defer d.Close()

	buffer := banditBuffer(t, 32)
	for i := 1; i <= 4; i++ {
		stats, err := d.Update(16, buffer)
		require.NoError(t, err)
		assert.Contains(t, stats, "loss")
		if i < 4 {
			assert.NotEqual(t, network.Weights(d.trainNet),
				network.Weights(d.targetNet))
		}
	}
	assert.Equal(t, network.Weights(d.trainNet), network.Weights(d.targetNet))
	assert.Equal(t, network.Weights(d.trainNet), network.Weights(d.policy))
}

func TestExplorationNoise(t *testing.T) {
	d, err := New(info, testConfig(), 0)
	require.NoError(t, err)
	defer d.Close()

	action := mat.NewVecDense(1, []float64{1})
	d.SetEpsilon(0)
	for i := 0; i < 20; i++ {
		assert.Equal(t, 1.0, d.ExplorationNoise(action).AtVec(0))
	}

	d.SetEpsilon(1)
	assert.Equal(t, 1.0, d.Epsilon())
	seen := map[float64]bool{}
	for i := 0; i < 50; i++ {
		seen[d.ExplorationNoise(action).AtVec(0)] = true
	}
	assert.Len(t, seen, 2)
}

func TestGobRoundTrip(t *testing.T) {
	d, err := New(info, testConfig(), 0)
	require.NoError(t, err)
	defer d.Close()

	buffer := banditBuffer(t, 32)
	for i := 0; i < 3; i++ {
		_, err := d.Update(16, buffer)
		require.NoError(t, err)
	}
	d.SetEpsilon(0.2)

	data, err := d.GobEncode()
	require.NoError(t, err)

	restored, err := New(info, testConfig(), 1)
	require.NoError(t, err)
	defer restored.Close()
	require.NoError(t, restored.GobDecode(data))

	assert.Equal(t, 3, restored.gradientSteps)
	assert.Equal(t, 0.2, restored.Epsilon())
	assert.Equal(t, network.Weights(d.trainNet),
		network.Weights(restored.policy))
	assert.Equal(t, network.Weights(d.targetNet),
		network.Weights(restored.targetNet))
}
