package discretecrr

import (
	"math"
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

var cartpoleInfo = environment.SpaceInfo{
	ObsDim:     4,
	ActionDim:  1,
	NumActions: 2,
	MaxAction:  []float64{1},
	MinAction:  []float64{0},
}

func testConfig() Config {
	c := DefaultConfig()
	c.HiddenSizes = []int{16, 16}
	c.BatchSize = 16
	c.TargetUpdateFreq = 5
	c.Solver = solver.NewDefaultAdam(1e-2)
	return c
}

// expertBuffer returns a buffer of transitions of an expert which
// pushes right when the first feature is positive and left otherwise
func expertBuffer(t *testing.T, n int) *expreplay.ReplayBuffer {
	t.Helper()
	r, err := expreplay.NewReplayBuffer(n, 4, 1)
	require.NoError(t, err)
	r.Seed(4)

	rng := rand.New(rand.NewSource(5))
	obs := func() *mat.VecDense {
		sign := 1.0
		if rng.Float64() < 0.5 {
			sign = -1
		}
		v := make([]float64, 4)
		v[0] = sign * (0.5 + rng.Float64())
		for i := 1; i < 4; i++ {
			v[i] = rng.Float64()*0.2 - 0.1
		}
		return mat.NewVecDense(4, v)
	}

	state := obs()
	for i := 0; i < n; i++ {
		action := 0.0
		if state.AtVec(0) > 0 {
			action = 1
		}
		next := obs()
		require.NoError(t, r.Add(timestep.Transition{
			State:      state,
			Action:     mat.NewVecDense(1, []float64{action}),
			Reward:     1,
			NextState:  next,
			Terminated: i%20 == 19,
		}))
		state = next
	}
	return r
}

func step(obs ...float64) timestep.TimeStep {
	return timestep.New(timestep.Mid, 0, 1, mat.NewVecDense(len(obs), obs), 1)
}

func TestNewErrors(t *testing.T) {
	continuous := environment.SpaceInfo{ObsDim: 3, ActionDim: 1,
		MaxAction: []float64{2}, MinAction: []float64{-2}}
	_, err := New(continuous, testConfig(), 0)
	assert.Error(t, err)

	c := testConfig()
	c.Mode = "softmax"
	_, err = New(cartpoleInfo, c, 0)
	assert.Error(t, err)

	c = testConfig()
	c.HiddenSizes = nil
	_, err = New(cartpoleInfo, c, 0)
	assert.Error(t, err)
}

func TestExpectation(t *testing.T) {
	assert.InDelta(t, 2.0, expectation([]float64{0, 0}, []float64{1, 3}),
		1e-12)
	assert.InDelta(t, 3.0, expectation([]float64{-100, 100},
		[]float64{1, 3}), 1e-12)
}

func TestOneHot(t *testing.T) {
	encoded, err := oneHot([]float64{1, 0, 2}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0, 1, 0, 0, 0, 0, 1}, encoded)

	_, err = oneHot([]float64{3}, 3)
	assert.Error(t, err)
	_, err = oneHot([]float64{0.5}, 3)
	assert.Error(t, err)
}

// actionsSeen returns the distinct actions selected in n steps
func actionsSeen(t *testing.T, d *DiscreteCRR, n int) map[float64]bool {
	t.Helper()
	seen := map[float64]bool{}
	for i := 0; i < n; i++ {
		a, err := d.SelectAction(step(0.1, 0, 0, 0))
		require.NoError(t, err)
		seen[a.AtVec(0)] = true
	}
	return seen
}

func TestSelectAction(t *testing.T) {
	d, err := New(cartpoleInfo, testConfig(), 0)
	require.NoError(t, err)
	defer d.Close()

	assert.Len(t, actionsSeen(t, d, 100), 2)

	// Evaluation samples too unless DeterministicEval is set
	d.Eval()
	assert.Len(t, actionsSeen(t, d, 100), 2)
}

func TestSelectActionDeterministicEval(t *testing.T) {
	c := testConfig()
	c.DeterministicEval = true
	d, err := New(cartpoleInfo, c, 0)
	require.NoError(t, err)
	defer d.Close()

	assert.Len(t, actionsSeen(t, d, 100), 2)

	d.Eval()
	assert.Len(t, actionsSeen(t, d, 10), 1)
	first, err := d.SelectAction(step(0.1, 0, 0, 0))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		a, err := d.SelectAction(step(0.1, 0, 0, 0))
		require.NoError(t, err)
		assert.Equal(t, first.AtVec(0), a.AtVec(0))
	}
}

func TestUpdate(t *testing.T) {
	d, err := New(cartpoleInfo, testConfig(), 0)
	require.NoError(t, err)
	defer d.Close()

	buffer := expertBuffer(t, 100)
	for i := 1; i <= 5; i++ {
		stats, err := d.Update(16, buffer)
		require.NoError(t, err)
		for _, name := range []string{"loss", "loss/actor", "loss/critic",
			"loss/cql"} {
			require.Contains(t, stats, name)
			assert.False(t, math.IsNaN(stats[name]), name)
		}

		if i < 5 {
			assert.NotEqual(t, network.Weights(d.net), network.Weights(d.old))
		}
	}
	// Targets are copied every 5 updates
	assert.Equal(t, network.Weights(d.net), network.Weights(d.old))

	_, err = d.Update(8, buffer)
	assert.Error(t, err)
}

func TestClonesExpert(t *testing.T) {
	for _, mode := range []Mode{Exp, Binary, All} {
		t.Run(string(mode), func(t *testing.T) {
			c := testConfig()
			c.Mode = mode
			c.DeterministicEval = true
			d, err := New(cartpoleInfo, c, 1)
			require.NoError(t, err)
			defer d.Close()

			buffer := expertBuffer(t, 200)
			for i := 0; i < 400; i++ {
				_, err := d.Update(16, buffer)
				require.NoError(t, err)
			}

			d.Eval()
			right, err := d.SelectAction(step(1, 0, 0, 0))
			require.NoError(t, err)
			left, err := d.SelectAction(step(-1, 0, 0, 0))
			require.NoError(t, err)
			assert.Equal(t, 1.0, right.AtVec(0))
			assert.Equal(t, 0.0, left.AtVec(0))
		})
	}
}

func TestGobRoundTrip(t *testing.T) {
	d, err := New(cartpoleInfo, testConfig(), 0)
	require.NoError(t, err)
	defer d.Close()

	buffer := expertBuffer(t, 100)
	for i := 0; i < 7; i++ {
		_, err := d.Update(16, buffer)
		require.NoError(t, err)
	}

	data, err := d.GobEncode()
	require.NoError(t, err)

	restored, err := New(cartpoleInfo, testConfig(), 9)
	require.NoError(t, err)
	defer restored.Close()
	require.NoError(t, restored.GobDecode(data))

	assert.Equal(t, 7, restored.iterations)
	assert.Equal(t, network.Weights(d.net), network.Weights(restored.net))
	assert.Equal(t, network.Weights(d.old), network.Weights(restored.old))
	assert.Equal(t, network.Weights(d.net), network.Weights(restored.policy))
}
