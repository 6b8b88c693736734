package collector

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/environment/envconfig"
	"github.com/samuelfneumann/offlinerl/environment/vector"
	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/timestep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/mat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixedEnv is a VectorEnv whose environment i runs episodes of
// lengths[i] steps with a reward of 1 per step. Observations are
// (id, step number).
type fixedEnv struct {
	lengths []int
	steps   []int
	actions [][]float64
}

func newFixedEnv(lengths ...int) *fixedEnv {
	return &fixedEnv{
		lengths: lengths,
		steps:   make([]int, len(lengths)),
		actions: make([][]float64, len(lengths)),
	}
}

func (f *fixedEnv) Len() int { return len(f.lengths) }

func (f *fixedEnv) obs(id int) *mat.VecDense {
	return mat.NewVecDense(2, []float64{float64(id), float64(f.steps[id])})
}

func (f *fixedEnv) all(ids []int) []int {
	if ids != nil {
		return ids
	}
	ids = make([]int, len(f.lengths))
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func (f *fixedEnv) Reset(_ context.Context, ids []int) ([]timestep.TimeStep,
	error) {
	ids = f.all(ids)
	steps := make([]timestep.TimeStep, len(ids))
	for j, id := range ids {
		f.steps[id] = 0
		steps[j] = timestep.New(timestep.First, 0, 1, f.obs(id), 0)
	}
	return steps, nil
}

func (f *fixedEnv) Step(_ context.Context, actions []*mat.VecDense,
	ids []int) ([]timestep.TimeStep, error) {
	ids = f.all(ids)
	steps := make([]timestep.TimeStep, len(ids))
	for j, id := range ids {
		f.actions[id] = append(f.actions[id], actions[j].AtVec(0))
		f.steps[id]++
		step := timestep.New(timestep.Mid, 1, 1, f.obs(id), f.steps[id])
		if f.steps[id] >= f.lengths[id] {
			step.StepType = timestep.Last
			step.SetEnd(timestep.TerminalStateReached)
		}
		steps[j] = step
	}
	return steps, nil
}

func (f *fixedEnv) Render(w io.Writer, id int) error {
	_, err := fmt.Fprintf(w, "env %v step %v\n", id, f.steps[id])
	return err
}

func (f *fixedEnv) SpaceInfo() environment.SpaceInfo {
	return environment.SpaceInfo{ObsDim: 2, ActionDim: 1, NumActions: 2,
		MaxAction: []float64{1}, MinAction: []float64{0}}
}

func (f *fixedEnv) Close() error { return nil }

// constant always selects action
type constant struct {
	action float64
	eval   bool
}

func (c *constant) SelectAction(timestep.TimeStep) (*mat.VecDense, error) {
	return mat.NewVecDense(1, []float64{c.action}), nil
}
func (c *constant) Eval()        { c.eval = true }
func (c *constant) Train()       { c.eval = false }
func (c *constant) IsEval() bool { return c.eval }

// flipper flips its action when exploring
type flipper struct {
	constant
}

func (f *flipper) ExplorationNoise(a *mat.VecDense) *mat.VecDense {
	return mat.NewVecDense(1, []float64{1 - a.AtVec(0)})
}

// doubler maps its actions to twice their value
type doubler struct {
	constant
}

func (d *doubler) MapAction(a *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.ScaleVec(2, a)
	return out
}

func buffer(t *testing.T, n int) *expreplay.VectorReplayBuffer {
	t.Helper()
	b, err := expreplay.NewVectorReplayBuffer(100*n, n, 2, 1, 0)
	require.NoError(t, err)
	return b
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil, newFixedEnv(1), nil, false, nil, 0)
	assert.Error(t, err)

	_, err = New(&constant{}, newFixedEnv(1, 1, 1), buffer(t, 2), false, nil, 0)
	assert.Error(t, err)

	wrongDims, err := expreplay.NewVectorReplayBuffer(10, 1, 3, 1, 0)
	require.NoError(t, err)
	_, err = New(&constant{}, newFixedEnv(1), wrongDims, false, nil, 0)
	assert.Error(t, err)
}

func TestCollectOptions(t *testing.T) {
	c, err := New(&constant{}, newFixedEnv(3), nil, false, nil, 0)
	require.NoError(t, err)

	for _, opts := range []CollectOptions{
		{},
		{NStep: 1, NEpisode: 1},
		{NStep: -1},
	} {
		_, err := c.Collect(context.Background(), opts)
		assert.Error(t, err, "%+v", opts)
	}
}

func TestCollectSteps(t *testing.T) {
	env := newFixedEnv(3, 5)
	b := buffer(t, 2)
	c, err := New(&constant{}, env, b, false, nil, 0)
	require.NoError(t, err)

	stats, err := c.Collect(context.Background(), CollectOptions{NStep: 10})
	require.NoError(t, err)

	assert.Equal(t, 10, stats.NCollectedSteps)
	assert.Equal(t, 2, stats.NCollectedEpisodes)
	assert.ElementsMatch(t, []float64{3, 5}, stats.Returns)
	assert.ElementsMatch(t, []int{3, 5}, stats.Lens)
	assert.InDelta(t, 4.0, stats.ReturnsStat.Mean, 1e-12)
	assert.InDelta(t, 1.0, stats.ReturnsStat.Std, 1e-12)
	assert.Equal(t, 5.0, stats.ReturnsStat.Max)
	assert.Equal(t, 3.0, stats.ReturnsStat.Min)

	assert.Equal(t, 5, b.BufferLen(0))
	assert.Equal(t, 5, b.BufferLen(1))
	assert.Equal(t, 10, c.CollectStep())
	assert.Equal(t, 2, c.CollectEpisode())

	// Episodes continue across calls
	stats, err = c.Collect(context.Background(), CollectOptions{NStep: 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, stats.Returns)
	assert.Equal(t, 12, c.CollectStep())
}

func TestCollectTransitions(t *testing.T) {
	b := buffer(t, 1)
	c, err := New(&constant{action: 1}, newFixedEnv(2), b, false, nil, 0)
	require.NoError(t, err)

	_, err = c.Collect(context.Background(), CollectOptions{NStep: 2})
	require.NoError(t, err)

	batch, err := b.Sample(20, 1, 0.9)
	require.NoError(t, err)
	for i := 0; i < batch.Size; i++ {
		obs := batch.Obs[i*2+1]
		next := batch.ObsNext[i*2+1]
		assert.Equal(t, obs+1, next)
		assert.Equal(t, 1.0, batch.Act[i])
		assert.Equal(t, 1.0, batch.Rew[i])

		// The second step of each episode is terminal
		assert.Equal(t, next == 2, batch.Terminated[i] == 1)
	}
}

func TestCollectEpisodes(t *testing.T) {
	env := newFixedEnv(2, 2, 2, 2)
	c, err := New(&constant{}, env, nil, false, nil, 0)
	require.NoError(t, err)

	stats, err := c.Collect(context.Background(),
		CollectOptions{NEpisode: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.NCollectedEpisodes)
	assert.Equal(t, 6, stats.NCollectedSteps)
	assert.Empty(t, env.actions[3], "only as many envs as episodes are used")
}

func TestCollectEpisodesDropsSurplusEnvs(t *testing.T) {
	// Without dropping the fast environment, it would finish all three
	// episodes before the slow one finished any
	env := newFixedEnv(1, 10)
	c, err := New(&constant{}, env, nil, false, nil, 0)
	require.NoError(t, err)

	stats, err := c.Collect(context.Background(),
		CollectOptions{NEpisode: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.NCollectedEpisodes)
	assert.ElementsMatch(t, []float64{1, 1, 10}, stats.Returns)
	assert.Len(t, env.actions[0], 2)
	assert.Len(t, env.actions[1], 10)

	// Environments are reset after episode collection
	stats, err = c.Collect(context.Background(),
		CollectOptions{NEpisode: 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, stats.Returns)
}

func TestRemoveSurplus(t *testing.T) {
	active := []int{0, 1, 2, 3}

	assert.Equal(t, active, removeSurplus(active, []int{1, 3}, 0))
	assert.Equal(t, active, removeSurplus(active, []int{1, 3}, -2))
	assert.Equal(t, []int{0, 2, 3}, removeSurplus(active, []int{1, 3}, 1))

	// Only environments which just finished can be dropped
	assert.Equal(t, []int{0, 2}, removeSurplus(active, []int{1, 3}, 3))
	assert.Equal(t, active, removeSurplus(active, nil, 2))
	assert.Equal(t, []int{0, 1, 2, 3}, active)
}

func TestExplorationNoise(t *testing.T) {
	for _, noise := range []bool{false, true} {
		env := newFixedEnv(4)
		c, err := New(&flipper{}, env, buffer(t, 1), noise, nil, 0)
		require.NoError(t, err)

		_, err = c.Collect(context.Background(), CollectOptions{NStep: 4})
		require.NoError(t, err)

		want := 0.0
		if noise {
			want = 1
		}
		assert.Equal(t, []float64{want, want, want, want}, env.actions[0])
	}
}

func TestMapAction(t *testing.T) {
	env := newFixedEnv(4)
	b := buffer(t, 1)
	c, err := New(&doubler{constant{action: 0.5}}, env, b, false, nil, 0)
	require.NoError(t, err)

	_, err = c.Collect(context.Background(), CollectOptions{NStep: 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, env.actions[0])

	batch, err := b.Sample(4, 1, 1)
	require.NoError(t, err)
	for _, a := range batch.Act {
		assert.Equal(t, 0.5, a)
	}
}

func TestRandomActions(t *testing.T) {
	env := newFixedEnv(1000)
	c, err := New(&constant{}, env, nil, false, nil, 3)
	require.NoError(t, err)

	_, err = c.Collect(context.Background(),
		CollectOptions{NStep: 100, Random: true})
	require.NoError(t, err)

	seen := map[float64]bool{}
	for _, a := range env.actions[0] {
		seen[a] = true
	}
	assert.Equal(t, map[float64]bool{0: true, 1: true}, seen)
}

func TestResetClearsBuffer(t *testing.T) {
	b := buffer(t, 1)
	c, err := New(&constant{}, newFixedEnv(5), b, false, nil, 0)
	require.NoError(t, err)

	_, err = c.Collect(context.Background(), CollectOptions{NStep: 3})
	require.NoError(t, err)
	require.Equal(t, 3, b.Len())

	c.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, c.CollectStep())

	stats, err := c.Collect(context.Background(), CollectOptions{NStep: 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, stats.Returns)
}

func TestRender(t *testing.T) {
	c, err := New(&constant{}, newFixedEnv(2), nil, false, nil, 0)
	require.NoError(t, err)

	var out writer
	_, err = c.Collect(context.Background(), CollectOptions{NEpisode: 1,
		Render: 1, RenderTo: &out})
	require.NoError(t, err)
	assert.Equal(t, "env 0 step 1\nenv 0 step 2\n", string(out))
}

func TestCancelled(t *testing.T) {
	c, err := New(&constant{}, newFixedEnv(2), nil, false, nil, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Collect(ctx, CollectOptions{NStep: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCartpole(t *testing.T) {
	v, err := vector.NewConcurrent(func(seed uint64) (environment.Environment,
		error) {
		e, _, err := envconfig.Make("CartPole-v0", seed)
		return e, err
	}, 4, 0)
	require.NoError(t, err)
	defer v.Close()

	b, err := expreplay.NewVectorReplayBuffer(4000, 4, 4, 1, 0)
	require.NoError(t, err)
	c, err := New(&constant{}, v, b, false, nil, 0)
	require.NoError(t, err)

	stats, err := c.Collect(context.Background(),
		CollectOptions{NEpisode: 4, Random: true})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.NCollectedEpisodes)
	assert.Equal(t, stats.NCollectedSteps, b.Len())
	for i, ret := range stats.Returns {
		assert.Equal(t, float64(stats.Lens[i]), ret)
	}
}

type writer []byte

func (w *writer) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
