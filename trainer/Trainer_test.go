package trainer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/collector"
	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/environment/envconfig"
	"github.com/samuelfneumann/offlinerl/environment/vector"
	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/logger"
	"github.com/samuelfneumann/offlinerl/timestep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/mat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// pusher always pushes the cart right and counts how it is used
type pusher struct {
	eval        bool
	evalActions int
	trainActs   int
	updates     int
}

func (p *pusher) SelectAction(timestep.TimeStep) (*mat.VecDense, error) {
	if p.eval {
		p.evalActions++
	} else {
		p.trainActs++
	}
	return mat.NewVecDense(1, []float64{1}), nil
}

func (p *pusher) Update(batchSize int, sampler expreplay.Sampler) (agent.Stats,
	error) {
	if _, err := sampler.Sample(batchSize, 1, 0.99); err != nil {
		return nil, err
	}
	p.updates++
	return agent.Stats{"loss": 1 / float64(p.updates)}, nil
}

func (p *pusher) Eval()                      { p.eval = true }
func (p *pusher) Train()                     { p.eval = false }
func (p *pusher) IsEval() bool               { return p.eval }
func (p *pusher) GobEncode() ([]byte, error) { return nil, nil }
func (p *pusher) GobDecode([]byte) error     { return nil }
func (p *pusher) Close() error               { return nil }

func cartpole(t *testing.T, n int) vector.VectorEnv {
	t.Helper()
	v, err := vector.NewDummy(func(seed uint64) (environment.Environment,
		error) {
		e, _, err := envconfig.Make("CartPole-v0", seed)
		return e, err
	}, n, 0)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func collectors(t *testing.T, a agent.Policy) (train,
	test *collector.Collector) {
	t.Helper()
	buffer, err := expreplay.NewVectorReplayBuffer(1000, 1, 4, 1, 0)
	require.NoError(t, err)

	train, err = collector.New(a, cartpole(t, 1), buffer, true, nil, 0)
	require.NoError(t, err)
	test, err = collector.New(a, cartpole(t, 2), nil, false, nil, 0)
	require.NoError(t, err)
	return train, test
}

// fixedBuffer returns a buffer of 50 CartPole transitions
func fixedBuffer(t *testing.T) *expreplay.VectorReplayBuffer {
	t.Helper()
	train, _ := collectors(t, &pusher{})
	_, err := train.Collect(context.Background(),
		collector.CollectOptions{NStep: 50})
	require.NoError(t, err)
	return train.Buffer()
}

func TestNewErrors(t *testing.T) {
	p := &pusher{}
	train, test := collectors(t, p)
	noBuffer, err := collector.New(p, cartpole(t, 1), nil, false, nil, 0)
	require.NoError(t, err)

	offpolicy := OffpolicyConfig{MaxEpoch: 1, StepPerEpoch: 10,
		StepPerCollect: 5, EpisodePerTest: 1, BatchSize: 4, UpdatePerStep: 1}
	_, err = NewOffpolicy(p, noBuffer, test, offpolicy, Hooks{}, nil, nil, nil)
	assert.Error(t, err)

	bad := offpolicy
	bad.StepPerCollect = 0
	_, err = NewOffpolicy(p, train, test, bad, Hooks{}, nil, nil, nil)
	assert.Error(t, err)

	bad = offpolicy
	bad.EpisodePerTest = 0
	_, err = NewOffpolicy(p, train, test, bad, Hooks{}, nil, nil, nil)
	assert.Error(t, err)

	empty, err := expreplay.NewVectorReplayBuffer(10, 1, 4, 1, 0)
	require.NoError(t, err)
	_, err = NewOffline(p, empty, test, OfflineConfig{MaxEpoch: 1,
		StepPerEpoch: 1, EpisodePerTest: 1, BatchSize: 1}, Hooks{}, nil,
		nil, nil)
	assert.Error(t, err)

	_, err = NewOffline(nil, fixedBuffer(t), test, OfflineConfig{MaxEpoch: 1,
		StepPerEpoch: 1, EpisodePerTest: 1, BatchSize: 1}, Hooks{}, nil,
		nil, nil)
	assert.Error(t, err)
}

func TestOffline(t *testing.T) {
	p := &pusher{}
	_, test := collectors(t, p)

	var saves, checkpoints int
	hooks := Hooks{
		SaveBestFn: func(agent.Agent) error { saves++; return nil },
		SaveCheckpointFn: func(epoch, envStep, gradientStep int) error {
			checkpoints++
			assert.Equal(t, 10*epoch, gradientStep)
			assert.Zero(t, envStep)
			return nil
		},
		StopFn: func(r float64) bool { return r >= 1000 },
	}

	var progress strings.Builder
	o, err := NewOffline(p, fixedBuffer(t), test, OfflineConfig{MaxEpoch: 3,
		StepPerEpoch: 10, EpisodePerTest: 2, BatchSize: 8}, hooks, nil, nil,
		&progress)
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 30, result.GradientStep)
	assert.Equal(t, 30, p.updates)
	assert.Equal(t, 3, result.Epoch)
	assert.Equal(t, 8, result.TestEpisode, "initial test and one per epoch")
	assert.Zero(t, result.TrainStep)
	assert.False(t, result.Stopped)
	assert.Equal(t, 3, checkpoints)
	assert.GreaterOrEqual(t, saves, 1)
	assert.Greater(t, result.BestReward, 0.0)
	assert.GreaterOrEqual(t, result.BestEpoch, 0)
	assert.Contains(t, progress.String(), "Epoch #3")
	assert.Contains(t, result.String(), "best_reward")
}

func TestOfflineStops(t *testing.T) {
	p := &pusher{}
	_, test := collectors(t, p)

	hooks := Hooks{StopFn: func(float64) bool { return true }}
	o, err := NewOffline(p, fixedBuffer(t), test, OfflineConfig{MaxEpoch: 5,
		StepPerEpoch: 2, EpisodePerTest: 1, BatchSize: 4}, hooks, nil, nil,
		nil)
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Stopped)
	assert.Equal(t, 1, result.Epoch)
	assert.Equal(t, 2, result.GradientStep)
}

func TestOffpolicy(t *testing.T) {
	p := &pusher{}
	train, test := collectors(t, p)

	var trainCalls, testCalls []int
	hooks := Hooks{
		TrainFn: func(epoch, envStep int) { trainCalls = append(trainCalls, epoch) },
		TestFn:  func(epoch, envStep int) { testCalls = append(testCalls, epoch) },
		StopFn:  func(r float64) bool { return r >= 1000 },
	}

	w := &memory{}
	log := logger.New(w, logger.Intervals{Train: 1, Test: 1, Update: 1,
		Save: 1}, nil)
	o, err := NewOffpolicy(p, train, test, OffpolicyConfig{MaxEpoch: 2,
		StepPerEpoch: 20, StepPerCollect: 5, EpisodePerTest: 2,
		BatchSize: 4, UpdatePerStep: 0.2, TestInTrain: true}, hooks, log,
		nil, nil)
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 40, result.TrainStep)
	assert.Equal(t, 8, result.GradientStep)
	assert.Equal(t, 8, p.updates)
	assert.Equal(t, []int{1, 1, 1, 1, 2, 2, 2, 2}, trainCalls)
	assert.Equal(t, []int{0, 1, 2}, testCalls)
	assert.Equal(t, 40, p.trainActs)
	assert.Equal(t, result.TestStep, p.evalActions)
	assert.Equal(t, 40, train.Buffer().Len())

	assert.Contains(t, w.tags, "update/loss")
	assert.Contains(t, w.tags, "test/reward")
	assert.Contains(t, w.tags, "train/reward")
}

func TestOffpolicyTestInTrain(t *testing.T) {
	p := &pusher{}
	train, test := collectors(t, p)

	var saved bool
	hooks := Hooks{
		StopFn:     func(r float64) bool { return r > 0 },
		SaveBestFn: func(agent.Agent) error { saved = true; return nil },
	}
	o, err := NewOffpolicy(p, train, test, OffpolicyConfig{MaxEpoch: 5,
		StepPerEpoch: 1000, StepPerCollect: 100, EpisodePerTest: 2,
		BatchSize: 4, UpdatePerStep: 1, TestInTrain: true}, hooks, nil,
		nil, nil)
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Stopped)
	assert.True(t, saved)
	assert.Equal(t, 1, result.Epoch)
	assert.Equal(t, 1, result.BestEpoch)
	assert.Equal(t, 100, result.TrainStep)
	assert.Zero(t, result.GradientStep)
}

func TestCancelled(t *testing.T) {
	p := &pusher{}
	train, test := collectors(t, p)
	o, err := NewOffpolicy(p, train, test, OffpolicyConfig{MaxEpoch: 1,
		StepPerEpoch: 10, StepPerCollect: 5, EpisodePerTest: 1,
		BatchSize: 4, UpdatePerStep: 1}, Hooks{}, nil, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaveBestError(t *testing.T) {
	p := &pusher{}
	_, test := collectors(t, p)
	hooks := Hooks{SaveBestFn: func(agent.Agent) error {
		return errors.New("read-only file system")
	}}
	o, err := NewOffline(p, fixedBuffer(t), test, OfflineConfig{MaxEpoch: 1,
		StepPerEpoch: 1, EpisodePerTest: 1, BatchSize: 4}, hooks, nil, nil,
		nil)
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	assert.Error(t, err)
}

// memory records the tags written to it
type memory struct {
	tags []string
}

func (m *memory) AddScalar(tag string, _ float64, _ int) error {
	m.tags = append(m.tags, tag)
	return nil
}
func (m *memory) Flush() error { return nil }
func (m *memory) Close() error { return nil }
