// Package trainer implements trainers, which alternate between
// updating an agent and testing it for a number of epochs
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/collector"
	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/logger"
	"github.com/samuelfneumann/offlinerl/utils/progressbar"
	"go.uber.org/zap"
)

// progressWidth is the width of the per-epoch progress bar
const progressWidth = 30

// Hooks are called by trainers at fixed points during training. Any
// hook may be nil.
type Hooks struct {
	// TrainFn is called before each training collection
	TrainFn func(epoch, envStep int)

	// TestFn is called before each test
	TestFn func(epoch, envStep int)

	// StopFn returns whether training should stop given the mean test
	// return
	StopFn func(meanReward float64) bool

	// SaveBestFn is called each time the agent reaches a new best test
	// return
	SaveBestFn func(a agent.Agent) error

	// SaveCheckpointFn is called at the end of each epoch, subject to
	// the save interval of the logger
	SaveCheckpointFn func(epoch, envStep, gradientStep int) error
}

// Result summarises a run of a trainer
type Result struct {
	BestReward    float64
	BestRewardStd float64
	BestEpoch     int
	Epoch         int

	TrainStep    int
	TrainEpisode int
	TestStep     int
	TestEpisode  int
	GradientStep int

	Duration  time.Duration
	TrainTime time.Duration
	TestTime  time.Duration

	// UpdateSpeed is the number of training steps per second of
	// training time
	UpdateSpeed float64

	// Stopped is true if StopFn ended training early
	Stopped bool
}

func (r Result) String() string {
	var b strings.Builder
	b.WriteString("Result{\n")
	fmt.Fprintf(&b, "  best_reward: %.4f,\n", r.BestReward)
	fmt.Fprintf(&b, "  best_reward_std: %.4f,\n", r.BestRewardStd)
	fmt.Fprintf(&b, "  best_epoch: %v,\n", r.BestEpoch)
	fmt.Fprintf(&b, "  epoch: %v,\n", r.Epoch)
	fmt.Fprintf(&b, "  train_step: %v,\n", r.TrainStep)
	fmt.Fprintf(&b, "  train_episode: %v,\n", r.TrainEpisode)
	fmt.Fprintf(&b, "  test_step: %v,\n", r.TestStep)
	fmt.Fprintf(&b, "  test_episode: %v,\n", r.TestEpisode)
	fmt.Fprintf(&b, "  gradient_step: %v,\n", r.GradientStep)
	fmt.Fprintf(&b, "  duration: %v,\n", r.Duration.Truncate(time.Millisecond))
	fmt.Fprintf(&b, "  train_time: %v,\n", r.TrainTime.Truncate(time.Millisecond))
	fmt.Fprintf(&b, "  test_time: %v,\n", r.TestTime.Truncate(time.Millisecond))
	fmt.Fprintf(&b, "  update_speed: %.2f step/s,\n", r.UpdateSpeed)
	fmt.Fprintf(&b, "  stopped: %v,\n", r.Stopped)
	b.WriteString("}")
	return b.String()
}

// base holds the state shared by all trainers: testing, updating, and
// keeping track of the best agent
type base struct {
	agent   agent.Agent
	test    *collector.Collector
	hooks   Hooks
	logger  *logger.Logger
	zl      *zap.Logger
	out     io.Writer
	name    string
	started time.Time

	maxEpoch       int
	stepPerEpoch   int
	episodePerTest int
	batchSize      int

	result Result
}

func newBase(name string, a agent.Agent, test *collector.Collector,
	maxEpoch, stepPerEpoch, episodePerTest, batchSize int, hooks Hooks,
	log *logger.Logger, zl *zap.Logger, out io.Writer) (base, error) {
	if a == nil {
		return base{}, errors.New("agent must be set")
	}
	if maxEpoch < 1 || stepPerEpoch < 1 || batchSize < 1 {
		return base{}, fmt.Errorf("max epoch (%v), step per epoch (%v), "+
			"and batch size (%v) must be positive", maxEpoch, stepPerEpoch,
			batchSize)
	}
	if test != nil && episodePerTest < 1 {
		return base{}, fmt.Errorf("episode per test must be positive, "+
			"got %v", episodePerTest)
	}
	if log == nil {
		log = logger.New(nil, logger.DefaultIntervals(), nil)
	}
	if zl == nil {
		zl = zap.NewNop()
	}

	return base{
		agent:          a,
		test:           test,
		hooks:          hooks,
		logger:         log,
		zl:             zl,
		out:            out,
		name:           name,
		maxEpoch:       maxEpoch,
		stepPerEpoch:   stepPerEpoch,
		episodePerTest: episodePerTest,
		batchSize:      batchSize,
		result:         Result{BestEpoch: -1},
	}, nil
}

// stop returns whether StopFn is satisfied by reward
func (b *base) stop(reward float64) bool {
	return b.hooks.StopFn != nil && b.hooks.StopFn(reward)
}

// testEpisode tests the agent in evaluation mode, logging the result
// at step
func (b *base) testEpisode(ctx context.Context, epoch,
	step int) (collector.CollectStats, error) {
	start := time.Now()
	defer func() { b.result.TestTime += time.Since(start) }()

	if b.hooks.TestFn != nil {
		b.hooks.TestFn(epoch, step)
	}
	b.agent.Eval()
	stats, err := b.test.Collect(ctx, collector.CollectOptions{
		NEpisode:           b.episodePerTest,
		ResetBeforeCollect: true,
	})
	if err != nil {
		return collector.CollectStats{}, fmt.Errorf("test: %w", err)
	}

	b.result.TestStep += stats.NCollectedSteps
	b.result.TestEpisode += stats.NCollectedEpisodes
	if err := b.logger.LogTestData(stats, step); err != nil {
		return collector.CollectStats{}, fmt.Errorf("test: %w", err)
	}
	return stats, nil
}

// record records the result of a test at the end of epoch, saving the
// agent if it performed best so far
func (b *base) record(epoch int, stats collector.CollectStats) error {
	reward, std := stats.ReturnsStat.Mean, stats.ReturnsStat.Std
	if b.result.BestEpoch < 0 || reward > b.result.BestReward {
		b.result.BestEpoch = epoch
		b.result.BestReward = reward
		b.result.BestRewardStd = std
		if b.hooks.SaveBestFn != nil {
			if err := b.hooks.SaveBestFn(b.agent); err != nil {
				return fmt.Errorf("save best: %w", err)
			}
		}
	}
	return nil
}

// start tests the agent before training
func (b *base) start(ctx context.Context) error {
	b.started = time.Now()
	if b.test == nil {
		return nil
	}

	stats, err := b.testEpisode(ctx, 0, 0)
	if err != nil {
		return err
	}
	if err := b.record(0, stats); err != nil {
		return err
	}
	b.zl.Info("initial test", zap.String("trainer", b.name),
		zap.Float64("test_reward", stats.ReturnsStat.Mean),
		zap.Float64("test_reward_std", stats.ReturnsStat.Std))
	return nil
}

// update performs a single update of the agent
func (b *base) update(sampler expreplay.Sampler) error {
	stats, err := b.agent.Update(b.batchSize, sampler)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	b.result.GradientStep++
	b.zl.Debug("update", zap.Int("gradient_step", b.result.GradientStep),
		zap.Stringer("stats", stats))
	if err := b.logger.LogUpdateData(stats, b.result.GradientStep); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

// endEpoch saves a checkpoint, tests the agent, and returns whether
// training should stop
func (b *base) endEpoch(ctx context.Context, epoch, step int) (bool, error) {
	err := b.logger.SaveData(epoch, b.result.TrainStep,
		b.result.GradientStep, b.hooks.SaveCheckpointFn)
	if err != nil {
		return false, err
	}
	b.result.Epoch = epoch

	if b.test == nil {
		b.zl.Info("epoch finished", zap.String("trainer", b.name),
			zap.Int("epoch", epoch))
		return false, nil
	}

	stats, err := b.testEpisode(ctx, epoch, step)
	if err != nil {
		return false, err
	}
	if err := b.record(epoch, stats); err != nil {
		return false, err
	}
	b.zl.Info("epoch finished", zap.String("trainer", b.name),
		zap.Int("epoch", epoch),
		zap.Float64("test_reward", stats.ReturnsStat.Mean),
		zap.Float64("test_reward_std", stats.ReturnsStat.Std),
		zap.Float64("best_reward", b.result.BestReward),
		zap.Float64("best_reward_std", b.result.BestRewardStd),
		zap.Int("best_epoch", b.result.BestEpoch))
	return b.stop(b.result.BestReward), nil
}

// finish completes the Result of a run
func (b *base) finish() Result {
	b.result.Duration = time.Since(b.started)
	b.result.TrainTime = b.result.Duration - b.result.TestTime
	if secs := b.result.TrainTime.Seconds(); secs > 0 {
		steps := b.result.TrainStep
		if steps == 0 {
			steps = b.result.GradientStep
		}
		b.result.UpdateSpeed = float64(steps) / secs
	}
	return b.result
}

// progress returns the progress bar of an epoch
func (b *base) progress(epoch int) *progressbar.ManualProgressBar {
	return progressbar.NewManualProgressBar(b.out,
		fmt.Sprintf("Epoch #%v", epoch), progressWidth, b.stepPerEpoch)
}
