package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/collector"
	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/logger"
	"go.uber.org/zap"
)

// OffpolicyConfig configures an Offpolicy trainer
type OffpolicyConfig struct {
	MaxEpoch       int `yaml:"max_epoch"`
	StepPerEpoch   int `yaml:"step_per_epoch"` // Environment steps
	StepPerCollect int `yaml:"step_per_collect"`
	EpisodePerTest int `yaml:"episode_per_test"`
	BatchSize      int `yaml:"batch_size"`

	// UpdatePerStep is the number of updates per collected step
	UpdatePerStep float64 `yaml:"update_per_step"`

	// TestInTrain tests the agent whenever the training return
	// satisfies StopFn, stopping early if the test return does too
	TestInTrain bool `yaml:"test_in_train"`
}

// Offpolicy trains an agent by alternating between collecting
// transitions with the train collector and updating the agent with
// batches sampled from the train collector's buffer
type Offpolicy struct {
	base
	train          *collector.Collector
	stepPerCollect int
	updatePerStep  float64
	testInTrain    bool
}

// NewOffpolicy returns a new Offpolicy trainer. The train collector
// must have a buffer. Progress bars are written to out, if out is not
// nil.
func NewOffpolicy(a agent.Agent, train, test *collector.Collector,
	c OffpolicyConfig, hooks Hooks, log *logger.Logger, zl *zap.Logger,
	out io.Writer) (*Offpolicy, error) {
	if train == nil || train.Buffer() == nil {
		return nil, errors.New("newoffpolicy: train collector must have " +
			"a buffer")
	}
	if c.StepPerCollect < 1 || c.UpdatePerStep < 0 {
		return nil, fmt.Errorf("newoffpolicy: step per collect (%v) must "+
			"be positive and update per step (%v) non-negative",
			c.StepPerCollect, c.UpdatePerStep)
	}

	b, err := newBase("offpolicy", a, test, c.MaxEpoch, c.StepPerEpoch,
		c.EpisodePerTest, c.BatchSize, hooks, log, zl, out)
	if err != nil {
		return nil, fmt.Errorf("newoffpolicy: %w", err)
	}

	return &Offpolicy{
		base:           b,
		train:          train,
		stepPerCollect: c.StepPerCollect,
		updatePerStep:  c.UpdatePerStep,
		testInTrain:    c.TestInTrain,
	}, nil
}

// Run runs the trainer until MaxEpoch epochs have passed or StopFn is
// satisfied
func (o *Offpolicy) Run(ctx context.Context) (Result, error) {
	if err := o.start(ctx); err != nil {
		return Result{}, fmt.Errorf("run: %w", err)
	}

	for epoch := 1; epoch <= o.maxEpoch; epoch++ {
		stop, err := o.epoch(ctx, epoch)
		if err != nil {
			return Result{}, fmt.Errorf("run: epoch %v: %w", epoch, err)
		}
		if stop {
			o.result.Stopped = true
			break
		}
	}
	return o.finish(), nil
}

// epoch runs a single epoch, returning whether training should stop
func (o *Offpolicy) epoch(ctx context.Context, epoch int) (bool, error) {
	bar := o.progress(epoch)
	defer bar.Close()

	for steps := 0; steps < o.stepPerEpoch; {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		stats, stop, err := o.trainStep(ctx, epoch)
		if err != nil {
			return false, err
		}
		steps += stats.NCollectedSteps
		bar.Increment(stats.NCollectedSteps)
		if stop {
			bar.Display(fmt.Sprintf("env_step: %v", o.result.TrainStep))
			return true, nil
		}

		updates := int(math.RoundToEven(o.updatePerStep *
			float64(stats.NCollectedSteps)))
		for i := 0; i < updates; i++ {
			err := o.update(o.train.Buffer())
			if expreplay.IsEmptyBuffer(err) ||
				expreplay.IsInsufficientSamples(err) {
				break
			} else if err != nil {
				return false, err
			}
		}

		bar.Display(fmt.Sprintf("env_step: %v  gradient_step: %v  "+
			"reward: %.2f", o.result.TrainStep, o.result.GradientStep,
			stats.ReturnsStat.Mean))
	}

	return o.endEpoch(ctx, epoch, o.result.TrainStep)
}

// trainStep collects StepPerCollect steps of training data, testing
// the agent if the training return satisfies StopFn
func (o *Offpolicy) trainStep(ctx context.Context,
	epoch int) (collector.CollectStats, bool, error) {
	if o.hooks.TrainFn != nil {
		o.hooks.TrainFn(epoch, o.result.TrainStep)
	}
	o.agent.Train()
	stats, err := o.train.Collect(ctx,
		collector.CollectOptions{NStep: o.stepPerCollect})
	if err != nil {
		return collector.CollectStats{}, false, fmt.Errorf("train: %w", err)
	}

	o.result.TrainStep += stats.NCollectedSteps
	o.result.TrainEpisode += stats.NCollectedEpisodes
	if err := o.logger.LogTrainData(stats, o.result.TrainStep); err != nil {
		return collector.CollectStats{}, false, fmt.Errorf("train: %w", err)
	}

	if !o.testInTrain || o.test == nil || stats.NCollectedEpisodes == 0 ||
		!o.stop(stats.ReturnsStat.Mean) {
		return stats, false, nil
	}

	test, err := o.testEpisode(ctx, epoch, o.result.TrainStep)
	if err != nil {
		return collector.CollectStats{}, false, err
	}
	o.agent.Train()
	if !o.stop(test.ReturnsStat.Mean) {
		return stats, false, nil
	}

	o.zl.Info("stopping early, test reward reached the threshold",
		zap.Int("epoch", epoch),
		zap.Float64("test_reward", test.ReturnsStat.Mean))
	o.result.Epoch = epoch
	o.result.BestEpoch = epoch
	o.result.BestReward = test.ReturnsStat.Mean
	o.result.BestRewardStd = test.ReturnsStat.Std
	if o.hooks.SaveBestFn != nil {
		if err := o.hooks.SaveBestFn(o.agent); err != nil {
			return collector.CollectStats{}, false,
				fmt.Errorf("save best: %w", err)
		}
	}
	return stats, true, nil
}
