package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/collector"
	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/logger"
	"go.uber.org/zap"
)

// OfflineConfig configures an Offline trainer
type OfflineConfig struct {
	MaxEpoch       int `yaml:"max_epoch"`
	StepPerEpoch   int `yaml:"step_per_epoch"` // Gradient steps
	EpisodePerTest int `yaml:"episode_per_test"`
	BatchSize      int `yaml:"batch_size"`
}

// Offline trains an agent from a fixed buffer of transitions, without
// interacting with the environment except to test the agent. Tests are
// logged at the gradient step they happen at.
type Offline struct {
	base
	buffer expreplay.Sampler
}

// NewOffline returns a new Offline trainer which samples batches from
// buffer. Progress bars are written to out, if out is not nil.
func NewOffline(a agent.Agent, buffer expreplay.Sampler,
	test *collector.Collector, c OfflineConfig, hooks Hooks,
	log *logger.Logger, zl *zap.Logger, out io.Writer) (*Offline, error) {
	if buffer == nil {
		return nil, errors.New("newoffline: buffer must be set")
	}
	if buffer.Len() == 0 {
		return nil, errors.New("newoffline: buffer is empty")
	}

	b, err := newBase("offline", a, test, c.MaxEpoch, c.StepPerEpoch,
		c.EpisodePerTest, c.BatchSize, hooks, log, zl, out)
	if err != nil {
		return nil, fmt.Errorf("newoffline: %w", err)
	}
	return &Offline{base: b, buffer: buffer}, nil
}

// Run runs the trainer until MaxEpoch epochs have passed or StopFn is
// satisfied
func (o *Offline) Run(ctx context.Context) (Result, error) {
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

func (o *Offline) epoch(ctx context.Context, epoch int) (bool, error) {
	bar := o.progress(epoch)
	defer bar.Close()

	o.agent.Train()
	for i := 0; i < o.stepPerEpoch; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := o.update(o.buffer); err != nil {
			return false, err
		}

		bar.Increment(1)
		if o.out != nil && ((i+1)%100 == 0 || i+1 == o.stepPerEpoch) {
			bar.Display(fmt.Sprintf("gradient_step: %v",
				o.result.GradientStep))
		}
	}

	return o.endEpoch(ctx, epoch, o.result.GradientStep)
}
