package experiment

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/samuelfneumann/offlinerl/agent/discretecrr"
	"github.com/samuelfneumann/offlinerl/collector"
	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/solver"
	"github.com/samuelfneumann/offlinerl/trainer"
	"go.uber.org/zap"
)

// LoadOrGather loads the buffer at path if it is a regular file.
// Otherwise it gathers a new buffer with GatherCartpole, which saves
// it at path.
func LoadOrGather(ctx context.Context, path string, seed uint64,
	gather CartpoleArgs, out io.Writer,
	zl *zap.Logger) (*expreplay.VectorReplayBuffer, error) {
	if zl == nil {
		zl = zap.NewNop()
	}

	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		buffer, err := expreplay.Load(path, seed)
		if err != nil {
			return nil, fmt.Errorf("loadorgather: %w", err)
		}
		zl.Info("loaded buffer", zap.String("path", path),
			zap.Int("transitions", buffer.Len()))
		return buffer, nil
	}

	zl.Info("no buffer found, gathering one", zap.String("path", path))
	gather.SaveBufferName = path
	gather.Watch = false
	report, err := GatherCartpole(ctx, gather, out, zl)
	if err != nil {
		return nil, fmt.Errorf("loadorgather: %w", err)
	}
	return report.Buffer, nil
}

// DiscreteCRR trains a Discrete CRR agent offline from the buffer at
// LoadBufferName, gathering the buffer first if it does not exist. The
// Report passes if the best test return reaches the reward threshold.
// Progress bars and rendered frames are written to out, if out is not
// nil.
func DiscreteCRR(ctx context.Context, args CRRArgs, out io.Writer,
	zl *zap.Logger) (*Report, error) {
	if zl == nil {
		zl = zap.NewNop()
	}
	if err := args.validate(); err != nil {
		return nil, fmt.Errorf("discretecrr: %w", err)
	}

	info, spec, err := describe(args.Task, args.Seed)
	if err != nil {
		return nil, fmt.Errorf("discretecrr: %w", err)
	}
	if !info.Discrete() {
		return nil, fmt.Errorf("discretecrr: %v does not have discrete "+
			"actions", args.Task)
	}
	threshold := args.threshold("crr", spec.RewardThreshold)

	c := discretecrr.DefaultConfig()
	c.HiddenSizes = args.HiddenSizes
	c.Solver = solver.NewDefaultAdam(args.LR)
	c.BatchSize = args.BatchSize
	c.Gamma = args.Gamma
	c.TargetUpdateFreq = args.TargetUpdateFreq
	c.Mode = discretecrr.Mode(args.PolicyImprovementMode)
	c.Beta = args.Beta
	c.RatioUpperBound = args.RatioUpperBound
	c.MinQWeight = args.MinQWeight
	c.DeterministicEval = args.DeterministicEval

	a, err := discretecrr.New(info, c, args.Seed)
	if err != nil {
		return nil, fmt.Errorf("discretecrr: %w", err)
	}
	defer a.Close()
	if err := resume(a, args.ResumePath, zl); err != nil {
		return nil, fmt.Errorf("discretecrr: %w", err)
	}

	if args.Watch {
		stats, err := Watch(ctx, a, args.Task, args.Seed, args.RenderDelay(),
			out, zl)
		if err != nil {
			return nil, fmt.Errorf("discretecrr: %w", err)
		}
		return &Report{Watch: &stats}, nil
	}

	if args.Gather.Logdir == "" {
		args.Gather.Logdir = args.Logdir
	}
	buffer, err := LoadOrGather(ctx, args.LoadBufferName, args.Seed,
		args.Gather, out, zl)
	if err != nil {
		return nil, fmt.Errorf("discretecrr: %w", err)
	}
	if buffer.ObsDim() != info.ObsDim || buffer.ActDim() != info.ActionDim {
		return nil, fmt.Errorf("discretecrr: buffer stores (obs: %v, act: "+
			"%v) but %v has (obs: %v, act: %v)", buffer.ObsDim(),
			buffer.ActDim(), args.Task, info.ObsDim, info.ActionDim)
	}

	testEnvs, err := vectorEnv(args.Task, args.TestNum, args.Seed,
		args.Concurrent)
	if err != nil {
		return nil, fmt.Errorf("discretecrr: %w", err)
	}
	defer testEnvs.Close()
	test, err := collector.New(a, testEnvs, nil, true, zl, args.Seed)
	if err != nil {
		return nil, fmt.Errorf("discretecrr: %w", err)
	}

	r, err := newRun(args.Common, "discrete_crr", zl)
	if err != nil {
		return nil, fmt.Errorf("discretecrr: %w", err)
	}
	defer r.close()
	hooks, err := r.hooks(a, threshold, args.CheckpointInterval)
	if err != nil {
		return nil, fmt.Errorf("discretecrr: %w", err)
	}

	t, err := trainer.NewOffline(a, buffer, test, trainer.OfflineConfig{
		MaxEpoch:       args.Epoch,
		StepPerEpoch:   args.UpdatePerEpoch,
		EpisodePerTest: args.TestNum,
		BatchSize:      args.BatchSize,
	}, hooks, r.log, zl, out)
	if err != nil {
		return nil, fmt.Errorf("discretecrr: %w", err)
	}
	result, err := t.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("discretecrr: %w", err)
	}

	report := &Report{
		Result: &result,
		Buffer: buffer,
		Passed: true,
		Path:   r.path,
	}
	if threshold != nil {
		report.Passed = result.BestReward >= *threshold
	} else {
		zl.Warn("no reward threshold, the result is not checked",
			zap.String("task", args.Task))
	}
	zl.Info("training finished", zap.String("algo", "discrete_crr"),
		zap.Float64("best_reward", result.BestReward),
		zap.Float64("best_reward_std", result.BestRewardStd),
		zap.Int("best_epoch", result.BestEpoch),
		zap.Bool("passed", report.Passed))

	if args.WatchAfterTraining {
		stats, err := Watch(ctx, a, args.Task, args.Seed, args.RenderDelay(),
			out, zl)
		if err != nil {
			return nil, fmt.Errorf("discretecrr: %w", err)
		}
		report.Watch = &stats
	}
	return report, nil
}
