package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/agent/deepq"
	"github.com/samuelfneumann/offlinerl/agent/sac"
	"github.com/samuelfneumann/offlinerl/collector"
	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/network"
	"github.com/samuelfneumann/offlinerl/solver"
	"github.com/samuelfneumann/offlinerl/trainer"
	"go.uber.org/zap"
)

// gathering holds what is needed to train an agent online and then
// gather a buffer of its experience
type gathering struct {
	common         Common
	agent          agent.Agent
	algo           string
	threshold      *float64
	trainingNum    int
	bufferSize     int
	saveBufferName string
	config         trainer.OffpolicyConfig

	// testNoise adds the agent's exploration noise to test actions
	testNoise bool

	// prepare is called on the train collector before training
	prepare func(ctx context.Context, train *collector.Collector) error

	// hooks adds algorithm specific hooks
	hooks func(h *trainer.Hooks)

	// beforeGather is called before the final buffer is gathered
	beforeGather func()
}

// GatherPendulum trains a SAC agent online, then gathers a buffer of
// BufferSize transitions with the trained agent and saves it to
// SaveBufferName. Progress bars and rendered frames are written to out,
// if out is not nil.
func GatherPendulum(ctx context.Context, args PendulumArgs, out io.Writer,
	zl *zap.Logger) (*Report, error) {
	if zl == nil {
		zl = zap.NewNop()
	}
	if err := args.validate(); err != nil {
		return nil, fmt.Errorf("gatherpendulum: %w", err)
	}

	info, spec, err := describe(args.Task, args.Seed)
	if err != nil {
		return nil, fmt.Errorf("gatherpendulum: %w", err)
	}
	if info.Discrete() {
		return nil, fmt.Errorf("gatherpendulum: %v has discrete actions, "+
			"sac needs continuous actions", args.Task)
	}

	c := sac.DefaultConfig()
	c.HiddenSizes = args.HiddenSizes
	c.ActorSolver = solver.NewDefaultAdam(args.ActorLR)
	c.CriticSolver = solver.NewDefaultAdam(args.CriticLR)
	c.AlphaSolver = solver.NewDefaultAdam(args.AlphaLR)
	c.BatchSize = args.BatchSize
	c.Tau = args.Tau
	c.Gamma = args.Gamma
	c.NStep = args.NStep
	c.Alpha = args.Alpha
	c.AutoAlpha = args.AutoAlpha

	a, err := c.CreateAgent(info, args.Seed)
	if err != nil {
		return nil, fmt.Errorf("gatherpendulum: %w", err)
	}
	defer a.Close()

	report, err := gather(ctx, pendulumGathering(args, a,
		args.threshold("sac", spec.RewardThreshold)), out, zl)
	if err != nil {
		return nil, fmt.Errorf("gatherpendulum: %w", err)
	}
	return report, nil
}

// pendulumGathering returns the gathering of a trained SAC agent a
func pendulumGathering(args PendulumArgs, a agent.Agent,
	threshold *float64) gathering {
	return gathering{
		common:         args.Common,
		agent:          a,
		algo:           "sac",
		threshold:      threshold,
		trainingNum:    args.TrainingNum,
		bufferSize:     args.BufferSize,
		saveBufferName: args.SaveBufferName,
		config: trainer.OffpolicyConfig{
			MaxEpoch:       args.Epoch,
			StepPerEpoch:   args.StepPerEpoch,
			StepPerCollect: args.StepPerCollect,
			EpisodePerTest: args.TestNum,
			BatchSize:      args.BatchSize,
			UpdatePerStep:  args.UpdatePerStep,
			TestInTrain:    true,
		},
		// The trained agent gathers with its deterministic action
		beforeGather: a.Eval,
	}
}

// GatherCartpole trains a DQN agent online, then gathers a buffer of
// BufferSize transitions with the trained agent acting ε-greedily with
// ε = EpsGather and saves it to SaveBufferName. Progress bars and
// rendered frames are written to out, if out is not nil.
func GatherCartpole(ctx context.Context, args CartpoleArgs, out io.Writer,
	zl *zap.Logger) (*Report, error) {
	if zl == nil {
		zl = zap.NewNop()
	}
	if err := args.validate(); err != nil {
		return nil, fmt.Errorf("gathercartpole: %w", err)
	}

	info, spec, err := describe(args.Task, args.Seed)
	if err != nil {
		return nil, fmt.Errorf("gathercartpole: %w", err)
	}

	c := deepq.DefaultConfig()
	c.PolicyLayers = args.HiddenSizes
	c.Biases = make([]bool, len(args.HiddenSizes))
	c.Activations = make([]*network.Activation, len(args.HiddenSizes))
	for i := range args.HiddenSizes {
		c.Biases[i] = true
		c.Activations[i] = network.ReLU()
	}
	c.Solver = solver.NewDefaultAdam(args.LR)
	c.Epsilon = args.EpsTrain
	c.BatchSize = args.BatchSize
	c.Gamma = args.Gamma
	c.NStep = args.NStep
	c.TargetUpdateInterval = args.TargetUpdateFreq

	a, err := deepq.New(info, c, args.Seed)
	if err != nil {
		return nil, fmt.Errorf("gathercartpole: %w", err)
	}
	defer a.Close()

	report, err := gather(ctx, cartpoleGathering(args, a,
		args.threshold("dqn", spec.RewardThreshold)), out, zl)
	if err != nil {
		return nil, fmt.Errorf("gathercartpole: %w", err)
	}
	return report, nil
}

// cartpoleGathering returns the gathering of a trained DQN agent a,
// which tests with ε = EpsTest
func cartpoleGathering(args CartpoleArgs, a *deepq.DeepQ,
	threshold *float64) gathering {
	return gathering{
		common:         args.Common,
		agent:          a,
		algo:           "dqn",
		threshold:      threshold,
		trainingNum:    args.TrainingNum,
		bufferSize:     args.BufferSize,
		saveBufferName: args.SaveBufferName,
		testNoise:      true,
		config: trainer.OffpolicyConfig{
			MaxEpoch:       args.Epoch,
			StepPerEpoch:   args.StepPerEpoch,
			StepPerCollect: args.StepPerCollect,
			EpisodePerTest: args.TestNum,
			BatchSize:      args.BatchSize,
			UpdatePerStep:  args.UpdatePerStep,
			TestInTrain:    true,
		},
		prepare: func(ctx context.Context, train *collector.Collector) error {
			_, err := train.Collect(ctx, collector.CollectOptions{
				NStep: args.BatchSize * args.TrainingNum,
			})
			return err
		},
		hooks: func(h *trainer.Hooks) {
			h.TrainFn = func(_, envStep int) {
				a.SetEpsilon(epsilon(args.EpsTrain, envStep))
			}
			h.TestFn = func(int, int) {
				a.SetEpsilon(args.EpsTest)
			}
		},
		beforeGather: func() {
			a.SetEpsilon(args.EpsGather)
		},
	}
}

// epsilon returns the training ε after envStep environment steps: ε
// is held until 10000 steps, then decays linearly to a tenth of its
// value at 50000 steps
func epsilon(eps float64, envStep int) float64 {
	switch {
	case envStep <= 10000:
		return eps
	case envStep <= 50000:
		return eps - float64(envStep-10000)/40000*(0.9*eps)
	default:
		return 0.1 * eps
	}
}

// gather trains g.agent online and then gathers its buffer
func gather(ctx context.Context, g gathering, out io.Writer,
	zl *zap.Logger) (*Report, error) {
	if err := resume(g.agent, g.common.ResumePath, zl); err != nil {
		return nil, err
	}
	if g.common.Watch {
		stats, err := Watch(ctx, g.agent, g.common.Task, g.common.Seed,
			g.common.RenderDelay(), out, zl)
		if err != nil {
			return nil, err
		}
		return &Report{Watch: &stats}, nil
	}
	if g.trainingNum < 1 || g.bufferSize < g.trainingNum {
		return nil, fmt.Errorf("need at least one training environment "+
			"and a buffer of at least one transition per environment, "+
			"got %v environments and buffer size %v", g.trainingNum,
			g.bufferSize)
	}
	if g.saveBufferName == "" {
		return nil, errors.New("no buffer file name")
	}

	info, _, err := describe(g.common.Task, g.common.Seed)
	if err != nil {
		return nil, err
	}
	trainEnvs, err := vectorEnv(g.common.Task, g.trainingNum, g.common.Seed,
		g.common.Concurrent)
	if err != nil {
		return nil, err
	}
	defer trainEnvs.Close()
	testEnvs, err := vectorEnv(g.common.Task, g.common.TestNum,
		g.common.Seed, g.common.Concurrent)
	if err != nil {
		return nil, err
	}
	defer testEnvs.Close()

	buffer, err := expreplay.NewVectorReplayBuffer(g.bufferSize,
		g.trainingNum, info.ObsDim, info.ActionDim, g.common.Seed)
	if err != nil {
		return nil, err
	}
	train, err := collector.New(g.agent, trainEnvs, buffer, true, zl,
		g.common.Seed)
	if err != nil {
		return nil, err
	}
	test, err := collector.New(g.agent, testEnvs, nil, g.testNoise, zl,
		g.common.Seed+1)
	if err != nil {
		return nil, err
	}

	r, err := newRun(g.common, g.algo, zl)
	if err != nil {
		return nil, err
	}
	defer r.close()
	hooks, err := r.hooks(g.agent, g.threshold, g.common.CheckpointInterval)
	if err != nil {
		return nil, err
	}
	if g.hooks != nil {
		g.hooks(&hooks)
	}

	if g.prepare != nil {
		g.agent.Train()
		if err := g.prepare(ctx, train); err != nil {
			return nil, err
		}
	}

	t, err := trainer.NewOffpolicy(g.agent, train, test, g.config, hooks,
		r.log, zl, out)
	if err != nil {
		return nil, err
	}
	result, err := t.Run(ctx)
	if err != nil {
		return nil, err
	}
	zl.Info("training finished", zap.String("algo", g.algo),
		zap.Float64("best_reward", result.BestReward),
		zap.Int("best_epoch", result.BestEpoch))

	// Gather the buffer from scratch with the trained agent
	train.Reset()
	g.agent.Train()
	if g.beforeGather != nil {
		g.beforeGather()
	}
	stats, err := train.Collect(ctx, collector.CollectOptions{
		NStep: g.bufferSize,
	})
	if err != nil {
		return nil, err
	}
	zl.Info("gathered buffer", zap.Int("transitions", buffer.Len()),
		zap.Float64("mean_return", stats.ReturnsStat.Mean),
		zap.String("path", g.saveBufferName))

	if err := buffer.Save(g.saveBufferName); err != nil {
		return nil, err
	}

	return &Report{
		Result: &result,
		Buffer: buffer,
		Gather: &stats,
		Passed: g.threshold == nil || result.BestReward >= *g.threshold,
		Path:   r.path,
	}, nil
}
