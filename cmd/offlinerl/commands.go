package main

import (
	"fmt"

	"github.com/samuelfneumann/offlinerl/experiment"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func (c *cli) gatherPendulumCmd() *cobra.Command {
	args := experiment.DefaultPendulumArgs()
	var threshold float64

	cmd := &cobra.Command{
		Use:   "gather-pendulum",
		Short: "Train SAC on Pendulum and save a buffer of its experience",
		Long: `Trains a SAC agent online until its test return reaches the reward
threshold or the epochs run out, then collects buffer-size transitions
with the trained agent into a fresh buffer and saves it to
save-buffer-name. Files ending in .sqlite are saved as SQLite
databases, all others with encoding/gob.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.load(cmd.Flags(), &args); err != nil {
				return err
			}
			setThreshold(cmd.Flags(), &args.Common, threshold)

			report, err := experiment.GatherPendulum(cmd.Context(), args,
				c.out, c.logger)
			if err != nil {
				return err
			}
			c.print(report)
			return nil
		},
	}

	f := cmd.Flags()
	commonFlags(f, &args.Common, &threshold)
	f.IntVar(&args.BufferSize, "buffer-size", args.BufferSize,
		"Number of transitions to gather")
	f.Float64Var(&args.ActorLR, "actor-lr", args.ActorLR, "Actor learning rate")
	f.Float64Var(&args.CriticLR, "critic-lr", args.CriticLR,
		"Critic learning rate")
	f.IntVar(&args.StepPerEpoch, "step-per-epoch", args.StepPerEpoch,
		"Environment steps per epoch")
	f.IntVar(&args.TrainingNum, "training-num", args.TrainingNum,
		"Number of training environments")
	f.IntVar(&args.StepPerCollect, "step-per-collect", args.StepPerCollect,
		"Environment steps per collection")
	f.Float64Var(&args.UpdatePerStep, "update-per-step", args.UpdatePerStep,
		"Updates per collected environment step")
	f.Float64Var(&args.Tau, "tau", args.Tau, "Target network smoothing")
	f.Float64Var(&args.Alpha, "alpha", args.Alpha, "Entropy scale")
	f.BoolVar(&args.AutoAlpha, "auto-alpha", args.AutoAlpha,
		"Learn the entropy scale")
	f.Float64Var(&args.AlphaLR, "alpha-lr", args.AlphaLR,
		"Entropy scale learning rate")
	f.IntVar(&args.NStep, "n-step", args.NStep, "Return horizon")
	f.StringVar(&args.SaveBufferName, "save-buffer-name", args.SaveBufferName,
		"File to save the gathered buffer to")
	return cmd
}

func (c *cli) gatherCartpoleCmd() *cobra.Command {
	args := experiment.DefaultCartpoleArgs()
	var threshold float64

	cmd := &cobra.Command{
		Use:   "gather-cartpole",
		Short: "Train DQN on CartPole and save a buffer of its experience",
		Long: `Trains an ε-greedy DQN agent online until its test return reaches the
reward threshold or the epochs run out, then collects buffer-size
transitions with the trained agent acting with ε = eps-gather and
saves them to save-buffer-name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.load(cmd.Flags(), &args); err != nil {
				return err
			}
			setThreshold(cmd.Flags(), &args.Common, threshold)

			report, err := experiment.GatherCartpole(cmd.Context(), args,
				c.out, c.logger)
			if err != nil {
				return err
			}
			c.print(report)
			return nil
		},
	}

	f := cmd.Flags()
	commonFlags(f, &args.Common, &threshold)
	cartpoleFlags(f, &args, "")
	f.StringVar(&args.SaveBufferName, "save-buffer-name", args.SaveBufferName,
		"File to save the gathered buffer to")
	return cmd
}

func (c *cli) discreteCRRCmd() *cobra.Command {
	args := experiment.DefaultCRRArgs()
	var threshold float64

	cmd := &cobra.Command{
		Use:   "discrete-crr",
		Short: "Train Discrete CRR offline from a CartPole buffer",
		Long: `Trains a Discrete CRR agent offline from the buffer at
load-buffer-name and fails if its best test return does not reach the
reward threshold. If the buffer does not exist, a DQN agent is trained
to gather one first, configured by the gather-* flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.load(cmd.Flags(), &args); err != nil {
				return err
			}
			setThreshold(cmd.Flags(), &args.Common, threshold)

			report, err := experiment.DiscreteCRR(cmd.Context(), args, c.out,
				c.logger)
			if err != nil {
				return err
			}
			c.print(report)
			if report.Result != nil && !report.Passed {
				return fmt.Errorf("best reward %.2f ± %.2f did not reach "+
					"the reward threshold", report.Result.BestReward,
					report.Result.BestRewardStd)
			}
			return nil
		},
	}

	f := cmd.Flags()
	commonFlags(f, &args.Common, &threshold)
	f.Float64Var(&args.LR, "lr", args.LR, "Learning rate")
	f.IntVar(&args.NStep, "n-step", args.NStep, "Ignored")
	f.IntVar(&args.TargetUpdateFreq, "target-update-freq",
		args.TargetUpdateFreq, "Updates between target network syncs, "+
			"0 disables target networks")
	f.IntVar(&args.UpdatePerEpoch, "update-per-epoch", args.UpdatePerEpoch,
		"Gradient steps per epoch")
	f.StringVar(&args.PolicyImprovementMode, "policy-improvement-mode",
		args.PolicyImprovementMode, "Advantage weighting: exp, binary, or all")
	f.Float64Var(&args.Beta, "beta", args.Beta, "Temperature of exp weights")
	f.Float64Var(&args.RatioUpperBound, "ratio-upper-bound",
		args.RatioUpperBound, "Upper bound of exp weights")
	f.Float64Var(&args.MinQWeight, "min-q-weight", args.MinQWeight,
		"Scale of the conservative Q-learning regularizer")
	f.BoolVar(&args.DeterministicEval, "deterministic-eval",
		args.DeterministicEval, "Test with the most probable actions "+
			"instead of sampled ones")
	f.StringVar(&args.LoadBufferName, "load-buffer-name", args.LoadBufferName,
		"Buffer to train from, gathered if it does not exist")
	f.BoolVar(&args.WatchAfterTraining, "watch-after-training",
		args.WatchAfterTraining, "Watch the trained policy play one episode")
	cartpoleFlags(f, &args.Gather, "gather-")
	return cmd
}

// commonFlags binds the flags shared by all drivers to c. The reward
// threshold is bound to threshold, see setThreshold.
func commonFlags(f *pflag.FlagSet, c *experiment.Common, threshold *float64) {
	f.StringVar(&c.Task, "task", c.Task, "Environment to train on")
	f.Float64Var(threshold, "reward-threshold", 0,
		"Test return to stop training at (default per task)")
	f.Uint64Var(&c.Seed, "seed", c.Seed, "Random seed")
	f.IntSliceVar(&c.HiddenSizes, "hidden-sizes", c.HiddenSizes,
		"Hidden layer sizes")
	f.IntVar(&c.Epoch, "epoch", c.Epoch, "Maximum number of epochs")
	f.IntVar(&c.BatchSize, "batch-size", c.BatchSize, "Update batch size")
	f.IntVar(&c.TestNum, "test-num", c.TestNum,
		"Number of test environments and episodes per test")
	f.StringVar(&c.Logdir, "logdir", c.Logdir, "Directory to log runs to")
	f.Float64Var(&c.Render, "render", c.Render,
		"Seconds between rendered frames, 0 disables rendering")
	f.Float64Var(&c.Gamma, "gamma", c.Gamma, "Discount factor")
	f.StringVar(&c.Device, "device", c.Device, "Device to train on, only cpu")
	f.StringVar(&c.ResumePath, "resume-path", c.ResumePath,
		"Policy file to load before training")
	f.BoolVar(&c.Watch, "watch", c.Watch,
		"Only watch the policy play one episode")
	f.IntVar(&c.CheckpointInterval, "checkpoint-interval",
		c.CheckpointInterval, "Epochs between checkpoints, 0 disables them")
	f.BoolVar(&c.Concurrent, "concurrent", c.Concurrent,
		"Step environments concurrently")
}

// cartpoleFlags binds the flags of a DQN gatherer to args, with each
// flag name prefixed by prefix. Without a prefix the flags of Common
// are not bound.
func cartpoleFlags(f *pflag.FlagSet, args *experiment.CartpoleArgs,
	prefix string) {
	if prefix != "" {
		f.IntSliceVar(&args.HiddenSizes, prefix+"hidden-sizes",
			args.HiddenSizes, "Hidden layer sizes of the gatherer")
		f.IntVar(&args.Epoch, prefix+"epoch", args.Epoch,
			"Maximum number of epochs of the gatherer")
		f.IntVar(&args.TestNum, prefix+"test-num", args.TestNum,
			"Number of test environments of the gatherer")
		f.Float64Var(&args.Gamma, prefix+"gamma", args.Gamma,
			"Discount factor of the gatherer")
	}
	f.IntVar(&args.BufferSize, prefix+"buffer-size", args.BufferSize,
		"Number of transitions to gather")
	f.Float64Var(&args.LR, prefix+"lr", args.LR, "Gatherer learning rate")
	f.IntVar(&args.StepPerEpoch, prefix+"step-per-epoch", args.StepPerEpoch,
		"Environment steps per epoch")
	f.IntVar(&args.TrainingNum, prefix+"training-num", args.TrainingNum,
		"Number of training environments")
	f.IntVar(&args.StepPerCollect, prefix+"step-per-collect",
		args.StepPerCollect, "Environment steps per collection")
	f.Float64Var(&args.UpdatePerStep, prefix+"update-per-step",
		args.UpdatePerStep, "Updates per collected environment step")
	if prefix == "" {
		f.IntVar(&args.NStep, "n-step", args.NStep, "Return horizon")
		f.IntVar(&args.TargetUpdateFreq, "target-update-freq",
			args.TargetUpdateFreq, "Updates between target network syncs")
	}
	f.Float64Var(&args.EpsTrain, prefix+"eps-train", args.EpsTrain,
		"ε while training, decayed after 10000 steps")
	f.Float64Var(&args.EpsTest, prefix+"eps-test", args.EpsTest,
		"ε while testing")
	f.Float64Var(&args.EpsGather, prefix+"eps-gather", args.EpsGather,
		"ε while gathering the buffer")
}

// setThreshold sets the reward threshold of c if it was given on the
// command line
func setThreshold(f *pflag.FlagSet, c *experiment.Common, threshold float64) {
	if f.Changed("reward-threshold") {
		c.RewardThreshold = &threshold
	}
}

// load loads the arguments of the --config file into args, keeping the
// values of flags set on the command line
func (c *cli) load(f *pflag.FlagSet, args interface{}) error {
	if c.config == "" {
		return nil
	}
	return applyConfig(f, c.config, args)
}

// applyConfig loads the YAML file at path into args, then sets the
// flags of f which were changed back to their command line values
func applyConfig(f *pflag.FlagSet, path string, args interface{}) error {
	type setting struct {
		flag   *pflag.Flag
		values []string
	}
	var changed []setting
	f.Visit(func(flag *pflag.Flag) {
		if s, ok := flag.Value.(pflag.SliceValue); ok {
			changed = append(changed, setting{flag, s.GetSlice()})
			return
		}
		changed = append(changed, setting{flag, []string{flag.Value.String()}})
	})

	if err := experiment.LoadArgs(path, args); err != nil {
		return err
	}

	for _, s := range changed {
		var err error
		if slice, ok := s.flag.Value.(pflag.SliceValue); ok {
			err = slice.Replace(s.values)
		} else {
			err = s.flag.Value.Set(s.values[0])
		}
		if err != nil {
			return fmt.Errorf("could not reapply --%v: %w", s.flag.Name, err)
		}
	}
	return nil
}

// print writes a report to the output of the command
func (c *cli) print(r *experiment.Report) {
	if r.Result != nil {
		fmt.Fprintln(c.out, r.Result)
	}
	if r.Gather != nil {
		fmt.Fprintf(c.out, "Gathered %v transitions:\n%v\n", r.Buffer.Len(),
			r.Gather)
	}
	if r.Watch != nil {
		fmt.Fprintf(c.out, "Final reward: %v, length: %v\n",
			r.Watch.ReturnsStat.Mean, r.Watch.LensStat.Mean)
	}
}
