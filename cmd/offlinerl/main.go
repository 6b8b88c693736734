// Command offlinerl gathers replay buffers with online agents and
// trains Discrete CRR agents offline from them.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/samuelfneumann/offlinerl/environment/envconfig"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// cli holds the state shared by all commands
type cli struct {
	verbose bool
	config  string
	logger  *zap.Logger
	out     io.Writer
}

// newRootCmd returns the offlinerl command tree. Progress bars, rendered
// frames, and results are written to out.
func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out, logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "offlinerl",
		Short: "Gather replay buffers and train agents offline",
		Long: `offlinerl trains agents online to gather replay buffers of expert
experience, and trains Discrete CRR agents offline from those buffers.

  offlinerl gather-pendulum    train SAC on Pendulum-v1 and save its buffer
  offlinerl gather-cartpole    train DQN on CartPole-v0 and save its buffer
  offlinerl discrete-crr       train Discrete CRR on a saved CartPole buffer`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if c.verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false,
		"Enable verbose logging")
	root.PersistentFlags().StringVarP(&c.config, "config", "c", "",
		"YAML file of arguments, overridden by flags set on the command line")

	root.AddCommand(c.gatherPendulumCmd())
	root.AddCommand(c.gatherCartpoleCmd())
	root.AddCommand(c.discreteCRRCmd())
	root.AddCommand(&cobra.Command{
		Use:   "envs",
		Short: "List the registered environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, task := range envconfig.Registered() {
				spec, err := envconfig.Spec(task)
				if err != nil {
					return err
				}
				threshold := "none"
				if spec.RewardThreshold != nil {
					threshold = fmt.Sprint(*spec.RewardThreshold)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-16v reward_threshold: %v\n",
					task, threshold)
			}
			return nil
		},
	})

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT,
		syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
