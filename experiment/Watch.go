package experiment

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/collector"
	"go.uber.org/zap"
)

// Watch runs a single episode of policy in evaluation mode on task.
// If render is positive, each frame is written to out followed by a
// pause of render.
func Watch(ctx context.Context, policy agent.Policy, task string,
	seed uint64, render time.Duration, out io.Writer,
	zl *zap.Logger) (collector.CollectStats, error) {
	if zl == nil {
		zl = zap.NewNop()
	}

	env, err := vectorEnv(task, 1, seed, false)
	if err != nil {
		return collector.CollectStats{}, fmt.Errorf("watch: %w", err)
	}
	defer env.Close()

	c, err := collector.New(policy, env, nil, false, zl, seed)
	if err != nil {
		return collector.CollectStats{}, fmt.Errorf("watch: %w", err)
	}

	policy.Eval()
	defer policy.Train()
	stats, err := c.Collect(ctx, collector.CollectOptions{
		NEpisode: 1,
		Render:   render,
		RenderTo: out,
	})
	if err != nil {
		return collector.CollectStats{}, fmt.Errorf("watch: %w", err)
	}

	zl.Info("watched episode", zap.String("task", task),
		zap.Float64("return", stats.ReturnsStat.Mean),
		zap.Float64("length", stats.LensStat.Mean))
	return stats, nil
}
