// Package collector implements a Collector, which runs a policy in a
// vector of environments and stores the resulting transitions in a
// replay buffer
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/environment/vector"
	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/timestep"
	"github.com/samuelfneumann/offlinerl/utils/intutils"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// CollectOptions determines how much data a call to Collect gathers.
// Exactly one of NStep and NEpisode must be positive.
type CollectOptions struct {
	// NStep is the number of environment steps to collect. Since all
	// active environments are stepped together, slightly more steps
	// than NStep may be collected.
	NStep int

	// NEpisode is the number of episodes to collect
	NEpisode int

	// Random selects uniformly random actions instead of querying the
	// policy
	Random bool

	// Render, if positive, renders the environments to RenderTo after
	// each step and then sleeps for Render
	Render   time.Duration
	RenderTo io.Writer

	// ResetBeforeCollect resets all environments before collecting
	ResetBeforeCollect bool
}

func (o CollectOptions) validate() error {
	if (o.NStep > 0) == (o.NEpisode > 0) {
		return fmt.Errorf("exactly one of n-step (%v) and n-episode (%v) "+
			"must be positive", o.NStep, o.NEpisode)
	}
	if o.NStep < 0 || o.NEpisode < 0 {
		return fmt.Errorf("n-step and n-episode cannot be negative")
	}
	return nil
}

// Collector collects data by running a policy in a VectorEnv.
// Transitions from environment i are added to sub-buffer i of the
// buffer. A Collector without a buffer only reports statistics, which
// is what test collectors do.
//
// Episodes persist across calls to Collect: a call which ends in the
// middle of an episode continues that episode on the next call, unless
// the environments are reset.
type Collector struct {
	policy           agent.Policy
	env              vector.VectorEnv
	buffer           *expreplay.VectorReplayBuffer
	explorationNoise bool
	info             environment.SpaceInfo
	logger           *zap.Logger
	rng              *rand.Rand

	last     []timestep.TimeStep
	episodes []episode
	reset    bool // Whether environments must be reset before stepping

	// Totals over the lifetime of the Collector
	collectStep    int
	collectEpisode int
}

// New returns a new Collector. The buffer may be nil, in which case no
// transitions are stored. If explorationNoise is true and the policy
// is an agent.Explorer, exploration noise is added to the policy's
// actions.
func New(policy agent.Policy, env vector.VectorEnv,
	buffer *expreplay.VectorReplayBuffer, explorationNoise bool,
	logger *zap.Logger, seed uint64) (*Collector, error) {
	if policy == nil || env == nil {
		return nil, errors.New("new: policy and environment must be set")
	}
	info := env.SpaceInfo()
	if buffer != nil {
		if buffer.BufferNum() < env.Len() {
			return nil, fmt.Errorf("new: buffer has %v sub-buffers for %v "+
				"environments", buffer.BufferNum(), env.Len())
		}
		if buffer.ObsDim() != info.ObsDim || buffer.ActDim() != info.ActionDim {
			return nil, fmt.Errorf("new: buffer stores (obs: %v, act: %v) "+
				"but environment has (obs: %v, act: %v)", buffer.ObsDim(),
				buffer.ActDim(), info.ObsDim, info.ActionDim)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Collector{
		policy:           policy,
		env:              env,
		buffer:           buffer,
		explorationNoise: explorationNoise,
		info:             info,
		logger:           logger,
		rng:              rand.New(rand.NewSource(seed)),
		last:             make([]timestep.TimeStep, env.Len()),
		episodes:         make([]episode, env.Len()),
		reset:            true,
	}, nil
}

// Reset resets the statistics of the Collector and clears its buffer.
// The environments are reset before the next collection.
func (c *Collector) Reset() {
	if c.buffer != nil {
		c.buffer.Reset()
	}
	c.collectStep = 0
	c.collectEpisode = 0
	c.reset = true
}

// ResetEnv resets all environments
func (c *Collector) ResetEnv(ctx context.Context) error {
	steps, err := c.env.Reset(ctx, nil)
	if err != nil {
		return fmt.Errorf("resetenv: %w", err)
	}
	copy(c.last, steps)
	for i := range c.episodes {
		c.episodes[i].reset()
	}
	c.reset = false
	return nil
}

// Buffer returns the buffer of the Collector, which may be nil
func (c *Collector) Buffer() *expreplay.VectorReplayBuffer {
	return c.buffer
}

// CollectStep returns the number of steps collected since the last
// call to Reset
func (c *Collector) CollectStep() int {
	return c.collectStep
}

// CollectEpisode returns the number of episodes finished since the
// last call to Reset
func (c *Collector) CollectEpisode() int {
	return c.collectEpisode
}

// Collect runs the policy until the number of steps or episodes given
// by opts has been collected
func (c *Collector) Collect(ctx context.Context,
	opts CollectOptions) (CollectStats, error) {
	if err := opts.validate(); err != nil {
		return CollectStats{}, fmt.Errorf("collect: %w", err)
	}
	if c.reset || opts.ResetBeforeCollect {
		if err := c.ResetEnv(ctx); err != nil {
			return CollectStats{}, fmt.Errorf("collect: %w", err)
		}
	}

	// Only use as many environments as there are episodes to collect,
	// so that episodes are not biased towards short ones
	active := make([]int, c.env.Len())
	for i := range active {
		active[i] = i
	}
	if opts.NEpisode > 0 {
		active = active[:intutils.Min(opts.NEpisode, len(active))]
	}
	if opts.NStep > 0 && opts.NStep%len(active) != 0 {
		c.logger.Debug("n-step is not a multiple of the number of "+
			"environments, more steps than requested will be collected",
			zap.Int("n_step", opts.NStep), zap.Int("envs", len(active)))
	}

	var stats CollectStats
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return CollectStats{}, err
		}

		actions, envActions, err := c.actions(active, opts.Random)
		if err != nil {
			return CollectStats{}, fmt.Errorf("collect: %w", err)
		}
		steps, err := c.env.Step(ctx, envActions, active)
		if err != nil {
			return CollectStats{}, fmt.Errorf("collect: %w", err)
		}

		var finished []int
		for j, id := range active {
			next := steps[j]
			if c.buffer != nil {
				t := timestep.NewTransition(c.last[id], actions[j], next)
				if err := c.buffer.AddTo(id, t); err != nil {
					return CollectStats{}, fmt.Errorf("collect: %w", err)
				}
			}
			c.last[id] = next
			stats.NCollectedSteps++

			if c.episodes[id].track(next.Reward, next.Last()) {
				ep := c.episodes[id]
				stats.NCollectedEpisodes++
				stats.Returns = append(stats.Returns, ep.ret)
				stats.Lens = append(stats.Lens, ep.length)
				c.logger.Debug("episode finished", zap.Int("env", id),
					zap.Float64("return", ep.ret),
					zap.Int("length", ep.length),
					zap.Stringer("end", next.EndType()))
				c.episodes[id].reset()
				finished = append(finished, id)
			}
		}

		if opts.Render > 0 && opts.RenderTo != nil {
			if err := c.render(ctx, active, opts); err != nil {
				return CollectStats{}, fmt.Errorf("collect: %w", err)
			}
		}

		if len(finished) > 0 {
			first, err := c.env.Reset(ctx, finished)
			if err != nil {
				return CollectStats{}, fmt.Errorf("collect: %w", err)
			}
			for j, id := range finished {
				c.last[id] = first[j]
			}

			// Stop using environments which would start more episodes
			// than are needed
			if opts.NEpisode > 0 {
				surplus := len(active) - (opts.NEpisode -
					stats.NCollectedEpisodes)
				active = removeSurplus(active, finished, surplus)
			}
		}

		if opts.NStep > 0 && stats.NCollectedSteps >= opts.NStep {
			break
		}
		if opts.NEpisode > 0 && stats.NCollectedEpisodes >= opts.NEpisode {
			break
		}
	}

	// Environments which were dropped during episode collection may
	// be in the middle of an episode
	if opts.NEpisode > 0 {
		c.reset = true
	}

	c.collectStep += stats.NCollectedSteps
	c.collectEpisode += stats.NCollectedEpisodes
	stats.finish(time.Since(start))
	return stats, nil
}

// actions returns the actions of the policy in each active environment,
// along with the actions to send to the environments
func (c *Collector) actions(active []int, random bool) ([]*mat.VecDense,
	[]*mat.VecDense, error) {
	actions := make([]*mat.VecDense, len(active))
	envActions := make([]*mat.VecDense, len(active))
	mapper, isMapper := c.policy.(agent.ActionMapper)
	explorer, isExplorer := c.policy.(agent.Explorer)

	for j, id := range active {
		var action *mat.VecDense
		if random {
			action = c.randomAction(isMapper)
		} else {
			var err error
			action, err = c.policy.SelectAction(c.last[id])
			if err != nil {
				return nil, nil, fmt.Errorf("environment %v: %w", id, err)
			}
			if c.explorationNoise && isExplorer {
				action = explorer.ExplorationNoise(action)
			}
		}
		actions[j] = action

		if isMapper {
			envActions[j] = mapper.MapAction(action)
		} else {
			envActions[j] = action
		}
	}
	return actions, envActions, nil
}

// randomAction samples a uniform random action. Actions of policies
// whose actions are mapped are sampled from [-1, 1].
func (c *Collector) randomAction(mapped bool) *mat.VecDense {
	if c.info.Discrete() {
		return mat.NewVecDense(1, []float64{float64(c.rng.Intn(c.info.NumActions))})
	}

	action := mat.NewVecDense(c.info.ActionDim, nil)
	for i := 0; i < c.info.ActionDim; i++ {
		low, high := -1.0, 1.0
		if !mapped {
			low, high = c.info.MinAction[i], c.info.MaxAction[i]
		}
		action.SetVec(i, low+(high-low)*c.rng.Float64())
	}
	return action
}

func (c *Collector) render(ctx context.Context, active []int,
	opts CollectOptions) error {
	for _, id := range active {
		if err := c.env.Render(opts.RenderTo, id); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(opts.Render):
		return nil
	}
}

// removeSurplus removes up to surplus environments from active,
// choosing only among those which just finished an episode
func removeSurplus(active, finished []int, surplus int) []int {
	surplus = intutils.Min(intutils.Max(surplus, 0), len(finished))
	if surplus == 0 {
		return active
	}

	drop := make(map[int]bool, surplus)
	for _, id := range finished[:surplus] {
		drop[id] = true
	}
	kept := active[:0:0]
	for _, id := range active {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	return kept
}
