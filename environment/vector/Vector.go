// Package vector implements vectorized environments, which step a
// number of independent copies of an environment together
package vector

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/timestep"
	"gonum.org/v1/gonum/mat"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned when a closed VectorEnv is used
var ErrClosed = errors.New("vector environment is closed")

// Factory creates a new environment seeded with seed
type Factory func(seed uint64) (environment.Environment, error)

// VectorEnv steps a batch of environments. Every method that takes a
// list of ids only touches the environments with those ids, returning
// results in the same order as ids. A nil ids list means all
// environments.
type VectorEnv interface {
	Len() int
	Reset(ctx context.Context, ids []int) ([]timestep.TimeStep, error)
	Step(ctx context.Context, actions []*mat.VecDense,
		ids []int) ([]timestep.TimeStep, error)
	Render(w io.Writer, id int) error
	SpaceInfo() environment.SpaceInfo
	Close() error
}

// envs holds the environments shared by all VectorEnv implementations
type envs struct {
	envs   []environment.Environment
	closed bool
}

func newEnvs(factory Factory, n int, seed uint64) (envs, error) {
	if n < 1 {
		return envs{}, fmt.Errorf("new: need at least one environment, "+
			"got %v", n)
	}

	e := make([]environment.Environment, n)
	for i := range e {
		var err error
		e[i], err = factory(seed + uint64(i))
		if err != nil {
			return envs{}, fmt.Errorf("new: could not create environment "+
				"%v: %w", i, err)
		}
	}
	return envs{envs: e}, nil
}

// Len returns the number of environments
func (v *envs) Len() int {
	return len(v.envs)
}

// SpaceInfo returns the space information of the environments
func (v *envs) SpaceInfo() environment.SpaceInfo {
	return environment.NewSpaceInfo(v.envs[0])
}

// Render renders environment id, if it can be rendered
func (v *envs) Render(w io.Writer, id int) error {
	if err := v.check(id); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	r, ok := v.envs[id].(environment.Renderer)
	if !ok {
		return fmt.Errorf("render: environment %T cannot be rendered",
			v.envs[id])
	}
	return r.Render(w)
}

// Close closes the VectorEnv
func (v *envs) Close() error {
	v.closed = true
	return nil
}

func (v *envs) check(ids ...int) error {
	if v.closed {
		return ErrClosed
	}
	for _, id := range ids {
		if id < 0 || id >= len(v.envs) {
			return fmt.Errorf("environment id %v out of range [0, %v)", id,
				len(v.envs))
		}
	}
	return nil
}

func (v *envs) ids(ids []int) []int {
	if ids != nil {
		return ids
	}
	all := make([]int, len(v.envs))
	for i := range all {
		all[i] = i
	}
	return all
}

// Dummy is a VectorEnv which steps each environment in turn on the
// calling goroutine
type Dummy struct {
	envs
}

// NewDummy returns a new Dummy VectorEnv of n environments, where
// environment i is seeded with seed + i
func NewDummy(factory Factory, n int, seed uint64) (*Dummy, error) {
	e, err := newEnvs(factory, n, seed)
	if err != nil {
		return nil, err
	}
	return &Dummy{e}, nil
}

// Reset resets the environments with the given ids
func (d *Dummy) Reset(ctx context.Context, ids []int) ([]timestep.TimeStep,
	error) {
	ids = d.ids(ids)
	if err := d.check(ids...); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	steps := make([]timestep.TimeStep, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step, err := d.envs.envs[id].Reset()
		if err != nil {
			return nil, fmt.Errorf("reset: environment %v: %w", id, err)
		}
		steps[i] = step
	}
	return steps, nil
}

// Step takes actions[i] in environment ids[i]
func (d *Dummy) Step(ctx context.Context, actions []*mat.VecDense,
	ids []int) ([]timestep.TimeStep, error) {
	ids = d.ids(ids)
	if len(actions) != len(ids) {
		return nil, fmt.Errorf("step: got %v actions for %v environments",
			len(actions), len(ids))
	}
	if err := d.check(ids...); err != nil {
		return nil, fmt.Errorf("step: %w", err)
	}

	steps := make([]timestep.TimeStep, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step, _, err := d.envs.envs[id].Step(actions[i])
		if err != nil {
			return nil, fmt.Errorf("step: environment %v: %w", id, err)
		}
		steps[i] = step
	}
	return steps, nil
}

// Concurrent is a VectorEnv which steps each environment on its own
// goroutine
type Concurrent struct {
	envs
}

// NewConcurrent returns a new Concurrent VectorEnv of n environments,
// where environment i is seeded with seed + i
func NewConcurrent(factory Factory, n int, seed uint64) (*Concurrent, error) {
	e, err := newEnvs(factory, n, seed)
	if err != nil {
		return nil, err
	}
	return &Concurrent{e}, nil
}

// Reset resets the environments with the given ids
func (c *Concurrent) Reset(ctx context.Context,
	ids []int) ([]timestep.TimeStep, error) {
	ids = c.ids(ids)
	if err := c.check(ids...); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	steps := make([]timestep.TimeStep, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			step, err := c.envs.envs[id].Reset()
			if err != nil {
				return fmt.Errorf("environment %v: %w", id, err)
			}
			steps[i] = step
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	return steps, nil
}

// Step takes actions[i] in environment ids[i]
func (c *Concurrent) Step(ctx context.Context, actions []*mat.VecDense,
	ids []int) ([]timestep.TimeStep, error) {
	ids = c.ids(ids)
	if len(actions) != len(ids) {
		return nil, fmt.Errorf("step: got %v actions for %v environments",
			len(actions), len(ids))
	}
	if err := c.check(ids...); err != nil {
		return nil, fmt.Errorf("step: %w", err)
	}

	steps := make([]timestep.TimeStep, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			step, _, err := c.envs.envs[id].Step(actions[i])
			if err != nil {
				return fmt.Errorf("environment %v: %w", id, err)
			}
			steps[i] = step
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("step: %w", err)
	}
	return steps, nil
}
