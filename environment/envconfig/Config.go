// Package envconfig provides configuration structs and a registry of
// named environments with default physical parameters and tasks.
package envconfig

import (
	"fmt"
	"sort"

	env "github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/environment/classiccontrol/cartpole"
	"github.com/samuelfneumann/offlinerl/environment/classiccontrol/pendulum"
)

// EnvName stores the name of environments that can be configured with
// this package
type EnvName string

// Environments available for configuration
const (
	Pendulum EnvName = "Pendulum"
	Cartpole EnvName = "Cartpole"
)

// TaskName stores the tasks that can be configured with this package.
// Note that not all tasks can be used with all environments. The tasks
// that can be used with each environment are as follows:
//
//	Environment			Task
//	Cartpole			Balance
//	Pendulum			SwingUp
type TaskName string

// Tasks available for configuration
const (
	SwingUp TaskName = "SwingUp"
	Balance TaskName = "Balance"
)

// Config implements a specific configuration of a specific environment
// and specific task. Not all environments can have all tasks.
type Config struct {
	Environment   EnvName  `yaml:"environment"`
	Task          TaskName `yaml:"task"`
	EpisodeCutoff int      `yaml:"episode_cutoff"`
	Discount      float64  `yaml:"discount"`
}

// Create returns the environment described by the Config
func (c Config) Create(seed uint64) (env.Environment, error) {
	switch c.Environment {
	case Cartpole:
		if c.Task != Balance {
			return nil, fmt.Errorf("create: Cartpole has no task %v", c.Task)
		}
		s := env.NewUniformStarter(cartpole.StartBounds(), seed)
		e, _, err := cartpole.New(cartpole.NewBalance(s, c.EpisodeCutoff),
			c.Discount)
		return e, err

	case Pendulum:
		if c.Task != SwingUp {
			return nil, fmt.Errorf("create: Pendulum has no task %v", c.Task)
		}
		s := env.NewUniformStarter(pendulum.StartBounds(), seed)
		e, _, err := pendulum.New(pendulum.NewSwingUp(s, c.EpisodeCutoff),
			c.Discount)
		return e, err
	}

	return nil, fmt.Errorf("create: cannot create environment %v, no such "+
		"environment", c.Environment)
}

// EnvSpec describes a registered environment
type EnvSpec struct {
	ID              string
	MaxEpisodeSteps int

	// RewardThreshold is the mean return at which the environment is
	// considered solved, or nil if there is none
	RewardThreshold *float64
	Config
}

func threshold(f float64) *float64 { return &f }

var registry = map[string]EnvSpec{
	"CartPole-v0": {
		ID: "CartPole-v0", MaxEpisodeSteps: 200,
		RewardThreshold: threshold(195.0),
		Config:          Config{Cartpole, Balance, 200, 1.0},
	},
	"CartPole-v1": {
		ID: "CartPole-v1", MaxEpisodeSteps: 500,
		RewardThreshold: threshold(475.0),
		Config:          Config{Cartpole, Balance, 500, 1.0},
	},
	"Pendulum-v0": {
		ID: "Pendulum-v0", MaxEpisodeSteps: 200,
		Config: Config{Pendulum, SwingUp, 200, 1.0},
	},
	"Pendulum-v1": {
		ID: "Pendulum-v1", MaxEpisodeSteps: 200,
		Config: Config{Pendulum, SwingUp, 200, 1.0},
	},
}

// Spec returns the EnvSpec of the environment registered as task
func Spec(task string) (EnvSpec, error) {
	spec, ok := registry[task]
	if !ok {
		return EnvSpec{}, fmt.Errorf("spec: no environment registered as "+
			"%q, registered environments are %v", task, Registered())
	}
	return spec, nil
}

// Make creates the environment registered as task, seeded with seed
func Make(task string, seed uint64) (env.Environment, EnvSpec, error) {
	spec, err := Spec(task)
	if err != nil {
		return nil, EnvSpec{}, fmt.Errorf("make: %w", err)
	}

	e, err := spec.Create(seed)
	if err != nil {
		return nil, EnvSpec{}, fmt.Errorf("make: %v: %w", task, err)
	}
	return e, spec, nil
}

// Registered returns the sorted IDs of all registered environments
func Registered() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
