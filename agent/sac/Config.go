package sac

import (
	"fmt"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/initwfn"
	"github.com/samuelfneumann/offlinerl/solver"
)

// Config implements a configuration for a SAC agent
type Config struct {
	// Hidden layer sizes of the actor and both critics. Each hidden
	// layer has a bias and a ReLU activation.
	HiddenSizes []int `yaml:"hidden_sizes"`

	// Initialization algorithm for weights
	InitWFn *initwfn.InitWFn `yaml:"init_wfn"`

	ActorSolver  *solver.Solver `yaml:"actor_solver"`
	CriticSolver *solver.Solver `yaml:"critic_solver"` // Cloned per critic

	// AlphaSolver learns the log entropy scale when AutoAlpha is set
	AlphaSolver *solver.Solver `yaml:"alpha_solver"`

	BatchSize int     `yaml:"batch_size"`
	Tau       float64 `yaml:"tau"`   // Polyak averaging constant
	Gamma     float64 `yaml:"gamma"` // Discount factor
	NStep     int     `yaml:"n_step"`

	// Alpha is the entropy scale. If AutoAlpha is set, Alpha is
	// ignored and the entropy scale is learned so that the entropy of
	// the policy tracks -|A|.
	Alpha     float64 `yaml:"alpha"`
	AutoAlpha bool    `yaml:"auto_alpha"`
}

// DefaultConfig returns the default configuration of a SAC agent
func DefaultConfig() Config {
	return Config{
		HiddenSizes:  []int{128, 128},
		InitWFn:      initwfn.New(initwfn.GainConfig{Kind: initwfn.GlorotU, Gain: 1}),
		ActorSolver:  solver.NewDefaultAdam(1e-3),
		CriticSolver: solver.NewDefaultAdam(1e-3),
		AlphaSolver:  solver.NewDefaultAdam(3e-4),
		BatchSize:    256,
		Tau:          0.005,
		Gamma:        0.99,
		NStep:        3,
		Alpha:        0.2,
		AutoAlpha:    true,
	}
}

// Validate checks a Config to ensure it is a valid configuration of a
// SAC agent.
func (c Config) Validate() error {
	for _, size := range c.HiddenSizes {
		if size < 1 {
			return fmt.Errorf("validate: hidden layers must have positive "+
				"size, got %v", c.HiddenSizes)
		}
	}
	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer")
	}
	if c.ActorSolver == nil || c.CriticSolver == nil {
		return fmt.Errorf("validate: actor and critic solvers must be set")
	}
	if c.AutoAlpha && c.AlphaSolver == nil {
		return fmt.Errorf("validate: automatic entropy tuning requires an " +
			"alpha solver")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("validate: batch size must be positive "+
			"\n\twant(>0) \n\thave(%v)", c.BatchSize)
	}
	if c.Tau <= 0 || c.Tau > 1 {
		return fmt.Errorf("validate: tau must be in (0, 1] \n\thave(%v)",
			c.Tau)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: gamma must be in [0, 1] \n\thave(%v)",
			c.Gamma)
	}
	if c.NStep < 1 {
		return fmt.Errorf("validate: n-step must be positive \n\thave(%v)",
			c.NStep)
	}
	if !c.AutoAlpha && c.Alpha < 0 {
		return fmt.Errorf("validate: alpha must be non-negative "+
			"\n\thave(%v)", c.Alpha)
	}
	return nil
}

// CreateAgent creates a new SAC agent based on the configuration
func (c Config) CreateAgent(info environment.SpaceInfo,
	seed uint64) (agent.Agent, error) {
	return New(info, c, seed)
}
