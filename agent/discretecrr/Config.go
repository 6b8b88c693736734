package discretecrr

import (
	"fmt"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/initwfn"
	"github.com/samuelfneumann/offlinerl/solver"
)

// Mode determines how the advantage of an action weights its log
// probability in the actor loss
type Mode string

const (
	// Exp weights by clamp(exp(A / β), 0, RatioUpperBound)
	Exp Mode = "exp"

	// Binary weights by 1 if A > 0 and 0 otherwise
	Binary Mode = "binary"

	// All weights every action by 1, which is behaviour cloning
	All Mode = "all"
)

// Config implements a configuration for a DiscreteCRR agent
type Config struct {
	// HiddenSizes[0] is the size of the linear layer shared by the
	// actor and critic. Both the actor and critic then have ReLU hidden
	// layers of sizes HiddenSizes.
	HiddenSizes []int            `yaml:"hidden_sizes"`
	InitWFn     *initwfn.InitWFn `yaml:"init_wfn"`

	// Solver learns the weights of the actor and critic together
	Solver *solver.Solver `yaml:"solver"`

	BatchSize int     `yaml:"batch_size"`
	Gamma     float64 `yaml:"gamma"`

	// TargetUpdateFreq is the number of updates between copies of the
	// actor and critic to their target networks. If 0, no target
	// networks are used.
	TargetUpdateFreq int `yaml:"target_update_freq"`

	Mode            Mode    `yaml:"policy_improvement_mode"`
	Beta            float64 `yaml:"beta"`
	RatioUpperBound float64 `yaml:"ratio_upper_bound"`

	// MinQWeight scales the conservative Q-learning regularizer
	MinQWeight float64 `yaml:"min_q_weight"`

	// DeterministicEval selects the action of highest probability in
	// evaluation mode. By default actions are sampled in both modes.
	DeterministicEval bool `yaml:"deterministic_eval"`
}

// DefaultConfig returns the default configuration of a DiscreteCRR
// agent
func DefaultConfig() Config {
	return Config{
		HiddenSizes:      []int{64, 64},
		InitWFn:          initwfn.New(initwfn.GainConfig{Kind: initwfn.GlorotU, Gain: 1}),
		Solver:           solver.NewDefaultAdam(7e-4),
		BatchSize:        64,
		Gamma:            0.99,
		TargetUpdateFreq: 320,
		Mode:             Exp,
		Beta:             1.0,
		RatioUpperBound:  20.0,
		MinQWeight:       10.0,
	}
}

// Validate checks a Config to ensure it is a valid configuration of a
// DiscreteCRR agent.
func (c Config) Validate() error {
	if len(c.HiddenSizes) == 0 {
		return fmt.Errorf("validate: at least one hidden layer is needed " +
			"for the shared layer")
	}
	for _, size := range c.HiddenSizes {
		if size < 1 {
			return fmt.Errorf("validate: hidden layers must have positive "+
				"size, got %v", c.HiddenSizes)
		}
	}
	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer")
	}
	if c.Solver == nil {
		return fmt.Errorf("validate: no solver")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("validate: batch size must be positive "+
			"\n\twant(>0) \n\thave(%v)", c.BatchSize)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: gamma must be in [0, 1] \n\thave(%v)",
			c.Gamma)
	}
	if c.TargetUpdateFreq < 0 {
		return fmt.Errorf("validate: target update frequency must be "+
			"non-negative \n\thave(%v)", c.TargetUpdateFreq)
	}
	switch c.Mode {
	case Exp:
		if c.Beta <= 0 {
			return fmt.Errorf("validate: beta must be positive \n\thave(%v)",
				c.Beta)
		}
		if c.RatioUpperBound <= 0 {
			return fmt.Errorf("validate: ratio upper bound must be "+
				"positive \n\thave(%v)", c.RatioUpperBound)
		}
	case Binary, All:
	default:
		return fmt.Errorf("validate: unknown policy improvement mode %q",
			c.Mode)
	}
	if c.MinQWeight < 0 {
		return fmt.Errorf("validate: min Q weight must be non-negative "+
			"\n\thave(%v)", c.MinQWeight)
	}
	return nil
}

// CreateAgent creates a new DiscreteCRR agent based on the
// configuration
func (c Config) CreateAgent(info environment.SpaceInfo,
	seed uint64) (agent.Agent, error) {
	return New(info, c, seed)
}
