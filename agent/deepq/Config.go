package deepq

import (
	"fmt"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/initwfn"
	"github.com/samuelfneumann/offlinerl/network"
	"github.com/samuelfneumann/offlinerl/solver"
)

// Config implements a configuration for a DeepQ agent
type Config struct {
	PolicyLayers []int                 `yaml:"policy_layers"` // Layer sizes in neural net
	Biases       []bool                `yaml:"biases"`        // Whether each layer should have a bias
	Activations  []*network.Activation `yaml:"activations"`   // Activation of each layer
	Solver       *solver.Solver        `yaml:"solver"`        // Solver for learning weights

	// Initialization algorithm for weights
	InitWFn *initwfn.InitWFn `yaml:"init_wfn"`

	Epsilon float64 `yaml:"epsilon"` // Behaviour policy epsilon

	BatchSize int     `yaml:"batch_size"`
	Gamma     float64 `yaml:"gamma"`
	NStep     int     `yaml:"n_step"`

	// Double uses the learned network to select next actions and the
	// target network to evaluate them
	Double bool `yaml:"double"`

	// Target net updates
	Tau                  float64 `yaml:"tau"`                    // Polyak averaging constant
	TargetUpdateInterval int     `yaml:"target_update_interval"` // Number of updates between target network updates
}

// DefaultConfig returns the default configuration of a DeepQ agent
func DefaultConfig() Config {
	layers := []int{128, 128, 128}
	biases := make([]bool, len(layers))
	activations := make([]*network.Activation, len(layers))
	for i := range layers {
		biases[i] = true
		activations[i] = network.ReLU()
	}

	return Config{
		PolicyLayers:         layers,
		Biases:               biases,
		Activations:          activations,
		Solver:               solver.NewDefaultAdam(1e-3),
		InitWFn:              initwfn.New(initwfn.GainConfig{Kind: initwfn.GlorotU, Gain: 1}),
		Epsilon:              0.1,
		BatchSize:            64,
		Gamma:                0.9,
		NStep:                3,
		Double:               true,
		Tau:                  1.0,
		TargetUpdateInterval: 320,
	}
}

// Validate checks a Config to ensure it is a valid configuration of a
// DeepQ agent.
func (c Config) Validate() error {
	if len(c.PolicyLayers) != len(c.Biases) {
		return fmt.Errorf("validate: invalid number of biases\n\twant(%v)"+
			"\n\thave(%v)", len(c.PolicyLayers), len(c.Biases))
	}
	if len(c.PolicyLayers) != len(c.Activations) {
		return fmt.Errorf("validate: invalid number of activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.PolicyLayers),
			len(c.Activations))
	}
	if c.Solver == nil || c.InitWFn == nil {
		return fmt.Errorf("validate: solver and weight initializer must " +
			"be set")
	}
	if c.Epsilon < 0 || c.Epsilon > 1 {
		return fmt.Errorf("validate: epsilon must be in [0, 1] \n\thave(%v)",
			c.Epsilon)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("validate: batch size must be positive "+
			"\n\twant(>0) \n\thave(%v)", c.BatchSize)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: gamma must be in [0, 1] \n\thave(%v)",
			c.Gamma)
	}
	if c.NStep < 1 {
		return fmt.Errorf("validate: n-step must be positive \n\thave(%v)",
			c.NStep)
	}
	if c.Tau <= 0 || c.Tau > 1 {
		return fmt.Errorf("validate: tau must be in (0, 1] \n\thave(%v)",
			c.Tau)
	}
	if c.TargetUpdateInterval < 1 {
		return fmt.Errorf("validate: target networks must be updated at "+
			"positive intervals \n\twant(>0) \n\thave(%v)",
			c.TargetUpdateInterval)
	}
	return nil
}

// CreateAgent creates a new DeepQ agent based on the configuration
func (c Config) CreateAgent(info environment.SpaceInfo,
	seed uint64) (agent.Agent, error) {
	return New(info, c, seed)
}
