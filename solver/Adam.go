package solver

import G "gorgonia.org/gorgonia"

// AdamConfig describes a configuration of the Adam solver
type AdamConfig struct {
	StepSize float64 `yaml:"step_size"`
	Epsilon  float64 `yaml:"epsilon"` // Smoothing factor
	Beta1    float64 `yaml:"beta1"`
	Beta2    float64 `yaml:"beta2"`
	Batch    int     `yaml:"batch"`

	// Clip clips gradients to [-Clip, Clip] if positive
	Clip float64 `yaml:"clip"`
}

// DefaultAdamConfig returns an AdamConfig with default hyperparameters.
// The batch size is 1, losses are expected to already be averaged
// over the batch.
func DefaultAdamConfig(stepSize float64) AdamConfig {
	return AdamConfig{
		StepSize: stepSize,
		Epsilon:  1e-8,
		Beta1:    0.9,
		Beta2:    0.999,
		Batch:    1,
	}
}

// NewDefaultAdam returns a new Adam Solver with default hyperparameters
func NewDefaultAdam(stepSize float64) *Solver {
	return New(DefaultAdamConfig(stepSize))
}

// Create returns a new Gorgonia Adam Solver as described by the
// AdamConfig
func (a AdamConfig) Create() G.Solver {
	opts := []G.SolverOpt{
		G.WithLearnRate(a.StepSize),
		G.WithEps(a.Epsilon),
		G.WithBeta1(a.Beta1),
		G.WithBeta2(a.Beta2),
		G.WithBatchSize(float64(a.Batch)),
	}
	if a.Clip > 0 {
		opts = append(opts, G.WithClip(a.Clip))
	}
	return G.NewAdamSolver(opts...)
}

// Type returns the type of Solver the config creates
func (a AdamConfig) Type() Type {
	return Adam
}

// WithStepSize returns a copy of the config with a new step size
func (a AdamConfig) WithStepSize(stepSize float64) Config {
	a.StepSize = stepSize
	return a
}
