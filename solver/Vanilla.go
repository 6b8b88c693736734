package solver

import G "gorgonia.org/gorgonia"

// VanillaConfig describes a configuration of the stochastic gradient
// descent solver
type VanillaConfig struct {
	StepSize float64 `yaml:"step_size"`
	Batch    int     `yaml:"batch"`
	Clip     float64 `yaml:"clip"`
}

// Create returns the Gorgonia solver described by the config
func (v VanillaConfig) Create() G.Solver {
	opts := []G.SolverOpt{
		G.WithLearnRate(v.StepSize),
		G.WithBatchSize(float64(v.Batch)),
	}
	if v.Clip > 0 {
		opts = append(opts, G.WithClip(v.Clip))
	}
	return G.NewVanillaSolver(opts...)
}

func (v VanillaConfig) Type() Type {
	return Vanilla
}

func (v VanillaConfig) WithStepSize(stepSize float64) Config {
	v.StepSize = stepSize
	return v
}

// RMSPropConfig describes a configuration of the RMSProp solver
type RMSPropConfig struct {
	StepSize float64 `yaml:"step_size"`
	Epsilon  float64 `yaml:"epsilon"`
	Rho      float64 `yaml:"rho"`
	Batch    int     `yaml:"batch"`
}

// Create returns the Gorgonia solver described by the config
func (r RMSPropConfig) Create() G.Solver {
	return G.NewRMSPropSolver(
		G.WithLearnRate(r.StepSize),
		G.WithEps(r.Epsilon),
		G.WithRho(r.Rho),
		G.WithBatchSize(float64(r.Batch)),
	)
}

func (r RMSPropConfig) Type() Type {
	return RMSProp
}

func (r RMSPropConfig) WithStepSize(stepSize float64) Config {
	r.StepSize = stepSize
	return r
}
