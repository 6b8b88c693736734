// Package solver wraps Gorgonia Solvers so that they can be described
// in YAML configuration files.
package solver

import (
	"fmt"

	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
	RMSProp Type = "RMSProp"
)

// Config implements a Gorgonia Solver configuration and can be used to
// create the Gorgonia Solvers they describe.
type Config interface {
	Create() G.Solver
	Type() Type

	// WithStepSize returns a copy of the Config with a new step size
	WithStepSize(float64) Config
}

// Solver wraps a Gorgonia Solver together with its Config. Each
// Solver keeps per-parameter state, so a Solver must only ever be
// stepped with a single model.
type Solver struct {
	G.Solver `yaml:"-"`
	Config
}

// New returns a new Solver described by c
func New(c Config) *Solver {
	return &Solver{Solver: c.Create(), Config: c}
}

// Clone returns a new Solver with the same configuration and fresh
// per-parameter state
func (s *Solver) Clone() *Solver {
	return New(s.Config)
}

// String implements the fmt.Stringer interface
func (s *Solver) String() string {
	return fmt.Sprintf("{%v Solver: %+v}", s.Type(), s.Config)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface. Solvers are
// written as
//
//	type: Adam
//	config:
//	  step_size: 0.001
func (s *Solver) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Type   Type      `yaml:"type"`
		Config yaml.Node `yaml:"config"`
	}
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("unmarshalyaml: %w", err)
	}

	var config Config
	switch raw.Type {
	case Adam:
		c := DefaultAdamConfig(1e-3)
		if err := decodeConfig(&raw.Config, &c); err != nil {
			return fmt.Errorf("unmarshalyaml: %w", err)
		}
		config = c
	case Vanilla:
		c := VanillaConfig{StepSize: 1e-3, Batch: 1}
		if err := decodeConfig(&raw.Config, &c); err != nil {
			return fmt.Errorf("unmarshalyaml: %w", err)
		}
		config = c
	case RMSProp:
		c := RMSPropConfig{StepSize: 1e-3, Epsilon: 1e-8, Rho: 0.999,
			Batch: 1}
		if err := decodeConfig(&raw.Config, &c); err != nil {
			return fmt.Errorf("unmarshalyaml: %w", err)
		}
		config = c
	default:
		return fmt.Errorf("unmarshalyaml: no such solver type %q", raw.Type)
	}

	*s = *New(config)
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface
func (s *Solver) MarshalYAML() (interface{}, error) {
	return struct {
		Type   Type   `yaml:"type"`
		Config Config `yaml:"config"`
	}{s.Type(), s.Config}, nil
}

func decodeConfig(node *yaml.Node, c interface{}) error {
	if node.Kind == 0 {
		return nil
	}
	return node.Decode(c)
}
