// Package initwfn wraps Gorgonia InitWFn so that weight initializers
// can be named in YAML configuration files.
package initwfn

import (
	"fmt"

	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"
)

// Type describes different types of InitWFn that are available.
type Type string

// Available InitWFn types
const (
	GlorotU Type = "GlorotU"
	GlorotN Type = "GlorotN"
	HeU     Type = "HeU"
	HeN     Type = "HeN"
	Zeroes  Type = "Zeroes"
)

// Config implements a Gorgonia InitWFn configuration and can be used to
// create the described Gorgonia InitWFn's.
type Config interface {
	// Create returns the Gorgonia InitWFn that the Config describes
	Create() G.InitWFn

	// Type returns the type of Gorgonia InitWFn that is returned
	Type() Type
}

// InitWFn wraps a Gorgonia InitWFn together with the Config that
// created it. In YAML, an InitWFn is written as
//
//	type: GlorotU
//	config:
//	  gain: 1.0
type InitWFn struct {
	initWFn G.InitWFn
	Config
}

// New returns a new InitWFn described by c
func New(c Config) *InitWFn {
	return &InitWFn{initWFn: c.Create(), Config: c}
}

// InitWFn returns the wrapped Gorgonia InitWFn
func (i *InitWFn) InitWFn() G.InitWFn {
	return i.initWFn
}

// String implements the fmt.Stringer interface
func (i *InitWFn) String() string {
	return fmt.Sprintf("{%v InitWFn: %+v}", i.Type(), i.Config)
}

// FromType returns the InitWFn of type t with the given gain. The gain
// is ignored by Zeroes.
func FromType(t Type, gain float64) (*InitWFn, error) {
	switch t {
	case GlorotU, GlorotN, HeU, HeN:
		return New(GainConfig{Kind: t, Gain: gain}), nil
	case Zeroes:
		return New(ZeroesConfig{}), nil
	}
	return nil, fmt.Errorf("fromtype: no such InitWFn type %q", t)
}

type yamlInitWFn struct {
	Type   Type      `yaml:"type"`
	Config yaml.Node `yaml:"config"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
func (i *InitWFn) UnmarshalYAML(value *yaml.Node) error {
	var raw yamlInitWFn
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("unmarshalyaml: %w", err)
	}

	var config Config
	var err error
	switch raw.Type {
	case GlorotU, GlorotN, HeU, HeN:
		// An omitted gain defaults to 1
		c := GainConfig{Kind: raw.Type, Gain: 1}
		err = decodeConfig(&raw.Config, &c)
		config = c
	case Zeroes:
		config = ZeroesConfig{}
	default:
		return fmt.Errorf("unmarshalyaml: no such InitWFn type %q", raw.Type)
	}
	if err != nil {
		return fmt.Errorf("unmarshalyaml: %v config: %w", raw.Type, err)
	}

	*i = *New(config)
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface
func (i *InitWFn) MarshalYAML() (interface{}, error) {
	return struct {
		Type   Type   `yaml:"type"`
		Config Config `yaml:"config"`
	}{i.Type(), i.Config}, nil
}

// decodeConfig decodes node into c, leaving c untouched if the config
// was omitted
func decodeConfig(node *yaml.Node, c interface{}) error {
	if node.Kind == 0 {
		return nil
	}
	return node.Decode(c)
}
