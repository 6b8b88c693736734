package initwfn

import G "gorgonia.org/gorgonia"

// GainConfig configures one of the initializers scaled by a gain:
// GlorotU, GlorotN, HeU, or HeN. Kind is written as the InitWFn type
// rather than in the config itself.
type GainConfig struct {
	Kind Type    `yaml:"-"`
	Gain float64 `yaml:"gain"`
}

func (g GainConfig) Type() Type {
	return g.Kind
}

// Create returns the Gorgonia InitWFn of kind g.Kind. A GainConfig of
// unknown kind creates a GlorotU initializer.
func (g GainConfig) Create() G.InitWFn {
	switch g.Kind {
	case GlorotN:
		return G.GlorotN(g.Gain)
	case HeU:
		return G.HeU(g.Gain)
	case HeN:
		return G.HeN(g.Gain)
	}
	return G.GlorotU(g.Gain)
}

// ZeroesConfig initializes all weights to 0
type ZeroesConfig struct{}

func (z ZeroesConfig) Type() Type {
	return Zeroes
}

func (z ZeroesConfig) Create() G.InitWFn {
	return G.Zeroes()
}
