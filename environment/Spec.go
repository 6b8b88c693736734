package environment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SpecType determines what kind of specification a Spec is. A Spec can
// specify the layout of an acion, an observation, a discount, or a reward
type SpecType int

const (
	Action SpecType = iota
	Observation
	Discount
	Reward
)

// Cardinality determines the cardinality of a number (discrete or continuous)
type Cardinality string

const (
	Continuous Cardinality = "Continuous"
	Discrete   Cardinality = "Discrete"
)

// Spec implements an environment specification, which tells the type,
// shape, and bounds of an action, observation, discount, or reward in
// an environment
type Spec struct {
	Shape      mat.Vector
	Type       SpecType
	LowerBound mat.Vector
	UpperBound mat.Vector
	Cardinality
}

// NewSpec constructs a new environment specification
// The shape argument outlines the shape of the data described by the
// specification. The argument t outlines what the specification is
// describing (e.g. actions, observations, etc.). The cardinality
// arguments describes whether the values that the spec describes are
// continuous or discrete.
func NewSpec(shape mat.Vector, t SpecType, lowerBound,
	upperBound mat.Vector, cardinality Cardinality) Spec {
	if shape.Len() != lowerBound.Len() {
		panic(fmt.Sprintf("shape length %v must match lower bounds length %v",
			shape.Len(), lowerBound.Len()))
	}
	if shape.Len() != upperBound.Len() {
		panic(fmt.Sprintf("shape length %v must match upper bounds length %v",
			shape.Len(), upperBound.Len()))
	}
	return Spec{shape, t, lowerBound, upperBound, cardinality}
}

// SpaceInfo summarizes the observation and action spaces of an
// Environment in the form networks and policies need them.
type SpaceInfo struct {
	ObsDim    int
	ActionDim int

	// NumActions is the number of discrete actions, or 0 if actions
	// are continuous
	NumActions int

	// MaxAction and MinAction are the per-dimension action bounds
	MaxAction []float64
	MinAction []float64
}

// Discrete returns whether the action space is discrete
func (s SpaceInfo) Discrete() bool {
	return s.NumActions > 0
}

// NewSpaceInfo returns the SpaceInfo of an Environment. Discrete
// action specs are assumed to be one dimensional with actions
// {LowerBound, ..., UpperBound}.
func NewSpaceInfo(e Environment) SpaceInfo {
	obs := e.ObservationSpec()
	act := e.ActionSpec()

	info := SpaceInfo{
		ObsDim:    obs.Shape.Len(),
		ActionDim: act.Shape.Len(),
		MaxAction: make([]float64, act.Shape.Len()),
		MinAction: make([]float64, act.Shape.Len()),
	}
	for i := 0; i < act.Shape.Len(); i++ {
		info.MaxAction[i] = act.UpperBound.AtVec(i)
		info.MinAction[i] = act.LowerBound.AtVec(i)
	}

	if act.Cardinality == Discrete {
		info.NumActions = int(act.UpperBound.AtVec(0)-act.LowerBound.AtVec(0)) + 1
	}
	return info
}
