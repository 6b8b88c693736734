// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"io"

	"github.com/samuelfneumann/offlinerl/timestep"
	"gonum.org/v1/gonum/mat"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() *mat.VecDense
}

// Ender determines when an episode should end. If End returns true,
// it must also set the StepType of the TimeStep to timestep.Last and
// record how the episode ended with TimeStep.SetEnd.
type Ender interface {
	End(*timestep.TimeStep) bool
}

// Task implements the reward scheme for taking actions in some
// environment, along with the start and end of episodes
type Task interface {
	Starter
	Ender
	GetReward(state mat.Vector, a mat.Vector, nextState mat.Vector) float64
	AtGoal(state mat.Matrix) bool
	Min() float64 // Returns the min possible reward
	Max() float64 // Returns the max possible reward
	RewardSpec() Spec
}

// Environment implements a simulated environment, which includes a
// Task to complete
type Environment interface {
	Task
	Reset() (timestep.TimeStep, error)
	Step(action *mat.VecDense) (timestep.TimeStep, bool, error)
	DiscountSpec() Spec
	ObservationSpec() Spec
	ActionSpec() Spec
	LastTimeStep() timestep.TimeStep
}

// Renderer is an Environment which can draw its current state
type Renderer interface {
	Render(w io.Writer) error
}
