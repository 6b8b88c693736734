// Package timestep implements timesteps of the agent-environment interaction
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either  first
// environmental step, a middle step, or a last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// EndType describes how an episode ended. An episode that ends in a
// terminal state is not bootstrapped from, while an episode cut off by
// a timeout is.
type EndType int

const (
	// Ongoing is the EndType of any TimeStep which is not the last
	Ongoing EndType = iota
	TerminalStateReached
	Timeout
)

func (e EndType) String() string {
	switch e {
	case TerminalStateReached:
		return "TerminalStateReached"
	case Timeout:
		return "Timeout"
	default:
		return "Ongoing"
	}
}

// TimeStep packages together a single timestep in an environment
type TimeStep struct {
	StepType
	Reward      float64
	Discount    float64
	Observation *mat.VecDense
	Number      int
	endType     EndType
}

// New returns a new TimeStep
func New(t StepType, r, d float64, o *mat.VecDense, n int) TimeStep {
	return TimeStep{
		StepType:    t,
		Reward:      r,
		Discount:    d,
		Observation: o,
		Number:      n,
	}
}

// First returns whether a TimeStep is the first in an environment
func (t TimeStep) First() bool {
	return t.StepType == First
}

// Mid returns whether a TimeStep is a middle step in an environment
func (t TimeStep) Mid() bool {
	return t.StepType == Mid
}

// Last returns whether a TimeStep is the last step in an environment
func (t TimeStep) Last() bool {
	return t.StepType == Last
}

// SetEnd sets the way in which the episode ended
func (t *TimeStep) SetEnd(e EndType) {
	t.endType = e
}

// EndType returns how the episode ended
func (t TimeStep) EndType() EndType {
	return t.endType
}

// Terminated returns whether the TimeStep is the last in an episode
// because a terminal state was reached
func (t TimeStep) Terminated() bool {
	return t.Last() && t.endType == TerminalStateReached
}

// Truncated returns whether the TimeStep is the last in an episode
// because of a timeout
func (t TimeStep) Truncated() bool {
	return t.Last() && t.endType == Timeout
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Discount: %.2f  |  " +
		"Step Number:  %v  |  End: %v"

	return fmt.Sprintf(str, t.StepType, t.Reward, t.Discount, t.Number,
		t.endType)
}

// Transition is a single (s, a, r, s') transition in the environment
type Transition struct {
	State      *mat.VecDense
	Action     *mat.VecDense
	Reward     float64
	Discount   float64
	NextState  *mat.VecDense
	Terminated bool
	Truncated  bool
}

// NewTransition creates a new Transition from the TimeStep step, the
// action taken, and the TimeStep next that followed
func NewTransition(step TimeStep, action *mat.VecDense,
	next TimeStep) Transition {
	return Transition{
		State:      step.Observation,
		Action:     action,
		Reward:     next.Reward,
		Discount:   next.Discount,
		NextState:  next.Observation,
		Terminated: next.Terminated(),
		Truncated:  next.Truncated(),
	}
}

// Done returns whether the transition ends an episode
func (t Transition) Done() bool {
	return t.Terminated || t.Truncated
}
