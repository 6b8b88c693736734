package cartpole

import (
	"math"

	env "github.com/samuelfneumann/offlinerl/environment"
	ts "github.com/samuelfneumann/offlinerl/timestep"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

const (
	FailAngle    float64 = 12 * 2 * math.Pi / 360
	FailPosition float64 = 2.4
)

// Balance implements the classic control Cartpole Balance task. In this
// Task, the goal of the agent is to balance the pole on the cart in
// an upright position for as long as possible.
//
// The reward is +1 for every timestep, including the step on which the
// episode ends.
//
// Episodes end in a terminal state when the cart leaves the track or
// the pole falls past FailAngle, and in a timeout after a step limit.
type Balance struct {
	env.Starter
	enders env.Enders
}

// NewBalance creates and returns a new Balance task
func NewBalance(s env.Starter, episodeSteps int) *Balance {
	legal := []r1.Interval{
		{Min: -FailPosition, Max: FailPosition},
		{Min: -FailAngle, Max: FailAngle},
	}
	failLimiter := env.NewIntervalLimit(legal, []int{0, 2},
		ts.TerminalStateReached)

	stepLimiter := env.NewStepLimit(episodeSteps)

	return &Balance{s, env.Enders{failLimiter, stepLimiter}}
}

// End checks if a TimeStep is the last in an episode. If so, it adjusts
// the TimeStep's StepType to timestep.Last and returns true. Otherwise,
// the function does not adjust the TimeStep and returns false.
func (b *Balance) End(t *ts.TimeStep) bool {
	return b.enders.End(t)
}

// GetReward returns the reward for an action taken in some state,
// resulting in a transition to the next state nextState.
func (b *Balance) GetReward(_ mat.Vector, _ mat.Vector, _ mat.Vector) float64 {
	return 1.0
}

// AtGoal returns whether or not the pole is balanced in state
func (b *Balance) AtGoal(state mat.Matrix) bool {
	return math.Abs(state.At(2, 0)) <= FailAngle &&
		math.Abs(state.At(0, 0)) <= FailPosition
}

// Min returns the minimum possible reward that can be received in the
// environment
func (b *Balance) Min() float64 {
	return 1.0
}

// Max returns the maximum possible reward that can be received in the
// environment
func (b *Balance) Max() float64 {
	return 1.0
}

// RewardSpec returns the reward specification for the environment
func (b *Balance) RewardSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{b.Min()})
	upperBound := mat.NewVecDense(1, []float64{b.Max()})

	return env.NewSpec(shape, env.Reward, lowerBound, upperBound,
		env.Continuous)
}

// StartBounds returns the intervals starting states are sampled from
func StartBounds() []r1.Interval {
	bounds := make([]r1.Interval, ObservationDims)
	for i := range bounds {
		bounds[i] = r1.Interval{Min: -0.05, Max: 0.05}
	}
	return bounds
}
