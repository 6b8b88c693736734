package pendulum

import (
	"math"

	"github.com/samuelfneumann/offlinerl/environment"
	"gonum.org/v1/gonum/mat"
)

// SwingUp implements a task where the agent must swing the pendulum up
// and hold it in a vertical position. The reward is the negative cost
//
//	θ² + 0.1 θ̇² + 0.001 u²
//
// of the state the action u was taken in, with θ normalized to
// [-π, π). Episodes only end by timeout.
type SwingUp struct {
	environment.Starter
	environment.Ender
}

// NewSwingUp creates and returns a new SwingUp task
func NewSwingUp(s environment.Starter, maxSteps int) *SwingUp {
	ender := environment.NewStepLimit(maxSteps)
	return &SwingUp{s, ender}
}

// GetReward gets the reward for taking action a in the state
// described by observation state
func (s *SwingUp) GetReward(state mat.Vector, a mat.Vector,
	_ mat.Vector) float64 {
	th := math.Atan2(state.AtVec(1), state.AtVec(0))
	thdot := state.AtVec(2)
	u := a.AtVec(0)

	return -(th*th + 0.1*thdot*thdot + 0.001*u*u)
}

// AtGoal determines whether or not the pendulum points straight up
func (s *SwingUp) AtGoal(state mat.Matrix) bool {
	return state.At(0, 0) == 1
}

// Min returns the minimum possible reward
func (s *SwingUp) Min() float64 {
	return -(math.Pi*math.Pi + 0.1*SpeedBound*SpeedBound +
		0.001*TorqueBound*TorqueBound)
}

// Max returns the maximum possible reward
func (s *SwingUp) Max() float64 {
	return 0.0
}

// RewardSpec returns the reward specification of the Task
func (s *SwingUp) RewardSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{s.Min()})
	upperBound := mat.NewVecDense(1, []float64{s.Max()})

	return environment.NewSpec(shape, environment.Reward, lowerBound,
		upperBound, environment.Continuous)
}
