// Package pendulum implements the pendulum classic control environment
package pendulum

import (
	"fmt"
	"io"
	"math"

	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/timestep"
	"github.com/samuelfneumann/offlinerl/utils/floatutils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

// default physical constants
const (
	AngleBound  float64 = math.Pi // +/- Angle bounds
	SpeedBound  float64 = 8.0     // +/- Speed bounds
	TorqueBound float64 = 2.0     // +/- Torque bounds

	MaxContinuousAction float64 = TorqueBound
	MinContinuousAction float64 = -MaxContinuousAction

	dt              float64 = 0.05
	Gravity         float64 = 10.0
	Mass            float64 = 1.0
	Length          float64 = 1.0
	ActionDims      int     = 1
	StateDims       int     = 2
	ObservationDims int     = 3
)

// Pendulum implements the classic control environment Pendulum. In
// this environment, a pendulum is attached to a fixed base. An agent
// can swing the pendulum back and forth, but the torque is
// underpowered. In order to swing the pendulum straight up, it must
// first be rocked back and forth, using the momentum to gradually
// climb higher until the pendulum can point straight up.
//
// The underlying state consists of the angle of the pendulum from the
// positive y-axis and its angular velocity. Observations are
// (cos θ, sin θ, θ̇). The angular velocity is clipped to
// [-SpeedBound, SpeedBound].
//
// Actions are continuous and 1-dimensional, the torque applied at the
// fixed base. Actions outside of [MinContinuousAction,
// MaxContinuousAction] are clipped.
type Pendulum struct {
	environment.Task
	th, thdot float64
	lastStep  timestep.TimeStep
	discount  float64
}

// New creates and returns a new Pendulum environment. The Starter of
// the Task must return (θ, θ̇) states.
func New(t environment.Task, discount float64) (*Pendulum, timestep.TimeStep,
	error) {
	p := &Pendulum{Task: t, discount: discount}
	step, err := p.Reset()
	if err != nil {
		return nil, timestep.TimeStep{}, fmt.Errorf("new: %w", err)
	}
	return p, step, nil
}

// LastTimeStep returns the last TimeStep that occurred in the
// environment
func (p *Pendulum) LastTimeStep() timestep.TimeStep {
	return p.lastStep
}

// Reset resets the environment and returns a starting state drawn from
// the Starter
func (p *Pendulum) Reset() (timestep.TimeStep, error) {
	state := p.Start()
	if state.Len() != StateDims {
		return timestep.TimeStep{}, fmt.Errorf("reset: starting state "+
			"should have %v features, got %v", StateDims, state.Len())
	}
	if math.Abs(state.AtVec(1)) > SpeedBound {
		return timestep.TimeStep{}, fmt.Errorf("reset: theta dot %v is not "+
			"within bounds ±%v", state.AtVec(1), SpeedBound)
	}

	p.th, p.thdot = state.AtVec(0), state.AtVec(1)
	startStep := timestep.New(timestep.First, 0, p.discount, p.obs(), 0)
	p.lastStep = startStep

	return startStep, nil
}

// Step takes one environmental step given action a and returns the
// next timestep and a bool indicating whether or not the episode has
// ended
func (p *Pendulum) Step(action *mat.VecDense) (timestep.TimeStep, bool,
	error) {
	if p.lastStep.Last() {
		return timestep.TimeStep{}, true, fmt.Errorf("step: episode has " +
			"ended, call Reset before Step")
	}
	if action.Len() != ActionDims {
		panic("actions should be 1-dimensional")
	}

	torque := floatutils.Clip(action.AtVec(0), MinContinuousAction,
		MaxContinuousAction)
	clipped := mat.NewVecDense(ActionDims, []float64{torque})

	newthdot := p.thdot + (3*Gravity/(2*Length)*math.Sin(p.th)+
		3.0/(Mass*Length*Length)*torque)*dt
	newthdot = floatutils.Clip(newthdot, -SpeedBound, SpeedBound)
	newth := p.th + newthdot*dt

	prev := p.lastStep.Observation
	p.th, p.thdot = newth, newthdot
	next := p.obs()

	reward := p.GetReward(prev, clipped, next)
	nextStep := timestep.New(timestep.Mid, reward, p.discount, next,
		p.lastStep.Number+1)
	p.End(&nextStep)

	p.lastStep = nextStep
	return nextStep, nextStep.Last(), nil
}

func (p *Pendulum) obs() *mat.VecDense {
	return mat.NewVecDense(ObservationDims, []float64{math.Cos(p.th),
		math.Sin(p.th), p.thdot})
}

// ActionSpec returns the action specification of the environment
func (p *Pendulum) ActionSpec() environment.Spec {
	shape := mat.NewVecDense(ActionDims, nil)
	lowerBound := mat.NewVecDense(ActionDims, []float64{MinContinuousAction})
	upperBound := mat.NewVecDense(ActionDims, []float64{MaxContinuousAction})

	return environment.NewSpec(shape, environment.Action, lowerBound,
		upperBound, environment.Continuous)
}

// ObservationSpec returns the observation specification of the environment
func (p *Pendulum) ObservationSpec() environment.Spec {
	shape := mat.NewVecDense(ObservationDims, nil)
	lowerBound := mat.NewVecDense(ObservationDims, []float64{-1, -1,
		-SpeedBound})
	upperBound := mat.NewVecDense(ObservationDims, []float64{1, 1,
		SpeedBound})

	return environment.NewSpec(shape, environment.Observation, lowerBound,
		upperBound, environment.Continuous)
}

// DiscountSpec returns the discount specification of the environment
func (p *Pendulum) DiscountSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{p.discount})
	upperBound := mat.NewVecDense(1, []float64{p.discount})

	return environment.NewSpec(shape, environment.Discount, lowerBound,
		upperBound, environment.Continuous)
}

// String converts the environment to a string representation
func (p *Pendulum) String() string {
	str := "Pendulum  |  theta: %v  |  theta dot: %v"
	return fmt.Sprintf(str, normalizeAngle(p.th), p.thdot)
}

// Render renders the current timestep as text
func (p *Pendulum) Render(w io.Writer) error {
	angle := normalizeAngle(p.th)
	var frame string

	switch {
	case math.Abs(angle) < math.Pi/8:
		frame = "  |\n  ."
	case angle >= math.Pi/8 && angle < 3*math.Pi/8:
		frame = "   /\n  ."
	case angle >= 3*math.Pi/8 && angle < 5*math.Pi/8:
		frame = "  .--"
	case angle >= 5*math.Pi/8 && angle < 7*math.Pi/8:
		frame = "  .\n   \\"
	case angle <= -math.Pi/8 && angle > -3*math.Pi/8:
		frame = " \\\n  ."
	case angle <= -3*math.Pi/8 && angle > -5*math.Pi/8:
		frame = "--."
	case angle <= -5*math.Pi/8 && angle > -7*math.Pi/8:
		frame = "  .\n /"
	default:
		frame = "  .\n  |"
	}
	_, err := fmt.Fprintf(w, "\x1b[3;J\x1b[H\x1b[2J\n\n%s\n\n", frame)
	return err
}

// normalizeAngle normalizes an angle to [-π, π)
func normalizeAngle(th float64) float64 {
	return math.Mod(math.Mod(th+math.Pi, 2*math.Pi)+2*math.Pi,
		2*math.Pi) - math.Pi
}

// StartBounds returns the intervals (θ, θ̇) starting states are
// sampled from
func StartBounds() []r1.Interval {
	return []r1.Interval{
		{Min: -AngleBound, Max: AngleBound},
		{Min: -1, Max: 1},
	}
}
