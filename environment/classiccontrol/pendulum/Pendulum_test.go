package pendulum

import (
	"math"
	"testing"

	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNormalizeAngle(t *testing.T) {
	assert.InDelta(t, 0.0, normalizeAngle(2*math.Pi), 1e-12)
	assert.InDelta(t, -math.Pi/2, normalizeAngle(3*math.Pi/2), 1e-12)
	assert.InDelta(t, math.Pi/2, normalizeAngle(-3*math.Pi/2), 1e-12)
}

func TestPendulumEpisode(t *testing.T) {
	s := environment.NewUniformStarter(StartBounds(), 3)
	p, first, err := New(NewSwingUp(s, 200), 1.0)
	require.NoError(t, err)
	require.Equal(t, ObservationDims, first.Observation.Len())

	th := math.Atan2(first.Observation.AtVec(1), first.Observation.AtVec(0))
	thdot := first.Observation.AtVec(2)

	// Torques beyond the bound are clipped before computing the reward
	step, done, err := p.Step(mat.NewVecDense(1, []float64{10}))
	require.NoError(t, err)
	require.False(t, done)
	want := -(th*th + 0.1*thdot*thdot + 0.001*4)
	assert.InDelta(t, want, step.Reward, 1e-9)
	assert.LessOrEqual(t, math.Abs(step.Observation.AtVec(2)), SpeedBound)

	n := 1
	for !done {
		step, done, err = p.Step(mat.NewVecDense(1, []float64{0}))
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 200, n)
	assert.True(t, step.Truncated())
}
