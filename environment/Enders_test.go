package environment_test

import (
	"testing"

	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/timestep"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

func TestEndersPriority(t *testing.T) {
	interval := environment.NewIntervalLimit([]r1.Interval{{Min: -1, Max: 1}},
		[]int{0}, timestep.TerminalStateReached)
	enders := environment.Enders{interval, environment.NewStepLimit(3)}

	step := timestep.New(timestep.Mid, 0, 1, mat.NewVecDense(1, []float64{0}), 1)
	assert.False(t, enders.End(&step))
	assert.True(t, step.Mid())

	// Leaving the interval on the final step counts as termination
	step = timestep.New(timestep.Mid, 0, 1, mat.NewVecDense(1, []float64{2}), 3)
	assert.True(t, enders.End(&step))
	assert.True(t, step.Terminated())

	step = timestep.New(timestep.Mid, 0, 1, mat.NewVecDense(1, []float64{0}), 3)
	assert.True(t, enders.End(&step))
	assert.True(t, step.Truncated())
}

func TestUniformStarter(t *testing.T) {
	bounds := []r1.Interval{{Min: -0.05, Max: 0.05}, {Min: 1, Max: 2}}
	s := environment.NewUniformStarter(bounds, 42)
	for i := 0; i < 100; i++ {
		v := s.Start()
		assert.Equal(t, 2, v.Len())
		assert.True(t, v.AtVec(0) >= -0.05 && v.AtVec(0) <= 0.05)
		assert.True(t, v.AtVec(1) >= 1 && v.AtVec(1) <= 2)
	}
}
