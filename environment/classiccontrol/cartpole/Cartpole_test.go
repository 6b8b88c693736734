package cartpole_test

import (
	"bytes"
	"testing"

	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/environment/classiccontrol/cartpole"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newCartpole(t *testing.T, steps int) *cartpole.Cartpole {
	t.Helper()
	s := environment.NewUniformStarter(cartpole.StartBounds(), 1)
	task := cartpole.NewBalance(s, steps)
	c, first, err := cartpole.New(task, 1.0)
	require.NoError(t, err)
	require.True(t, first.First())
	return c
}

func TestCartpoleTerminates(t *testing.T) {
	c := newCartpole(t, 200)
	push := mat.NewVecDense(1, []float64{1})

	var steps int
	for {
		step, done, err := c.Step(push)
		require.NoError(t, err)
		steps++
		assert.Equal(t, 1.0, step.Reward)
		if done {
			assert.True(t, step.Terminated())
			assert.False(t, step.Truncated())
			break
		}
		require.Less(t, steps, 200)
	}

	_, _, err := c.Step(push)
	assert.Error(t, err)
}

func TestCartpoleTimeout(t *testing.T) {
	c := newCartpole(t, 5)

	// Alternating pushes keep the pole up for a handful of steps
	var last bool
	for i := 0; i < 5; i++ {
		step, done, err := c.Step(mat.NewVecDense(1, []float64{float64(i % 2)}))
		require.NoError(t, err)
		last = done
		if done {
			assert.True(t, step.Truncated())
			assert.Equal(t, 5, step.Number)
		}
	}
	assert.True(t, last)
}

func TestCartpoleSpaces(t *testing.T) {
	c := newCartpole(t, 200)
	info := environment.NewSpaceInfo(c)

	assert.Equal(t, 4, info.ObsDim)
	assert.Equal(t, 2, info.NumActions)
	assert.True(t, info.Discrete())

	var buf bytes.Buffer
	require.NoError(t, c.Render(&buf))
	assert.Contains(t, buf.String(), "|")
}

func TestCartpoleIllegalAction(t *testing.T) {
	c := newCartpole(t, 200)
	assert.Panics(t, func() {
		c.Step(mat.NewVecDense(1, []float64{2}))
	})
}
