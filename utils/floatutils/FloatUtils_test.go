package floatutils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxSlice(t *testing.T) {
	max, indices := MaxSlice([]float64{1, 3, 2, 3})
	assert.Equal(t, 3.0, max)
	assert.Equal(t, []int{1, 3}, indices)

	max, indices = MaxSlice([]float64{5, 1, 5})
	assert.Equal(t, 5.0, max)
	assert.Equal(t, []int{0, 2}, indices)
	assert.Equal(t, 0, Argmax([]float64{5, 1, 5}))
}

func TestSoftmax(t *testing.T) {
	p := Softmax([]float64{1000, 1000})
	assert.InDelta(t, 0.5, p[0], 1e-12)
	assert.InDelta(t, 0.5, p[1], 1e-12)

	assert.InDelta(t, math.Log(3), LogSumExp([]float64{0, 0, 0}), 1e-12)
}

func TestClip(t *testing.T) {
	assert.Equal(t, 2.0, Clip(10, -2, 2))
	assert.Equal(t, -2.0, Clip(-10, -2, 2))
	assert.Equal(t, 0.5, Clip(0.5, -2, 2))
}
