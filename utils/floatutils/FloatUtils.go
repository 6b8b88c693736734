// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"

	"gonum.org/v1/gonum/spatial/r1"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// ClipInterval is a wrapper to use Clip with an r1.Interval instead of
// a separate max and min value
func ClipInterval(value float64, interval r1.Interval) float64 {
	return Clip(value, interval.Min, interval.Max)
}

// MaxSlice gets the maximum value and indices of the maximum values in
// a slice of float64.
func MaxSlice(values []float64) (max float64, indices []int) {
	max, indices = values[0], []int{0}

	for i, value := range values {
		if value > max {
			max = value
			indices = []int{i}
		} else if value == max && i > 0 {
			indices = append(indices, i)
		}
	}
	return
}

// Argmax returns the first index of the maximum value in values
func Argmax(values []float64) int {
	_, indices := MaxSlice(values)
	return indices[0]
}

// LogSumExp returns log Σ exp(values[i]), computed stably
func LogSumExp(values []float64) float64 {
	max, _ := MaxSlice(values)
	if math.IsInf(max, 0) {
		return max
	}
	var sum float64
	for _, v := range values {
		sum += math.Exp(v - max)
	}
	return max + math.Log(sum)
}

// Softmax returns the softmax of values
func Softmax(values []float64) []float64 {
	lse := LogSumExp(values)
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Exp(v - lse)
	}
	return out
}

// Ones returns a slice of n ones
func Ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1.0
	}
	return out
}
