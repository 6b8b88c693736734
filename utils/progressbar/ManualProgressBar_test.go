package progressbar

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManualProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewManualProgressBar(&buf, "Epoch #1", 10, 4)

	bar.Increment(2)
	bar.Display("loss: 1.0")
	assert.InDelta(t, 0.5, bar.Progress(), 1e-12)
	assert.Contains(t, buf.String(), "Epoch #1")
	assert.Contains(t, buf.String(), "50.00%")
	assert.Contains(t, buf.String(), "loss: 1.0")

	bar.Increment(10)
	assert.Equal(t, 1.0, bar.Progress())
}
