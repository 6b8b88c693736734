package expreplay

import (
	"fmt"
	"sync"

	"github.com/samuelfneumann/offlinerl/timestep"
	"github.com/samuelfneumann/offlinerl/utils/intutils"
	"golang.org/x/exp/rand"
)

// Selector chooses which stored transitions to sample
type Selector interface {
	// choose returns batchSize indices in [0, size)
	choose(batchSize, size int) []int
}

// uniformSelector selects transitions uniformly at random with
// replacement. It is safe for concurrent use.
type uniformSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewUniformSelector returns a new Selector which selects transitions
// uniformly at random
func NewUniformSelector(seed uint64) Selector {
	return &uniformSelector{rng: rand.New(rand.NewSource(seed))}
}

func (u *uniformSelector) choose(batchSize, size int) []int {
	u.mu.Lock()
	defer u.mu.Unlock()

	selected := make([]int, batchSize)
	for i := range selected {
		selected[i] = u.rng.Intn(size)
	}
	return selected
}

// VectorReplayBuffer holds one ReplayBuffer per environment of a
// vectorized environment, so that the transitions of each environment
// stay in order. Sampling draws uniformly from all stored transitions.
type VectorReplayBuffer struct {
	buffers  []*ReplayBuffer
	obsDim   int
	actDim   int
	minSize  int
	selector Selector
}

// NewVectorReplayBuffer returns a new VectorReplayBuffer with
// bufferNum sub-buffers, each of which stores ⌈totalSize / bufferNum⌉
// transitions.
func NewVectorReplayBuffer(totalSize, bufferNum, obsDim, actDim int,
	seed uint64) (*VectorReplayBuffer, error) {
	if bufferNum < 1 {
		return nil, fmt.Errorf("newvectorreplaybuffer: need at least one "+
			"buffer, got %v", bufferNum)
	}
	if totalSize < bufferNum {
		return nil, fmt.Errorf("newvectorreplaybuffer: total size %v "+
			"smaller than the number of buffers %v", totalSize, bufferNum)
	}

	size := intutils.CeilDiv(totalSize, bufferNum)
	buffers := make([]*ReplayBuffer, bufferNum)
	for i := range buffers {
		var err error
		buffers[i], err = NewReplayBuffer(size, obsDim, actDim)
		if err != nil {
			return nil, fmt.Errorf("newvectorreplaybuffer: %w", err)
		}
	}

	return &VectorReplayBuffer{
		buffers:  buffers,
		obsDim:   obsDim,
		actDim:   actDim,
		selector: NewUniformSelector(seed),
	}, nil
}

// WithMinSize sets the number of transitions that must be stored
// before the buffer can be sampled
func (v *VectorReplayBuffer) WithMinSize(n int) *VectorReplayBuffer {
	v.minSize = n
	return v
}

// AddTo adds a transition from environment i
func (v *VectorReplayBuffer) AddTo(i int, t timestep.Transition) error {
	if i < 0 || i >= len(v.buffers) {
		return &ExpReplayError{Op: "addto", Err: fmt.Errorf("buffer index "+
			"%v out of range [0, %v)", i, len(v.buffers))}
	}
	return v.buffers[i].Add(t)
}

// BufferNum returns the number of sub-buffers
func (v *VectorReplayBuffer) BufferNum() int {
	return len(v.buffers)
}

// ObsDim returns the number of features in stored observations
func (v *VectorReplayBuffer) ObsDim() int {
	return v.obsDim
}

// ActDim returns the number of dimensions of stored actions
func (v *VectorReplayBuffer) ActDim() int {
	return v.actDim
}

// MaxSize returns the maximum number of transitions that can be stored
func (v *VectorReplayBuffer) MaxSize() int {
	return len(v.buffers) * v.buffers[0].maxSize
}

// Len returns the number of stored transitions
func (v *VectorReplayBuffer) Len() int {
	var n int
	for _, b := range v.buffers {
		n += b.Len()
	}
	return n
}

// BufferLen returns the number of transitions stored in sub-buffer i
func (v *VectorReplayBuffer) BufferLen(i int) int {
	return v.buffers[i].Len()
}

// Reset removes all transitions from the buffer
func (v *VectorReplayBuffer) Reset() {
	for _, b := range v.buffers {
		b.Reset()
	}
}

// Sample samples batchSize transitions uniformly at random with
// replacement from all sub-buffers. Rewards are nStep returns
// discounted by gamma, computed within the sub-buffer each transition
// was sampled from.
func (v *VectorReplayBuffer) Sample(batchSize, nStep int,
	gamma float64) (Batch, error) {
	if batchSize < 1 || nStep < 1 {
		return Batch{}, &ExpReplayError{Op: "sample", Err: fmt.Errorf(
			"batch size and n-step must be positive, got %v and %v",
			batchSize, nStep)}
	}

	for _, b := range v.buffers {
		b.mu.RLock()
		defer b.mu.RUnlock()
	}

	sizes := make([]int, len(v.buffers))
	var total int
	for i, b := range v.buffers {
		sizes[i] = b.size
		total += b.size
	}

	if total == 0 {
		return Batch{}, &ExpReplayError{Op: "sample", Err: errEmptyBuffer}
	}
	if total < v.minSize {
		return Batch{}, &ExpReplayError{Op: "sample",
			Err: errInsufficientSamples}
	}

	batch := newBatch(batchSize, v.obsDim, v.actDim)
	for row, index := range v.selector.choose(batchSize, total) {
		buf := 0
		for index >= sizes[buf] {
			index -= sizes[buf]
			buf++
		}
		v.buffers[buf].fill(&batch, row, index, nStep, gamma)
	}
	return batch, nil
}
