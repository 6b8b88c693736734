// Package expreplay implements experience replay buffers
package expreplay

import (
	"fmt"
	"sync"

	"github.com/samuelfneumann/offlinerl/timestep"
)

// Batch is a batch of transitions sampled from a buffer. Observations
// and actions are stored row-major, one row per transition.
type Batch struct {
	Size   int
	ObsDim int
	ActDim int

	Obs []float64
	Act []float64

	// Rew holds the discounted n-step return following each
	// transition
	Rew []float64

	// Discount holds the discount to apply to the value of ObsNext,
	// γᵏ for a k-step return or 0 if a terminal state was reached
	Discount []float64
	ObsNext  []float64

	// Terminated is 1 if the k-step return ended in a terminal state
	Terminated []float64
}

func newBatch(size, obsDim, actDim int) Batch {
	return Batch{
		Size:       size,
		ObsDim:     obsDim,
		ActDim:     actDim,
		Obs:        make([]float64, size*obsDim),
		Act:        make([]float64, size*actDim),
		Rew:        make([]float64, size),
		Discount:   make([]float64, size),
		ObsNext:    make([]float64, size*obsDim),
		Terminated: make([]float64, size),
	}
}

// Sampler samples batches of transitions
type Sampler interface {
	// Sample samples batchSize transitions uniformly at random with
	// replacement. Rewards of the batch are nStep returns discounted by
	// gamma.
	Sample(batchSize, nStep int, gamma float64) (Batch, error)

	// Len returns the number of stored transitions
	Len() int
}

// ReplayBuffer is a fixed size circular buffer of transitions from a
// single environment. Once full, the oldest transitions are
// overwritten. Consecutive transitions of an episode must be added in
// order; the buffer links them to compute n-step returns.
type ReplayBuffer struct {
	mu sync.RWMutex

	maxSize int
	obsDim  int
	actDim  int

	obs        []float64
	act        []float64
	rew        []float64
	terminated []bool
	truncated  []bool
	obsNext    []float64

	// ids stores the insertion number of the transition in each slot
	ids []uint64

	next  int
	size  int
	count uint64

	selector Selector
}

// NewReplayBuffer returns a new ReplayBuffer which can store maxSize
// transitions
func NewReplayBuffer(maxSize, obsDim, actDim int) (*ReplayBuffer, error) {
	if maxSize < 1 {
		return nil, fmt.Errorf("newreplaybuffer: size must be positive, "+
			"got %v", maxSize)
	}
	if obsDim < 1 || actDim < 1 {
		return nil, fmt.Errorf("newreplaybuffer: observation and action "+
			"dimensions must be positive, got %v and %v", obsDim, actDim)
	}

	return &ReplayBuffer{
		maxSize:    maxSize,
		obsDim:     obsDim,
		actDim:     actDim,
		obs:        make([]float64, maxSize*obsDim),
		act:        make([]float64, maxSize*actDim),
		rew:        make([]float64, maxSize),
		terminated: make([]bool, maxSize),
		truncated:  make([]bool, maxSize),
		obsNext:    make([]float64, maxSize*obsDim),
		ids:        make([]uint64, maxSize),
		selector:   NewUniformSelector(0),
	}, nil
}

// Add adds a transition to the buffer, overwriting the oldest
// transition if the buffer is full
func (r *ReplayBuffer) Add(t timestep.Transition) error {
	if t.State.Len() != r.obsDim || t.NextState.Len() != r.obsDim {
		return &ExpReplayError{Op: "add", Err: fmt.Errorf("observations "+
			"must have %v features, got %v and %v", r.obsDim, t.State.Len(),
			t.NextState.Len())}
	}
	if t.Action.Len() != r.actDim {
		return &ExpReplayError{Op: "add", Err: fmt.Errorf("actions must "+
			"have %v dimensions, got %v", r.actDim, t.Action.Len())}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.next
	for j := 0; j < r.obsDim; j++ {
		r.obs[i*r.obsDim+j] = t.State.AtVec(j)
		r.obsNext[i*r.obsDim+j] = t.NextState.AtVec(j)
	}
	for j := 0; j < r.actDim; j++ {
		r.act[i*r.actDim+j] = t.Action.AtVec(j)
	}
	r.rew[i] = t.Reward
	r.terminated[i] = t.Terminated
	r.truncated[i] = t.Truncated
	r.ids[i] = r.count

	r.count++
	r.next = (r.next + 1) % r.maxSize
	if r.size < r.maxSize {
		r.size++
	}
	return nil
}

// Len returns the number of transitions stored in the buffer
func (r *ReplayBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// MaxSize returns the maximum number of transitions the buffer stores
func (r *ReplayBuffer) MaxSize() int {
	return r.maxSize
}

// Reset removes all transitions from the buffer
func (r *ReplayBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next, r.size, r.count = 0, 0, 0
}

// Seed reseeds the selector used by Sample
func (r *ReplayBuffer) Seed(seed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selector = NewUniformSelector(seed)
}

// Sample samples a batch of transitions uniformly with replacement
func (r *ReplayBuffer) Sample(batchSize, nStep int,
	gamma float64) (Batch, error) {
	r.mu.RLock()
	selector := r.selector
	r.mu.RUnlock()

	v := &VectorReplayBuffer{
		buffers:  []*ReplayBuffer{r},
		obsDim:   r.obsDim,
		actDim:   r.actDim,
		selector: selector,
	}
	return v.Sample(batchSize, nStep, gamma)
}

// successor returns the slot holding the transition added right after
// the one in slot i, or -1 if that transition is not in the buffer
func (r *ReplayBuffer) successor(i int) int {
	j := (i + 1) % r.maxSize
	if j >= r.size || r.ids[j] != r.ids[i]+1 {
		return -1
	}
	return j
}

// fill writes the n-step transition starting at slot i into row b of
// batch. The return accumulates rewards until nStep rewards have been
// seen, the episode ends, or the newest transition is reached; the
// bootstrap observation is the next observation of the last
// transition used.
func (r *ReplayBuffer) fill(batch *Batch, b, i, nStep int, gamma float64) {
	copy(batch.Obs[b*r.obsDim:(b+1)*r.obsDim],
		r.obs[i*r.obsDim:(i+1)*r.obsDim])
	copy(batch.Act[b*r.actDim:(b+1)*r.actDim],
		r.act[i*r.actDim:(i+1)*r.actDim])

	ret, discount := 0.0, 1.0
	last := i
	for k := 0; k < nStep; k++ {
		ret += discount * r.rew[last]
		discount *= gamma

		if r.terminated[last] {
			discount = 0
			batch.Terminated[b] = 1
			break
		}
		if r.truncated[last] || k == nStep-1 {
			break
		}

		next := r.successor(last)
		if next < 0 {
			break
		}
		last = next
	}

	batch.Rew[b] = ret
	batch.Discount[b] = discount
	copy(batch.ObsNext[b*r.obsDim:(b+1)*r.obsDim],
		r.obsNext[last*r.obsDim:(last+1)*r.obsDim])
}
