package expreplay

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format is a file format a VectorReplayBuffer can be saved in
type Format string

const (
	// Gob stores the buffer with encoding/gob
	Gob Format = "gob"

	// SQLite stores the buffer as tables of a SQLite database, so that
	// it can be inspected with other tools
	SQLite Format = "sqlite"

	// HDF5 is recognized so that a clear error is returned, there is
	// no HDF5 support
	HDF5 Format = "hdf5"
)

// FormatOf returns the Format a buffer file is stored in, judged by
// its extension. Files with an unknown extension are gob files.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sqlite", ".sqlite3", ".db":
		return SQLite
	case ".hdf5", ".h5":
		return HDF5
	}
	return Gob
}

// bufferState is the persisted state of a ReplayBuffer
type bufferState struct {
	MaxSize    int
	Obs        []float64
	Act        []float64
	Rew        []float64
	Terminated []bool
	Truncated  []bool
	ObsNext    []float64
	IDs        []uint64
	Next       int
	Size       int
	Count      uint64
}

// vectorState is the persisted state of a VectorReplayBuffer
type vectorState struct {
	ObsDim  int
	ActDim  int
	MinSize int
	Buffers []bufferState
}

func (r *ReplayBuffer) state() bufferState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return bufferState{
		MaxSize:    r.maxSize,
		Obs:        r.obs,
		Act:        r.act,
		Rew:        r.rew,
		Terminated: r.terminated,
		Truncated:  r.truncated,
		ObsNext:    r.obsNext,
		IDs:        r.ids,
		Next:       r.next,
		Size:       r.size,
		Count:      r.count,
	}
}

func (v *VectorReplayBuffer) state() vectorState {
	s := vectorState{
		ObsDim:  v.obsDim,
		ActDim:  v.actDim,
		MinSize: v.minSize,
		Buffers: make([]bufferState, len(v.buffers)),
	}
	for i, b := range v.buffers {
		s.Buffers[i] = b.state()
	}
	return s
}

// fromState creates a VectorReplayBuffer from its persisted state
func fromState(s vectorState, seed uint64) (*VectorReplayBuffer, error) {
	if len(s.Buffers) == 0 {
		return nil, fmt.Errorf("no sub-buffers stored")
	}

	buffers := make([]*ReplayBuffer, len(s.Buffers))
	for i, bs := range s.Buffers {
		b, err := NewReplayBuffer(bs.MaxSize, s.ObsDim, s.ActDim)
		if err != nil {
			return nil, fmt.Errorf("sub-buffer %v: %w", i, err)
		}

		n := bs.MaxSize
		if len(bs.Obs) != n*s.ObsDim || len(bs.ObsNext) != n*s.ObsDim ||
			len(bs.Act) != n*s.ActDim || len(bs.Rew) != n ||
			len(bs.Terminated) != n || len(bs.Truncated) != n ||
			len(bs.IDs) != n {
			return nil, fmt.Errorf("sub-buffer %v: inconsistent data sizes", i)
		}
		if bs.Size > n || bs.Next >= n || bs.Next < 0 || bs.Size < 0 {
			return nil, fmt.Errorf("sub-buffer %v: invalid size %v or "+
				"position %v", i, bs.Size, bs.Next)
		}

		b.obs, b.act, b.rew = bs.Obs, bs.Act, bs.Rew
		b.terminated, b.truncated = bs.Terminated, bs.Truncated
		b.obsNext, b.ids = bs.ObsNext, bs.IDs
		b.next, b.size, b.count = bs.Next, bs.Size, bs.Count
		buffers[i] = b
	}

	return &VectorReplayBuffer{
		buffers:  buffers,
		obsDim:   s.ObsDim,
		actDim:   s.ActDim,
		minSize:  s.MinSize,
		selector: NewUniformSelector(seed),
	}, nil
}

// Save saves the buffer to path in the format given by the extension
// of path, see FormatOf
func (v *VectorReplayBuffer) Save(path string) error {
	switch FormatOf(path) {
	case SQLite:
		if err := saveSQLite(v, path); err != nil {
			return &ExpReplayError{Op: "save", Err: err}
		}
		return nil
	case HDF5:
		return &ExpReplayError{Op: "save", Err: fmt.Errorf("%v: %w", path,
			ErrUnsupportedFormat)}
	}

	if err := saveGob(v, path); err != nil {
		return &ExpReplayError{Op: "save", Err: err}
	}
	return nil
}

// Load loads a VectorReplayBuffer saved with Save. The loaded buffer
// samples with a selector seeded with seed.
func Load(path string, seed uint64) (*VectorReplayBuffer, error) {
	var s vectorState
	var err error
	switch FormatOf(path) {
	case SQLite:
		s, err = loadSQLite(path)
	case HDF5:
		err = fmt.Errorf("%v: %w", path, ErrUnsupportedFormat)
	default:
		s, err = loadGob(path)
	}
	if err != nil {
		return nil, &ExpReplayError{Op: "load", Err: err}
	}

	v, err := fromState(s, seed)
	if err != nil {
		return nil, &ExpReplayError{Op: "load", Err: fmt.Errorf("%v: %w",
			path, err)}
	}
	return v, nil
}

func saveGob(v *VectorReplayBuffer, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := gob.NewEncoder(f).Encode(v.state()); err != nil {
		f.Close()
		return fmt.Errorf("could not encode buffer: %w", err)
	}
	return f.Close()
}

func loadGob(path string) (vectorState, error) {
	f, err := os.Open(path)
	if err != nil {
		return vectorState{}, err
	}
	defer f.Close()

	var s vectorState
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return vectorState{}, fmt.Errorf("could not decode buffer %v: %w",
			path, err)
	}
	return s, nil
}
