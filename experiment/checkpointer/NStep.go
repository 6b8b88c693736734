package checkpointer

import (
	"fmt"
	"os"
	"path/filepath"
)

// nStep implements checkpointing every N epochs
type nStep struct {
	interval int
	object   Serializable // Object to save

	// filename returns the string filename of the file to save the object
	// in.
	//
	// FilenameEnumerator numbers the files of consecutive checkpoints,
	// FileTimer stamps them with the time instead:
	//
	// n, err := NewNStep(10, object, FileTimer("log", "policy", ".gob"))
	filename func() string
}

// NewNStep returns a checkpointer that checkpoints every n epochs. An
// interval of 0 disables checkpointing.
func NewNStep(n int, object Serializable,
	filename func() string) (Checkpointer, error) {
	if n < 0 {
		return nil, fmt.Errorf("newnstep: interval must be non-negative, "+
			"got %v", n)
	}
	if object == nil || filename == nil {
		return nil, fmt.Errorf("newnstep: object and filename must be set")
	}
	return &nStep{
		interval: n,
		object:   object,
		filename: filename,
	}, nil
}

// Checkpoint gob encodes the Checkpointer's tracked object and writes it
// to the next file if epoch is a multiple of the interval
func (n *nStep) Checkpoint(epoch int) error {
	if n.interval == 0 || epoch%n.interval != 0 {
		return nil
	}

	data, err := n.object.GobEncode()
	if err != nil {
		return fmt.Errorf("checkpoint: epoch %v: %w", epoch, err)
	}

	path := n.filename()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: epoch %v: %w", epoch, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: epoch %v: %w", epoch, err)
	}
	return nil
}
