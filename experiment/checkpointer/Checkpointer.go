// Package checkpointer implements checkpointing of serializable
// objects, such as agents, during training
package checkpointer

import (
	"encoding/gob"
)

// Serializable is an object that can be saved/serialized
type Serializable interface {
	gob.GobEncoder
	gob.GobDecoder
}

// Checkpointer checkpoints/saves serializable objects at the end of
// training epochs
type Checkpointer interface {
	Checkpoint(epoch int) error
}
