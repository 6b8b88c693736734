package agent

import (
	"github.com/samuelfneumann/offlinerl/environment"
)

// Config represents a configuration for creating an agent
type Config interface {
	// CreateAgent creates the agent that the config describes for
	// environments with the argument observation and action spaces
	CreateAgent(info environment.SpaceInfo, seed uint64) (Agent, error)

	// Validate returns an error describing whether or not the
	// configuration is valid or not.
	Validate() error
}
