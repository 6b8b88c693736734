// Package agent defines an agent interface
package agent

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/network"
	"github.com/samuelfneumann/offlinerl/timestep"
	"gonum.org/v1/gonum/mat"
)

// Agent determines the implementation details of an agent or algorithm
//
// An Agent is composed of a Learner, which learns weights, and a Policy
// which chooses actions in each state. The Policy chooses which actions
// are taken, and the Learner uses batches of stored transitions to
// update the Policy. The Policy and Learner share the same weights.
type Agent interface {
	Learner
	Policy

	// GobEncode and GobDecode save and restore the weights of the
	// agent, so that agents can be checkpointed
	gob.GobEncoder
	gob.GobDecoder

	// Close releases the VMs of the agent
	Close() error
}

// Learner implements a learning algorithm that defines how weights are
// updated.
type Learner interface {
	// Update performs a single update using a batch of batchSize
	// transitions sampled from sampler
	Update(batchSize int, sampler expreplay.Sampler) (Stats, error)
}

// Policy represents a policy that an agent can have.
//
// In training mode the policy explores, in evaluation mode it acts
// greedily (or deterministically) with respect to what it has learned.
// Actions returned by SelectAction are the outputs of the policy, which
// are stored in replay buffers. An ActionMapper maps them to the
// actions an environment expects.
type Policy interface {
	SelectAction(t timestep.TimeStep) (*mat.VecDense, error)
	Eval()        // Set policy to evaluation mode
	Train()       // Set policy to training mode
	IsEval() bool // Indicates if in evaluation mode
}

// Explorer is a Policy that adds exploration noise to the actions it
// selects when collecting training data
type Explorer interface {
	Policy
	ExplorationNoise(action *mat.VecDense) *mat.VecDense
}

// ActionMapper is a Policy whose actions must be mapped before being
// sent to an environment, for example squashed actions in [-1, 1]
// which are scaled to the bounds of the action space.
type ActionMapper interface {
	Policy
	MapAction(action *mat.VecDense) *mat.VecDense
}

// Stats holds the statistics of a single update, such as losses, by
// name
type Stats map[string]float64

// String returns the statistics sorted by name
func (s Stats) String() string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "%v: %.4f", name, s[name])
	}
	return b.String()
}

// Save writes the weights of a to the file at path
func Save(a Agent, path string) error {
	data, err := a.GobEncode()
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Load restores the weights of a from a file written by Save
func Load(a Agent, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if err := a.GobDecode(data); err != nil {
		return fmt.Errorf("load: %v: %w", path, err)
	}
	return nil
}

// EncodeWeights gob encodes the weights of each network, followed by
// extra values such as learned scalars
func EncodeWeights(nets []network.NeuralNet, extra ...interface{}) ([]byte,
	error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	for i, net := range nets {
		if err := enc.Encode(network.Weights(net)); err != nil {
			return nil, fmt.Errorf("encodeweights: could not encode "+
				"network %v: %v", i, err)
		}
	}
	for i, e := range extra {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("encodeweights: could not encode "+
				"value %v: %v", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeWeights decodes weights written by EncodeWeights into nets.
// Each element of extra must be a pointer to decode the matching extra
// value into.
func DecodeWeights(data []byte, nets []network.NeuralNet,
	extra ...interface{}) error {
	dec := gob.NewDecoder(bytes.NewReader(data))

	for i, net := range nets {
		var weights [][]float64
		if err := dec.Decode(&weights); err != nil {
			return fmt.Errorf("decodeweights: could not decode network "+
				"%v: %v", i, err)
		}
		if err := network.SetWeights(net, weights); err != nil {
			return fmt.Errorf("decodeweights: network %v: %v", i, err)
		}
	}
	for i, e := range extra {
		if err := dec.Decode(e); err != nil {
			return fmt.Errorf("decodeweights: could not decode value "+
				"%v: %v", i, err)
		}
	}
	return nil
}
