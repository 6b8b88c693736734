// Package deepq implements deep Q-learning with target networks,
// n-step returns, and ε-greedy exploration
package deepq

import (
	"fmt"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/network"
	"github.com/samuelfneumann/offlinerl/solver"
	ts "github.com/samuelfneumann/offlinerl/timestep"
	"github.com/samuelfneumann/offlinerl/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DeepQ implements the deep Q-learning algorithm. This algorithm is
// conceptually similar to DQN, but uses the MSE loss.
type DeepQ struct {
	// Greedy action selection policy, batch size 1
	policy   network.NeuralNet
	policyVM G.VM

	// Network whose weights are adapted
	trainNet   network.NeuralNet
	trainNetVM G.VM
	solver     *solver.Solver

	// Target network, providing the update target. If double is set,
	// onlineNet is a copy of trainNet in the same graph used to select
	// the next actions that targetNet evaluates.
	targetNet   network.NeuralNet
	onlineNet   network.NeuralNet
	nextObs     *G.Node
	targetNetVM G.VM
	double      bool

	// Variables to track target network updates
	tau                  float64 // Polyak averaging constant
	targetUpdateInterval int     // Steps between target updates
	gradientSteps        int

	selectedActions *G.Node // One-hot actions taken at the previous states
	numActions      int

	// nextStateValues is the input node in the graph of trainNet that
	// is given the value of the next state. For update:
	//
	// Q(s, a) <- Q(s, a) + α * (r + γ Q(s', a') - Q(s, a)) ∇Q(s, a)
	//
	// nextStateValues provides Q(s', a') computed by targetNet.
	nextStateValues *G.Node
	rewards         *G.Node
	discounts       *G.Node
	lossVal         G.Value

	epsilon float64
	rng     *rand.Rand

	batchSize int
	gamma     float64
	nStep     int
	eval      bool // Whether or not in evaluation mode
}

// New creates and returns a new DeepQ agent
func New(info environment.SpaceInfo, config Config,
	seed uint64) (*DeepQ, error) {
	// Ensure environment has discrete actions
	if !info.Discrete() {
		return nil, fmt.Errorf("new: deepq cannot use non-discrete actions")
	}

	// Ensure actions are one-dimensional
	if info.ActionDim != 1 {
		return nil, fmt.Errorf("new: actions must be 1-dimensional")
	}

	// Ensure actions are enumerated from 0
	if info.MinAction[0] != 0.0 {
		return nil, fmt.Errorf("new: actions must be enumerated starting " +
			"from 0")
	}

	// Ensure the configuration is valid
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	// Extract configuration variables
	batchSize := config.BatchSize
	numActions := info.NumActions

	// Behaviour network for selecting actions
	policy, err := network.NewMLP(info.ObsDim, 1, numActions, G.NewGraph(),
		config.PolicyLayers, config.Biases, config.InitWFn.InitWFn(),
		config.Activations)
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy: %v", err)
	}

	// Create a training network which learns the weights
	trainNet, err := policy.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("new: could not create learning network: %v",
			err)
	}
	gTrain := trainNet.Graph()

	// Create nodes to compute the update target: r + γ * Q(s', a')
	nextStateValues := G.NewVector(gTrain, tensor.Float64,
		G.WithShape(batchSize), G.WithName("nextStateValues"),
		G.WithInit(G.Zeroes()))
	rewards := G.NewVector(gTrain, tensor.Float64, G.WithShape(batchSize),
		G.WithName("reward"), G.WithInit(G.Zeroes()))
	discounts := G.NewVector(gTrain, tensor.Float64, G.WithShape(batchSize),
		G.WithName("discount"), G.WithInit(G.Zeroes()))

	// Compute the update target
	updateTarget := G.Must(G.HadamardProd(nextStateValues, discounts))
	updateTarget = G.Must(G.Add(updateTarget, rewards))

	// Action selected in the previous state. This is needed to compute
	// the loss using the correct action value since the network outputs N
	// action values, one for each environmental action
	selectedActions := G.NewMatrix(gTrain, tensor.Float64,
		G.WithName("actionSelected"), G.WithShape(batchSize, numActions),
		G.WithInit(G.Zeroes()))
	selectedActionsValue := G.Must(G.HadamardProd(trainNet.Prediction()[0],
		selectedActions))
	selectedActionsValue = G.Must(G.Sum(selectedActionsValue, 1))

	// Compute the Mean Squarred TD error
	losses := G.Must(G.Sub(updateTarget, selectedActionsValue))
	losses = G.Must(G.Square(losses))
	cost := G.Must(G.Mean(losses))

	// Compute the gradient with respect to the Mean Squarred TD error
	if _, err := G.Grad(cost, trainNet.Learnables()...); err != nil {
		return nil, fmt.Errorf("new: could not compute gradient: %v", err)
	}

	d := &DeepQ{
		policy:               policy,
		policyVM:             G.NewTapeMachine(policy.Graph()),
		trainNet:             trainNet,
		solver:               config.Solver.Clone(),
		double:               config.Double,
		tau:                  config.Tau,
		targetUpdateInterval: config.TargetUpdateInterval,
		selectedActions:      selectedActions,
		numActions:           numActions,
		nextStateValues:      nextStateValues,
		rewards:              rewards,
		discounts:            discounts,
		epsilon:              config.Epsilon,
		rng:                  rand.New(rand.NewSource(seed)),
		batchSize:            batchSize,
		gamma:                config.Gamma,
		nStep:                config.NStep,
	}
	G.Read(cost, &d.lossVal)

	// Compile the trainNet graph into a VM
	d.trainNetVM = G.NewTapeMachine(gTrain,
		G.BindDualValues(trainNet.Learnables()...))

	// Create the target network which provides the update target
	gTarget := G.NewGraph()
	d.nextObs = G.NewMatrix(gTarget, tensor.Float64,
		G.WithShape(batchSize, info.ObsDim), G.WithName("nextObs"),
		G.WithInit(G.Zeroes()))
	d.targetNet, err = network.CloneWithInputTo(trainNet,
		[]*G.Node{d.nextObs}, gTarget, "Target")
	if err != nil {
		return nil, fmt.Errorf("new: could not create target network: %v",
			err)
	}
	if d.double {
		d.onlineNet, err = network.CloneWithInputTo(trainNet,
			[]*G.Node{d.nextObs}, gTarget, "Online")
		if err != nil {
			return nil, fmt.Errorf("new: could not create online network: "+
				"%v", err)
		}
	}
	d.targetNetVM = G.NewTapeMachine(gTarget)

	return d, nil
}

// Update updates the weights of the Agent's networks using a batch of
// batchSize transitions
func (d *DeepQ) Update(batchSize int,
	sampler expreplay.Sampler) (agent.Stats, error) {
	if batchSize != d.batchSize {
		return nil, fmt.Errorf("update: agent was created for batches of "+
			"size %v, got %v", d.batchSize, batchSize)
	}

	batch, err := sampler.Sample(batchSize, d.nStep, d.gamma)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}

	nextValues, err := d.nextValues(batch)
	if err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}

	// Previous action one-hot vectors
	prevActions := make([]float64, batchSize*d.numActions)
	for i, a := range batch.Act {
		if a < 0 || int(a) >= d.numActions {
			return nil, fmt.Errorf("update: invalid action %v", a)
		}
		prevActions[i*d.numActions+int(a)] = 1.0
	}

	inputs := []struct {
		node  *G.Node
		shape []int
		data  []float64
	}{
		{d.selectedActions, []int{batchSize, d.numActions}, prevActions},
		{d.nextStateValues, []int{batchSize}, nextValues},
		{d.rewards, []int{batchSize}, batch.Rew},
		{d.discounts, []int{batchSize}, batch.Discount},
	}
	for _, in := range inputs {
		t := tensor.New(tensor.WithShape(in.shape...),
			tensor.WithBacking(in.data))
		if err := G.Let(in.node, t); err != nil {
			return nil, fmt.Errorf("update: could not set %v: %v",
				in.node.Name(), err)
		}
	}

	// Predict the action values in state S
	if err := d.trainNet.SetInput(batch.Obs); err != nil {
		return nil, fmt.Errorf("update: could not set trainNet input: %v",
			err)
	}

	// Run the learning step
	if err := d.trainNetVM.RunAll(); err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}
	if err := d.solver.Step(d.trainNet.Model()); err != nil {
		d.trainNetVM.Reset()
		return nil, fmt.Errorf("update: %v", err)
	}
	loss := d.lossVal.Data().(float64)
	d.trainNetVM.Reset()
	d.gradientSteps++

	// Update the target network by setting its weights to the newly learned
	// weights
	if d.gradientSteps%d.targetUpdateInterval == 0 {
		if d.tau == 1.0 {
			err = network.Set(d.targetNet, d.trainNet)
		} else {
			err = network.Polyak(d.targetNet, d.trainNet, d.tau)
		}
		if err != nil {
			return nil, fmt.Errorf("update: could not update target "+
				"network: %v", err)
		}
	}

	if err := network.Set(d.policy, d.trainNet); err != nil {
		return nil, fmt.Errorf("update: could not update policy: %v", err)
	}
	return agent.Stats{"loss": loss}, nil
}

// nextValues computes the values of the next states of a batch with
// the target network
func (d *DeepQ) nextValues(batch expreplay.Batch) ([]float64, error) {
	if d.double {
		if err := network.Set(d.onlineNet, d.trainNet); err != nil {
			return nil, err
		}
	}

	nextObs := tensor.New(tensor.WithShape(batch.Size, batch.ObsDim),
		tensor.WithBacking(append([]float64(nil), batch.ObsNext...)))
	if err := G.Let(d.nextObs, nextObs); err != nil {
		return nil, err
	}

	// Compute the next state-action values
	if err := d.targetNetVM.RunAll(); err != nil {
		return nil, err
	}
	defer d.targetNetVM.Reset()

	n := d.numActions
	target := d.targetNet.Output()[0].Data().([]float64)
	values := make([]float64, batch.Size)
	for i := range values {
		row := target[i*n : (i+1)*n]
		if d.double {
			online := d.onlineNet.Output()[0].Data().([]float64)
			values[i] = row[floatutils.Argmax(online[i*n:(i+1)*n])]
		} else {
			values[i], _ = floatutils.MaxSlice(row)
		}
	}
	return values, nil
}

// SelectAction runs the policy's VM and then returns the greedy
// action. Ties are broken randomly.
func (d *DeepQ) SelectAction(t ts.TimeStep) (*mat.VecDense, error) {
	obs := append([]float64(nil), t.Observation.RawVector().Data...)
	if err := d.policy.SetInput(obs); err != nil {
		return nil, fmt.Errorf("selectaction: %v", err)
	}

	// Run the policy's computational graph
	if err := d.policyVM.RunAll(); err != nil {
		return nil, fmt.Errorf("selectaction: %v", err)
	}
	defer d.policyVM.Reset()

	// Get the actions of maximum value
	actionValues := d.policy.Output()[0].Data().([]float64)
	_, maxIndices := floatutils.MaxSlice(actionValues)

	// If multiple actions have max value, return a random max-valued action
	action := maxIndices[d.rng.Intn(len(maxIndices))]
	return mat.NewVecDense(1, []float64{float64(action)}), nil
}

// ExplorationNoise replaces action by a uniform random action with
// probability ε
func (d *DeepQ) ExplorationNoise(action *mat.VecDense) *mat.VecDense {
	if d.epsilon > 0 && d.rng.Float64() < d.epsilon {
		return mat.NewVecDense(1, []float64{float64(d.rng.Intn(d.numActions))})
	}
	return action
}

// SetEpsilon sets the value for epsilon in the epsilon greedy policy.
func (d *DeepQ) SetEpsilon(ε float64) {
	d.epsilon = ε
}

// Epsilon gets the value of epsilon for the policy.
func (d *DeepQ) Epsilon() float64 {
	return d.epsilon
}

// Eval sets the agent into evaluation mode
func (d *DeepQ) Eval() {
	d.eval = true
}

// Train sets the agent into training mode
func (d *DeepQ) Train() {
	d.eval = false
}

// IsEval returns whether the agent is in evaluation mode
func (d *DeepQ) IsEval() bool {
	return d.eval
}

// GobEncode implements the gob.GobEncoder interface
func (d *DeepQ) GobEncode() ([]byte, error) {
	return agent.EncodeWeights(
		[]network.NeuralNet{d.trainNet, d.targetNet},
		d.gradientSteps, d.epsilon,
	)
}

// GobDecode implements the gob.GobDecoder interface
func (d *DeepQ) GobDecode(in []byte) error {
	err := agent.DecodeWeights(in,
		[]network.NeuralNet{d.trainNet, d.targetNet},
		&d.gradientSteps, &d.epsilon,
	)
	if err != nil {
		return fmt.Errorf("gobdecode: %w", err)
	}
	return network.Set(d.policy, d.trainNet)
}

// Close closes the VMs of the agent
func (d *DeepQ) Close() error {
	var err error
	for _, vm := range []G.VM{d.policyVM, d.trainNetVM, d.targetNetVM} {
		if e := vm.Close(); e != nil && err == nil {
			err = fmt.Errorf("close: %v", e)
		}
	}
	return err
}
