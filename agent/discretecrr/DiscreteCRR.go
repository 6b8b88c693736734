// Package discretecrr implements Critic Regularized Regression for
// discrete actions, an offline actor-critic algorithm which weights a
// behaviour cloning loss by the advantage of the cloned actions
package discretecrr

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/network"
	"github.com/samuelfneumann/offlinerl/solver"
	"github.com/samuelfneumann/offlinerl/timestep"
	"github.com/samuelfneumann/offlinerl/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DiscreteCRR implements Critic Regularized Regression with a
// conservative Q-learning regularizer on the critic.
//
// The actor and critic share a linear layer, after which each has its
// own hidden layers: the actor predicts the logits of a softmax
// policy and the critic predicts the value of each action. The loss
// is
//
//	L = L_actor + L_critic + w L_cql
//	L_actor = -mean(log π(a|s) f(A(s, a)))
//	L_critic = ½ mean((Q(s, a) - r - γ Σ π'(a'|s') Q'(s', a'))²)
//	L_cql = mean(log Σ exp Q(s, ⋅) - Q(s, a))
//
// where A(s, a) = Q(s, a) - Σ π(a'|s) Q(s, a'), f depends on Mode,
// and π' and Q' are target networks. The weights f(A) are treated as
// constants.
type DiscreteCRR struct {
	info environment.SpaceInfo

	// Batch size 1 network used for action selection
	policy   network.NeuralNet
	policyVM G.VM
	rng      *rand.Rand

	// net predicts [logits, Q values] and is trained
	net        network.NeuralNet
	actions    *G.Node // One-hot encoded actions
	targets    *G.Node
	coef       *G.Node
	loss       *G.Node
	lossVal    G.Value
	actorVal   G.Value
	criticVal  G.Value
	cqlVal     G.Value
	vm         G.VM
	solver     *solver.Solver
	numActions int

	// Forward passes of the target networks on next states and of
	// the current networks on states, run before each update
	old        network.NeuralNet
	current    network.NeuralNet
	obsNext    *G.Node
	obs        *G.Node
	evalVM     G.VM
	iterations int

	batchSize        int
	gamma            float64
	targetUpdateFreq int
	mode             Mode
	beta             float64
	ratioUpperBound  float64
	minQWeight       float64

	eval              bool
	deterministicEval bool
}

// New creates and returns a new DiscreteCRR agent
func New(info environment.SpaceInfo, c Config, seed uint64) (*DiscreteCRR,
	error) {
	if !info.Discrete() {
		return nil, fmt.Errorf("new: discrete crr cannot use continuous " +
			"actions")
	}
	if info.ActionDim != 1 {
		return nil, fmt.Errorf("new: actions must be 1-dimensional")
	}
	if info.MinAction[0] != 0 {
		return nil, fmt.Errorf("new: actions must be enumerated starting " +
			"from 0")
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	d := &DiscreteCRR{
		info:             info,
		rng:              rand.New(rand.NewSource(seed)),
		solver:           c.Solver.Clone(),
		numActions:       info.NumActions,
		batchSize:        c.BatchSize,
		gamma:            c.Gamma,
		targetUpdateFreq: c.TargetUpdateFreq,
		mode:             c.Mode,
		beta:             c.Beta,
		ratioUpperBound:  c.RatioUpperBound,
		minQWeight:       c.MinQWeight,

		deterministicEval: c.DeterministicEval,
	}

	if err := d.buildTrain(c); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if err := d.buildEval(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	policy, err := d.net.CloneWithBatch(1)
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy: %v", err)
	}
	d.policy = policy
	d.policyVM = G.NewTapeMachine(policy.Graph())

	return d, nil
}

// logSumExp returns log Σⱼ exp(xᵢⱼ) for each row i of x
func logSumExp(x *G.Node) (*G.Node, error) {
	e, err := G.Exp(x)
	if err != nil {
		return nil, err
	}
	s, err := G.Sum(e, 1)
	if err != nil {
		return nil, err
	}
	return G.Log(s)
}

// buildTrain creates the network that is trained together with its
// loss
func (d *DiscreteCRR) buildTrain(c Config) error {
	batch, n := d.batchSize, d.numActions
	g := G.NewGraph()

	root := network.LayerConfig{
		HiddenSizes: []int{c.HiddenSizes[0]},
		Biases:      []bool{true},
		Activations: []*network.Activation{network.Identity()},
	}
	leaves := []network.LayerConfig{
		network.ReLULayers(c.HiddenSizes...), // actor
		network.ReLULayers(c.HiddenSizes...), // critic
	}
	net, err := network.NewTreeMLP(d.info.ObsDim, batch, []int{n, n}, g,
		root, leaves, c.InitWFn.InitWFn())
	if err != nil {
		return fmt.Errorf("buildtrain: could not create network: %v", err)
	}
	d.net = net
	logits, q := net.Prediction()[0], net.Prediction()[1]

	d.actions = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, n),
		G.WithName("actions"), G.WithInit(G.Zeroes()))
	d.targets = G.NewVector(g, tensor.Float64, G.WithShape(batch),
		G.WithName("targets"), G.WithInit(G.Zeroes()))
	d.coef = G.NewVector(g, tensor.Float64, G.WithShape(batch),
		G.WithName("coef"), G.WithInit(G.Zeroes()))

	// Critic
	qa := G.Must(G.Sum(G.Must(G.HadamardProd(q, d.actions)), 1))
	criticLoss := G.Must(G.Square(G.Must(G.Sub(qa, d.targets))))
	criticLoss = G.Must(G.Mul(G.Must(G.Mean(criticLoss)), G.NewConstant(0.5)))

	// Actor
	lseLogits, err := logSumExp(logits)
	if err != nil {
		return fmt.Errorf("buildtrain: %v", err)
	}
	logProb := G.Must(G.Sum(G.Must(G.HadamardProd(logits, d.actions)), 1))
	logProb = G.Must(G.Sub(logProb, lseLogits))
	actorLoss := G.Must(G.HadamardProd(logProb, d.coef))
	actorLoss = G.Must(G.Neg(G.Must(G.Mean(actorLoss))))

	// Conservative regularizer
	lseQ, err := logSumExp(q)
	if err != nil {
		return fmt.Errorf("buildtrain: %v", err)
	}
	cqlLoss := G.Must(G.Mean(G.Must(G.Sub(lseQ, qa))))

	d.loss = G.Must(G.Add(actorLoss, criticLoss))
	d.loss = G.Must(G.Add(d.loss, G.Must(G.Mul(cqlLoss,
		G.NewConstant(d.minQWeight)))))

	G.Read(d.loss, &d.lossVal)
	G.Read(actorLoss, &d.actorVal)
	G.Read(criticLoss, &d.criticVal)
	G.Read(cqlLoss, &d.cqlVal)

	if _, err := G.Grad(d.loss, net.Learnables()...); err != nil {
		return fmt.Errorf("buildtrain: could not compute gradient: %v", err)
	}
	d.vm = G.NewTapeMachine(g, G.BindDualValues(net.Learnables()...))
	return nil
}

// buildEval creates the graph of the target networks on next states
// and the current networks on states
func (d *DiscreteCRR) buildEval() error {
	batch, features := d.batchSize, d.info.ObsDim
	g := G.NewGraph()

	d.obsNext = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("obsNext"), G.WithInit(G.Zeroes()))
	d.obs = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("obs"), G.WithInit(G.Zeroes()))

	var err error
	d.old, err = network.CloneWithInputTo(d.net, []*G.Node{d.obsNext}, g,
		"Old")
	if err != nil {
		return fmt.Errorf("buildeval: could not create target networks: %v",
			err)
	}
	d.current, err = network.CloneWithInputTo(d.net, []*G.Node{d.obs}, g,
		"Current")
	if err != nil {
		return fmt.Errorf("buildeval: could not clone networks: %v", err)
	}

	d.evalVM = G.NewTapeMachine(g)
	return nil
}

// SelectAction selects an action at timestep t. Actions are sampled
// from the policy, except in evaluation mode with DeterministicEval
// set, where the action of highest probability is selected.
func (d *DiscreteCRR) SelectAction(t timestep.TimeStep) (*mat.VecDense,
	error) {
	obs := append([]float64(nil), t.Observation.RawVector().Data...)
	if err := d.policy.SetInput(obs); err != nil {
		return nil, fmt.Errorf("selectaction: %v", err)
	}

	if err := d.policyVM.RunAll(); err != nil {
		return nil, fmt.Errorf("selectaction: could not run policy: %v", err)
	}
	defer d.policyVM.Reset()

	logits := d.policy.Output()[0].Data().([]float64)
	var action int
	if d.eval && d.deterministicEval {
		action = floatutils.Argmax(logits)
	} else {
		probs := floatutils.Softmax(logits)
		action = int(distuv.NewCategorical(probs, d.rng).Rand())
	}

	return mat.NewVecDense(1, []float64{float64(action)}), nil
}

// Update performs a single update of the actor and critic on a batch
// of batchSize transitions
func (d *DiscreteCRR) Update(batchSize int,
	sampler expreplay.Sampler) (agent.Stats, error) {
	if batchSize != d.batchSize {
		return nil, fmt.Errorf("update: agent was created for batches of "+
			"size %v, got %v", d.batchSize, batchSize)
	}

	batch, err := sampler.Sample(batchSize, 1, d.gamma)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	actions, err := oneHot(batch.Act, d.numActions)
	if err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}

	targets, coef, err := d.weights(batch)
	if err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}

	if err := d.step(batch.Obs, actions, targets, coef); err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}
	d.iterations++

	if d.targetUpdateFreq > 0 && d.iterations%d.targetUpdateFreq == 0 {
		if err := network.Set(d.old, d.net); err != nil {
			return nil, fmt.Errorf("update: could not update target "+
				"networks: %v", err)
		}
	}
	if err := network.Set(d.policy, d.net); err != nil {
		return nil, fmt.Errorf("update: could not update policy: %v", err)
	}

	return agent.Stats{
		"loss":        d.lossVal.Data().(float64),
		"loss/actor":  d.actorVal.Data().(float64),
		"loss/critic": d.criticVal.Data().(float64),
		"loss/cql":    d.cqlVal.Data().(float64),
	}, nil
}

// weights computes the critic targets and the actor loss coefficients
// of a batch
func (d *DiscreteCRR) weights(batch expreplay.Batch) (targets,
	coef []float64, err error) {
	if err := network.Set(d.current, d.net); err != nil {
		return nil, nil, err
	}
	if d.targetUpdateFreq == 0 {
		if err := network.Set(d.old, d.net); err != nil {
			return nil, nil, err
		}
	}

	shape := []int{batch.Size, batch.ObsDim}
	obsNext := tensor.New(tensor.WithShape(shape...),
		tensor.WithBacking(append([]float64(nil), batch.ObsNext...)))
	if err := G.Let(d.obsNext, obsNext); err != nil {
		return nil, nil, err
	}
	obs := tensor.New(tensor.WithShape(shape...),
		tensor.WithBacking(append([]float64(nil), batch.Obs...)))
	if err := G.Let(d.obs, obs); err != nil {
		return nil, nil, err
	}

	if err := d.evalVM.RunAll(); err != nil {
		return nil, nil, err
	}
	defer d.evalVM.Reset()

	oldLogits := d.old.Output()[0].Data().([]float64)
	oldQ := d.old.Output()[1].Data().([]float64)
	logits := d.current.Output()[0].Data().([]float64)
	q := d.current.Output()[1].Data().([]float64)

	n := d.numActions
	targets = make([]float64, batch.Size)
	coef = make([]float64, batch.Size)
	for i := range targets {
		row := func(x []float64) []float64 { return x[i*n : (i+1)*n] }

		next := expectation(row(oldLogits), row(oldQ))
		targets[i] = batch.Rew[i] + batch.Discount[i]*next

		a := int(batch.Act[i])
		advantage := row(q)[a] - expectation(row(logits), row(q))
		switch d.mode {
		case Exp:
			coef[i] = floatutils.Clip(math.Exp(advantage/d.beta), 0,
				d.ratioUpperBound)
		case Binary:
			if advantage > 0 {
				coef[i] = 1
			}
		default:
			coef[i] = 1
		}
	}
	return targets, coef, nil
}

// step takes one gradient step on the loss
func (d *DiscreteCRR) step(obs, actions, targets, coef []float64) error {
	if err := d.net.SetInput(append([]float64(nil), obs...)); err != nil {
		return err
	}

	batch, n := d.batchSize, d.numActions
	values := []struct {
		node  *G.Node
		shape []int
		data  []float64
	}{
		{d.actions, []int{batch, n}, actions},
		{d.targets, []int{batch}, targets},
		{d.coef, []int{batch}, coef},
	}
	for _, v := range values {
		t := tensor.New(tensor.WithShape(v.shape...),
			tensor.WithBacking(v.data))
		if err := G.Let(v.node, t); err != nil {
			return err
		}
	}

	if err := d.vm.RunAll(); err != nil {
		return err
	}
	defer d.vm.Reset()

	return d.solver.Step(d.net.Model())
}

// expectation returns Σ softmax(logits)ᵢ valuesᵢ
func expectation(logits, values []float64) float64 {
	var e float64
	for i, p := range floatutils.Softmax(logits) {
		e += p * values[i]
	}
	return e
}

// oneHot returns the one-hot encoding of each action index in actions
func oneHot(actions []float64, n int) ([]float64, error) {
	encoded := make([]float64, len(actions)*n)
	for i, a := range actions {
		if a < 0 || int(a) >= n || a != math.Trunc(a) {
			return nil, fmt.Errorf("onehot: invalid action %v for %v "+
				"actions", a, n)
		}
		encoded[i*n+int(a)] = 1
	}
	return encoded, nil
}

// Eval sets the agent into evaluation mode
func (d *DiscreteCRR) Eval() {
	d.eval = true
}

// Train sets the agent into training mode
func (d *DiscreteCRR) Train() {
	d.eval = false
}

// IsEval returns whether the agent is in evaluation mode
func (d *DiscreteCRR) IsEval() bool {
	return d.eval
}

// GobEncode implements the gob.GobEncoder interface
func (d *DiscreteCRR) GobEncode() ([]byte, error) {
	return agent.EncodeWeights([]network.NeuralNet{d.net, d.old},
		d.iterations)
}

// GobDecode implements the gob.GobDecoder interface
func (d *DiscreteCRR) GobDecode(in []byte) error {
	err := agent.DecodeWeights(in, []network.NeuralNet{d.net, d.old},
		&d.iterations)
	if err != nil {
		return fmt.Errorf("gobdecode: %w", err)
	}
	return network.Set(d.policy, d.net)
}

// Close closes the VMs of the agent
func (d *DiscreteCRR) Close() error {
	var err error
	for _, vm := range []G.VM{d.policyVM, d.vm, d.evalVM} {
		if e := vm.Close(); e != nil && err == nil {
			err = fmt.Errorf("close: %v", e)
		}
	}
	return err
}
