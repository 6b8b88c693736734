// Package sac implements the Soft Actor-Critic algorithm with a
// squashed Gaussian policy, twin critics, and optional automatic
// entropy tuning
package sac

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

// squashEps keeps the log of the tanh Jacobian finite at |a| = 1
const squashEps = 1e-6

// critic is a Q function Q(s, a) together with everything needed to
// regress it towards a batch of update targets
type critic struct {
	net     network.NeuralNet
	targets *G.Node // Update targets, one per transition
	loss    *G.Node
	lossVal G.Value
	vm      G.VM
	solver  *solver.Solver
}

func newCritic(features, batch int, hiddenSizes []int, init G.InitWFn,
	s *solver.Solver) (*critic, error) {
	g := G.NewGraph()
	net, err := network.NewReLUMLP(features, batch, 1, g, hiddenSizes, init)
	if err != nil {
		return nil, fmt.Errorf("newcritic: %v", err)
	}

	targets := G.NewVector(g, tensor.Float64, G.WithShape(batch),
		G.WithName("targets"), G.WithInit(G.Zeroes()))
	q := G.Must(G.Reshape(net.Prediction()[0], tensor.Shape{batch}))
	loss := G.Must(G.Mean(G.Must(G.Square(G.Must(G.Sub(q, targets))))))

	if _, err := G.Grad(loss, net.Learnables()...); err != nil {
		return nil, fmt.Errorf("newcritic: could not compute gradient: %v",
			err)
	}

	c := &critic{
		net:     net,
		targets: targets,
		loss:    loss,
		solver:  s,
	}
	G.Read(loss, &c.lossVal)
	c.vm = G.NewTapeMachine(g, G.BindDualValues(net.Learnables()...))
	return c, nil
}

// step performs one gradient step on the squared error between the
// critic's predictions on input and targets
func (c *critic) step(input, targets []float64) (float64, error) {
	if err := c.net.SetInput(input); err != nil {
		return 0, err
	}
	t := tensor.New(tensor.WithShape(len(targets)),
		tensor.WithBacking(targets))
	if err := G.Let(c.targets, t); err != nil {
		return 0, err
	}

	if err := c.vm.RunAll(); err != nil {
		return 0, err
	}
	defer c.vm.Reset()

	if err := c.solver.Step(c.net.Model()); err != nil {
		return 0, err
	}
	return c.lossVal.Data().(float64), nil
}

// SAC implements Soft Actor-Critic for continuous actions.
//
// The policy is a Gaussian with a state-dependent mean and a learned,
// state-independent log standard deviation, whose samples are squashed
// by tanh into [-1, 1]. MapAction scales them to the bounds of the
// action space. In evaluation mode the policy acts with tanh(μ).
type SAC struct {
	info environment.SpaceInfo

	// Batch size 1 network used for action selection
	policy   network.NeuralNet
	policyVM G.VM
	logStd   *G.Node // Learnable, lives in the graph of actor

	// actor is trained to maximize the soft value of its own actions,
	// as judged by clones of the critics in its graph
	actor         network.NeuralNet
	actorObs      *G.Node
	actorEps      *G.Node
	actorAlpha    *G.Node
	actorCritics  [2]network.NeuralNet
	actorLogProb  G.Value
	actorLoss     *G.Node
	actorLossVal  G.Value
	actorVM       G.VM
	actorSolver   *solver.Solver
	actorLearners G.Nodes

	critics [2]*critic

	// Graph computing the soft value of next states with the target
	// critics and actions sampled from the current actor
	targetActor   network.NeuralNet
	targetObs     *G.Node
	targetLogStd  *G.Node
	targetEps     *G.Node
	targetCritics [2]network.NeuralNet
	targetLogProb G.Value
	targetVM      G.VM

	// Entropy scale
	alpha         float64
	autoAlpha     bool
	logAlpha      *G.Node
	entropyGap    *G.Node
	alphaLossVal  G.Value
	alphaVM       G.VM
	alphaSolver   *solver.Solver
	targetEntropy float64

	normal distuv.Normal

	batchSize int
	tau       float64
	gamma     float64
	nStep     int
	eval      bool
}

// New creates and returns a new SAC agent
func New(info environment.SpaceInfo, c Config, seed uint64) (*SAC, error) {
	if info.Discrete() {
		return nil, fmt.Errorf("new: sac cannot use discrete actions")
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	obsDim, actDim := info.ObsDim, info.ActionDim
	batch := c.BatchSize
	init := c.InitWFn.InitWFn()

	// Action selection policy
	policy, err := network.NewReLUMLP(obsDim, 1, actDim, G.NewGraph(),
		c.HiddenSizes, init)
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy: %v", err)
	}

	// Critics
	var critics [2]*critic
	for i := range critics {
		critics[i], err = newCritic(obsDim+actDim, batch, c.HiddenSizes, init,
			c.CriticSolver.Clone())
		if err != nil {
			return nil, fmt.Errorf("new: could not create critic %v: %v", i+1,
				err)
		}
	}

	s := &SAC{
		info:          info,
		policy:        policy,
		policyVM:      G.NewTapeMachine(policy.Graph()),
		critics:       critics,
		alpha:         c.Alpha,
		autoAlpha:     c.AutoAlpha,
		targetEntropy: -float64(actDim),
		normal: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(seed),
		},
		batchSize: batch,
		tau:       c.Tau,
		gamma:     c.Gamma,
		nStep:     c.NStep,
	}

	if err := s.buildActor(c.ActorSolver.Clone()); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if err := s.buildTarget(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if c.AutoAlpha {
		if err := s.buildAlpha(c.AlphaSolver.Clone()); err != nil {
			return nil, fmt.Errorf("new: %v", err)
		}
	}

	return s, nil
}

// squash adds to the graph a reparameterized sample of the squashed
// Gaussian a = tanh(μ + σε) and its log density
//
//	log π(a|s) = Σ [log N(μ + σε; μ, σ) - log(1 - a² + c)]
func squash(mean, logStd, eps *G.Node) (action, logProb *G.Node,
	err error) {
	std, err := G.Exp(logStd)
	if err != nil {
		return nil, nil, err
	}
	noise, err := G.BroadcastHadamardProd(eps, std, nil, []byte{0})
	if err != nil {
		return nil, nil, err
	}
	u, err := G.Add(mean, noise)
	if err != nil {
		return nil, nil, err
	}
	action, err = G.Tanh(u)
	if err != nil {
		return nil, nil, err
	}

	// log N(u; μ, σ) = -ε²/2 - log σ - log(2π)/2
	logDensity := G.Must(G.Mul(G.Must(G.Square(eps)), G.NewConstant(-0.5)))
	logDensity, err = G.BroadcastSub(logDensity, logStd, nil, []byte{0})
	if err != nil {
		return nil, nil, err
	}
	logDensity = G.Must(G.Sub(logDensity,
		G.NewConstant(0.5*math.Log(2*math.Pi))))

	// Change of variables through tanh
	jacobian := G.Must(G.Sub(G.NewConstant(1+squashEps),
		G.Must(G.Square(action))))
	logDensity = G.Must(G.Sub(logDensity, G.Must(G.Log(jacobian))))

	logProb, err = G.Sum(logDensity, 1)
	return action, logProb, err
}

// softMin returns the elementwise minimum of a and b
func softMin(a, b *G.Node) *G.Node {
	diff := G.Must(G.Rectify(G.Must(G.Sub(a, b))))
	return G.Must(G.Sub(a, diff))
}

// buildActor creates the actor training graph:
//
//	loss = mean(α log π(ã|s) - min(Q1(s, ã), Q2(s, ã))),	ã ~ π(⋅|s)
func (s *SAC) buildActor(actorSolver *solver.Solver) error {
	obsDim, actDim := s.info.ObsDim, s.info.ActionDim
	batch := s.batchSize
	g := G.NewGraph()

	s.actorObs = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, obsDim),
		G.WithName("obs"), G.WithInit(G.Zeroes()))
	actor, err := network.CloneWithInputTo(s.policy, []*G.Node{s.actorObs},
		g, "Actor")
	if err != nil {
		return fmt.Errorf("buildactor: could not create actor: %v", err)
	}
	s.actor = actor

	s.logStd = G.NewMatrix(g, tensor.Float64, G.WithShape(1, actDim),
		G.WithName("logStd"), G.WithInit(G.Zeroes()))
	s.actorEps = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, actDim),
		G.WithName("eps"), G.WithInit(G.Zeroes()))
	s.actorAlpha = G.NewScalar(g, tensor.Float64, G.WithName("alpha"),
		G.WithValue(G.NewF64(s.alpha)))

	action, logProb, err := squash(actor.Prediction()[0], s.logStd,
		s.actorEps)
	if err != nil {
		return fmt.Errorf("buildactor: could not sample actions: %v", err)
	}
	G.Read(logProb, &s.actorLogProb)

	var q [2]*G.Node
	for i, c := range s.critics {
		clone, err := network.CloneWithInputTo(c.net,
			[]*G.Node{s.actorObs, action}, g, fmt.Sprintf("Critic%d", i+1))
		if err != nil {
			return fmt.Errorf("buildactor: could not clone critic %v: %v",
				i+1, err)
		}
		s.actorCritics[i] = clone
		q[i] = G.Must(G.Reshape(clone.Prediction()[0], tensor.Shape{batch}))
	}

	entropy := G.Must(G.Mul(s.actorAlpha, logProb))
	s.actorLoss = G.Must(G.Mean(G.Must(G.Sub(entropy, softMin(q[0], q[1])))))
	G.Read(s.actorLoss, &s.actorLossVal)

	s.actorLearners = append(G.Nodes{}, actor.Learnables()...)
	s.actorLearners = append(s.actorLearners, s.logStd)
	if _, err := G.Grad(s.actorLoss, s.actorLearners...); err != nil {
		return fmt.Errorf("buildactor: could not compute gradient: %v", err)
	}

	s.actorVM = G.NewTapeMachine(g, G.BindDualValues(s.actorLearners...))
	s.actorSolver = actorSolver
	return nil
}

// buildTarget creates the graph which computes the soft values of next
// states using the target critics
func (s *SAC) buildTarget() error {
	obsDim, actDim := s.info.ObsDim, s.info.ActionDim
	batch := s.batchSize
	g := G.NewGraph()

	s.targetObs = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, obsDim),
		G.WithName("obsNext"), G.WithInit(G.Zeroes()))
	actor, err := network.CloneWithInputTo(s.policy, []*G.Node{s.targetObs},
		g, "Actor")
	if err != nil {
		return fmt.Errorf("buildtarget: could not clone actor: %v", err)
	}
	s.targetActor = actor

	s.targetLogStd = G.NewMatrix(g, tensor.Float64, G.WithShape(1, actDim),
		G.WithName("logStd"), G.WithInit(G.Zeroes()))
	s.targetEps = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, actDim),
		G.WithName("eps"), G.WithInit(G.Zeroes()))

	action, logProb, err := squash(actor.Prediction()[0], s.targetLogStd,
		s.targetEps)
	if err != nil {
		return fmt.Errorf("buildtarget: could not sample actions: %v", err)
	}
	G.Read(logProb, &s.targetLogProb)

	for i, c := range s.critics {
		clone, err := network.CloneWithInputTo(c.net,
			[]*G.Node{s.targetObs, action}, g, fmt.Sprintf("Target%d", i+1))
		if err != nil {
			return fmt.Errorf("buildtarget: could not clone critic %v: %v",
				i+1, err)
		}
		s.targetCritics[i] = clone
	}

	s.targetVM = G.NewTapeMachine(g)
	return nil
}

// buildAlpha creates the graph which learns the log entropy scale:
//
//	loss = -log α ⋅ mean(log π(ã|s) + H̄)
func (s *SAC) buildAlpha(alphaSolver *solver.Solver) error {
	g := G.NewGraph()
	s.logAlpha = G.NewMatrix(g, tensor.Float64, G.WithShape(1, 1),
		G.WithName("logAlpha"), G.WithInit(G.Zeroes()))
	s.entropyGap = G.NewMatrix(g, tensor.Float64, G.WithShape(1, 1),
		G.WithName("entropyGap"), G.WithInit(G.Zeroes()))

	loss := G.Must(G.Neg(G.Must(G.Sum(G.Must(G.HadamardProd(s.logAlpha,
		s.entropyGap))))))
	G.Read(loss, &s.alphaLossVal)

	if _, err := G.Grad(loss, s.logAlpha); err != nil {
		return fmt.Errorf("buildalpha: could not compute gradient: %v", err)
	}

	s.alphaVM = G.NewTapeMachine(g, G.BindDualValues(s.logAlpha))
	s.alphaSolver = alphaSolver
	s.alpha = 1.0 // exp(0)
	return nil
}

// sample fills a new slice of n standard normal samples
func (s *SAC) sample(n int) []float64 {
	eps := make([]float64, n)
	for i := range eps {
		eps[i] = s.normal.Rand()
	}
	return eps
}

// SelectAction selects an action in [-1, 1] at timestep t
func (s *SAC) SelectAction(t timestep.TimeStep) (*mat.VecDense, error) {
	obs := append([]float64(nil), t.Observation.RawVector().Data...)
	if err := s.policy.SetInput(obs); err != nil {
		return nil, fmt.Errorf("selectaction: %v", err)
	}

	if err := s.policyVM.RunAll(); err != nil {
		return nil, fmt.Errorf("selectaction: could not run policy: %v", err)
	}
	defer s.policyVM.Reset()

	mean := s.policy.Output()[0].Data().([]float64)
	logStd := s.logStd.Value().Data().([]float64)
	action := make([]float64, s.info.ActionDim)
	for i := range action {
		u := mean[i]
		if !s.eval {
			u += math.Exp(logStd[i]) * s.normal.Rand()
		}
		action[i] = math.Tanh(u)
	}

	return mat.NewVecDense(len(action), action), nil
}

// MapAction maps a squashed action in [-1, 1] to the bounds of the
// action space
func (s *SAC) MapAction(action *mat.VecDense) *mat.VecDense {
	mapped := mat.NewVecDense(action.Len(), nil)
	for i := 0; i < action.Len(); i++ {
		a := floatutils.Clip(action.AtVec(i), -1, 1)
		low, high := s.info.MinAction[i], s.info.MaxAction[i]
		mapped.SetVec(i, low+(high-low)*(a+1)/2)
	}
	return mapped
}

// Update performs a single update of the critics, the actor, and the
// entropy scale on a batch of batchSize transitions
func (s *SAC) Update(batchSize int, sampler expreplay.Sampler) (agent.Stats,
	error) {
	if batchSize != s.batchSize {
		return nil, fmt.Errorf("update: agent was created for batches of "+
			"size %v, got %v", s.batchSize, batchSize)
	}

	batch, err := sampler.Sample(batchSize, s.nStep, s.gamma)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}

	targets, err := s.targets(batch)
	if err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}

	stats := make(agent.Stats)
	input := concatRows(batch.Obs, batch.ObsDim, batch.Act, batch.ActDim)
	for i, c := range s.critics {
		loss, err := c.step(input, targets)
		if err != nil {
			return nil, fmt.Errorf("update: could not update critic %v: %v",
				i+1, err)
		}
		stats[fmt.Sprintf("loss/critic%d", i+1)] = loss
	}

	logProb, err := s.updateActor(batch)
	if err != nil {
		return nil, fmt.Errorf("update: could not update actor: %v", err)
	}
	stats["loss/actor"] = s.actorLossVal.Data().(float64)

	if s.autoAlpha {
		loss, err := s.updateAlpha(logProb)
		if err != nil {
			return nil, fmt.Errorf("update: could not update alpha: %v", err)
		}
		stats["loss/alpha"] = loss
	}
	stats["alpha"] = s.alpha

	for i, c := range s.critics {
		if err := network.Polyak(s.targetCritics[i], c.net, s.tau); err != nil {
			return nil, fmt.Errorf("update: could not update target "+
				"critic %v: %v", i+1, err)
		}
	}
	if err := s.sync(); err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}
	return stats, nil
}

// targets computes the update targets of the critics:
//
//	y = r + γᵏ (min(Q1'(s', ã'), Q2'(s', ã')) - α log π(ã'|s'))
func (s *SAC) targets(batch expreplay.Batch) ([]float64, error) {
	obs := tensor.New(tensor.WithShape(batch.Size, batch.ObsDim),
		tensor.WithBacking(append([]float64(nil), batch.ObsNext...)))
	if err := G.Let(s.targetObs, obs); err != nil {
		return nil, err
	}
	eps := tensor.New(tensor.WithShape(batch.Size, s.info.ActionDim),
		tensor.WithBacking(s.sample(batch.Size*s.info.ActionDim)))
	if err := G.Let(s.targetEps, eps); err != nil {
		return nil, err
	}
	logStd := s.logStd.Value().(*tensor.Dense).Clone().(*tensor.Dense)
	if err := G.Let(s.targetLogStd, logStd); err != nil {
		return nil, err
	}

	if err := s.targetVM.RunAll(); err != nil {
		return nil, fmt.Errorf("targets: could not run target graph: %v", err)
	}
	defer s.targetVM.Reset()

	q1 := s.targetCritics[0].Output()[0].Data().([]float64)
	q2 := s.targetCritics[1].Output()[0].Data().([]float64)
	logProb := s.targetLogProb.Data().([]float64)

	targets := make([]float64, batch.Size)
	for i := range targets {
		v := math.Min(q1[i], q2[i]) - s.alpha*logProb[i]
		targets[i] = batch.Rew[i] + batch.Discount[i]*v
	}
	return targets, nil
}

// updateActor performs one gradient step on the actor and returns the
// log probabilities of the actions it sampled
func (s *SAC) updateActor(batch expreplay.Batch) ([]float64, error) {
	for i, c := range s.critics {
		if err := network.Set(s.actorCritics[i], c.net); err != nil {
			return nil, err
		}
	}

	obs := tensor.New(tensor.WithShape(batch.Size, batch.ObsDim),
		tensor.WithBacking(append([]float64(nil), batch.Obs...)))
	if err := G.Let(s.actorObs, obs); err != nil {
		return nil, err
	}
	eps := tensor.New(tensor.WithShape(batch.Size, s.info.ActionDim),
		tensor.WithBacking(s.sample(batch.Size*s.info.ActionDim)))
	if err := G.Let(s.actorEps, eps); err != nil {
		return nil, err
	}
	if err := G.Let(s.actorAlpha, G.NewF64(s.alpha)); err != nil {
		return nil, err
	}

	if err := s.actorVM.RunAll(); err != nil {
		return nil, err
	}
	defer s.actorVM.Reset()

	if err := s.actorSolver.Step(G.NodesToValueGrads(s.actorLearners)); err != nil {
		return nil, err
	}
	return append([]float64(nil), s.actorLogProb.Data().([]float64)...), nil
}

// updateAlpha performs one gradient step on log α
func (s *SAC) updateAlpha(logProb []float64) (float64, error) {
	var gap float64
	for _, lp := range logProb {
		gap += lp + s.targetEntropy
	}
	gap /= float64(len(logProb))

	t := tensor.New(tensor.WithShape(1, 1), tensor.WithBacking([]float64{gap}))
	if err := G.Let(s.entropyGap, t); err != nil {
		return 0, err
	}

	if err := s.alphaVM.RunAll(); err != nil {
		return 0, err
	}
	defer s.alphaVM.Reset()

	if err := s.alphaSolver.Step([]G.ValueGrad{s.logAlpha}); err != nil {
		return 0, err
	}
	s.alpha = math.Exp(s.logAlpha.Value().Data().([]float64)[0])
	return s.alphaLossVal.Data().(float64), nil
}

// sync copies the weights of the actor to the networks that share them
func (s *SAC) sync() error {
	if err := network.Set(s.policy, s.actor); err != nil {
		return fmt.Errorf("sync: could not set policy: %v", err)
	}
	if err := network.Set(s.targetActor, s.actor); err != nil {
		return fmt.Errorf("sync: could not set target actor: %v", err)
	}
	return nil
}

// Alpha returns the current entropy scale
func (s *SAC) Alpha() float64 {
	return s.alpha
}

// Eval sets the agent into evaluation mode
func (s *SAC) Eval() {
	s.eval = true
}

// Train sets the agent into training mode
func (s *SAC) Train() {
	s.eval = false
}

// IsEval returns whether the agent is in evaluation mode
func (s *SAC) IsEval() bool {
	return s.eval
}

// GobEncode implements the gob.GobEncoder interface
func (s *SAC) GobEncode() ([]byte, error) {
	nets := []network.NeuralNet{s.actor, s.critics[0].net, s.critics[1].net,
		s.targetCritics[0], s.targetCritics[1]}
	logStd := append([]float64(nil), s.logStd.Value().Data().([]float64)...)
	logAlpha := math.Log(s.alpha)

	return agent.EncodeWeights(nets, logStd, logAlpha)
}

// GobDecode implements the gob.GobDecoder interface
func (s *SAC) GobDecode(in []byte) error {
	nets := []network.NeuralNet{s.actor, s.critics[0].net, s.critics[1].net,
		s.targetCritics[0], s.targetCritics[1]}
	var logStd []float64
	var logAlpha float64
	if err := agent.DecodeWeights(in, nets, &logStd, &logAlpha); err != nil {
		return fmt.Errorf("gobdecode: %w", err)
	}

	if len(logStd) != s.info.ActionDim {
		return fmt.Errorf("gobdecode: want %v log standard deviations, got %v",
			s.info.ActionDim, len(logStd))
	}
	t := tensor.New(tensor.WithShape(1, len(logStd)),
		tensor.WithBacking(logStd))
	if err := G.Let(s.logStd, t); err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}

	if s.autoAlpha {
		t := tensor.New(tensor.WithShape(1, 1),
			tensor.WithBacking([]float64{logAlpha}))
		if err := G.Let(s.logAlpha, t); err != nil {
			return fmt.Errorf("gobdecode: %v", err)
		}
		s.alpha = math.Exp(logAlpha)
	}
	return s.sync()
}

// Close closes the VMs of the agent
func (s *SAC) Close() error {
	vms := []G.VM{s.policyVM, s.actorVM, s.targetVM, s.critics[0].vm,
		s.critics[1].vm}
	if s.alphaVM != nil {
		vms = append(vms, s.alphaVM)
	}

	var err error
	for _, vm := range vms {
		if e := vm.Close(); e != nil && err == nil {
			err = fmt.Errorf("close: %v", e)
		}
	}
	return err
}

// concatRows concatenates each row of a (with aCols columns) with the
// matching row of b (with bCols columns)
func concatRows(a []float64, aCols int, b []float64, bCols int) []float64 {
	rows := len(a) / aCols
	out := make([]float64, 0, rows*(aCols+bCols))
	for i := 0; i < rows; i++ {
		out = append(out, a[i*aCols:(i+1)*aCols]...)
		out = append(out, b[i*bCols:(i+1)*bCols]...)
	}
	return out
}
