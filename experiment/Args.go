package experiment

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default buffer files written by the gathering drivers and read by
// the offline driver
const (
	PendulumBufferName = "expert_SAC_Pendulum-v1.gob"
	CartpoleBufferName = "expert_DQN_CartPole-v0.gob"
)

// defaultThresholds are the rewards at which training is considered
// successful, for tasks whose registered threshold is not used
var defaultThresholds = map[string]map[string]float64{
	"sac": {"Pendulum-v0": -250, "Pendulum-v1": -250},
	"dqn": {"CartPole-v0": 190},
	"crr": {"CartPole-v0": 180},
}

// Common holds the arguments shared by all drivers
type Common struct {
	Task string `yaml:"task"`

	// RewardThreshold is the mean test return at which training stops.
	// If nil, a per-task default or the registered threshold of the
	// task is used.
	RewardThreshold *float64 `yaml:"reward_threshold"`

	Seed        uint64 `yaml:"seed"`
	HiddenSizes []int  `yaml:"hidden_sizes"`
	Epoch       int    `yaml:"epoch"`
	BatchSize   int    `yaml:"batch_size"`
	TestNum     int    `yaml:"test_num"`
	Logdir      string `yaml:"logdir"`

	// Render is the number of seconds to wait between rendered frames,
	// 0 disables rendering
	Render float64 `yaml:"render"`

	Gamma  float64 `yaml:"gamma"`
	Device string  `yaml:"device"`

	// ResumePath is a policy file to load before training
	ResumePath string `yaml:"resume_path"`

	// Watch only watches the policy play a single episode
	Watch bool `yaml:"watch"`

	// CheckpointInterval is the number of epochs between checkpoints of
	// the policy, 0 disables checkpointing
	CheckpointInterval int `yaml:"checkpoint_interval"`

	// Concurrent steps vectorized environments on separate goroutines
	Concurrent bool `yaml:"concurrent"`
}

// RenderDelay returns the delay between rendered frames
func (c Common) RenderDelay() time.Duration {
	return time.Duration(c.Render * float64(time.Second))
}

// validate checks arguments which no driver can run without
func (c Common) validate() error {
	if c.Device != "cpu" {
		return fmt.Errorf("unsupported device %q, only cpu is supported",
			c.Device)
	}
	if len(c.HiddenSizes) == 0 {
		return fmt.Errorf("at least one hidden layer is needed")
	}
	if c.TestNum < 1 {
		return fmt.Errorf("test-num must be positive, got %v", c.TestNum)
	}
	return nil
}

// threshold returns the reward threshold to use for algo, or nil if
// there is none
func (c Common) threshold(algo string, registered *float64) *float64 {
	if c.RewardThreshold != nil {
		return c.RewardThreshold
	}
	if t, ok := defaultThresholds[algo][c.Task]; ok {
		return &t
	}
	return registered
}

// PendulumArgs are the arguments of GatherPendulum
type PendulumArgs struct {
	Common `yaml:",inline"`

	BufferSize     int     `yaml:"buffer_size"`
	ActorLR        float64 `yaml:"actor_lr"`
	CriticLR       float64 `yaml:"critic_lr"`
	StepPerEpoch   int     `yaml:"step_per_epoch"`
	TrainingNum    int     `yaml:"training_num"`
	StepPerCollect int     `yaml:"step_per_collect"`
	UpdatePerStep  float64 `yaml:"update_per_step"`
	Tau            float64 `yaml:"tau"`

	Alpha     float64 `yaml:"alpha"`
	AutoAlpha bool    `yaml:"auto_alpha"`
	AlphaLR   float64 `yaml:"alpha_lr"`
	NStep     int     `yaml:"n_step"`

	SaveBufferName string `yaml:"save_buffer_name"`
}

// DefaultPendulumArgs returns the default arguments of GatherPendulum
func DefaultPendulumArgs() PendulumArgs {
	return PendulumArgs{
		Common: Common{
			Task:        "Pendulum-v1",
			Seed:        0,
			HiddenSizes: []int{128, 128},
			Epoch:       7,
			BatchSize:   256,
			TestNum:     10,
			Logdir:      "log",
			Gamma:       0.99,
			Device:      "cpu",
		},
		BufferSize:     20000,
		ActorLR:        1e-3,
		CriticLR:       1e-3,
		StepPerEpoch:   8000,
		TrainingNum:    10,
		StepPerCollect: 10,
		UpdatePerStep:  0.125,
		Tau:            0.005,
		Alpha:          0.2,
		AutoAlpha:      true,
		AlphaLR:        3e-4,
		NStep:          3,
		SaveBufferName: PendulumBufferName,
	}
}

// CartpoleArgs are the arguments of GatherCartpole
type CartpoleArgs struct {
	Common `yaml:",inline"`

	BufferSize       int     `yaml:"buffer_size"`
	LR               float64 `yaml:"lr"`
	StepPerEpoch     int     `yaml:"step_per_epoch"`
	TrainingNum      int     `yaml:"training_num"`
	StepPerCollect   int     `yaml:"step_per_collect"`
	UpdatePerStep    float64 `yaml:"update_per_step"`
	NStep            int     `yaml:"n_step"`
	TargetUpdateFreq int     `yaml:"target_update_freq"`

	// Behaviour policy epsilons while training, while testing, and
	// while gathering the final buffer
	EpsTrain  float64 `yaml:"eps_train"`
	EpsTest   float64 `yaml:"eps_test"`
	EpsGather float64 `yaml:"eps_gather"`

	SaveBufferName string `yaml:"save_buffer_name"`
}

// DefaultCartpoleArgs returns the default arguments of GatherCartpole
func DefaultCartpoleArgs() CartpoleArgs {
	return CartpoleArgs{
		Common: Common{
			Task:        "CartPole-v0",
			Seed:        1626,
			HiddenSizes: []int{64, 64, 64},
			Epoch:       10,
			BatchSize:   64,
			TestNum:     100,
			Logdir:      "log",
			Gamma:       0.9,
			Device:      "cpu",
		},
		BufferSize:       20000,
		LR:               1e-3,
		StepPerEpoch:     10000,
		TrainingNum:      10,
		StepPerCollect:   10,
		UpdatePerStep:    0.1,
		NStep:            3,
		TargetUpdateFreq: 320,
		EpsTrain:         0.1,
		EpsTest:          0.05,
		EpsGather:        0.2,
		SaveBufferName:   CartpoleBufferName,
	}
}

// CRRArgs are the arguments of DiscreteCRR
type CRRArgs struct {
	Common `yaml:",inline"`

	LR float64 `yaml:"lr"`

	// NStep is accepted for compatibility with the gathering drivers.
	// Discrete CRR learns from one-step returns and ignores it.
	NStep            int `yaml:"n_step"`
	TargetUpdateFreq int `yaml:"target_update_freq"`
	UpdatePerEpoch   int `yaml:"update_per_epoch"`

	PolicyImprovementMode string  `yaml:"policy_improvement_mode"`
	Beta                  float64 `yaml:"beta"`
	RatioUpperBound       float64 `yaml:"ratio_upper_bound"`
	MinQWeight            float64 `yaml:"min_q_weight"`

	// DeterministicEval tests the policy with its most probable
	// actions instead of sampled ones
	DeterministicEval bool `yaml:"deterministic_eval"`

	// LoadBufferName is the buffer to train from. If it does not exist,
	// a buffer is gathered with Gather and saved there. A Gather with
	// no Logdir logs to Logdir.
	LoadBufferName string       `yaml:"load_buffer_name"`
	Gather         CartpoleArgs `yaml:"gather"`

	// WatchAfterTraining watches the trained policy play one episode
	WatchAfterTraining bool `yaml:"watch_after_training"`
}

// DefaultCRRArgs returns the default arguments of DiscreteCRR
func DefaultCRRArgs() CRRArgs {
	gather := DefaultCartpoleArgs()
	gather.Logdir = ""

	return CRRArgs{
		Common: Common{
			Task:        "CartPole-v0",
			Seed:        1626,
			HiddenSizes: []int{64, 64},
			Epoch:       5,
			BatchSize:   64,
			TestNum:     100,
			Logdir:      "log",
			Gamma:       0.99,
			Device:      "cpu",
		},
		LR:                    7e-4,
		NStep:                 3,
		TargetUpdateFreq:      320,
		UpdatePerEpoch:        1000,
		PolicyImprovementMode: "exp",
		Beta:                  1,
		RatioUpperBound:       20,
		MinQWeight:            10,
		LoadBufferName:        CartpoleBufferName,
		Gather:                gather,
		WatchAfterTraining:    true,
	}
}

// LoadArgs overwrites the fields of args, a pointer to one of the
// argument structs, with those set in the YAML file at path
func LoadArgs(path string, args interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("loadargs: %w", err)
	}
	if err := yaml.Unmarshal(data, args); err != nil {
		return fmt.Errorf("loadargs: %v: %w", path, err)
	}
	return nil
}
