package experiment

import (
	"fmt"
	"path/filepath"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/collector"
	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/environment/envconfig"
	"github.com/samuelfneumann/offlinerl/environment/vector"
	"github.com/samuelfneumann/offlinerl/experiment/checkpointer"
	"github.com/samuelfneumann/offlinerl/expreplay"
	"github.com/samuelfneumann/offlinerl/logger"
	"github.com/samuelfneumann/offlinerl/trainer"
	"go.uber.org/zap"
)

// PolicyFile is the name of the file the best policy is saved to in
// the log directory of a run
const PolicyFile = "policy.gob"

// Report is the outcome of running a driver
type Report struct {
	// Result is the result of training, nil if the policy was only
	// watched
	Result *trainer.Result

	// Buffer is the buffer gathered or trained from
	Buffer *expreplay.VectorReplayBuffer

	// Gather holds the statistics of the collection which filled a
	// gathered buffer
	Gather *collector.CollectStats

	// Watch holds the statistics of a watched episode
	Watch *collector.CollectStats

	// Passed reports whether the best test return reached the reward
	// threshold
	Passed bool

	// Path is the directory logs and policies were written to
	Path string
}

// describe returns the space information and registered spec of task
func describe(task string, seed uint64) (environment.SpaceInfo,
	envconfig.EnvSpec, error) {
	env, spec, err := envconfig.Make(task, seed)
	if err != nil {
		return environment.SpaceInfo{}, envconfig.EnvSpec{}, err
	}
	return environment.NewSpaceInfo(env), spec, nil
}

// vectorEnv returns n copies of task, seeded from seed
func vectorEnv(task string, n int, seed uint64,
	concurrent bool) (vector.VectorEnv, error) {
	factory := func(seed uint64) (environment.Environment, error) {
		e, _, err := envconfig.Make(task, seed)
		return e, err
	}
	if concurrent {
		return vector.NewConcurrent(factory, n, seed)
	}
	return vector.NewDummy(factory, n, seed)
}

// resume loads the weights of a from path, if path is set
func resume(a agent.Agent, path string, zl *zap.Logger) error {
	if path == "" {
		return nil
	}
	if err := agent.Load(a, path); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	zl.Info("loaded agent", zap.String("path", path))
	return nil
}

// stopFn returns a function which reports whether a reward reaches
// threshold, or nil if there is no threshold
func stopFn(threshold *float64) func(float64) bool {
	if threshold == nil {
		return nil
	}
	t := *threshold
	return func(reward float64) bool {
		return reward >= t
	}
}

// run holds the logging state of a single training run
type run struct {
	path   string
	writer *logger.SQLiteWriter
	log    *logger.Logger
	zl     *zap.Logger
}

// newRun opens the log directory <logdir>/<task>/<algo>
func newRun(c Common, algo string, zl *zap.Logger) (*run, error) {
	path := filepath.Join(c.Logdir, c.Task, algo)
	w, err := logger.NewSQLiteWriter(path)
	if err != nil {
		return nil, fmt.Errorf("newrun: %w", err)
	}
	zl.Info("logging run", zap.String("path", w.Path()),
		zap.String("run_id", w.RunID()))

	return &run{
		path:   path,
		writer: w,
		log:    logger.New(w, logger.DefaultIntervals(), zl),
		zl:     zl,
	}, nil
}

// hooks returns the trainer hooks which save the best agent to the run
// directory, checkpoint it every interval epochs, and stop training at
// threshold
func (r *run) hooks(a agent.Agent, threshold *float64,
	interval int) (trainer.Hooks, error) {
	policy := filepath.Join(r.path, PolicyFile)
	hooks := trainer.Hooks{
		StopFn: stopFn(threshold),
		SaveBestFn: func(best agent.Agent) error {
			r.zl.Debug("saving best policy", zap.String("path", policy))
			return agent.Save(best, policy)
		},
	}

	if interval > 0 {
		check, err := checkpointer.NewNStep(interval, a,
			checkpointer.FilenameEnumerator(r.path, "checkpoint", ".gob", 0))
		if err != nil {
			return trainer.Hooks{}, fmt.Errorf("hooks: %w", err)
		}
		hooks.SaveCheckpointFn = func(epoch, _, _ int) error {
			return check.Checkpoint(epoch)
		}
	}
	return hooks, nil
}

func (r *run) close() {
	if err := r.log.Close(); err != nil {
		r.zl.Warn("could not close log", zap.Error(err))
	}
}
