package logger

import (
	"fmt"
	"sort"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/collector"
	"go.uber.org/zap"
)

// Intervals determines how often each kind of data is written. A kind
// of data is written when at least its interval has passed since it
// was last written.
type Intervals struct {
	Train  int `yaml:"train"`  // Environment steps
	Test   int `yaml:"test"`   // Environment steps
	Update int `yaml:"update"` // Gradient steps
	Save   int `yaml:"save"`   // Epochs
}

// DefaultIntervals returns the default logging intervals
func DefaultIntervals() Intervals {
	return Intervals{Train: 1000, Test: 1, Update: 1000, Save: 1}
}

// Logger writes the statistics of training, testing, and updates to a
// Writer at fixed intervals
type Logger struct {
	writer    Writer
	intervals Intervals
	logger    *zap.Logger

	lastTrain  int
	lastTest   int
	lastUpdate int
	lastSave   int
}

// New returns a new Logger which writes to w. A nil Writer discards
// all data.
func New(w Writer, intervals Intervals, logger *zap.Logger) *Logger {
	if w == nil {
		w = Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		writer:     w,
		intervals:  intervals,
		logger:     logger,
		lastTrain:  -1,
		lastTest:   -1,
		lastUpdate: -1,
		lastSave:   -1,
	}
}

// LogTrainData writes the statistics of a training collection at
// environment step step. Collections which finished no episodes are
// not written.
func (l *Logger) LogTrainData(stats collector.CollectStats, step int) error {
	if stats.NCollectedEpisodes == 0 || step-l.lastTrain < l.intervals.Train {
		return nil
	}
	err := l.write(step, map[string]float64{
		"train/episode": float64(stats.NCollectedEpisodes),
		"train/reward":  stats.ReturnsStat.Mean,
		"train/length":  stats.LensStat.Mean,
	})
	if err != nil {
		return fmt.Errorf("logtraindata: %w", err)
	}
	l.lastTrain = step
	return nil
}

// LogTestData writes the statistics of a test collection at
// environment step step
func (l *Logger) LogTestData(stats collector.CollectStats, step int) error {
	if step-l.lastTest < l.intervals.Test {
		return nil
	}
	err := l.write(step, map[string]float64{
		"test/reward":     stats.ReturnsStat.Mean,
		"test/reward_std": stats.ReturnsStat.Std,
		"test/length":     stats.LensStat.Mean,
		"test/length_std": stats.LensStat.Std,
	})
	if err != nil {
		return fmt.Errorf("logtestdata: %w", err)
	}
	l.lastTest = step
	return nil
}

// LogUpdateData writes the statistics of an update at gradient step
// step
func (l *Logger) LogUpdateData(stats agent.Stats, step int) error {
	if step-l.lastUpdate < l.intervals.Update {
		return nil
	}
	scalars := make(map[string]float64, len(stats))
	for name, value := range stats {
		scalars["update/"+name] = value
	}
	if err := l.write(step, scalars); err != nil {
		return fmt.Errorf("logupdatedata: %w", err)
	}
	l.lastUpdate = step
	return nil
}

// SaveData calls save at most once every Save epochs and records the
// progress of training when it does
func (l *Logger) SaveData(epoch, envStep, gradientStep int,
	save func(epoch, envStep, gradientStep int) error) error {
	if save == nil || epoch-l.lastSave < l.intervals.Save {
		return nil
	}
	if err := save(epoch, envStep, gradientStep); err != nil {
		return fmt.Errorf("savedata: %w", err)
	}
	l.lastSave = epoch

	err := l.write(epoch, map[string]float64{
		"save/epoch":         float64(epoch),
		"save/env_step":      float64(envStep),
		"save/gradient_step": float64(gradientStep),
	})
	if err != nil {
		return fmt.Errorf("savedata: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying Writer
func (l *Logger) Close() error {
	return l.writer.Close()
}

func (l *Logger) write(step int, scalars map[string]float64) error {
	tags := make([]string, 0, len(scalars))
	for tag := range scalars {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		if err := l.writer.AddScalar(tag, scalars[tag], step); err != nil {
			return err
		}
	}
	l.logger.Debug("logged scalars", zap.Int("step", step),
		zap.Strings("tags", tags))
	return l.writer.Flush()
}
