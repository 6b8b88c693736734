package logger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/offlinerl/agent"
	"github.com/samuelfneumann/offlinerl/collector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memory is a Writer which keeps scalars in memory
type memory struct {
	scalars map[string][]Scalar
	flushes int
	closed  bool
}

func newMemory() *memory {
	return &memory{scalars: make(map[string][]Scalar)}
}

func (m *memory) AddScalar(tag string, value float64, step int) error {
	m.scalars[tag] = append(m.scalars[tag], Scalar{Step: step, Value: value})
	return nil
}

func (m *memory) Flush() error {
	m.flushes++
	return nil
}

func (m *memory) Close() error {
	m.closed = true
	return nil
}

func steps(scalars []Scalar) []int {
	s := make([]int, len(scalars))
	for i := range scalars {
		s[i] = scalars[i].Step
	}
	return s
}

func TestLogTrainDataInterval(t *testing.T) {
	m := newMemory()
	l := New(m, DefaultIntervals(), nil)

	stats := collector.CollectStats{NCollectedEpisodes: 2,
		ReturnsStat: collector.SequenceStats{Mean: 10},
		LensStat:    collector.SequenceStats{Mean: 5}}
	for _, step := range []int{500, 999, 1500, 1999, 2500} {
		require.NoError(t, l.LogTrainData(stats, step))
	}
	assert.Equal(t, []int{999, 1999}, steps(m.scalars["train/reward"]))
	assert.Equal(t, 10.0, m.scalars["train/reward"][0].Value)
	assert.Equal(t, 5.0, m.scalars["train/length"][0].Value)
	assert.Equal(t, 2.0, m.scalars["train/episode"][0].Value)

	// Collections without finished episodes are skipped
	require.NoError(t, l.LogTrainData(collector.CollectStats{}, 5000))
	assert.Len(t, m.scalars["train/reward"], 2)
}

func TestLogTestData(t *testing.T) {
	m := newMemory()
	l := New(m, DefaultIntervals(), nil)

	stats := collector.CollectStats{
		ReturnsStat: collector.SequenceStats{Mean: 180, Std: 3},
		LensStat:    collector.SequenceStats{Mean: 180, Std: 3},
	}
	for _, step := range []int{0, 0, 1, 2} {
		require.NoError(t, l.LogTestData(stats, step))
	}
	assert.Equal(t, []int{0, 1, 2}, steps(m.scalars["test/reward"]))
	assert.Equal(t, 3.0, m.scalars["test/reward_std"][0].Value)
	assert.Contains(t, m.scalars, "test/length")
	assert.Contains(t, m.scalars, "test/length_std")
}

func TestLogUpdateData(t *testing.T) {
	m := newMemory()
	l := New(m, Intervals{Update: 10}, nil)

	for step := 1; step <= 30; step++ {
		require.NoError(t, l.LogUpdateData(agent.Stats{"loss": float64(step),
			"loss/actor": 1}, step))
	}
	assert.Equal(t, []int{9, 19, 29}, steps(m.scalars["update/loss"]))
	assert.Equal(t, 9.0, m.scalars["update/loss"][0].Value)
	assert.Len(t, m.scalars["update/loss/actor"], 3)
}

func TestSaveData(t *testing.T) {
	m := newMemory()
	l := New(m, Intervals{Save: 2}, nil)

	var saved []int
	save := func(epoch, envStep, gradientStep int) error {
		saved = append(saved, epoch)
		return nil
	}
	for epoch := 1; epoch <= 5; epoch++ {
		require.NoError(t, l.SaveData(epoch, epoch*10, epoch*100, save))
	}
	assert.Equal(t, []int{1, 3, 5}, saved)
	assert.Equal(t, 300.0, m.scalars["save/gradient_step"][1].Value)

	failing := func(int, int, int) error { return errors.New("disk full") }
	assert.Error(t, l.SaveData(10, 0, 0, failing))
	require.NoError(t, l.SaveData(11, 0, 0, nil))
}

func TestNilWriter(t *testing.T) {
	l := New(nil, DefaultIntervals(), nil)
	require.NoError(t, l.LogTestData(collector.CollectStats{}, 0))
	require.NoError(t, l.Close())
}

func TestSQLiteWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "CartPole-v0", "discrete_crr")
	w, err := NewSQLiteWriter(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, EventsFile), w.Path())
	assert.NotEmpty(t, w.RunID())

	l := New(w, DefaultIntervals(), nil)
	for step := 0; step < 3; step++ {
		require.NoError(t, l.LogTestData(collector.CollectStats{
			ReturnsStat: collector.SequenceStats{Mean: float64(step)},
		}, step))
	}

	rewards, err := w.Scalars("test/reward")
	require.NoError(t, err)
	require.Len(t, rewards, 3)
	for i, s := range rewards {
		assert.Equal(t, i, s.Step)
		assert.Equal(t, float64(i), s.Value)
		assert.False(t, s.WallTime.IsZero())
	}

	// Pending scalars are written on close, and a second run in the same
	// directory is kept apart
	require.NoError(t, w.AddScalar("test/reward", 100, 3))
	require.NoError(t, l.Close())

	other, err := NewSQLiteWriter(dir)
	require.NoError(t, err)
	defer other.Close()
	assert.NotEqual(t, w.RunID(), other.RunID())
	scalars, err := other.Scalars("test/reward")
	require.NoError(t, err)
	assert.Empty(t, scalars)

	var count int
	require.NoError(t, other.db.QueryRow("SELECT COUNT(*) FROM scalars "+
		"WHERE run_id = ?", w.RunID()).Scan(&count))
	assert.Equal(t, 3*4+1, count)
}
