package collector

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SequenceStats summarises a sequence of per-episode values
type SequenceStats struct {
	Mean float64
	Std  float64
	Max  float64
	Min  float64
}

func newSequenceStats(x []float64) SequenceStats {
	if len(x) == 0 {
		return SequenceStats{}
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	return SequenceStats{
		Mean: mean,
		Std:  std,
		Max:  floats.Max(x),
		Min:  floats.Min(x),
	}
}

func (s SequenceStats) String() string {
	return fmt.Sprintf("{mean: %.4f, std: %.4f, max: %.4f, min: %.4f}",
		s.Mean, s.Std, s.Max, s.Min)
}

// CollectStats holds the statistics of a single call to Collect. Only
// episodes which finished during the call are reported.
type CollectStats struct {
	NCollectedEpisodes int
	NCollectedSteps    int

	Returns     []float64
	Lens        []int
	ReturnsStat SequenceStats
	LensStat    SequenceStats

	CollectTime  time.Duration
	CollectSpeed float64 // Environment steps per second
}

// finish computes the summary statistics once collection is done
func (c *CollectStats) finish(elapsed time.Duration) {
	c.CollectTime = elapsed
	if secs := elapsed.Seconds(); secs > 0 {
		c.CollectSpeed = float64(c.NCollectedSteps) / secs
	}

	c.ReturnsStat = newSequenceStats(c.Returns)
	lens := make([]float64, len(c.Lens))
	for i, l := range c.Lens {
		lens[i] = float64(l)
	}
	c.LensStat = newSequenceStats(lens)
}

func (c CollectStats) String() string {
	var b strings.Builder
	b.WriteString("CollectStats{\n")
	fmt.Fprintf(&b, "  n_collected_episodes: %v,\n", c.NCollectedEpisodes)
	fmt.Fprintf(&b, "  n_collected_steps: %v,\n", c.NCollectedSteps)
	fmt.Fprintf(&b, "  returns_stat: %v,\n", c.ReturnsStat)
	fmt.Fprintf(&b, "  lens_stat: %v,\n", c.LensStat)
	fmt.Fprintf(&b, "  collect_time: %v,\n", c.CollectTime)
	fmt.Fprintf(&b, "  collect_speed: %.2f step/s,\n", c.CollectSpeed)
	b.WriteString("}")
	return b.String()
}

// episode tracks the return and length of the episode running in a
// single environment.
//
// Note: an episode must finish for its return to be reported. If the
// last episode of a collection does not finish, its return is carried
// over to the next collection.
type episode struct {
	ret    float64
	length int
}

// track accumulates the reward of step, returning whether the episode
// finished
func (e *episode) track(reward float64, last bool) bool {
	e.ret += reward
	e.length++
	return last
}

func (e *episode) reset() {
	e.ret = 0
	e.length = 0
}
