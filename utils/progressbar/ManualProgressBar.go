// Package progressbar implements functionality of printing a progress
// bar to a terminal window
package progressbar

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ManualProgressBar implement progress bar functionality that must
// be manually managed. That is, the Display() function must be called
// whenever an updated progress bar should be printed.
//
// ManualProgressBar does not use concurrency.
type ManualProgressBar struct {
	out             io.Writer
	prefix          string
	width           float64
	maxProgress     float64
	currentProgress float64
	bar             strings.Builder
	startTime       time.Time
}

// NewManualProgressBar returns a new ManualProgressBar which writes to
// out
func NewManualProgressBar(out io.Writer, prefix string, width,
	max int) *ManualProgressBar {
	return &ManualProgressBar{
		out:         out,
		prefix:      prefix,
		width:       float64(width),
		maxProgress: float64(max),
		startTime:   time.Now(),
	}
}

// Increment increments the interal progress counter by n
func (p *ManualProgressBar) Increment(n int) {
	p.currentProgress += float64(n)
	if p.currentProgress > p.maxProgress {
		p.currentProgress = p.maxProgress
	}
}

// Progress returns the fraction of work completed
func (p *ManualProgressBar) Progress() float64 {
	if p.maxProgress == 0 {
		return 1
	}
	return p.currentProgress / p.maxProgress
}

// Display displays the progress bar along with a status message
func (p *ManualProgressBar) Display(status string) {
	if p.out == nil {
		return
	}
	p.bar.Reset()
	p.bar.WriteString(p.prefix)
	p.bar.WriteString(" |")

	currentProg := p.Progress() * p.width
	for i := 0.0; i < currentProg; i++ {
		p.bar.WriteString("█")
	}
	for i := currentProg; i < p.width; i++ {
		p.bar.WriteString(" ")
	}
	p.bar.WriteString(fmt.Sprintf("| [%.2f%% | elapsed: %v] %s",
		p.Progress()*100, time.Since(p.startTime).Truncate(time.Second),
		status))

	fmt.Fprintf(p.out, "\r\033[K%v", p.bar.String())
}

// Close ends the line the progress bar was drawn on
func (p *ManualProgressBar) Close() {
	if p.out != nil {
		fmt.Fprintln(p.out)
	}
}
