// Package logger implements loggers of scalar training statistics
package logger

// Writer writes tagged scalars, such as losses or rewards, indexed by
// a step
type Writer interface {
	AddScalar(tag string, value float64, step int) error
	Flush() error
	Close() error
}

// Discard is a Writer which drops all scalars
var Discard Writer = discard{}

type discard struct{}

func (discard) AddScalar(string, float64, int) error { return nil }
func (discard) Flush() error                         { return nil }
func (discard) Close() error                         { return nil }
