package checkpointer

import (
	"fmt"
	"path/filepath"
	"time"
)

// FilenameEnumerator returns a function which returns the names of
// consecutive checkpoint files in dir: prefix-<n><extension>, where n
// counts up from start + 1. Extensions include their leading dot.
func FilenameEnumerator(dir, prefix, extension string,
	start int) func() string {
	i := start
	return func() string {
		i++
		return filepath.Join(dir, fmt.Sprintf("%v-%v%v", prefix, i,
			extension))
	}
}

// FileTimer returns a function which returns checkpoint file names in
// dir suffixed with the current time, for checkpoints whose order does
// not need to be read from their names
func FileTimer(dir, prefix, extension string) func() string {
	return func() string {
		stamp := time.Now().UTC().Format("20060102T150405.000000000")
		return filepath.Join(dir, fmt.Sprintf("%v-%v%v", prefix, stamp,
			extension))
	}
}
