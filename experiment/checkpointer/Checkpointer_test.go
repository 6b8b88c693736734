package checkpointer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter is a Serializable which encodes how often it was encoded
type counter struct {
	n   int
	err error
}

func (c *counter) GobEncode() ([]byte, error) {
	c.n++
	return []byte{byte(c.n)}, c.err
}

func (c *counter) GobDecode(b []byte) error {
	c.n = int(b[0])
	return nil
}

func TestNStep(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	c := &counter{}
	check, err := NewNStep(2, c, FilenameEnumerator(dir, "policy", ".gob", 0))
	require.NoError(t, err)

	for epoch := 1; epoch <= 5; epoch++ {
		require.NoError(t, check.Checkpoint(epoch))
	}
	assert.Equal(t, 2, c.n)

	for i, want := range []byte{1, 2} {
		data, err := os.ReadFile(filepath.Join(dir,
			"policy-"+string(rune('1'+i))+".gob"))
		require.NoError(t, err)
		assert.True(t, bytes.Equal([]byte{want}, data))
	}
	_, err = os.Stat(filepath.Join(dir, "policy-3.gob"))
	assert.True(t, os.IsNotExist(err))
}

func TestNStepDisabled(t *testing.T) {
	c := &counter{}
	check, err := NewNStep(0, c, FileTimer(t.TempDir(), "policy", ".gob"))
	require.NoError(t, err)
	for epoch := 0; epoch < 3; epoch++ {
		require.NoError(t, check.Checkpoint(epoch))
	}
	assert.Zero(t, c.n)
}

func TestNStepErrors(t *testing.T) {
	_, err := NewNStep(-1, &counter{}, FileTimer("", "p", ".gob"))
	assert.Error(t, err)
	_, err = NewNStep(1, nil, FileTimer("", "p", ".gob"))
	assert.Error(t, err)

	failing := &counter{err: errors.New("no weights")}
	check, err := NewNStep(1, failing, FileTimer(t.TempDir(), "p", ".gob"))
	require.NoError(t, err)
	assert.Error(t, check.Checkpoint(1))
}

func TestFilenames(t *testing.T) {
	next := FilenameEnumerator("log", "policy", ".gob", 4)
	assert.Equal(t, filepath.Join("log", "policy-5.gob"), next())
	assert.Equal(t, filepath.Join("log", "policy-6.gob"), next())

	name := FileTimer("log", "policy", ".gob")()
	assert.True(t, strings.HasPrefix(name, filepath.Join("log", "policy-")))
	assert.True(t, strings.HasSuffix(name, ".gob"))
}
