package fileio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCreatesZeroFilledFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, Ensure(path, 10))

	data, err := ReadAt(path, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 10), data)
}

func TestEnsureIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, Ensure(path, 10))
	require.NoError(t, WriteAt(path, 0, []byte("hi")))
	require.NoError(t, Ensure(path, 10))

	data, err := ReadAt(path, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)
}

func TestWriteAtThenReadAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, Ensure(path, 20))
	require.NoError(t, WriteAt(path, 5, []byte("hello")))

	data, err := ReadAt(path, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
