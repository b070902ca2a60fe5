package ready

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignal_DefaultsToDefaultPath(t *testing.T) {
	s := New("")
	assert.Equal(t, DefaultPath, s.Path())
}

func TestSignal_MarkReadyCreatesArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "ready")
	s := New(path)

	assert.False(t, s.IsReady())
	require.NoError(t, s.MarkReady())
	assert.True(t, s.IsReady())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSignal_MarkNotReadyRemovesArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ready")
	s := New(path)
	require.NoError(t, s.MarkReady())
	require.True(t, s.IsReady())

	require.NoError(t, s.MarkNotReady())
	assert.False(t, s.IsReady())
}

func TestSignal_MarkNotReadyOnAbsentArtifactIsNotAnError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "never-created"))
	assert.NoError(t, s.MarkNotReady())
}

func TestSignal_MarkReadyIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ready")
	s := New(path)
	require.NoError(t, s.MarkReady())
	require.NoError(t, s.MarkReady())
	assert.True(t, s.IsReady())
}
