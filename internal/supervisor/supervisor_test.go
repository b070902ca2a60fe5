package supervisor

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(env map[string]string, allowOverride bool) *Supervisor {
	return New(Options{
		Command:       []string{"true"},
		Env:           env,
		AllowOverride: allowOverride,
	}, zerolog.Nop())
}

func TestNew_defaultsRestartTimeout(t *testing.T) {
	t.Parallel()
	s := New(Options{Command: []string{"true"}}, zerolog.Nop())
	assert.Equal(t, DefaultRestartTimeout, s.opts.RestartTimeout)
}

func TestBuildEnvironment_addsVars(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor(map[string]string{
		"DATABASE_URL": "postgres://localhost/db",
		"API_KEY":      "secret123",
	}, false)

	env, err := s.buildEnvironment()
	require.NoError(t, err)

	found := 0
	for _, e := range env {
		if strings.HasPrefix(e, "DATABASE_URL=") || strings.HasPrefix(e, "API_KEY=") {
			found++
		}
	}
	assert.Equal(t, 2, found)
}

func TestBuildEnvironment_overridesExistingWhenAllowOverrideFalse(t *testing.T) {
	t.Setenv("TEST_VAR", "original")

	s := newTestSupervisor(map[string]string{"TEST_VAR": "resolved_value"}, false)
	env, err := s.buildEnvironment()
	require.NoError(t, err)

	assert.Contains(t, env, "TEST_VAR=resolved_value")
}

func TestBuildEnvironment_preservesExistingWhenAllowOverrideTrue(t *testing.T) {
	t.Setenv("PRESERVE_VAR", "original")

	s := newTestSupervisor(map[string]string{"PRESERVE_VAR": "resolved_value"}, true)
	env, err := s.buildEnvironment()
	require.NoError(t, err)

	assert.Contains(t, env, "PRESERVE_VAR=original")
}

func TestBuildEnvironment_preservesSystemEnvironment(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor(map[string]string{"NEW_VAR": "new_value"}, false)
	env, err := s.buildEnvironment()
	require.NoError(t, err)

	hasPath := false
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
			break
		}
	}
	assert.True(t, hasPath, "should preserve PATH from the current process environment")
}

func TestBuildEnvironment_isSorted(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor(map[string]string{
		"ZZZ_VAR": "last",
		"AAA_VAR": "first",
		"MMM_VAR": "middle",
	}, false)
	env, err := s.buildEnvironment()
	require.NoError(t, err)

	var prevKey string
	for _, e := range env {
		key, _, _ := strings.Cut(e, "=")
		if prevKey != "" {
			assert.LessOrEqual(t, prevKey, key, "environment should be sorted by key")
		}
		prevKey = key
	}
}

func TestStart_rejectsEmptyCommand(t *testing.T) {
	t.Parallel()
	s := New(Options{}, zerolog.Nop())
	err := s.Start(nil) //nolint:staticcheck // nil context acceptable: Start fails before ever using it
	require.Error(t, err)
}

func TestSetEnv_replacesEnvironment(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor(map[string]string{"OLD": "1"}, false)
	s.SetEnv(map[string]string{"NEW": "2"})

	env, err := s.buildEnvironment()
	require.NoError(t, err)
	assert.Contains(t, env, "NEW=2")
	assert.NotContains(t, env, "OLD=1")
}
