// Package supervisor implements the exec supervisor (C11): running a child
// command with a resolved-secret environment composed in, forwarding
// signals to it, and restarting it when the watcher reports the
// environment changed underneath it.
//
// Adapted from systmms/dsops's internal/execenv.Executor (env composition
// by precedence, exit-code passthrough) and extended with process-group
// signal forwarding and a SIGTERM-then-SIGKILL restart sequence, neither of
// which dsops's one-shot `exec` needed since it never re-executes a
// running child.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	locketerrors "github.com/bpbradley/locket/internal/errors"
)

// DefaultRestartTimeout is how long Restart waits after SIGTERM before
// escalating to SIGKILL.
const DefaultRestartTimeout = 30 * time.Second

// Options configures one supervised child process.
type Options struct {
	Command        []string
	Env            map[string]string
	WorkingDir     string
	AllowOverride  bool // existing process env wins over Env, instead of the reverse
	RestartTimeout time.Duration
}

// Supervisor runs options.Command as a child, its own process group leader,
// so a restart can signal every descendant it spawned.
type Supervisor struct {
	opts   Options
	logger zerolog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// New constructs a Supervisor. RestartTimeout defaults to
// DefaultRestartTimeout when zero.
func New(opts Options, logger zerolog.Logger) *Supervisor {
	if opts.RestartTimeout <= 0 {
		opts.RestartTimeout = DefaultRestartTimeout
	}
	return &Supervisor{opts: opts, logger: logger}
}

// Start launches the child and returns once it has been spawned; it does
// not wait for exit. ForwardSignals should be run alongside it.
func (s *Supervisor) Start(ctx context.Context) error {
	if len(s.opts.Command) == 0 {
		return locketerrors.Config("supervisor.Start", fmt.Errorf("no command specified"))
	}
	if _, err := exec.LookPath(s.opts.Command[0]); err != nil {
		return locketerrors.Config("supervisor.Start", fmt.Errorf("command %q not found: %w", s.opts.Command[0], err))
	}

	env, err := s.buildEnvironment()
	if err != nil {
		return locketerrors.Config("supervisor.Start", fmt.Errorf("building environment: %w", err))
	}

	cmd := exec.CommandContext(ctx, s.opts.Command[0], s.opts.Command[1:]...)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if s.opts.WorkingDir != "" {
		cmd.Dir = s.opts.WorkingDir
	}
	// New process group so Restart can signal the whole tree the child
	// spawns, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return locketerrors.Config("supervisor.Start", fmt.Errorf("starting %q: %w", s.opts.Command[0], err))
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	s.logger.Debug().Strs("command", s.opts.Command).Msg("supervisor: started child process")
	return nil
}

// Wait blocks until the current child exits and returns its exit code.
func (s *Supervisor) Wait() (int, error) {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil {
		return -1, fmt.Errorf("supervisor: no child running")
	}

	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func asExitError(err error, target **exec.ExitError) bool {
	e, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = e
	return true
}

// ForwardSignals relays every signal this process receives to the child's
// process group, until ctx is canceled.
func (s *Supervisor) ForwardSignals(ctx context.Context) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			s.mu.Lock()
			cmd := s.cmd
			s.mu.Unlock()
			if cmd == nil || cmd.Process == nil {
				continue
			}
			if unixSig, ok := sig.(syscall.Signal); ok {
				_ = syscall.Kill(-cmd.Process.Pid, unixSig)
			}
		}
	}
}

// Restart sends SIGTERM to the child's process group, waits up to
// RestartTimeout for it to exit, escalates to SIGKILL if it hasn't, then
// starts a fresh child with the current Options (callers update s.opts.Env
// via SetEnv before calling Restart so the new child picks up changed
// secrets).
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		s.logger.Debug().Msg("supervisor: sending SIGTERM for restart")
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

		done := make(chan struct{})
		go func() {
			_, _ = s.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(s.opts.RestartTimeout):
			s.logger.Warn().Dur("timeout", s.opts.RestartTimeout).Msg("supervisor: restart timeout exceeded, sending SIGKILL")
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-done
		}
	}

	return s.Start(ctx)
}

// SetEnv replaces the environment that the next Start/Restart composes,
// used when the watcher reports the resolved secrets changed.
func (s *Supervisor) SetEnv(env map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Env = env
}

// buildEnvironment layers opts.Env over (or under, if AllowOverride) the
// current process environment and returns a sorted KEY=VALUE slice.
func (s *Supervisor) buildEnvironment() ([]string, error) {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}

	for k, v := range s.opts.Env {
		if s.opts.AllowOverride {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		} else {
			merged[k] = v
		}
	}

	result := make([]string, 0, len(merged))
	for k, v := range merged {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result, nil
}
