package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler records every dispatched event so tests can assert on
// what Run eventually delivered, without depending on ordering across
// concurrent fsnotify delivery.
type recordingHandler struct {
	mu     sync.Mutex
	writes []string
}

func (h *recordingHandler) HandleWrite(ctx context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writes = append(h.writes, path)
	return nil
}

func (h *recordingHandler) HandleRemove(ctx context.Context, path string) error { return nil }
func (h *recordingHandler) HandleMove(ctx context.Context, from, to string) error {
	return nil
}

func (h *recordingHandler) sawWrite(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.writes {
		if w == path {
			return true
		}
	}
	return false
}

func TestWatcher_DetectsFileWriteAndInvokesHandler(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "secret.tmpl")
	require.NoError(t, os.WriteFile(target, []byte("initial"), 0o600))

	handler := &recordingHandler{}
	w, err := New(20*time.Millisecond, handler, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(dir, false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(target, []byte("updated"), 0o600))

	assert.Eventually(t, func() bool {
		return handler.sawWrite(target)
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestWatcher_StateStartsIdle(t *testing.T) {
	w, err := New(time.Millisecond, &recordingHandler{}, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, StateIdle, w.State())
}
