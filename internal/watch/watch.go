// Package watch implements the filesystem watcher (C8): monitoring source
// paths for changes and driving a debounced re-resolution cycle.
//
// Grounded on original_source/src/watch.rs: fsnotify.Watcher plays the role
// of notify::Watcher, EventRegistry replicates the same event-coalescing
// rules (Write followed by Remove cancels out, a Move chained onto a prior
// Write collapses to a single Write at the new path, and so on), and the
// debounce loop resets its deadline on every fresh event during the window.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	locketerrors "github.com/bpbradley/locket/internal/errors"
)

// State names where a watch cycle currently sits. Idle means no pending
// work; Dirty means at least one unprocessed event has arrived; Debouncing
// means the coalescing window is open; Resolving means a batch of events is
// being applied via Handler.
type State string

const (
	StateIdle       State = "idle"
	StateDirty      State = "dirty"
	StateDebouncing State = "debouncing"
	StateResolving  State = "resolving"
)

// Mode controls how Run behaves once the initial resolution completes.
type Mode string

const (
	// ModeOneShot resolves once and returns immediately.
	ModeOneShot Mode = "one-shot"
	// ModePark resolves once, then blocks until ctx is canceled without
	// watching for further changes — used when the caller wants a live
	// process (e.g. for a healthcheck to observe) but no reactive updates.
	ModePark Mode = "park"
	// ModeWatch resolves once, then watches every mapped source and
	// re-resolves on change until ctx is canceled.
	ModeWatch Mode = "watch"
)

// EventKind tags one coalesced filesystem event.
type EventKind string

const (
	EventWrite  EventKind = "write"
	EventRemove EventKind = "remove"
	EventMove   EventKind = "move"
)

// Event is a single coalesced filesystem change ready for dispatch.
type Event struct {
	Kind EventKind
	Path string // Write, Remove
	From string // Move
	To   string // Move
}

// Handler applies one coalesced Event to the materialized output tree.
type Handler interface {
	HandleWrite(ctx context.Context, path string) error
	HandleRemove(ctx context.Context, path string) error
	HandleMove(ctx context.Context, from, to string) error
}

// Watcher drives fsnotify events for a set of source paths through a
// debounce window and into Handler, tracking State for observability.
type Watcher struct {
	debounce time.Duration
	handler  Handler
	logger   zerolog.Logger

	fsw      *fsnotify.Watcher
	registry *eventRegistry
	state    State
}

// New constructs a Watcher. Call Watch for every source path before Run.
func New(debounce time.Duration, handler Handler, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, locketerrors.Watcher("watch.New", fmt.Errorf("creating fsnotify watcher: %w", err))
	}
	return &Watcher{
		debounce: debounce,
		handler:  handler,
		logger:   logger,
		fsw:      fsw,
		registry: newEventRegistry(),
		state:    StateIdle,
	}, nil
}

// Watch registers one source path. Directories are watched recursively by
// adding every subdirectory; fsnotify itself only watches a single level.
func (w *Watcher) Watch(path string, recursive bool) error {
	if !recursive {
		if err := w.fsw.Add(path); err != nil {
			return locketerrors.Watcher("watch.Watch", fmt.Errorf("watching %q: %w", path, err))
		}
		return nil
	}
	dirs, err := listDirs(path)
	if err != nil {
		return locketerrors.Watcher("watch.Watch", fmt.Errorf("listing directories under %q: %w", path, err))
	}
	for _, d := range dirs {
		if err := w.fsw.Add(d); err != nil {
			return locketerrors.Watcher("watch.Watch", fmt.Errorf("watching %q: %w", d, err))
		}
	}
	return nil
}

// State reports the watcher's current position in the Idle/Dirty/
// Debouncing/Resolving cycle.
func (w *Watcher) State() State { return w.state }

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Run drives the Idle -> Dirty -> Debouncing -> Resolving -> Idle cycle
// until ctx is canceled. It blocks; callers running in watch mode should
// invoke it from its own goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		w.state = StateIdle
		w.logger.Debug().Msg("watch: waiting for fs event")

		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return locketerrors.Watcher("watch.Run", fmt.Errorf("fsnotify error channel closed"))
			}
			w.logger.Warn().Err(err).Msg("watch: fsnotify internal error")
			continue
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return locketerrors.Watcher("watch.Run", fmt.Errorf("fsnotify event channel closed"))
			}
			if !w.ingest(ev) {
				continue
			}
		}

		w.state = StateDebouncing
		if brk := w.debounceLoop(ctx); brk {
			return nil
		}

		w.state = StateResolving
		w.flush(ctx)
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) (canceled bool) {
	w.logger.Debug().Dur("debounce", w.debounce).Msg("watch: debouncing events")
	timer := time.NewTimer(w.debounce)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return true
		case <-timer.C:
			return false
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return true
			}
			w.logger.Warn().Err(err).Msg("watch: fsnotify internal error")
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return true
			}
			if w.ingest(ev) {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			}
		}
	}
}

func (w *Watcher) flush(ctx context.Context) {
	events := w.registry.drain()
	if len(events) == 0 {
		return
	}
	w.logger.Debug().Int("count", len(events)).Msg("watch: processing batched fs events")

	for _, ev := range events {
		var err error
		switch ev.Kind {
		case EventWrite:
			err = w.handler.HandleWrite(ctx, ev.Path)
		case EventRemove:
			err = w.handler.HandleRemove(ctx, ev.Path)
		case EventMove:
			err = w.handler.HandleMove(ctx, ev.From, ev.To)
		}
		if err != nil {
			w.logger.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("watch: failed to handle fs event")
		}
	}
}

func (w *Watcher) ingest(ev fsnotify.Event) bool {
	fsEv, ok := mapEvent(ev)
	if !ok {
		return false
	}
	w.state = StateDirty
	w.registry.register(fsEv)
	return true
}

// mapEvent narrows fsnotify's op bitmask down to the Write/Remove/Move
// vocabulary the registry coalesces. fsnotify reports a rename as a Rename
// event on the old path with no paired new-path event, so unlike the
// paired-rename form the original observes, a rename here is treated as a
// Remove; the corresponding Create at the new path arrives as its own
// event and is folded into a Write by the registry's ordinary rules.
func mapEvent(ev fsnotify.Event) (Event, bool) {
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		return Event{Kind: EventWrite, Path: ev.Name}, true
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		return Event{Kind: EventRemove, Path: ev.Name}, true
	default:
		return Event{}, false
	}
}
