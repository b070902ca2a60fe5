package watch

import (
	"os"
	"path/filepath"
)

// eventRegistry coalesces filesystem events arriving within a debounce
// window, in first-registered order, ported from original_source/src/
// watch.rs's EventRegistry (backed there by an IndexMap).
type eventRegistry struct {
	order []string
	byKey map[string]Event
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{byKey: make(map[string]Event)}
}

func (r *eventRegistry) register(ev Event) {
	switch ev.Kind {
	case EventMove:
		r.handleMove(ev.From, ev.To)
	default:
		r.update(ev.Path, ev)
	}
}

func (r *eventRegistry) handleMove(from, to string) {
	var resolved Event
	if prior, ok := r.byKey[from]; ok {
		switch prior.Kind {
		case EventWrite:
			// Write(A) -> Move(A->B) === Write(B).
			resolved = Event{Kind: EventWrite, Path: to}
		case EventMove:
			// Move(Origin->A) -> Move(A->B) === Move(Origin->B).
			resolved = Event{Kind: EventMove, From: prior.From, To: to}
		default:
			resolved = Event{Kind: EventMove, From: from, To: to}
		}
	} else {
		resolved = Event{Kind: EventMove, From: from, To: to}
	}

	r.remove(from)
	r.update(to, resolved)
}

func (r *eventRegistry) update(key string, newEv Event) {
	prior, exists := r.byKey[key]
	if exists {
		switch {
		case prior.Kind == EventWrite && newEv.Kind == EventRemove:
			// Write -> Remove === never materialized; drop entirely.
			r.remove(key)
			return
		case prior.Kind == EventMove && newEv.Kind == EventRemove:
			// Move -> Remove === Remove(Origin).
			r.byKey[key] = Event{Kind: EventRemove, Path: prior.From}
			return
		case prior.Kind == EventRemove && newEv.Kind == EventWrite:
			// Remove -> Write === Write.
			r.byKey[key] = newEv
			return
		}
	}

	if !exists {
		r.order = append(r.order, key)
	}
	r.byKey[key] = newEv
}

func (r *eventRegistry) remove(key string) {
	if _, ok := r.byKey[key]; !ok {
		return
	}
	delete(r.byKey, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *eventRegistry) drain() []Event {
	events := make([]Event, 0, len(r.order))
	for _, key := range r.order {
		events = append(events, r.byKey[key])
	}
	r.order = nil
	r.byKey = make(map[string]Event)
	return events
}

func (r *eventRegistry) isEmpty() bool { return len(r.order) == 0 }

// listDirs returns path and every directory beneath it, so a recursive
// watch can Add each one individually the way fsnotify requires.
func listDirs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{filepath.Dir(path)}, nil
	}

	var dirs []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dirs, nil
}
