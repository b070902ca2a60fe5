// Package errors defines locket's error taxonomy. Each kind wraps an
// underlying cause and carries an optional suggestion for the operator,
// mirrored after dsops's own suggestion-bearing error types but
// re-keyed to the seven kinds locket's components raise.
package errors

import "fmt"

// Kind identifies which layer of the pipeline produced an error.
type Kind string

const (
	KindConfig          Kind = "config"
	KindReference       Kind = "reference"
	KindProvider        Kind = "provider"
	KindRender          Kind = "render"
	KindMaterialization Kind = "materialization"
	KindWatcher         Kind = "watcher"
	KindPluginProtocol  Kind = "plugin_protocol"
)

// Error is locket's common error type. Op names the operation that failed
// (e.g. "discover.Expand", "provider/op.FetchMany"); Suggestion, when set,
// is shown to the operator alongside the error.
type Error struct {
	Kind       Kind
	Op         string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Err, e.Suggestion)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config wraps a configuration-layer error (bad mapping grammar, conflicting
// source/destination, invalid provider config).
func Config(op string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// ConfigSuggest is Config plus an operator-facing suggestion.
func ConfigSuggest(op, suggestion string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Suggestion: suggestion, Err: err}
}

// Reference wraps a reference-grammar parse failure (C1).
func Reference(op string, err error) *Error {
	return &Error{Kind: KindReference, Op: op, Err: err}
}

// Provider wraps an error surfaced by a provider client (C3/C4). Callers
// should prefer constructing a provider.Error directly and wrapping it here
// only at the boundary where it crosses into resolver/render code.
func Provider(op string, err error) *Error {
	return &Error{Kind: KindProvider, Op: op, Err: err}
}

// Render wraps a template rendering failure (C2): malformed placeholder,
// injection policy violation, max size exceeded.
func Render(op string, err error) *Error {
	return &Error{Kind: KindRender, Op: op, Err: err}
}

// Materialization wraps an atomic-write/permission/volume-mount failure (C7).
func Materialization(op string, err error) *Error {
	return &Error{Kind: KindMaterialization, Op: op, Err: err}
}

// Watcher wraps a filesystem-watch failure (C8).
func Watcher(op string, err error) *Error {
	return &Error{Kind: KindWatcher, Op: op, Err: err}
}

// PluginProtocol wraps a volume-plugin protocol failure (C10): malformed
// request, unsupported capability, unknown volume name.
func PluginProtocol(op string, err error) *Error {
	return &Error{Kind: KindPluginProtocol, Op: op, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As is a thin re-export point kept local so callers only need to import
// this package, not "errors" itself, when checking kinds.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
