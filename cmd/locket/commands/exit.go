package commands

import locketerrors "github.com/bpbradley/locket/internal/errors"

// ExitCode maps a locketerrors.Error's Kind to locket's documented exit
// codes. ok is false when err isn't a *locketerrors.Error at all, meaning
// the caller should fall back to the internal-error code.
func ExitCode(err error) (code int, ok bool) {
	var e *locketerrors.Error
	if !locketerrors.As(err, &e) {
		return 0, false
	}

	switch e.Kind {
	case locketerrors.KindConfig, locketerrors.KindReference:
		return 1, true
	case locketerrors.KindProvider, locketerrors.KindRender:
		return 2, true
	case locketerrors.KindMaterialization:
		return 3, true
	case locketerrors.KindWatcher, locketerrors.KindPluginProtocol:
		return 64, true
	default:
		return 64, true
	}
}
