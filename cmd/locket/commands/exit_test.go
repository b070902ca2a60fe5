package commands

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	locketerrors "github.com/bpbradley/locket/internal/errors"
)

func TestExitCode_MapsEachKnownKind(t *testing.T) {
	cases := map[locketerrors.Kind]int{
		locketerrors.KindConfig:          1,
		locketerrors.KindReference:       1,
		locketerrors.KindProvider:        2,
		locketerrors.KindRender:          2,
		locketerrors.KindMaterialization: 3,
		locketerrors.KindWatcher:         64,
		locketerrors.KindPluginProtocol:  64,
	}
	for kind, want := range cases {
		err := &locketerrors.Error{Kind: kind, Op: "test", Err: errors.New("boom")}
		code, ok := ExitCode(err)
		assert.True(t, ok)
		assert.Equal(t, want, code)
	}
}

func TestExitCode_NonLocketErrorIsNotOk(t *testing.T) {
	_, ok := ExitCode(errors.New("plain error"))
	assert.False(t, ok)
}

func TestExitCode_NilErrorIsNotOk(t *testing.T) {
	_, ok := ExitCode(nil)
	assert.False(t, ok)
}
