package status

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	require.Equal(t, Ok, CodeOf(nil))

	err := Errorf(NotFound, "method %q not found", "forward")
	require.Equal(t, NotFound, CodeOf(err))
	require.Contains(t, err.Error(), "NotFound")
	require.Contains(t, err.Error(), `method "forward" not found`)

	// Unkinded errors are Internal.
	require.Equal(t, Internal, CodeOf(errors.New("boom")))
}

func TestWrapfPreservesKind(t *testing.T) {
	inner := Errorf(InvalidArgument, "wrong arity")
	wrapped := Wrapf(inner, Internal, "executing method")
	require.Equal(t, InvalidArgument, CodeOf(wrapped),
		"the collaborator's kind must propagate unchanged through wrapping")
	require.Contains(t, wrapped.Error(), "executing method")
	require.Contains(t, wrapped.Error(), "wrong arity")

	// Wrapping an unkinded error attaches the given kind.
	wrapped = Wrapf(errors.New("mmap failed"), AccessFailed, "loading %q", "model.etpg")
	require.Equal(t, AccessFailed, CodeOf(wrapped))

	require.NoError(t, Wrapf(nil, Internal, "ignored"))
}

func TestIs(t *testing.T) {
	err := Errorf(NotSupported, "rank change")
	require.True(t, Is(err, NotSupported))
	require.False(t, Is(err, InvalidArgument))
	require.False(t, Is(nil, NotSupported))
}
