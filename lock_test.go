package asyncoro

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLock_AcquireRelease(t *testing.T) {
	var l Lock

	require.NoError(t, l.Acquire(1))
	require.ErrorIs(t, l.Acquire(2), ErrLockHeld)
	require.ErrorIs(t, l.Release(2), ErrNotOwner)
	require.NoError(t, l.Release(1))
	require.NoError(t, l.Acquire(2))
}

func TestLock_ReleaseWithoutAcquire(t *testing.T) {
	var l Lock
	require.ErrorIs(t, l.Release(1), ErrNotOwner)
}
