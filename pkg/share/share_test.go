package share

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSwapWithRetryReturnsNonBusyErrorWithoutRetrying(t *testing.T) {
	c := &Controller{masterFd: ^uintptr(0), slaveFd: ^uintptr(0)}
	err := c.SwapWithRetry(0, true, 5*time.Millisecond)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrBusy)
}

func TestFinishNoopWhenNotActive(t *testing.T) {
	c := New(0, 0)
	require.NoError(t, c.Finish())
}
