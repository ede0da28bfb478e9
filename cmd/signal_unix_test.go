//go:build unix

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalContextCancelsOnFirstSignal(t *testing.T) {
	// keep SIGUSR1 caught here so the default action never kills the test
	caught := make(chan os.Signal, 4)
	signal.Notify(caught, syscall.SIGUSR1)
	defer signal.Stop(caught)

	ctx, stop := signalContext(context.Background(), syscall.SIGUSR1)
	defer stop()
	assert.NoError(t, ctx.Err())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by signal")
	}
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// stop is idempotent once the signal has released the handler
	stop()
	stop()
}

func TestSignalContextFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := signalContext(parent, syscall.SIGUSR1)
	defer stop()
	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled with parent")
	}
}
