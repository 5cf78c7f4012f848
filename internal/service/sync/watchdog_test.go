package sync

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWatchdog_ReconcilesOnChange tests debounced reconciliation after a
// filesystem event.
func TestWatchdog_ReconcilesOnChange(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	var reconciles atomic.Int32

	watchdog := NewWatchdog(root, func(context.Context) {
		reconciles.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watchdog.Run(ctx)

	// Give the watcher time to initialise before producing events.
	time.Sleep(200 * time.Millisecond)

	// A burst of writes must collapse into one reconciliation.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "track.mp3"), []byte("audio"), 0o644))
	}

	require.Eventually(t, func() bool {
		return reconciles.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond)

	// The debounce window coalesced the burst.
	assert.LessOrEqual(t, reconciles.Load(), int32(2))
}

// TestWatchdog_SetRoot tests re-initialisation on a root change.
func TestWatchdog_SetRoot(t *testing.T) {
	t.Parallel()

	first, second := t.TempDir(), t.TempDir()

	var reconciles atomic.Int32

	watchdog := NewWatchdog(first, func(context.Context) {
		reconciles.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watchdog.Run(ctx)

	time.Sleep(200 * time.Millisecond)

	watchdog.SetRoot(second)
	assert.Equal(t, second, watchdog.Root())

	time.Sleep(200 * time.Millisecond)

	// Events under the new root are observed.
	require.NoError(t, os.WriteFile(filepath.Join(second, "track.mp3"), []byte("audio"), 0o644))

	require.Eventually(t, func() bool {
		return reconciles.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond)
}

// TestDirectorySignature tests the polling-mode change signature.
func TestDirectorySignature(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	before := directorySignature(root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "track.mp3"), []byte("audio"), 0o644))

	after := directorySignature(root)
	assert.NotEqual(t, before, after)
}
