package handshake

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zxnxzf/rebalancer/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	version := NewVersion()
	require.NoError(t, store.Write(State{
		Phase:   PhasePositionsNeeded,
		Version: version,
		Extra:   map[string]string{"trade_date": "2026-03-02"},
	}))

	state, ok, err := store.Read()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, PhasePositionsNeeded, state.Phase)
	assert.Equal(t, version, state.Version)
	assert.Equal(t, "2026-03-02", state.Extra["trade_date"])
	assert.False(t, state.Timestamp.IsZero(), "store stamps the write time")
}

func TestStoreReadMissingFileIsNotAnError(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Read()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreWriteSupersedes(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Write(State{Phase: PhasePositionsNeeded, Version: "v1"}))
	require.NoError(t, store.Write(State{Phase: PhasePositionsReady, Version: "v1"}))

	state, ok, err := store.Read()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, PhasePositionsReady, state.Phase)
}

func TestStoreWriteLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Write(State{Phase: PhasePositionsNeeded, Version: "v1"}))

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestWaiterReturnsOnMatchingPhaseAndVersion(t *testing.T) {
	store := newTestStore(t)
	waiter := NewWaiter(store, 5*time.Millisecond, time.Second, zerolog.Nop())

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = store.Write(State{Phase: PhasePositionsReady, Version: "v1"})
	}()

	state, err := waiter.WaitFor(context.Background(), PhasePositionsReady, "v1")
	require.NoError(t, err)
	assert.Equal(t, PhasePositionsReady, state.Phase)
}

func TestWaiterIgnoresOtherVersions(t *testing.T) {
	store := newTestStore(t)
	waiter := NewWaiter(store, 5*time.Millisecond, time.Second, zerolog.Nop())

	// A stale record with the right phase but the wrong version must not
	// release the waiter.
	require.NoError(t, store.Write(State{Phase: PhasePositionsReady, Version: "stale"}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = store.Write(State{Phase: PhasePositionsReady, Version: "other"})
		time.Sleep(20 * time.Millisecond)
		_ = store.Write(State{Phase: PhasePositionsReady, Version: "v2"})
	}()

	state, err := waiter.WaitFor(context.Background(), PhasePositionsReady, "v2")
	require.NoError(t, err)
	assert.Equal(t, "v2", state.Version)
}

func TestWaiterIgnoresSameVersionOtherPhase(t *testing.T) {
	store := newTestStore(t)
	waiter := NewWaiter(store, 5*time.Millisecond, 60*time.Millisecond, zerolog.Nop())

	require.NoError(t, store.Write(State{Phase: PhasePositionsNeeded, Version: "v1"}))

	_, err := waiter.WaitFor(context.Background(), PhasePositionsReady, "v1")
	assert.ErrorIs(t, err, domain.ErrProtocolTimeout)
}

func TestWaiterTimesOutOnStuckRecord(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Write(State{Phase: PhasePositionsNeeded, Version: "v1"}))

	waiter := NewWaiter(store, 5*time.Millisecond, 50*time.Millisecond, zerolog.Nop())

	start := time.Now()
	_, err := waiter.WaitFor(context.Background(), PhaseQuotesReady, "v1")
	assert.ErrorIs(t, err, domain.ErrProtocolTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaiterTerminalPhaseAcceptsFailure(t *testing.T) {
	store := newTestStore(t)
	waiter := NewWaiter(store, 5*time.Millisecond, time.Second, zerolog.Nop())

	require.NoError(t, store.Write(State{
		Phase:   PhaseExecFailed,
		Version: "v1",
		Extra:   map[string]string{"error": "order rejected"},
	}))

	// Waiting for exec_done must observe exec_failed, not time out.
	state, err := waiter.WaitFor(context.Background(), PhaseExecDone, "v1")
	require.NoError(t, err)
	assert.Equal(t, PhaseExecFailed, state.Phase)
	assert.Equal(t, "order rejected", state.Extra["error"])
}

func TestWaiterHonorsContextCancellation(t *testing.T) {
	store := newTestStore(t)
	waiter := NewWaiter(store, 5*time.Millisecond, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := waiter.WaitFor(ctx, PhasePositionsReady, "v1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPhaseTerminal(t *testing.T) {
	assert.True(t, PhaseExecDone.Terminal())
	assert.True(t, PhaseExecFailed.Terminal())
	assert.False(t, PhaseOrdersReady.Terminal())
	assert.False(t, PhasePositionsNeeded.Terminal())
}

func TestNewVersionIsUnique(t *testing.T) {
	assert.NotEqual(t, NewVersion(), NewVersion())
}
