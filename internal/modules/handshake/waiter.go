package handshake

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zxnxzf/rebalancer/internal/domain"
)

// Waiter polls the state store until an expected phase/version pair
// appears or a deadline elapses.
type Waiter struct {
	store    *Store
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

// NewWaiter creates a waiter polling at interval with a per-wait timeout.
func NewWaiter(store *Store, interval, timeout time.Duration, log zerolog.Logger) *Waiter {
	return &Waiter{
		store:    store,
		interval: interval,
		timeout:  timeout,
		log:      log.With().Str("component", "handshake_waiter").Logger(),
	}
}

// WaitFor blocks until the state record shows the expected phase under the
// expected version. A record carrying any other version is stale or from
// the next cycle and counts as "still waiting", never as an error. On
// timeout the cycle is dead: the caller must fail it, not retry.
//
// When waiting for a terminal phase, the other terminal phase under the
// same version also ends the wait, so a waiter expecting exec_done
// observes exec_failed instead of timing out.
func (w *Waiter) WaitFor(ctx context.Context, phase Phase, version string) (State, error) {
	deadline := time.Now().Add(w.timeout)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Debug().
		Str("phase", string(phase)).
		Str("version", version).
		Dur("timeout", w.timeout).
		Msg("Waiting for handshake phase")

	for {
		state, ok, err := w.store.Read()
		if err != nil {
			return State{}, err
		}
		if ok && state.Version == version {
			if state.Phase == phase {
				return state, nil
			}
			if phase.Terminal() && state.Phase.Terminal() {
				return state, nil
			}
		}

		if time.Now().After(deadline) {
			return State{}, fmt.Errorf("%w: phase %s version %s not reached within %s",
				domain.ErrProtocolTimeout, phase, version, w.timeout)
		}

		select {
		case <-ctx.Done():
			return State{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
