// Package handshake implements the versioned state machine two unsynchronized
// processes use to exchange holdings, quotes, and orders through files.
package handshake

import (
	"time"

	"github.com/google/uuid"
)

// Phase is one step of the cross-process exchange.
type Phase string

const (
	// PhasePositionsNeeded is written by the signal side to request a
	// fresh holdings export. It opens every cycle.
	PhasePositionsNeeded Phase = "positions_needed"
	// PhasePositionsReady is written by the venue side once the holdings
	// file is in place.
	PhasePositionsReady Phase = "positions_ready"
	// PhaseSymbolsReady is written by the signal side once the quote
	// request file is in place.
	PhaseSymbolsReady Phase = "symbols_ready"
	// PhaseQuotesReady is written by the venue side once live quotes for
	// the requested symbols are in place.
	PhaseQuotesReady Phase = "quotes_ready"
	// PhaseOrdersReady is written by the signal side once the order file
	// is in place.
	PhaseOrdersReady Phase = "orders_ready"
	// PhaseExecDone is terminal: every order was submitted.
	PhaseExecDone Phase = "exec_done"
	// PhaseExecFailed is terminal: submission failed, the reason travels
	// in the extra payload.
	PhaseExecFailed Phase = "exec_failed"
)

// Terminal reports whether the phase ends a cycle.
func (p Phase) Terminal() bool {
	return p == PhaseExecDone || p == PhaseExecFailed
}

// State is the single shared record both processes read and write. Only
// one phase/version pair is ever current; a new cycle supersedes the old
// record rather than deleting it.
type State struct {
	Phase     Phase             `json:"phase"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// NewVersion generates the opaque string correlating one full cycle.
func NewVersion() string {
	return uuid.New().String()
}
