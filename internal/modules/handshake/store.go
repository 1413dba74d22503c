package handshake

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Store persists the handshake state record on a shared filesystem.
// Writes go through a temp file and an atomic rename so the counterpart
// process can never observe a partially written record.
type Store struct {
	path string
	log  zerolog.Logger
}

// NewStore creates a state store backed by the file at path.
func NewStore(path string, log zerolog.Logger) *Store {
	return &Store{
		path: path,
		log:  log.With().Str("component", "handshake_store").Logger(),
	}
}

// Path returns the location of the state record.
func (s *Store) Path() string {
	return s.path
}

// Write replaces the state record. The timestamp is stamped here so
// callers only supply phase, version, and extra payload.
func (s *Store) Write(state State) error {
	state.Timestamp = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal handshake state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	s.log.Debug().
		Str("phase", string(state.Phase)).
		Str("version", state.Version).
		Msg("Handshake state written")

	return nil
}

// Read returns the current state record in a single non-blocking read.
// A missing file reports ok=false: no cycle has started yet, which is
// not an error.
func (s *Store) Read() (State, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("failed to parse state file: %w", err)
	}
	return state, true, nil
}
