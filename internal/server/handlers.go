package server

import (
	"encoding/json"
	"net/http"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "rebalancer",
	})
}

// handleState returns the current handshake state record.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, ok, err := s.store.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"phase": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleStats returns the last completed cycle's summary.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	stats := s.lastStats
	s.mu.RUnlock()

	if stats == nil {
		s.writeError(w, http.StatusNotFound, "no cycle has completed yet")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
