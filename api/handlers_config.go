package api

import (
	"net/http"
)

// handleHealth returns the health status of the API
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if s.index != nil {
		status["documents"] = s.index.Stats().Documents
	}
	if s.broker != nil {
		status["event_clients"] = s.broker.ClientCount()
	}
	writeJSON(w, http.StatusOK, status)
}

// handleVectorStoreStats reports document count and index shape
func (s *Server) handleVectorStoreStats(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Vector store not loaded", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.index.Stats())
}
