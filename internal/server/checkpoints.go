package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/examprep/examprep-cli/internal/store"
)

func (s *Server) storeAvailable(w http.ResponseWriter) bool {
	if s.store != nil {
		return true
	}
	writeJSON(w, http.StatusServiceUnavailable, errorBody{
		Error:   "checkpoint store not configured",
		Message: "Checkpoints are not available on this server.",
	})
	return false
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if !s.storeAvailable(w) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": list})
}

func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !s.storeAvailable(w) {
		return
	}
	state, err := s.store.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if state == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: store.ErrNotFound.Error(), Message: "No checkpoint with that id."})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDiscardCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !s.storeAvailable(w) {
		return
	}
	if err := s.store.Discard(r.Context(), chi.URLParam(r, "id")); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
