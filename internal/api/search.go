package api

import (
	"net/http"

	"github.com/beaconai/beacon/internal/log"
	"github.com/beaconai/beacon/internal/thread"
)

type searchHandler struct {
	store  thread.Store
	logger log.Logger
}

func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user", "user_id query parameter is required", h.logger)
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "q query parameter is required", h.logger)
		return
	}

	hits, err := h.store.Search(r.Context(), userID, query, queryInt(r, "limit", 0))
	if err != nil {
		h.logger.Error("search failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits}, h.logger)
}
