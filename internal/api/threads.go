package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/beaconai/beacon/internal/log"
	"github.com/beaconai/beacon/internal/thread"
)

type threadHandler struct {
	store  thread.Store
	logger log.Logger
}

func (h *threadHandler) list(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user", "user_id query parameter is required", h.logger)
		return
	}

	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	threads, err := h.store.ListThreads(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("list threads failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list threads", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads}, h.logger)
}

func (h *threadHandler) get(w http.ResponseWriter, r *http.Request) {
	th, err := h.store.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapError(w, err, "failed to load thread")
		return
	}
	writeJSON(w, http.StatusOK, th, h.logger)
}

func (h *threadHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteThread(r.Context(), r.PathValue("id")); err != nil {
		h.mapError(w, err, "failed to delete thread")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *threadHandler) messages(w http.ResponseWriter, r *http.Request) {
	q := thread.MessageQuery{Limit: queryInt(r, "limit", 0)}
	if v := r.URL.Query().Get("before"); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timestamp", "before must be RFC 3339", h.logger)
			return
		}
		q.Before = ts
	}
	if v := r.URL.Query().Get("after"); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timestamp", "after must be RFC 3339", h.logger)
			return
		}
		q.After = ts
	}

	msgs, err := h.store.GetMessages(r.Context(), r.PathValue("id"), q)
	if err != nil {
		h.mapError(w, err, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs}, h.logger)
}

func (h *threadHandler) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.store.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapError(w, err, "failed to summarize thread")
		return
	}
	writeJSON(w, http.StatusOK, sum, h.logger)
}

type feedbackRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
	RaterID string `json:"rater_id,omitempty"`
}

func (h *threadHandler) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", h.logger)
		return
	}

	err := h.store.AttachFeedback(r.Context(), r.PathValue("id"), r.PathValue("msgID"), thread.Feedback{
		Rating:  req.Rating,
		Comment: req.Comment,
		RaterID: req.RaterID,
	})
	if err != nil {
		h.mapError(w, err, "failed to record feedback")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mapError translates store errors into HTTP responses.
func (h *threadHandler) mapError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, thread.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, "thread_not_found", "thread does not exist", h.logger)
	case errors.Is(err, thread.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message_not_found", "message does not exist", h.logger)
	case errors.Is(err, thread.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, "invalid_rating", "rating must be between 1 and 5", h.logger)
	default:
		h.logger.Error("thread operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", fallback, h.logger)
	}
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
