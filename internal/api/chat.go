package api

import (
	"encoding/json"
	"net/http"

	"github.com/beaconai/beacon/internal/chat"
	"github.com/beaconai/beacon/internal/log"
)

// maxChatBodyBytes bounds the chat request body.
const maxChatBodyBytes = 64 * 1024

type chatHandler struct {
	orchestrator *chat.Orchestrator
	logger       log.Logger
}

// chatRequest is the wire form of a chat call. UseRAG defaults to true
// when omitted.
type chatRequest struct {
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
	UseRAG   *bool  `json:"use_rag,omitempty"`
}

func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", h.logger)
		return
	}

	skipContext := req.UseRAG != nil && !*req.UseRAG

	result, err := h.orchestrator.Respond(r.Context(), chat.Request{
		UserID:      req.UserID,
		ThreadID:    req.ThreadID,
		Message:     req.Message,
		SkipContext: skipContext,
	})
	if err != nil {
		// Storage failure: the reply was generated but never persisted.
		writeError(w, http.StatusInternalServerError, "storage_failed", "failed to save the exchange", h.logger)
		return
	}

	status := http.StatusOK
	switch result.ErrorCode {
	case chat.CodeEmptyMessage, chat.CodeMissingUser:
		status = http.StatusBadRequest
	case chat.CodeProviderBusy:
		status = http.StatusServiceUnavailable
	case chat.CodeGenerationFailed:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result, h.logger)
}
