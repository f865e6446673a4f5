package api

import (
	"net/http"

	"github.com/moolen/lookout/internal/agent/state"
	"github.com/moolen/lookout/internal/logging"
)

// HistoryResponse is returned by GET /v1/threads/{id}/messages.
type HistoryResponse struct {
	ThreadID string          `json:"thread_id"`
	Messages []state.Message `json:"messages"`
}

// HistoryHandler returns the checkpointed messages of a thread.
type HistoryHandler struct {
	chat   Chatter
	logger *logging.Logger
}

func NewHistoryHandler(chat Chatter) *HistoryHandler {
	return &HistoryHandler{chat: chat, logger: logging.GetLogger("api.history")}
}

func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if threadID == "" {
		WriteError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "thread id is required")
		return
	}

	messages, err := h.chat.History(r.Context(), threadID)
	if err != nil {
		h.logger.Error("failed to load thread %s: %v", threadID, err)
		WriteError(w, http.StatusInternalServerError, ErrorCodeInternalError, "failed to load thread")
		return
	}
	if messages == nil {
		WriteError(w, http.StatusNotFound, ErrorCodeNotFound, "thread not found: "+threadID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = WriteJSON(w, HistoryResponse{ThreadID: threadID, Messages: messages})
}
