package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/moolen/lookout/internal/agent/engine"
	"github.com/moolen/lookout/internal/logging"
)

// Error codes sent on the websocket when a turn could not start.
const (
	CodeBusy           = "busy"
	CodeInvalidRequest = "invalid_request"
)

const writeTimeout = 15 * time.Second

// TurnRequest is a client message on the turns websocket.
type TurnRequest struct {
	Text string `json:"text"`
}

// TurnsHandler serves /v1/threads/{id}/turns. Each TurnRequest read from the
// socket starts one turn whose events are written back as JSON; the next
// request is read once the turn is over.
type TurnsHandler struct {
	chat   Chatter
	logger *logging.Logger
	// Origins are passed to websocket.AcceptOptions.OriginPatterns. Empty
	// means any origin.
	Origins []string
}

func NewTurnsHandler(chat Chatter) *TurnsHandler {
	return &TurnsHandler{chat: chat, logger: logging.GetLogger("api.turns")}
}

func (h *TurnsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	threadID := strings.TrimSpace(r.PathValue("id"))
	if threadID == "" {
		WriteError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "thread id is required")
		return
	}

	opts := &websocket.AcceptOptions{OriginPatterns: h.Origins}
	if len(h.Origins) == 0 {
		opts.InsecureSkipVerify = true
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.logger.Warn("websocket accept failed: %v", err)
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()
	logger := h.logger.WithField("thread_id", threadID)
	logger.Debug("client connected")

	for {
		var req TurnRequest
		// wsjson closes the socket itself on malformed JSON.
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.Debug("client disconnected")
			default:
				logger.Debug("read failed: %v", err)
			}
			return
		}

		events, err := h.chat.Chat(ctx, threadID, req.Text)
		if err != nil {
			code := engine.CodeInternal
			switch {
			case errors.Is(err, engine.ErrThreadBusy):
				code = CodeBusy
			case errors.Is(err, engine.ErrEmptyInput):
				code = CodeInvalidRequest
			}
			if h.write(ctx, ws, rejected(threadID, code, err)) != nil {
				return
			}
			continue
		}

		for ev := range events {
			if err := h.write(ctx, ws, ev); err != nil {
				logger.Debug("write failed, dropping client: %v", err)
				// ctx is canceled once the handler returns, which ends the turn.
				return
			}
		}
	}
}

func (h *TurnsHandler) write(ctx context.Context, ws *websocket.Conn, ev engine.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, ws, ev)
}

func rejected(threadID, code string, err error) engine.Event {
	return engine.Event{
		ThreadID: threadID,
		Time:     time.Now().UTC(),
		Error:    &engine.ErrorInfo{Message: err.Error(), Code: code, Err: err},
	}
}
