package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/clinicflow/internal/executor"
)

const wsIdleTimeout = 5 * time.Minute

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // secure via proxy in prod
}

// Event types sent over the socket.
const (
	EventStep   = "step"
	EventResult = "result"
	EventError  = "error"
)

// Event is one server-to-client message. Exactly one of Step, Result or
// Error is set according to Type.
type Event struct {
	Type   string              `json:"type"`
	Step   *executor.StepEvent `json:"step,omitempty"`
	Result *executor.Result    `json:"result,omitempty"`
	Error  *errorBody          `json:"error,omitempty"`
}

// handleWS reads requests from the client one at a time. For each it streams
// a step event per executed step, then a result or error event.
func (h *AgentHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxRequestBytes)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WebSocket read failed", zap.Error(err))
			}
			return
		}

		input := decodeWSRequest(data)
		if strings.TrimSpace(input) == "" {
			if err := conn.WriteJSON(Event{Type: EventError, Error: &errorBody{Error: BlankRequestMessage}}); err != nil {
				return
			}
			continue
		}

		// The observer runs on this goroutine, so writes stay serialized.
		var writeErr error
		observer := executor.WithObserver(func(ev executor.StepEvent) {
			if writeErr != nil {
				return
			}
			step := ev
			writeErr = conn.WriteJSON(Event{Type: EventStep, Step: &step})
		})

		result, err := h.runner.Run(r.Context(), input, observer)
		if writeErr != nil {
			return
		}
		var final Event
		if err != nil {
			_, body := h.describeError(err)
			final = Event{Type: EventError, Error: &body}
		} else {
			final = Event{Type: EventResult, Result: result}
		}
		if err := conn.WriteJSON(final); err != nil {
			return
		}
	}
}

// decodeWSRequest accepts {"request": "..."} or plain text.
func decodeWSRequest(data []byte) string {
	var req runRequest
	if err := json.Unmarshal(data, &req); err == nil && req.Request != "" {
		return req.Request
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return ""
	}
	return trimmed
}
