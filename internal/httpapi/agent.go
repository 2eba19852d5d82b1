package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/clinicflow/internal/executor"
	"github.com/Kocoro-lab/clinicflow/internal/planner"
	"github.com/Kocoro-lab/clinicflow/internal/schema"
)

const maxRequestBytes = 64 << 10

// BlankRequestMessage is returned when the request text is empty.
const BlankRequestMessage = "Please enter a request."

// Runner executes one natural-language request.
type Runner interface {
	Run(ctx context.Context, input string, opts ...executor.Option) (*executor.Result, error)
}

// AgentHandler exposes the agent over HTTP and WebSocket.
type AgentHandler struct {
	runner Runner
	logger *zap.Logger
}

// NewAgentHandler creates a new handler.
func NewAgentHandler(runner Runner, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{runner: runner, logger: logger}
}

// RegisterRoutes registers agent routes on the provided mux.
func (h *AgentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/agent/run", h.handleRun)
	mux.HandleFunc("GET /api/v1/agent/ws", h.handleWS)
	mux.HandleFunc("GET /api/v1/functions", h.handleFunctions)
}

type runRequest struct {
	Request string `json:"request"`
}

// errorBody is the JSON shape for every non-result response.
type errorBody struct {
	Error    string `json:"error"`
	Kind     string `json:"kind,omitempty"`
	Function string `json:"function,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

func (h *AgentHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Detail: sanitizeErr(err.Error())})
		return
	}
	if strings.TrimSpace(req.Request) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: BlankRequestMessage})
		return
	}

	result, err := h.runner.Run(r.Context(), req.Request)
	if err != nil {
		status, body := h.describeError(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AgentHandler) handleFunctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"functions": schema.Describe(),
		"sentinel":  schema.ContextSentinel,
	})
}

// describeError maps unrecovered failures to an HTTP status and body.
func (h *AgentHandler) describeError(err error) (int, errorBody) {
	var perr *planner.PlanningError
	var berr *executor.BackendError
	switch {
	case errors.As(err, &perr):
		h.logger.Warn("Planning failed", zap.String("kind", perr.Kind()), zap.Error(err))
		return http.StatusBadGateway, errorBody{
			Error:  "could not obtain a valid plan from the language model",
			Kind:   perr.Kind(),
			Detail: sanitizeErr(err.Error()),
		}
	case errors.As(err, &berr):
		h.logger.Error("Backend operation failed", zap.String("function", string(berr.Function)), zap.Error(err))
		return http.StatusInternalServerError, errorBody{
			Error:    "backend operation failed",
			Kind:     "backend_error",
			Function: string(berr.Function),
			Detail:   sanitizeErr(berr.Err.Error()),
		}
	default:
		h.logger.Error("Agent run failed", zap.Error(err))
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sanitizeErr trims error messages for safe client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}
