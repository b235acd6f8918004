// Package api exposes the turn runner and the turn log over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/MarloweLabs/VoiceWire/collector"
	"github.com/MarloweLabs/VoiceWire/conversation"
	"github.com/MarloweLabs/VoiceWire/logger"
	"github.com/MarloweLabs/VoiceWire/turnstore"
	"github.com/MarloweLabs/VoiceWire/version"
)

// TurnRunner executes one exchange against the voice endpoint.
type TurnRunner interface {
	RunTurn(ctx context.Context, req conversation.TurnRequest) (*conversation.TurnResult, error)
}

// Config configures the HTTP handler.
type Config struct {
	// Runner executes turns. Required.
	Runner TurnRunner

	// Turns serves read queries against the turn log. Required.
	Turns turnstore.Store

	// RateLimit is the sustained requests-per-second allowance for turn
	// execution. Zero disables limiting.
	RateLimit float64

	// RateBurst is the burst allowance when RateLimit is set.
	RateBurst int
}

// Handler is the HTTP surface.
type Handler struct {
	cfg     Config
	limiter *rate.Limiter
}

// NewHandler builds the HTTP handler, instrumented for tracing.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("api.Config.Runner is required")
	}
	if cfg.Turns == nil {
		return nil, errors.New("api.Config.Turns is required")
	}

	h := &Handler{cfg: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/conversations/{id}/turns", h.runTurn)
	mux.HandleFunc("GET /v1/conversations/{id}/turns", h.listTurns)
	mux.HandleFunc("DELETE /v1/conversations/{id}/turns", h.deleteTurns)
	mux.HandleFunc("POST /v1/turns", h.runTurn)
	mux.HandleFunc("GET /healthz", h.health)

	return otelhttp.NewHandler(mux, "voicewire.api"), nil
}

// turnRequest is the POST body for running a turn.
type turnRequest struct {
	Prompt string `json:"prompt"`
}

// turnResponse is returned after a completed turn.
type turnResponse struct {
	Turn turnstore.Turn `json:"turn"`
}

// listResponse is returned by the turn log query.
type listResponse struct {
	ConversationID string           `json:"conversation_id"`
	Turns          []turnstore.Turn `json:"turns"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) runTurn(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var body turnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	res, err := h.cfg.Runner.RunTurn(r.Context(), conversation.TurnRequest{
		ConversationID: r.PathValue("id"),
		Prompt:         body.Prompt,
	})
	if err != nil {
		h.writeTurnError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, turnResponse{Turn: res.Turn})
}

// writeTurnError maps turn failures to HTTP statuses. Client disconnects
// surface as cancellation; channel failures are upstream errors.
func (h *Handler) writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	var cerr *collector.CollectionError
	switch {
	case errors.Is(err, collector.ErrCanceled):
		writeError(w, http.StatusRequestTimeout, "turn canceled")
	case errors.As(err, &cerr):
		logger.ErrorContext(r.Context(), "turn failed on channel error", "error", err)
		writeError(w, http.StatusBadGateway, "voice endpoint failure")
	default:
		logger.ErrorContext(r.Context(), "turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) listTurns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	turns, err := h.cfg.Turns.List(r.Context(), id)
	if err != nil {
		if errors.Is(err, turnstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		logger.ErrorContext(r.Context(), "turn log query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{ConversationID: id, Turns: turns})
}

func (h *Handler) deleteTurns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.cfg.Turns.Delete(r.Context(), id); err != nil {
		if errors.Is(err, turnstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		logger.ErrorContext(r.Context(), "turn log delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.GetVersion(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
