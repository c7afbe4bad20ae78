package api

import (
	"context"
	"log/slog"
	"net/http"
)

// HealthHandler reports whether the backing store is reachable.
type HealthHandler struct {
	check  func(context.Context) error
	stats  func() map[string]interface{}
	logger *slog.Logger
}

// NewHealthHandler creates a health handler. stats may be nil.
func NewHealthHandler(check func(context.Context) error, stats func() map[string]interface{}, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{check: check, stats: stats, logger: logger}
}

// ServeHTTP answers 200 when the store responds and 503 otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if err := h.check(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		resp["status"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if h.stats != nil {
		resp["database"] = h.stats()
	}

	writeJSON(w, status, resp)
}
