package server

import (
	"context"
	"net/http"
	"time"
)

// HandleHealthz responds to liveness probes. The process is alive if it can
// serve the request.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes, checking the database when one
// is configured.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.DB.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": "database",
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus reports the running mode and the active recordings.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	tasks := h.deps.Registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.deps.Mode,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"active":         len(tasks),
		"slots_in_use":   h.deps.Gate.InUse(),
		"max_concurrent": h.deps.Gate.Cap(),
		"recordings":     tasks,
		"catalog":        h.deps.Catalog != nil,
	})
}
