package server

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/onnwee/tiktok-live-recorder/db"
	"github.com/onnwee/tiktok-live-recorder/telemetry"
)

// HandleStopRecording requests a graceful stop of a user's active recording.
// Polling loops skip that broadcast until it goes offline.
func (h *Handlers) HandleStopRecording(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user required")
		return
	}
	if !h.deps.Registry.Stop(user) {
		writeError(w, http.StatusNotFound, "no active recording for @"+user)
		return
	}
	telemetry.LoggerWithCorr(r.Context(), h.logger).Info("recording stop requested", slog.String("user", user))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping", "user": user})
}

// HandleRecordingsList pages through the recordings catalog, newest first.
func (h *Handlers) HandleRecordingsList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog disabled: DB_DSN not set")
		return
	}
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseIntQuery(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.deps.Catalog.List(r.Context(), db.ListOptions{
		User:   r.URL.Query().Get("user"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		telemetry.LoggerWithCorr(r.Context(), h.logger).Error("list recordings", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs, "count": len(recs)})
}

// HandleRecordingGet returns one catalog entry.
func (h *Handlers) HandleRecordingGet(w http.ResponseWriter, r *http.Request) {
	if h.deps.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog disabled: DB_DSN not set")
		return
	}
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid recording id")
		return
	}
	rec, err := h.deps.Catalog.Get(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}
	if err != nil {
		telemetry.LoggerWithCorr(r.Context(), h.logger).Error("get recording", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
