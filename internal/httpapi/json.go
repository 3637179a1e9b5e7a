package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"outreach_engine/internal/config"
	"outreach_engine/internal/orchestrator"
	"outreach_engine/internal/queue"
	"outreach_engine/internal/safety"
	"outreach_engine/internal/store/sqlite"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// writeError maps domain errors onto status codes. Anything unrecognised is a 500.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrCampaignNotFound),
		errors.Is(err, sqlite.ErrNotFound),
		errors.Is(err, queue.ErrUnknownCategory),
		errors.Is(err, queue.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrCampaignActive),
		errors.Is(err, orchestrator.ErrCampaignCompleted),
		errors.Is(err, orchestrator.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNoEnginesEnabled),
		errors.Is(err, safety.ErrInvalidCampaign),
		errors.Is(err, safety.ErrCapacityExceeded),
		errors.Is(err, safety.ErrBlacklistedTarget),
		errors.Is(err, config.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
