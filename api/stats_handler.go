package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/KanavDutta/creditfence/events"
	"github.com/KanavDutta/creditfence/metrics"
)

// StatsProvider defines the interface for getting metrics
type StatsProvider interface {
	GetSnapshot() *metrics.Snapshot
}

// StatsHandler handles GET /stats requests
type StatsHandler struct {
	provider StatsProvider
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, h.provider.GetSnapshot())
}

// EventReader reads back the audit stream.
type EventReader interface {
	Recent(ctx context.Context, n int64) ([]events.Event, error)
}

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 1000
)

// EventsHandler handles GET /events requests
type EventsHandler struct {
	reader EventReader
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(reader EventReader) *EventsHandler {
	return &EventsHandler{reader: reader}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultEventsLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > maxEventsLimit {
			sendError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	recent, err := h.reader.Recent(r.Context(), limit)
	if err != nil {
		sendError(w, http.StatusBadGateway, "events_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recent)
}
