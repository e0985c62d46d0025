package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	core "github.com/watchpost/watchpost/internal/app/core/service"
	"github.com/watchpost/watchpost/pkg/watchpost/engine"
	"github.com/watchpost/watchpost/pkg/watchpost/output"
)

// handler bundles the HTTP endpoints spec §6 names for the engine it wraps.
type handler struct {
	eng *engine.Engine
}

// handleRoot implements `GET /`: a streamed text/plain poll, status 200
// even when individual checks failed (failures are encoded in the body as
// UNKNOWN lines, spec §6).
func (h *handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	results := h.eng.Poll(r.Context(), engine.PollOptions{
		FilterPrefix:   r.URL.Query().Get("filter_prefix"),
		FilterContains: r.URL.Query().Get("filter_contains"),
		ForceNoCache:   r.URL.Query().Get("no_cache") == "1",
	})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = output.Format(w, results)
}

// handleHealthcheck implements `GET /healthcheck`: 204 No Content.
func (h *handler) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

type statisticsResponse struct {
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Errored   int `json:"errored"`
}

// handleStatistics implements `GET /executor/statistics`.
func (h *handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats := h.eng.Statistics()
	writeJSON(w, statisticsResponse{
		Running:   stats.Running,
		Completed: stats.Completed,
		Errored:   stats.Errored,
	})
}

type erroredEntry struct {
	Key     string `json:"key"`
	TraceID string `json:"trace_id"`
	Error   string `json:"error"`
	At      string `json:"at"`
}

// handleErrored implements `GET /executor/errored`. An optional `limit`
// query parameter caps how many of the most recent records are returned;
// it is clamped to [1, core.MaxListLimit] the same way any other listing
// endpoint in this codebase bounds its page size.
func (h *handler) handleErrored(w http.ResponseWriter, r *http.Request) {
	records := h.eng.ErroredSnapshot()

	limit := core.ClampLimit(parseLimit(r), core.MaxListLimit, core.MaxListLimit)
	if limit < len(records) {
		records = records[len(records)-limit:]
	}

	out := make([]erroredEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, erroredEntry{
			Key:     rec.Key,
			TraceID: rec.TraceID,
			Error:   rec.Error,
			At:      rec.OccurredAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, out)
}

// parseLimit reads the `limit` query parameter, returning 0 (meaning "use
// the default") when it is absent or not a positive integer.
func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
