package api

import (
	"maps"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/guardian/pkg/metrics"
)

// StatsProvider reports service statistics for GET /stats.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// OpsHandler serves the operational endpoints.
type OpsHandler struct {
	stats      StatsProvider
	exposition http.Handler
	started    time.Time
}

// NewOpsHandler creates the /healthz and /stats handler.
func NewOpsHandler(stats StatsProvider) *OpsHandler {
	return &OpsHandler{
		stats:      stats,
		exposition: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
		started:    time.Now(),
	}
}

// HandleHealth serves the Prometheus exposition. A successful scrape is the
// liveness signal.
func (h *OpsHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.exposition.ServeHTTP(w, r)
}

// HandleStats handles GET /stats.
func (h *OpsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	out := map[string]interface{}{}
	if h.stats != nil {
		maps.Copy(out, h.stats.GetStats())
	}
	out["uptimeSeconds"] = int64(time.Since(h.started).Seconds())
	writeJSON(w, http.StatusOK, out)
}
