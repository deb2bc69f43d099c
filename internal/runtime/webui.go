package runtime

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	jsoncodec "github.com/drblury/runwatch/internal/runtime/jsoncodec"
	metricspkg "github.com/drblury/runwatch/internal/runtime/metrics"
)

// WatcherStats is the JSON view of one watcher served by /api/watchers.
type WatcherStats struct {
	Namespace string                     `json:"namespace"`
	HandlerID string                     `json:"handler_id"`
	Channel   string                     `json:"channel"`
	Pending   int                        `json:"pending"`
	Stats     *metricspkg.NamespaceStats `json:"stats,omitempty"`
}

func (s *Service) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	mux.HandleFunc("/api/watchers", s.handleGetWatchers)
	return mux
}

// WatcherStats snapshots both watchers.
func (s *Service) WatcherStats() []WatcherStats {
	return []WatcherStats{
		{
			Namespace: s.flows.Namespace(),
			HandlerID: s.flows.HandlerID(),
			Channel:   s.flows.ChannelName(s.flows.HandlerID()),
			Pending:   s.flows.PendingCount(),
			Stats:     s.metrics.Stats(s.flows.Namespace()),
		},
		{
			Namespace: s.webhooks.Namespace(),
			HandlerID: s.webhooks.HandlerID(),
			Channel:   s.webhooks.ChannelName(s.webhooks.HandlerID()),
			Pending:   s.webhooks.PendingCount(),
			Stats:     s.metrics.Stats(s.webhooks.Namespace()),
		},
	}
}

func (s *Service) handleGetWatchers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	payload, err := jsoncodec.Marshal(s.WatcherStats())
	if err != nil {
		s.Logger.Error("Failed to encode watcher stats", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}
