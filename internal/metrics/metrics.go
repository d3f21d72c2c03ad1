// Package metrics exposes swarm progress as Prometheus gauges/counters, the
// way a tracker in this pack (modasi-mika, and chihaya's manifest) exposes
// swarm health to Prometheus. Serving is optional: ListenAndServe is only
// called when the CLI is given --metrics-addr.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors tracks the handful of counters/gauges a single leech run cares
// about. It is safe to share across goroutines: the underlying Prometheus
// types are already concurrency-safe.
type Collectors struct {
	PiecesDownloaded prometheus.Counter
	BytesDownloaded  prometheus.Counter
	ActivePeers      prometheus.Gauge
}

// New registers the collectors against a fresh registry so repeated test
// runs in the same process don't collide on the default global registry.
func New() (*Collectors, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		PiecesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leech_pieces_downloaded_total",
			Help: "Number of pieces verified and collected.",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leech_bytes_downloaded_total",
			Help: "Number of piece bytes verified and collected.",
		}),
		ActivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leech_active_peers",
			Help: "Number of peer sessions currently handshaked and running.",
		}),
	}
	reg.MustRegister(c.PiecesDownloaded, c.BytesDownloaded, c.ActivePeers)
	return c, reg
}

// Serve starts a blocking HTTP server exposing /metrics against reg. Callers
// run it in its own goroutine.
func Serve(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
