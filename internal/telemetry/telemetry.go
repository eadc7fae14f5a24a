// Package telemetry exposes RADSAT's operational metrics — distinct
// from the spacecraft telemetry pushed over the wire protocol — as
// Prometheus counters and gauges, served over an admin HTTP mux.
// Grounded on virtengine's per-subsystem metrics.go convention
// (pkg/verification/metrics, pkg/enclave/keeper/metrics.go): a small
// struct of promauto-registered instruments plus one constructor.
package telemetry

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter and gauge RADSAT exports, plus the
// private registry they're bound to (one per process, not the global
// default registry, so multiple Firmware instances in the same test
// binary never collide on metric registration).
type Metrics struct {
	reg *prometheus.Registry

	BitFlipsInjected   prometheus.Counter
	PagesScrubbed      prometheus.Counter
	PagesRepaired      prometheus.Counter
	PagesFaulted       prometheus.Counter
	CheckpointRestarts prometheus.Counter
	ModulesUploaded    prometheus.Counter
	ModulesExecuted    *prometheus.CounterVec // labeled "ok"/"fault"
	LiveSessions       prometheus.Gauge
}

// New constructs RADSAT's metrics, namespaced "radsat", against a fresh
// private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	promauto := promauto.With(reg)
	return &Metrics{
		reg: reg,
		BitFlipsInjected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "radsat",
			Subsystem: "executive",
			Name:      "bit_flips_injected_total",
			Help:      "Total single-event-upset bit flips injected into firmware RAM.",
		}),
		PagesScrubbed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "radsat",
			Subsystem: "memmodel",
			Name:      "pages_scrubbed_total",
			Help:      "Total protected pages scanned by the scrubber.",
		}),
		PagesRepaired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "radsat",
			Subsystem: "memmodel",
			Name:      "pages_repaired_total",
			Help:      "Total protected pages whose majority value was reimposed on a mismatched copy.",
		}),
		PagesFaulted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "radsat",
			Subsystem: "memmodel",
			Name:      "pages_faulted_total",
			Help:      "Total protected pages observed with no validating copy.",
		}),
		CheckpointRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "radsat",
			Subsystem: "checkpoint",
			Name:      "restarts_total",
			Help:      "Total checkpoint restores triggered by scrubber fault-window escalation.",
		}),
		ModulesUploaded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "radsat",
			Subsystem: "module",
			Name:      "uploads_total",
			Help:      "Total module upload commands processed.",
		}),
		ModulesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radsat",
			Subsystem: "module",
			Name:      "executions_total",
			Help:      "Total module execute commands, by outcome.",
		}, []string{"outcome"}),
		LiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "radsat",
			Subsystem: "session",
			Name:      "live_sessions",
			Help:      "Number of firmware sessions with an active client connection.",
		}),
	}
}

// RecordScrubPass folds one scrubber pass's stats into the counters.
func (m *Metrics) RecordScrubPass(scanned, repaired, faulted int) {
	m.PagesScrubbed.Add(float64(scanned))
	m.PagesRepaired.Add(float64(repaired))
	m.PagesFaulted.Add(float64(faulted))
}

// Router builds the admin HTTP surface: /metrics for Prometheus scrape,
// /healthz for a liveness probe. Grounded on virtengine's gorilla/mux
// route registration style used throughout its cmd/ HTTP servers.
func (m *Metrics) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Serve runs the admin HTTP server until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: m.Router()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
