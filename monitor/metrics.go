// Package monitor exposes the engine's Prometheus metrics.
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics collects the per-cycle counters and gauges the engine reports.
type Metrics struct {
	Cycles       prometheus.Counter
	Requotes     *prometheus.CounterVec
	SubmitErrors *prometheus.CounterVec
	FeedErrors   *prometheus.CounterVec
	FairValue    *prometheus.GaugeVec
	Position     *prometheus.GaugeVec
	Throughput   prometheus.Gauge
}

// New registers the engine metrics on reg. Pass
// prometheus.DefaultRegisterer in binaries; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "quoter_cycles_total",
			Help: "Completed control loop cycles",
		}),
		Requotes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quoter_requotes_total",
			Help: "Cancel-then-replace batches submitted",
		}, []string{"market"}),
		SubmitErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quoter_submit_errors_total",
			Help: "Failed transaction submissions",
		}, []string{"market"}),
		FeedErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quoter_feed_errors_total",
			Help: "Reference depth fetch failures",
		}, []string{"market"}),
		FairValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quoter_fair_value",
			Help: "Latest computed fair value",
		}, []string{"market"}),
		Position: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quoter_base_position",
			Help: "Signed base position",
		}, []string{"market"}),
		Throughput: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quoter_ledger_tps",
			Help: "Recent ledger throughput, transactions per second",
		}),
	}
}

// Serve starts the metrics endpoint; empty addr disables it. A failed
// listen is logged rather than fatal so a bad metricsAddr cannot take the
// quoting loop down with it.
func Serve(addr string, log *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server failed",
				zap.String("addr", addr), zap.Error(err))
		}
	}()
}
