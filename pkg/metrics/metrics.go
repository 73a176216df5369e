// Package metrics registers and exposes the Prometheus counters and gauges
// that describe installer transfer activity and transport health.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	initOnce sync.Once
	enabled  bool
	registry *prometheus.Registry

	TransfersTotal           *prometheus.CounterVec
	BytesStreamedTotal       prometheus.Counter
	CurrentTransferBytes     prometheus.Gauge
	TransportReconnectsTotal prometheus.Counter
	TransportErrorsTotal     *prometheus.CounterVec
)

// Init registers every installer metric against a fresh registry. Safe to
// call more than once: subsequent calls are no-ops, so test setup can call
// it freely without triggering a duplicate-registration panic.
func Init() {
	initOnce.Do(func() {
		enabled = true
		registry = prometheus.NewRegistry()

		TransfersTotal = promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "installer_transfers_total",
				Help: "Total number of completed FILE_RANGE transactions by result",
			},
			[]string{"result"}, // ok, file_not_found, error
		)

		BytesStreamedTotal = promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "installer_bytes_streamed_total",
				Help: "Total number of file bytes streamed to the Switch",
			},
		)

		CurrentTransferBytes = promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "installer_current_transfer_bytes",
				Help: "Bytes sent so far for the file currently streaming",
			},
		)

		TransportReconnectsTotal = promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "installer_transport_reconnects_total",
				Help: "Total number of USB reconnect attempts",
			},
		)

		TransportErrorsTotal = promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "installer_transport_errors_total",
				Help: "Total number of classified transport errors by kind",
			},
			[]string{"kind"},
		)
	})
}

// IsEnabled reports whether Init has run.
func IsEnabled() bool {
	return enabled
}

// GetRegistry returns the registry metrics are registered against, or nil
// if Init has not been called.
func GetRegistry() *prometheus.Registry {
	return registry
}
