// Package prompush pushes transfer metrics to a Prometheus Pushgateway.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/johndauphine/chxfer/internal/metrics"
)

// Backend implements metrics.Backend on a private registry that is pushed to
// the gateway on Flush.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	transfers *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	rows      *prometheus.CounterVec
	batches   *prometheus.CounterVec
}

// NewBackend builds a backend pushing to gatewayURL under jobName.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "chxfer"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.TransfersTotal,
			Help: "Finished transfers by direction and terminal status.",
		}, []string{"direction", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.TransferSeconds,
			Help:    "Wall time of finished transfers.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"direction", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows by direction and kind (written, parse_errors).",
		}, []string{"direction", "kind"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Committed batches by direction.",
		}, []string{"direction"}),
	}

	for _, c := range []prometheus.Collector{b.transfers, b.duration, b.rows, b.batches} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}
	return b, nil
}

// Gatherer exposes the registry.
func (b *Backend) Gatherer() prometheus.Gatherer { return b.reg }

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.TransfersTotal:
		b.transfers.WithLabelValues(labels["direction"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(labels["direction"], labels["kind"]).Add(delta)
	case metrics.BatchesTotal:
		b.batches.WithLabelValues(labels["direction"]).Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.TransferSeconds {
		return
	}
	b.duration.WithLabelValues(labels["direction"], labels["status"]).Observe(value)
}

// Flush pushes the registry to the gateway, replacing the job's group.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push()
}
