// Package metric holds the Prometheus metrics of device sessions and
// transfers. A nil *Metrics is valid and records nothing.
package metric

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pairlink"

// Drop reasons.
const (
	DropMalformed = "malformed"
	DropUnpaired  = "unpaired"
	DropUnrouted  = "unrouted"
	DropInvalid   = "invalid"
)

type Metrics struct {
	PacketsReceived  *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	PacketsSent      *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	Sessions         *prometheus.GaugeVec
	Transfers        *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		PacketsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "received_total",
				Help:      "Packets dispatched to capabilities, by type",
			},
			[]string{"type"},
		),
		PacketsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "dropped_total",
				Help:      "Inbound packets dropped before dispatch, by reason",
			},
			[]string{"reason"},
		),
		PacketsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "sent_total",
				Help:      "Packets written to a channel, by type",
			},
			[]string{"type"},
		),
		DeliveryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "delivery_failures_total",
				Help:      "Queued packets that could not be delivered, by type",
			},
			[]string{"type"},
		),
		Sessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sessions",
				Name:      "current",
				Help:      "Device sessions by state",
			},
			[]string{"state"},
		),
		Transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfers",
				Name:      "total",
				Help:      "Finished payload transfers, by status (ok/failed/cancelled)",
			},
			[]string{"status"},
		),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.PacketsReceived,
		m.PacketsDropped,
		m.PacketsSent,
		m.DeliveryFailures,
		m.Sessions,
		m.Transfers,
	} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register metric failed: %w", err)
		}
	}
	return nil
}

// PoolStats is implemented by workerpool.Pool.
type PoolStats interface {
	Stats() (queued, running int)
}

// RegisterPool exports the queue length and running jobs of a worker pool.
func RegisterPool(reg prometheus.Registerer, name string, pool PoolStats) error {
	queued := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "workerpool",
		Name:        "queued_jobs",
		Help:        "Jobs waiting for a worker",
		ConstLabels: prometheus.Labels{"pool": name},
	}, func() float64 {
		q, _ := pool.Stats()
		return float64(q)
	})
	running := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "workerpool",
		Name:        "running_jobs",
		Help:        "Jobs being run",
		ConstLabels: prometheus.Labels{"pool": name},
	}, func() float64 {
		_, r := pool.Stats()
		return float64(r)
	})
	for _, c := range []prometheus.Collector{queued, running} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register pool metric failed: %w", err)
		}
	}
	return nil
}

func (m *Metrics) Received(typ string) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(typ).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Sent(typ string) {
	if m == nil {
		return
	}
	m.PacketsSent.WithLabelValues(typ).Inc()
}

func (m *Metrics) DeliveryFailed(typ string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(typ).Inc()
}

// SessionState moves one session from state from to state to. An empty
// state is not counted.
func (m *Metrics) SessionState(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.Sessions.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.Sessions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) TransferFinished(status string) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(status).Inc()
}
