// Package metrics holds the Prometheus collectors of the ironmq client.
//
// A nil *Metrics is valid and records nothing, so library code can call the
// recording methods unconditionally.
//
//	ironmq_requests_total{method,status}          requests sent, by final outcome
//	ironmq_request_duration_seconds{method}       wall time including backoff
//	ironmq_retries_total{method}                  backoff retries scheduled
//	ironmq_polls_total{queue,result}              poller ticks: message / empty / error
//	ironmq_consumed_total{queue,outcome}          consumer calls: ok / failed / panic
//	ironmq_deleted_total{queue}                   messages deleted after consumption
//	ironmq_pollers_active                         pollers currently running
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ironmq"

// Poll results.
const (
	PollMessage = "message"
	PollEmpty   = "empty"
	PollError   = "error"
)

// Consumer outcomes.
const (
	ConsumeOK     = "ok"
	ConsumeFailed = "failed"
	ConsumePanic  = "panic"
)

// Metrics is the set of client collectors.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	polls           *prometheus.CounterVec
	consumed        *prometheus.CounterVec
	deleted         *prometheus.CounterVec
	pollers         prometheus.Gauge
}

// New creates the collectors and registers them with reg. A collector that is
// already registered is reused, so two clients can share one registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests sent to the queue service by method and final status.",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds, backoff sleeps included.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5, 15, 30, 60, 300},
		}, []string{"method"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Backoff retries scheduled by method.",
		}, []string{"method"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Poller ticks by queue and result.",
		}, []string{"queue", "result"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumed_total",
			Help:      "Messages handed to a consumer by queue and outcome.",
		}, []string{"queue", "outcome"}),
		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deleted_total",
			Help:      "Messages deleted after successful consumption.",
		}, []string{"queue"}),
		pollers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pollers_active",
			Help:      "Pollers currently running.",
		}),
	}

	var err error
	m.requests, err = register(reg, m.requests)
	if err != nil {
		return nil, err
	}
	if m.requestDuration, err = register(reg, m.requestDuration); err != nil {
		return nil, err
	}
	if m.retries, err = register(reg, m.retries); err != nil {
		return nil, err
	}
	if m.polls, err = register(reg, m.polls); err != nil {
		return nil, err
	}
	if m.consumed, err = register(reg, m.consumed); err != nil {
		return nil, err
	}
	if m.deleted, err = register(reg, m.deleted); err != nil {
		return nil, err
	}
	if m.pollers, err = register(reg, m.pollers); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveRequest records one logical request. status is the HTTP status
// code as text, or "error" when no response was obtained.
func (m *Metrics) ObserveRequest(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, status).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// IncRetry records a scheduled backoff retry.
func (m *Metrics) IncRetry(method string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(method).Inc()
}

// IncPoll records a poller tick.
func (m *Metrics) IncPoll(queue, result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(queue, result).Inc()
}

// IncConsumed records a consumer call.
func (m *Metrics) IncConsumed(queue, outcome string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(queue, outcome).Inc()
}

// IncDeleted records a delete after successful consumption.
func (m *Metrics) IncDeleted(queue string) {
	if m == nil {
		return
	}
	m.deleted.WithLabelValues(queue).Inc()
}

// PollerStarted and PollerStopped track the active poller gauge.
func (m *Metrics) PollerStarted() {
	if m == nil {
		return
	}
	m.pollers.Inc()
}

func (m *Metrics) PollerStopped() {
	if m == nil {
		return
	}
	m.pollers.Dec()
}
