// Package metrics exposes prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/chat"
)

// Metrics holds the daemon's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted    *prometheus.CounterVec
	SessionsTerminated *prometheus.CounterVec
	Invitations        prometheus.Counter
	Messages           *prometheus.CounterVec
	DeliveryReports    *prometheus.CounterVec
	ReportFailures     prometheus.Counter
	SessionErrors      *prometheus.CounterVec
}

// NewMetrics registers the collectors under the given namespace. active
// reports the live session count and dropped the bus drop counter; either
// may be nil.
func NewMetrics(namespace string, active func() int, dropped func() uint64) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Chat sessions that reached the established state.",
		}, []string{"kind", "direction"}),
		SessionsTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_terminated_total",
			Help:      "Chat sessions terminated, by reason and failure code.",
		}, []string{"reason", "code"}),
		Invitations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invitations_total",
			Help:      "Incoming chat invitations.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Chat messages by outcome.",
		}, []string{"outcome"}),
		DeliveryReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_reports_total",
			Help:      "IMDN reports received, by status.",
		}, []string{"status"}),
		ReportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_report_failures_total",
			Help:      "Outgoing IMDN reports the transport could not deliver.",
		}),
		SessionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Failures a live session survived, by code.",
		}, []string{"code"}),
	}
	m.registry.MustRegister(
		m.SessionsStarted, m.SessionsTerminated, m.Invitations,
		m.Messages, m.DeliveryReports, m.ReportFailures, m.SessionErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if active != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Chat sessions currently registered.",
		}, func() float64 { return float64(active()) }))
	}
	if dropped != nil {
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_events_total",
			Help:      "Events dropped because a subscriber buffer was full.",
		}, func() float64 { return float64(dropped()) }))
	}
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe applies one bus event to the collectors.
func (m *Metrics) Observe(evt bus.Event) {
	switch evt.Kind {
	case bus.SessionStarted:
		if p, ok := evt.Payload.(chat.SessionEvent); ok {
			m.SessionsStarted.WithLabelValues(string(p.Kind), string(p.Direction)).Inc()
		}
	case bus.SessionTerminated:
		if p, ok := evt.Payload.(chat.SessionEvent); ok {
			m.SessionsTerminated.WithLabelValues(string(p.Reason), string(p.Code)).Inc()
		}
	case bus.SessionInvited:
		m.Invitations.Inc()
	case bus.MessageReceived:
		m.Messages.WithLabelValues("received").Inc()
	case bus.MessageSent:
		m.Messages.WithLabelValues("sent").Inc()
	case bus.MessageSendFailed:
		m.Messages.WithLabelValues("failed").Inc()
	case bus.DeliveryStatus:
		if p, ok := evt.Payload.(chat.DeliveryEvent); ok {
			m.DeliveryReports.WithLabelValues(string(p.Status)).Inc()
		}
	case bus.DeliveryReportFailed:
		m.ReportFailures.Inc()
	case bus.SessionError:
		if p, ok := evt.Payload.(chat.ErrorEvent); ok {
			m.SessionErrors.WithLabelValues(string(p.Code)).Inc()
		}
	}
}

// Run consumes chat events until ctx is cancelled.
func (m *Metrics) Run(ctx context.Context, b *bus.Bus) {
	ch, unsub := b.Subscribe(bus.NamespaceChat, 256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			m.Observe(evt)
		}
	}
}
