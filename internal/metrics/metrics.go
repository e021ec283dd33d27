package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callscope"

// Poll results.
const (
	PollOK          = "ok"
	PollError       = "error"
	PollRateLimited = "rate_limited"
)

// Metrics owns its registry so tests can build independent instances.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	polls           *prometheus.CounterVec
	pollDelay       prometheus.Gauge
	events          *prometheus.CounterVec
	activeCalls     prometheus.Gauge
	merges          *prometheus.CounterVec
	analyses        *prometheus.CounterVec
	analysisLatency *prometheus.HistogramVec
	analysisQueued  prometheus.Gauge
	streamClients   prometheus.Gauge
	webhookMessages *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Conversation history polls by result",
		}, []string{"result"}),
		pollDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_delay_seconds",
			Help:      "Current delay before the next history poll",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Conversation events emitted by kind",
		}, []string{"kind"}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Conversations currently tracked as active",
		}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_merges_total",
			Help:      "Handoff chains merged into one call",
		}, []string{"partial"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Call analyses by source",
		}, []string{"source"}),
		analysisLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent producing analytics",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 11),
		}, []string{"source"}),
		analysisQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analysis_queue_depth",
			Help:      "Calls waiting for analysis",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected websocket clients",
		}),
		webhookMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_messages_total",
			Help:      "Pushed vendor messages by kind",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.polls, m.pollDelay, m.events, m.activeCalls, m.merges,
		m.analyses, m.analysisLatency, m.analysisQueued, m.streamClients, m.webhookMessages,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Poll(result string, next time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
	m.pollDelay.Set(next.Seconds())
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) ActiveConversations(n int) {
	if m == nil {
		return
	}
	m.activeCalls.Set(float64(n))
}

func (m *Metrics) Merge(partial bool) {
	if m == nil {
		return
	}
	label := "false"
	if partial {
		label = "true"
	}
	m.merges.WithLabelValues(label).Inc()
}

func (m *Metrics) Analysis(source string, took time.Duration) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(source).Inc()
	m.analysisLatency.WithLabelValues(source).Observe(took.Seconds())
}

func (m *Metrics) AnalysisQueueDepth(n int) {
	if m == nil {
		return
	}
	m.analysisQueued.Set(float64(n))
}

func (m *Metrics) StreamClients(n int) {
	if m == nil {
		return
	}
	m.streamClients.Set(float64(n))
}

func (m *Metrics) WebhookMessage(kind string) {
	if m == nil {
		return
	}
	m.webhookMessages.WithLabelValues(kind).Inc()
}
