package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveConversations prometheus.Gauge
	ConversationEvents  *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	ProviderErrors      *prometheus.CounterVec
	QuotaWarnings       *prometheus.CounterVec
	ExemptWords         *prometheus.CounterVec
	TurnLatency         prometheus.Histogram
	CaptureDrops        prometheus.Counter

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveConversations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of conversations begun and not yet ended.",
		}),
		ConversationEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Conversation engine events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Backend errors by provider and stage.",
		}, []string{"provider", "stage"}),
		QuotaWarnings: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_warnings_total",
			Help:      "Daily word quota warnings shown, by level.",
		}, []string{"level"}),
		ExemptWords: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exempt_words_total",
			Help:      "Words spoken by callers excluded from the daily quota, by caller kind.",
		}, []string{"kind"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_response_latency_ms",
			Help:      "Time from end of user speech to start of assistant playback in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 1500, 2000, 3000, 5000, 8000},
		}),
		CaptureDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_events_dropped_total",
			Help:      "Audio data events skipped because the engine was backed up.",
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.ConversationEvents.WithLabelValues(name).Inc()
}

// ConversationOpened and ConversationClosed track the active conversation gauge.
func (m *Metrics) ConversationOpened() {
	if m == nil {
		return
	}
	m.ActiveConversations.Inc()
}

func (m *Metrics) ConversationClosed() {
	if m == nil {
		return
	}
	m.ActiveConversations.Dec()
}

func (m *Metrics) ProviderError(provider, stage string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, stage).Inc()
}

func (m *Metrics) QuotaWarning(level string) {
	if m == nil {
		return
	}
	m.QuotaWarnings.WithLabelValues(level).Inc()
}

func (m *Metrics) AddExemptWords(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExemptWords.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) CaptureDropped() {
	if m == nil {
		return
	}
	m.CaptureDrops.Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// ObserveTurnLatency records the end-of-speech to first-playback latency.
func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.TurnLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageTurnTotal, float64(d.Milliseconds()))
}

// ObserveStage records a per-stage latency sample in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
