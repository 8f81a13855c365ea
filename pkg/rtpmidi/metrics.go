package rtpmidi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures Metrics. A nil or zero-value config (via
// NewMetrics(MetricsConfig{})) disables collection entirely, so callers
// that don't care about metrics never pay for Prometheus registration.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
	Subsystem string
}

// DefaultMetricsConfig enables metrics under namespace "rtpmidi".
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, Namespace: "rtpmidi", Subsystem: "endpoint"}
}

// Metrics holds the Prometheus collectors for one Endpoint. All methods
// are safe to call on a disabled Metrics (they become no-ops), so
// Endpoint code never has to branch on whether metrics are turned on.
type Metrics struct {
	enabled bool

	invitesSent     prometheus.Counter
	invitesReceived *prometheus.CounterVec // label "result": accepted|refused
	clockSyncs      prometheus.Counter
	queueDrops      prometheus.Counter
	connectionLoss  prometheus.Counter
	midiDecoded     prometheus.Counter
	sysexOverflow   prometheus.Counter
	resyncSent      prometheus.Counter
	resyncReceived  prometheus.Counter
	latencyGauge    prometheus.Gauge
	sessionState    *prometheus.GaugeVec // label "state"
}

// NewMetrics builds a Metrics collector. With Enabled: false it returns
// a Metrics whose methods are all no-ops and which registers nothing
// with Prometheus.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{enabled: false}
	}

	factory := promauto.With(prometheus.DefaultRegisterer)
	m := &Metrics{
		enabled: true,
		invitesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "invites_sent_total",
			Help:      "Number of IN invitations sent by this endpoint.",
		}),
		invitesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "invites_received_total",
			Help:      "Number of invitations received, by outcome.",
		}, []string{"result"}),
		clockSyncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "clock_syncs_total",
			Help:      "Number of completed CK clock-synchronization exchanges.",
		}),
		queueDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "queue_drops_total",
			Help:      "Number of SendMIDIBlock calls rejected because the outbound ring was full.",
		}),
		connectionLoss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "connection_loss_total",
			Help:      "Number of times the session was torn down due to keep-alive loss.",
		}),
		midiDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "midi_messages_decoded_total",
			Help:      "Number of MIDI messages (including reassembled SysEx) delivered to the handler.",
		}),
		sysexOverflow: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "sysex_overflow_total",
			Help:      "Number of inbound SysEx messages truncated for exceeding SysExInSize.",
		}),
		resyncSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "resync_sent_total",
			Help:      "Number of RS feedback packets sent reporting a newly received data-channel sequence number.",
		}),
		resyncReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "resync_received_total",
			Help:      "Number of RS feedback packets received from the peer.",
		}),
		latencyGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "latency_100us",
			Help:      "Most recent round-trip latency estimate, in 100 microsecond units.",
		}),
		sessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "session_state",
			Help:      "1 if the endpoint currently reports the given state, else 0.",
		}, []string{"state"}),
	}
	return m
}

func (m *Metrics) InviteSent() {
	if m.enabled {
		m.invitesSent.Inc()
	}
}

func (m *Metrics) InviteReceived(accepted bool) {
	if !m.enabled {
		return
	}
	result := "refused"
	if accepted {
		result = "accepted"
	}
	m.invitesReceived.WithLabelValues(result).Inc()
}

func (m *Metrics) ClockSync() {
	if m.enabled {
		m.clockSyncs.Inc()
	}
}

func (m *Metrics) QueueDrop() {
	if m.enabled {
		m.queueDrops.Inc()
	}
}

func (m *Metrics) ConnectionLost() {
	if m.enabled {
		m.connectionLoss.Inc()
	}
}

func (m *Metrics) MIDIDecoded() {
	if m.enabled {
		m.midiDecoded.Inc()
	}
}

func (m *Metrics) SysExOverflow() {
	if m.enabled {
		m.sysexOverflow.Inc()
	}
}

func (m *Metrics) ResyncSent() {
	if m.enabled {
		m.resyncSent.Inc()
	}
}

func (m *Metrics) ResyncReceived() {
	if m.enabled {
		m.resyncReceived.Inc()
	}
}

func (m *Metrics) SetLatency(v uint32) {
	if m.enabled {
		m.latencyGauge.Set(float64(v))
	}
}

func (m *Metrics) SetState(state SessionState) {
	if !m.enabled {
		return
	}
	for _, s := range allSessionStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		m.sessionState.WithLabelValues(s.String()).Set(value)
	}
}
