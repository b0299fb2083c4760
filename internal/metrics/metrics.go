// Package metrics exposes Prometheus instrumentation for the relay server:
// connection churn, auth outcomes, chat volume, and file-negotiation
// counts. It is wired into an HTTP /metrics endpoint by cmd/server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the server updates. A nil *Metrics is
// not valid; use New to construct one. server.New substitutes a fresh
// instance automatically when called with a nil Metrics.
type Metrics struct {
	reg *prometheus.Registry

	connectionsAccepted prometheus.Counter
	sessionsActive      prometheus.Gauge
	loginAttempts       *prometheus.CounterVec
	registerAttempts    *prometheus.CounterVec
	framesMalformed     prometheus.Counter
	framesTimedOut      prometheus.Counter
	chatMessages        *prometheus.CounterVec
	fileNegotiations    *prometheus.CounterVec
}

// New constructs a Metrics bundle and registers its collectors with a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "connections_accepted_total",
			Help:      "Total TCP connections accepted by the relay server.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaychat",
			Name:      "sessions_active",
			Help:      "Currently authenticated sessions in the registry.",
		}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"result"}),
		registerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "register_attempts_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"result"}),
		framesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "frames_malformed_total",
			Help:      "Frames rejected as malformed.",
		}),
		framesTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "frames_timed_out_total",
			Help:      "Frame reads that exceeded the per-frame deadline.",
		}),
		chatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "chat_messages_total",
			Help:      "Chat messages relayed, by kind.",
		}, []string{"kind"}),
		fileNegotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "file_negotiations_total",
			Help:      "File transfer negotiations, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.connectionsAccepted,
		m.sessionsActive,
		m.loginAttempts,
		m.registerAttempts,
		m.framesMalformed,
		m.framesTimedOut,
		m.chatMessages,
		m.fileNegotiations,
	)
	return m
}

// Registry returns the Prometheus registry backing m, for wiring into an
// HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ConnectionAccepted records a newly accepted TCP connection.
func (m *Metrics) ConnectionAccepted() { m.connectionsAccepted.Inc() }

// LoginResult records a login attempt outcome ("ok" or "fail").
func (m *Metrics) LoginResult(ok bool) {
	m.loginAttempts.WithLabelValues(resultLabel(ok)).Inc()
	if ok {
		m.sessionsActive.Inc()
	}
}

// RegisterResult records a registration attempt outcome ("ok" or "fail").
func (m *Metrics) RegisterResult(ok bool) {
	m.registerAttempts.WithLabelValues(resultLabel(ok)).Inc()
}

// SessionClosed records an authenticated session leaving the registry.
func (m *Metrics) SessionClosed(username string) {
	if username != "" {
		m.sessionsActive.Dec()
	}
}

// FrameMalformed records a frame rejected by the codec.
func (m *Metrics) FrameMalformed() { m.framesMalformed.Inc() }

// FrameTimedOut records a frame read that exceeded its deadline.
func (m *Metrics) FrameTimedOut() { m.framesTimedOut.Inc() }

// ChatMessage records a relayed chat message ("private" or "broadcast").
func (m *Metrics) ChatMessage(kind string) { m.chatMessages.WithLabelValues(kind).Inc() }

// FileNegotiation records a file_request/file_response outcome ("accept",
// "deny", or "peer_absent").
func (m *Metrics) FileNegotiation(outcome string) { m.fileNegotiations.WithLabelValues(outcome).Inc() }

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
