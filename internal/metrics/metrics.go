// Package metrics defines all Prometheus metrics for failoverd.
// All metrics use the "failoverd_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "failoverd"

// --- FSM state metrics ---

var (
	// State reports the current Secondary state machine state as a labeled
	// gauge (1 = current). Labels: state, role.
	State = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "state",
		Help:      "Current failover state (1 = current). Labels: state, role.",
	}, []string{"state", "role"})

	// Active reports 1 when this node is serving as the active peer, 0 otherwise.
	Active = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active",
		Help:      "1 if this node is currently the active peer, 0 otherwise.",
	})

	// StateTransitions counts every FSM transition, by from/to state.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_transitions_total",
		Help:      "Total failover state transitions, by from and to state.",
	}, []string{"from", "to"})
)

// --- Control channel metrics ---

var (
	// HandshakesSent counts handshakes sent by the Primary.
	HandshakesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshakes_sent_total",
		Help:      "Total handshakes sent to the Secondary.",
	})

	// HandshakesReceived counts handshakes received by the Secondary.
	HandshakesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshakes_received_total",
		Help:      "Total handshakes received from the Primary.",
	})

	// RegisterAttempts counts Register requests received by the Primary, by outcome.
	RegisterAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "register_attempts_total",
		Help:      "Total Register requests received by the Primary, by outcome (accepted, busy).",
	}, []string{"outcome"})

	// ConnectFailures counts failed connect attempts to the peer, by purpose.
	ConnectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_failures_total",
		Help:      "Total failed connection attempts to the peer, by purpose (register, takeover_probe).",
	}, []string{"purpose"})
)

// --- Takeover / fencing metrics ---

var (
	// TakeoverAttempts counts Secondary takeover attempts, by outcome.
	TakeoverAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "takeover_attempts_total",
		Help:      "Total takeover attempts, by outcome (fencing_failed, primary_returned, succeeded).",
	}, []string{"outcome"})

	// FencingInvocations counts fencing (STONITH) invocations, by result.
	FencingInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fencing_invocations_total",
		Help:      "Total fencing invocations, by result (success, failure, skipped).",
	}, []string{"result"})

	// FencingDuration tracks fencing subprocess latency.
	FencingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fencing_duration_seconds",
		Help:      "Fencing subprocess duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	// PrimaryReturns counts successful takeover-from-secondary runs.
	PrimaryReturns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "primary_returns_total",
		Help:      "Total times a restarting Primary successfully reclaimed the active role.",
	})
)

// --- Event bus metrics ---

var (
	// EventsPublished counts events published to the bus.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total events published to the event bus.",
	}, []string{"event_type"})

	// EventBufferDrops counts events dropped due to a full buffer.
	EventBufferDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_buffer_drops_total",
		Help:      "Total events dropped due to full event bus buffer.",
	})
)

// --- Process info ---

var (
	// ServerStartTime tracks process start time as a unix timestamp.
	ServerStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "start_time_seconds",
		Help:      "Process start time as Unix timestamp.",
	})
)
