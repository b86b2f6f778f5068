package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Command outcomes.
const (
	OutcomeAccepted     = "accepted"
	OutcomeRemoteError  = "remote_error"
	OutcomeTimeout      = "timeout"
	OutcomeDisconnected = "disconnected"
	OutcomeCanceled     = "canceled"
	OutcomeSendFailed   = "send_failed"
)

// Metrics groups the Prometheus collectors of the OCPP server. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	messages         *prometheus.CounterVec
	commands         *prometheus.CounterVec
	commandLatency   *prometheus.HistogramVec
	connections      prometheus.Gauge
	meterRegressions prometheus.Counter
}

// New registers the collectors on reg. A nil registerer defaults to the global one and
// collectors already registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_messages_total",
			Help: "OCPP frames processed by direction, message type and action",
		}, []string{"direction", "type", "action"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_commands_total",
			Help: "Server initiated commands by action and outcome",
		}, []string{"action", "outcome"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ocpp_command_latency_seconds",
			Help:    "Time between command send and resolution",
			Buckets: prometheus.DefBuckets,
		}, []string{"action", "outcome"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ocpp_connected_stations",
			Help: "Number of stations with a live connection",
		}),
		meterRegressions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocpp_meter_regressions_total",
			Help: "Cumulative energy readings rejected because they went backwards",
		}),
	}

	var err error
	if m.messages, err = register(reg, m.messages); err != nil {
		return nil, err
	}
	if m.commands, err = register(reg, m.commands); err != nil {
		return nil, err
	}
	if m.commandLatency, err = register(reg, m.commandLatency); err != nil {
		return nil, err
	}
	if m.connections, err = register(reg, m.connections); err != nil {
		return nil, err
	}
	if m.meterRegressions, err = register(reg, m.meterRegressions); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// MessageProcessed counts one frame.
func (m *Metrics) MessageProcessed(direction, msgType, action string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(direction, msgType, action).Inc()
}

// CommandResolved records the outcome and latency of a server initiated command.
func (m *Metrics) CommandResolved(action, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(action, outcome).Inc()
	m.commandLatency.WithLabelValues(action, outcome).Observe(latency.Seconds())
}

// SetConnections sets the connected station gauge.
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// MeterRegression counts a rejected energy reading.
func (m *Metrics) MeterRegression() {
	if m == nil {
		return
	}
	m.meterRegressions.Inc()
}
