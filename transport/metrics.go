package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luma/lantern/protocol"
)

// Metrics are the transport's prometheus collectors.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	FramesDecoded       prometheus.Counter
	FramesEncoded       prometheus.Counter
	ProtocolErrors      *prometheus.CounterVec
	Commands            *prometheus.CounterVec
	Panics              prometheus.Counter
}

// NewMetrics creates the transport collectors and registers them with reg. A
// nil reg leaves them unregistered, which is handy in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lantern",
			Name:      "connections_accepted_total",
			Help:      "Client connections accepted.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lantern",
			Name:      "connections_active",
			Help:      "Client connections currently open.",
		}),
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lantern",
			Name:      "frames_decoded_total",
			Help:      "Frames read from clients.",
		}),
		FramesEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lantern",
			Name:      "frames_encoded_total",
			Help:      "Frames written to clients.",
		}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lantern",
			Name:      "protocol_errors_total",
			Help:      "Connections closed because the client violated the protocol.",
		}, []string{"kind"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lantern",
			Name:      "commands_total",
			Help:      "Commands executed, by name.",
		}, []string{"command"}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lantern",
			Name:      "connection_panics_total",
			Help:      "Connections closed because serving them panicked.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectionsAccepted,
			m.ConnectionsActive,
			m.FramesDecoded,
			m.FramesEncoded,
			m.ProtocolErrors,
			m.Commands,
			m.Panics,
		)
	}

	return m
}

func (m *Metrics) protocolError(err error) {
	m.ProtocolErrors.WithLabelValues(protocol.ErrorKind(err)).Inc()
}
