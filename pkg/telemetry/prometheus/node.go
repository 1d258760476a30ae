package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	confcoreNamespace string = "confcore"
)

var (
	initialized atomic.Bool

	SignallingRequestCounter *prometheus.CounterVec
	MediaStateMessageCounter *prometheus.CounterVec
	ErrorCounter             *prometheus.CounterVec
)

// Init registers all collectors once. Recording before Init is a no-op, which
// keeps library users and tests free of global registration.
func Init(agentID string) {
	if initialized.Load() {
		return
	}

	SignallingRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   confcoreNamespace,
			Subsystem:   "signalling",
			Name:        "requests",
			ConstLabels: prometheus.Labels{"agent_id": agentID},
		},
		[]string{"type", "status"},
	)

	MediaStateMessageCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   confcoreNamespace,
			Subsystem:   "media_state",
			Name:        "messages",
			ConstLabels: prometheus.Labels{"agent_id": agentID},
		},
		[]string{"direction"},
	)

	ErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   confcoreNamespace,
			Subsystem:   "conference",
			Name:        "errors",
			ConstLabels: prometheus.Labels{"agent_id": agentID},
		},
		[]string{"kind"},
	)

	prometheus.MustRegister(SignallingRequestCounter)
	prometheus.MustRegister(MediaStateMessageCounter)
	prometheus.MustRegister(ErrorCounter)

	initConferenceStats(agentID)
	initHostStats(agentID)

	initialized.Store(true)
}

func RecordSignallingRequest(requestType, status string) {
	if !initialized.Load() {
		return
	}
	SignallingRequestCounter.WithLabelValues(requestType, status).Inc()
}

func RecordMediaStateMessage(direction string) {
	if !initialized.Load() {
		return
	}
	MediaStateMessageCounter.WithLabelValues(direction).Inc()
}

func RecordError(kind string) {
	if !initialized.Load() {
		return
	}
	ErrorCounter.WithLabelValues(kind).Inc()
}
