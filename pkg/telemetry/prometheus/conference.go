package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	promSessionStateGauge    *prometheus.GaugeVec
	promFeedGauge            prometheus.Gauge
	promFeedCounter          *prometheus.CounterVec
	promRenegotiationCounter *prometheus.CounterVec
)

func initConferenceStats(agentID string) {
	promSessionStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   confcoreNamespace,
		Subsystem:   "session",
		Name:        "state",
		ConstLabels: prometheus.Labels{"agent_id": agentID},
		Help:        "1 for the state the conference session is currently in, 0 otherwise.",
	}, []string{"state"})
	promFeedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   confcoreNamespace,
		Subsystem:   "feed",
		Name:        "total",
		ConstLabels: prometheus.Labels{"agent_id": agentID},
		Help:        "Remote feeds currently held by the registry.",
	})
	promFeedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   confcoreNamespace,
		Subsystem:   "feed",
		Name:        "events",
		ConstLabels: prometheus.Labels{"agent_id": agentID},
	}, []string{"event"})
	promRenegotiationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   confcoreNamespace,
		Subsystem:   "publisher",
		Name:        "renegotiations",
		ConstLabels: prometheus.Labels{"agent_id": agentID},
	}, []string{"outcome"})

	prometheus.MustRegister(promSessionStateGauge)
	prometheus.MustRegister(promFeedGauge)
	prometheus.MustRegister(promFeedCounter)
	prometheus.MustRegister(promRenegotiationCounter)
}

func RecordSessionState(from, to string) {
	if !initialized.Load() || from == to {
		return
	}
	promSessionStateGauge.WithLabelValues(from).Set(0)
	promSessionStateGauge.WithLabelValues(to).Set(1)
}

func AddFeed() {
	if !initialized.Load() {
		return
	}
	promFeedGauge.Add(1)
	promFeedCounter.WithLabelValues("added").Inc()
}

func SubFeed(event string) {
	if !initialized.Load() {
		return
	}
	promFeedGauge.Sub(1)
	promFeedCounter.WithLabelValues(event).Inc()
}

func RecordRenegotiation(outcome string) {
	if !initialized.Load() {
		return
	}
	promRenegotiationCounter.WithLabelValues(outcome).Inc()
}
