package prometheus

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	// no-ops until initialised
	AddFeed()
	RecordError("test")

	Init("agent-1")
	Init("agent-1")

	RecordSessionState("idle", "connecting")
	RecordSessionState("connecting", "connected")
	require.Equal(t, float64(0), testutil.ToFloat64(promSessionStateGauge.WithLabelValues("connecting")))
	require.Equal(t, float64(1), testutil.ToFloat64(promSessionStateGauge.WithLabelValues("connected")))

	AddFeed()
	AddFeed()
	SubFeed("lost")
	require.Equal(t, float64(1), testutil.ToFloat64(promFeedGauge))
	require.Equal(t, float64(1), testutil.ToFloat64(promFeedCounter.WithLabelValues("lost")))

	RecordRenegotiation("degraded")
	require.Equal(t, float64(1), testutil.ToFloat64(promRenegotiationCounter.WithLabelValues("degraded")))

	RecordSignallingRequest("join", "success")
	RecordMediaStateMessage("in")
	RecordError("room_not_found")
	require.Equal(t, float64(1), testutil.ToFloat64(ErrorCounter.WithLabelValues("room_not_found")))

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["confcore_host_cpu_load"])
	require.True(t, names["confcore_signalling_requests"])
}

func TestCPUSampler(t *testing.T) {
	samples := []cpuSample{
		{total: 1000, idle: 800},
		{total: 2000, idle: 1050},
		{total: 2000, idle: 1050},
	}
	var readErr error
	s := &cpuSampler{read: func() (cpuSample, error) {
		if readErr != nil {
			return cpuSample{}, readErr
		}
		next := samples[0]
		samples = samples[1:]
		return next, nil
	}}

	// first read primes the counters
	load, err := s.load()
	require.NoError(t, err)
	require.Zero(t, load)

	load, err = s.load()
	require.NoError(t, err)
	require.InDelta(t, 0.75, load, 0.0001)

	// counters did not advance
	load, err = s.load()
	require.NoError(t, err)
	require.Zero(t, load)

	readErr = errors.New("no cpu stats")
	_, err = s.load()
	require.Error(t, err)
}
