package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type cpuSample struct {
	total uint64
	idle  uint64
}

// cpuSampler turns the cumulative cpu counters into utilisation since the
// previous read. The first read only primes it and reports zero.
type cpuSampler struct {
	read func() (cpuSample, error)

	lock sync.Mutex
	last cpuSample
}

func (s *cpuSampler) load() (float64, error) {
	cur, err := s.read()
	if err != nil {
		return 0, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	prev := s.last
	s.last = cur
	if prev.total == 0 || cur.total <= prev.total {
		return 0, nil
	}
	return 1 - float64(cur.idle-prev.idle)/float64(cur.total-prev.total), nil
}

// host gauges are sampled on scrape; media encoding dominates an agent's load
func initHostStats(agentID string) {
	sampler := &cpuSampler{read: readCPUSample}

	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   confcoreNamespace,
		Subsystem:   "host",
		Name:        "cpu_load",
		ConstLabels: prometheus.Labels{"agent_id": agentID},
		Help:        "CPU utilisation between scrapes, 0 to 1.",
	}, func() float64 {
		load, err := sampler.load()
		if err != nil {
			return 0
		}
		return load
	}))

	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   confcoreNamespace,
		Subsystem:   "host",
		Name:        "load_avg_1m",
		ConstLabels: prometheus.Labels{"agent_id": agentID},
	}, func() float64 {
		avg, err := readLoadAvg1()
		if err != nil {
			return 0
		}
		return avg
	}))
}
