//go:build !windows

package prometheus

import (
	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/loadavg"
)

func readCPUSample() (cpuSample, error) {
	stats, err := cpu.Get()
	if err != nil {
		return cpuSample{}, err
	}
	return cpuSample{total: stats.Total, idle: stats.Idle}, nil
}

func readLoadAvg1() (float64, error) {
	stats, err := loadavg.Get()
	if err != nil {
		return 0, err
	}
	return stats.Loadavg1, nil
}
