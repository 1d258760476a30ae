//go:build windows

package prometheus

// go-osstat has no load average or cpu counters on windows
func readCPUSample() (cpuSample, error) {
	return cpuSample{}, nil
}

func readLoadAvg1() (float64, error) {
	return 0, nil
}
