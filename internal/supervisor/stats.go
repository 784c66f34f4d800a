package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// UsageSample is one resource usage reading for the unit.
type UsageSample struct {
	CPUPercent  float64
	MemoryBytes float64
}

// UsageProbe samples the unit's current resource usage.
type UsageProbe func() (UsageSample, error)

// ProcUsageProbe samples from the proc filesystem: memory as
// MemTotal - MemAvailable, CPU as the busy-tick share between consecutive
// calls. The first call has no previous reading and reports zero CPU.
func ProcUsageProbe() UsageProbe {
	return procUsageProbe("/proc/meminfo", "/proc/stat")
}

func procUsageProbe(memPath, statPath string) UsageProbe {
	var prevBusy, prevTotal uint64
	return func() (UsageSample, error) {
		var sample UsageSample

		mem, err := memoryUsedBytes(memPath)
		if err != nil {
			return sample, err
		}
		sample.MemoryBytes = mem

		busy, total, err := cpuTicks(statPath)
		if err != nil {
			return sample, err
		}
		if prevTotal > 0 && total > prevTotal {
			sample.CPUPercent = 100 * float64(busy-prevBusy) / float64(total-prevTotal)
		}
		prevBusy, prevTotal = busy, total
		return sample, nil
	}
}

// memoryUsedBytes reads meminfo and returns MemTotal - MemAvailable in bytes.
func memoryUsedBytes(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb
		case "MemAvailable:":
			available = kb
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if total == 0 || available > total {
		return 0, fmt.Errorf("stats: malformed meminfo at %s", path)
	}
	return float64(total-available) * 1024, nil
}

// cpuTicks reads the aggregate cpu line and returns busy and total ticks.
// Idle and iowait count as not busy.
func cpuTicks(path string) (busy, total uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var idle uint64
		for i, field := range fields[1:] {
			ticks, perr := strconv.ParseUint(field, 10, 64)
			if perr != nil {
				return 0, 0, fmt.Errorf("stats: malformed cpu line at %s", path)
			}
			total += ticks
			// Fields 4 and 5 are idle and iowait.
			if i == 3 || i == 4 {
				idle += ticks
			}
		}
		return total - idle, total, scanner.Err()
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, errors.New("stats: no aggregate cpu line in " + path)
}
