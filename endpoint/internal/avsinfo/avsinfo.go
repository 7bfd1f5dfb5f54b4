// Package avsinfo collects this endpoint's host telemetry for the
// avs_info event. It is built directly on the standard library:
// nothing here needs more than network-interface enumeration,
// /proc/meminfo parsing, filesystem statfs, or /sys/class/thermal reads
// any more idiomatically than net, os, and syscall already do, and
// pulling in a full host-metrics agent (e.g. gopsutil) for five scalar
// reads would be disproportionate to what this core needs.
package avsinfo

import (
	"bufio"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/protocol"
)

// Collect gathers the current snapshot of host telemetry. Every field is
// best-effort: a source that is unavailable on this platform or this
// machine is simply omitted rather than failing the whole collection.
func Collect(dataPath string) protocol.AVSInfoPayload {
	var out protocol.AVSInfoPayload

	if networks, err := collectNetworks(); err != nil {
		slog.Debug("avsinfo: collect networks failed", "err", err)
	} else {
		out.Networks = networks
	}

	if total, free, ok := collectMemory(); ok {
		out.MemTotal = &total
		out.MemFree = &free
	}

	if total, free, err := collectDisk(dataPath); err != nil {
		slog.Debug("avsinfo: collect disk failed", "path", dataPath, "err", err)
	} else {
		out.DiskTotal = &total
		out.DiskFree = &free
	}

	if temp, ok := collectCPUTemp(); ok {
		out.CPUTemp = &temp
	}

	return out
}

func collectNetworks() ([]protocol.NetworkInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]protocol.NetworkInfo, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		strs := make([]string, 0, len(addrs))
		for _, a := range addrs {
			strs = append(strs, a.String())
		}
		out = append(out, protocol.NetworkInfo{Name: iface.Name, Addrs: strs})
	}
	return out, nil
}

// collectMemory reads MemTotal/MemAvailable from /proc/meminfo (Linux
// only). Returns ok=false on any other platform or read failure.
func collectMemory() (total, free uint64, ok bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	var gotTotal, gotFree bool
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			if v, ok := parseMeminfoKB(line); ok {
				total = v * 1024
				gotTotal = true
			}
		case strings.HasPrefix(line, "MemAvailable:"):
			if v, ok := parseMeminfoKB(line); ok {
				free = v * 1024
				gotFree = true
			}
		}
	}
	return total, free, gotTotal && gotFree
}

func parseMeminfoKB(line string) (uint64, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// collectDisk reports the total and free bytes of the filesystem backing
// dataPath, via a direct statfs syscall (Linux/darwin compatible field
// names on the amd64/arm64 targets this core ships on).
func collectDisk(dataPath string) (total, free uint64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dataPath, &stat); err != nil {
		return 0, 0, err
	}
	blockSize := uint64(stat.Bsize)
	return stat.Blocks * blockSize, stat.Bavail * blockSize, nil
}

// collectCPUTemp reads the first available thermal zone under
// /sys/class/thermal, in millidegrees Celsius, converting to degrees.
// Returns ok=false when no thermal zone is exposed (common on non-Pi
// hosts, VMs, and non-Linux platforms).
func collectCPUTemp() (float64, bool) {
	matches, err := filepath.Glob("/sys/class/thermal/thermal_zone*/temp")
	if err != nil || len(matches) == 0 {
		return 0, false
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return 0, false
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}
	return float64(milli) / 1000.0, true
}
