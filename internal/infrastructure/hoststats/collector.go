package hoststats

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
	Error       string  `json:"error,omitempty"`
}

type Snapshot struct {
	Hostname    string      `json:"hostname"`
	Uptime      uint64      `json:"uptime"`
	RAMUsage    float64     `json:"ram_usage"`
	RAMTotal    uint64      `json:"ram_total"`
	Disks       []DiskUsage `json:"disks"`
	CollectedAt int64       `json:"collected_at"`
}

// Collector reports host resources relevant to recording: free space on the
// download and temp roots, plus memory and uptime.
type Collector struct {
	paths []string
}

func NewCollector(paths ...string) *Collector {
	return &Collector{paths: paths}
}

// Collect never fails as a whole. A path that cannot be read is reported
// with Error set.
func (c *Collector) Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{CollectedAt: time.Now().Unix()}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Hostname = info.Hostname
		snap.Uptime = info.Uptime
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.RAMUsage = vm.UsedPercent
		snap.RAMTotal = vm.Total
	}

	for _, p := range c.paths {
		usage := DiskUsage{Path: p}
		if st, err := disk.UsageWithContext(ctx, p); err != nil {
			usage.Error = err.Error()
		} else {
			usage.Total = st.Total
			usage.Free = st.Free
			usage.UsedPercent = st.UsedPercent
		}
		snap.Disks = append(snap.Disks, usage)
	}

	return snap
}
