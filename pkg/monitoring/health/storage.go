package health

import (
	"context"
	"fmt"
	"time"

	"github.com/xsxdot/aio-apm/pkg/monitoring/models"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskProbe 存储探针，按挂载点的磁盘使用率分级
type DiskProbe struct {
	path string
}

// NewDiskProbe 路径为空时探测根目录
func NewDiskProbe(path string) *DiskProbe {
	if path == "" {
		path = "/"
	}
	return &DiskProbe{path: path}
}

func (p *DiskProbe) Probe(ctx context.Context) (ProbeResult, error) {
	start := time.Now()
	usage, err := disk.UsageWithContext(ctx, p.path)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("disk usage of %s: %w", p.path, err)
	}

	return ProbeResult{
		ResponseTimeMs: milliseconds(time.Since(start)),
		Metrics: map[string]float64{
			models.MetricDiskUsage: usage.UsedPercent,
			"disk_free_gb":         float64(usage.Free) / 1024 / 1024 / 1024,
			"inodes_usage":         usage.InodesUsedPercent,
		},
	}, nil
}
