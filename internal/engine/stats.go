package engine

import (
	"context"
	"encoding/json"

	"github.com/docker/docker/api/types/container"
)

// ContainerStats is a one-shot resource snapshot for a running container.
type ContainerStats struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryUsageBytes uint64  `json:"memory_usage_bytes"`
	MemoryLimitBytes uint64  `json:"memory_limit_bytes"`
	Pids             uint64  `json:"pids"`
}

// Stats reads a single stats sample from the engine. Paused containers
// report frozen counters; callers should only ask for running ones.
func (c *Client) Stats(ctx context.Context, containerID string) (*ContainerStats, error) {
	var stats ContainerStats
	err := c.withRetry(ctx, "container stats", func(ctx context.Context) error {
		resp, e := c.docker.ContainerStats(ctx, containerID, false)
		if e != nil {
			return e
		}
		defer resp.Body.Close()

		var v container.StatsResponse
		if e := json.NewDecoder(resp.Body).Decode(&v); e != nil {
			return e
		}

		stats = ContainerStats{
			CPUPercent:       cpuPercent(&v),
			MemoryUsageBytes: v.MemoryStats.Usage,
			MemoryLimitBytes: v.MemoryStats.Limit,
			Pids:             v.PidsStats.Current,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// cpuPercent derives a percentage from the delta between the sample and its
// pre-sample, scaled by the number of online CPUs.
func cpuPercent(v *container.StatsResponse) float64 {
	cpuDelta := float64(v.CPUStats.CPUUsage.TotalUsage) - float64(v.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(v.CPUStats.SystemUsage) - float64(v.PreCPUStats.SystemUsage)
	if sysDelta <= 0 || cpuDelta < 0 {
		return 0
	}
	online := float64(v.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(v.CPUStats.CPUUsage.PercpuUsage))
	}
	if online == 0 {
		return 0
	}
	return cpuDelta / sysDelta * online * 100.0
}
