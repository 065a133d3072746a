package main

import (
	"runtime"
	"time"

	"github.com/docker/go-units"
	"golang.org/x/sys/unix"

	"github.com/anggakawa/teledocker/protocol"
)

// handleHealthCheck answers the daemon's liveness probe. The status field is
// what the probe actually checks; uptime, workspace disk usage and goroutine
// count ride along for the stats endpoint.
func (s *server) handleHealthCheck(fw *frameWriter, req protocol.Request) {
	res := &protocol.Result{
		Status:       protocol.HealthStatusOK,
		UptimeS:      int64(time.Since(s.started).Seconds()),
		NumGoroutine: runtime.NumGoroutine(),
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(s.workspace, &fs); err == nil {
		blockSize := uint64(fs.Bsize)
		res.DiskTotalMB = int64(fs.Blocks * blockSize / uint64(units.MiB))
		res.DiskUsedMB = int64((fs.Blocks - fs.Bfree) * blockSize / uint64(units.MiB))
	} else {
		s.logger.Warn("statfs failed", "path", s.workspace, "error", err)
	}

	fw.result(req.ID, res)
}
