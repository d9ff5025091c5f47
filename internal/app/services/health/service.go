// Package health reports liveness for /healthz, including headroom on the
// volume holding the journal.
package health

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// DefaultDiskThreshold is the used-space percentage beyond which the journal
// volume counts as degraded.
const DefaultDiskThreshold = 95.0

// DiskStatus describes the journal volume.
type DiskStatus struct {
	Path        string  `json:"path"`
	UsedPercent float64 `json:"used_percent"`
	FreeBytes   uint64  `json:"free_bytes"`
	Error       string  `json:"error,omitempty"`
}

// Status is the /healthz response body.
type Status struct {
	Status        string     `json:"status"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Journal       DiskStatus `json:"journal"`
}

// Service checks process health. It is stateless apart from the start time.
type Service struct {
	journalDir string
	threshold  float64
	started    time.Time
}

// NewService creates a health checker watching the journal directory.
func NewService(journalDir string, threshold float64) *Service {
	if threshold == 0 {
		threshold = DefaultDiskThreshold
	}
	return &Service{
		journalDir: journalDir,
		threshold:  threshold,
		started:    time.Now(),
	}
}

// Check reports current health. The server stays up when degraded; the status
// tells operators the journal volume needs attention before writes start
// failing.
func (s *Service) Check(ctx context.Context) Status {
	st := Status{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Journal:       DiskStatus{Path: s.journalDir},
	}

	usage, err := disk.UsageWithContext(ctx, s.journalDir)
	if err != nil {
		st.Status = "degraded"
		st.Journal.Error = err.Error()
		return st
	}

	st.Journal.UsedPercent = usage.UsedPercent
	st.Journal.FreeBytes = usage.Free
	if usage.UsedPercent > s.threshold {
		st.Status = "degraded"
	}
	return st
}
