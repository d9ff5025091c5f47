package httpapi

import (
	"time"

	"github.com/overland-tools/overlandd/internal/app/auth"
	"github.com/overland-tools/overlandd/internal/app/services/devices"
	"github.com/overland-tools/overlandd/internal/app/services/health"
	"github.com/overland-tools/overlandd/internal/app/services/ingest"
	"github.com/overland-tools/overlandd/internal/app/services/stream"
	"github.com/overland-tools/overlandd/internal/app/storage"
	"github.com/overland-tools/overlandd/internal/config"
	"github.com/overland-tools/overlandd/internal/middleware"
	"github.com/overland-tools/overlandd/pkg/logger"
)

// JournalInfo is what the operator API reads off the journal.
type JournalInfo interface {
	Path() string
	Size() int64
}

// Deps carries everything the HTTP surface serves. Stream and Auth may be
// nil; their routes are simply absent then.
type Deps struct {
	Config  *config.Config
	Log     *logger.Logger
	Ingest  *ingest.Service
	Stream  *stream.Hub
	Devices *devices.Service
	Health  *health.Service
	Auth    *auth.Service
	Batches storage.BatchStore
	Journal JournalInfo
	Started time.Time

	// RateLimit, when set, is the shared limiter whose cleanup loop the
	// application manages. NewHandler builds an unmanaged one otherwise.
	RateLimit *middleware.RateLimiter
}

// rateLimiter picks the managed limiter when the application supplied one,
// falling back to a bare instance for callers that build the handler directly.
func (d Deps) rateLimiter() *middleware.RateLimiter {
	if d.RateLimit != nil {
		return d.RateLimit
	}
	if !d.Config.RateLimit.Enabled() {
		return nil
	}
	return NewRateLimiter(d.Config, d.Log)
}

// NewRateLimiter builds the upload rate limiter exempting the probe paths.
func NewRateLimiter(cfg *config.Config, log *logger.Logger) *middleware.RateLimiter {
	return middleware.NewRateLimiter(
		cfg.RateLimit.RPS,
		cfg.RateLimit.Burst,
		[]string{"/healthz", "/metrics"},
		log,
	)
}
