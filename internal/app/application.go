package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/overland-tools/overlandd/internal/app/auth"
	"github.com/overland-tools/overlandd/internal/app/httpapi"
	"github.com/overland-tools/overlandd/internal/app/journal"
	"github.com/overland-tools/overlandd/internal/app/services/devices"
	forwardsvc "github.com/overland-tools/overlandd/internal/app/services/forward"
	"github.com/overland-tools/overlandd/internal/app/services/health"
	ingestsvc "github.com/overland-tools/overlandd/internal/app/services/ingest"
	"github.com/overland-tools/overlandd/internal/app/services/retention"
	"github.com/overland-tools/overlandd/internal/app/services/stream"
	"github.com/overland-tools/overlandd/internal/app/storage"
	"github.com/overland-tools/overlandd/internal/app/storage/memory"
	"github.com/overland-tools/overlandd/internal/app/system"
	"github.com/overland-tools/overlandd/internal/config"
	"github.com/overland-tools/overlandd/internal/middleware"
	"github.com/overland-tools/overlandd/pkg/logger"
)

// Stores lets main inject the configured storage backends. Nil fields fall
// back to the in-memory store, which is always a valid deployment.
type Stores struct {
	Batches storage.BatchStore
	Fixes   storage.FixStore
}

// Application is the assembled ingest pipeline.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	manager *system.Manager
	started time.Time

	Journal *journal.Journal
	Ingest  *ingestsvc.Service
	Devices *devices.Service
	Forward *forwardsvc.Service
	Stream  *stream.Hub
	Health  *health.Service
	Auth    *auth.Service

	Batches storage.BatchStore
	Fixes   storage.FixStore

	rateLimit *middleware.RateLimiter
}

// New wires the services. Nothing runs until Start.
func New(cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	if stores.Batches == nil || stores.Fixes == nil {
		mem := memory.New()
		if stores.Batches == nil {
			stores.Batches = mem
		}
		if stores.Fixes == nil {
			stores.Fixes = mem
		}
	}

	a := &Application{
		cfg:     cfg,
		log:     log,
		manager: system.NewManager(),
		started: time.Now(),
		Batches: stores.Batches,
		Fixes:   stores.Fixes,
	}

	a.Journal = journal.New(cfg.Journal, log)
	a.Devices = devices.New(stores.Fixes, log)
	a.Stream = stream.NewHub(log)
	a.Health = health.NewService(cfg.Journal.Dir, 0)
	if cfg.Admin.Enabled() {
		a.Auth = auth.New(cfg.Admin)
	}

	a.Ingest = ingestsvc.New(cfg.Ingest, a.Journal, log)
	a.Ingest.AttachArchive(stores.Batches)
	a.Ingest.AttachTracker(a.Devices)
	a.Ingest.AttachBroadcaster(a.Stream)

	if cfg.Forward.Enabled() {
		a.Forward = forwardsvc.New(cfg.Forward, log)
		a.Ingest.AttachForwarder(a.Forward)
	}

	services := []system.Service{
		a.Journal,
		a.Stream,
	}
	if a.Forward != nil {
		services = append(services, a.Forward)
	}
	if cfg.Journal.RetentionDays > 0 {
		services = append(services, retention.New(cfg.Journal, a.Journal, log))
	}
	if cfg.RateLimit.Enabled() {
		a.rateLimit = httpapi.NewRateLimiter(cfg, log)
		services = append(services, a.rateLimit)
	}
	for _, svc := range services {
		if err := a.manager.Register(svc); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	return a, nil
}

// Start brings the pipeline up in registration order.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts the pipeline down in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Handler returns the HTTP surface over the assembled services.
func (a *Application) Handler() http.Handler {
	return httpapi.NewHandler(httpapi.Deps{
		Config:  a.cfg,
		Log:     a.log,
		Ingest:  a.Ingest,
		Stream:  a.Stream,
		Devices: a.Devices,
		Health:  a.Health,
		Auth:    a.Auth,
		Batches: a.Batches,
		Journal: a.Journal,
		Started: a.started,

		RateLimit: a.rateLimit,
	})
}
