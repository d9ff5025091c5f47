// Package devices tracks the last-known position per device for the operator
// API and the live map.
package devices

import (
	"context"
	"sort"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
	"github.com/overland-tools/overlandd/internal/app/storage"
	"github.com/overland-tools/overlandd/pkg/logger"
)

// Service maintains per-device fixes on top of a FixStore.
type Service struct {
	store storage.FixStore
	log   *logger.Logger
}

// New constructs the device tracker.
func New(store storage.FixStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("devices")
	}
	return &Service{store: store, log: log.Named("devices")}
}

// Observe records the fixes extracted from an accepted batch. Store failures
// are logged and swallowed; the tracker is a best-effort sink.
func (s *Service) Observe(ctx context.Context, fixes []location.Fix) {
	for _, fix := range fixes {
		if fix.DeviceID == "" {
			continue
		}
		if err := s.store.UpsertFix(ctx, fix); err != nil {
			s.log.WithError(err).WithField("device_id", fix.DeviceID).Warn("store fix failed")
		}
	}
}

// Get returns the last-known fix for one device.
func (s *Service) Get(ctx context.Context, deviceID string) (location.Fix, error) {
	return s.store.GetFix(ctx, deviceID)
}

// List returns every known device fix, ordered by device ID for stable
// output.
func (s *Service) List(ctx context.Context) ([]location.Fix, error) {
	fixes, err := s.store.ListFixes(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(fixes, func(i, j int) bool { return fixes[i].DeviceID < fixes[j].DeviceID })
	return fixes, nil
}
