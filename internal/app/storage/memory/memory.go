// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and backs the server whenever no external
// archive or cache is configured, and all of the unit tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
	"github.com/overland-tools/overlandd/internal/app/storage"
)

// DefaultCapacity bounds the batch ring when no explicit capacity is given.
const DefaultCapacity = 1000

// Store keeps a bounded ring of recent batches plus per-device fixes and
// running totals. Old batches fall off the ring; totals keep counting.
type Store struct {
	mu       sync.RWMutex
	capacity int
	batches  []location.Record
	fixes    map[string]location.Fix
	devices  map[string]struct{}

	totalBatches   int64
	totalLocations int64
	lastUpload     time.Time
}

var _ storage.BatchStore = (*Store)(nil)
var _ storage.FixStore = (*Store)(nil)

// New creates an empty store with the default batch capacity.
func New() *Store {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates an empty store retaining at most capacity batches.
func NewWithCapacity(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		fixes:    make(map[string]location.Fix),
		devices:  make(map[string]struct{}),
	}
}

// BatchStore implementation --------------------------------------------------

func (s *Store) InsertBatch(_ context.Context, rec location.Record) (location.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches = append(s.batches, rec)
	if len(s.batches) > s.capacity {
		s.batches = s.batches[len(s.batches)-s.capacity:]
	}

	s.totalBatches++
	s.totalLocations += int64(rec.Locations)
	if rec.DeviceID != "" {
		s.devices[rec.DeviceID] = struct{}{}
	}
	if rec.ReceivedAt.After(s.lastUpload) {
		s.lastUpload = rec.ReceivedAt
	}
	return rec, nil
}

func (s *Store) RecentBatches(_ context.Context, limit int) ([]location.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.batches) {
		limit = len(s.batches)
	}
	out := make([]location.Record, 0, limit)
	for i := len(s.batches) - 1; i >= len(s.batches)-limit; i-- {
		out = append(out, s.batches[i])
	}
	return out, nil
}

func (s *Store) Stats(_ context.Context) (location.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return location.Stats{
		Batches:    s.totalBatches,
		Locations:  s.totalLocations,
		Devices:    int64(len(s.devices)),
		LastUpload: s.lastUpload,
	}, nil
}

// FixStore implementation ----------------------------------------------------

func (s *Store) UpsertFix(_ context.Context, fix location.Fix) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices[fix.DeviceID] = struct{}{}
	s.fixes[fix.DeviceID] = fix
	return nil
}

func (s *Store) GetFix(_ context.Context, deviceID string) (location.Fix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fix, ok := s.fixes[deviceID]
	if !ok {
		return location.Fix{}, storage.ErrNotFound
	}
	return fix, nil
}

func (s *Store) ListFixes(_ context.Context) ([]location.Fix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]location.Fix, 0, len(s.fixes))
	for _, fix := range s.fixes {
		out = append(out, fix)
	}
	return out, nil
}
