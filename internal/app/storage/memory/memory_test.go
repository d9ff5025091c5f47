package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
	"github.com/overland-tools/overlandd/internal/app/storage"
)

func TestInsertBatchAssignsIDAndCounts(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec, err := s.InsertBatch(ctx, location.Record{
		DeviceID:  "phone-1",
		Locations: 3,
		Payload:   json.RawMessage(`{"locations":[]}`),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected assigned ID")
	}
	if rec.ReceivedAt.IsZero() {
		t.Fatal("expected assigned ReceivedAt")
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Batches != 1 || stats.Locations != 3 || stats.Devices != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !stats.LastUpload.Equal(rec.ReceivedAt) {
		t.Fatalf("last upload %v, want %v", stats.LastUpload, rec.ReceivedAt)
	}
}

func TestRecentBatchesNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.InsertBatch(ctx, location.Record{
			ID:         fmt.Sprintf("batch-%d", i),
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	got, err := s.RecentBatches(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(got))
	}
	if got[0].ID != "batch-4" || got[2].ID != "batch-2" {
		t.Fatalf("unexpected order: %s .. %s", got[0].ID, got[2].ID)
	}
}

func TestRingDropsOldestButKeepsTotals(t *testing.T) {
	s := NewWithCapacity(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.InsertBatch(ctx, location.Record{Locations: 1}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	all, err := s.RecentBatches(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ring should hold 2 batches, got %d", len(all))
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Batches != 5 || stats.Locations != 5 {
		t.Fatalf("totals must survive ring eviction: %+v", stats)
	}
}

func TestFixLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetFix(ctx, "phone-1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	fix := location.Fix{
		DeviceID:   "phone-1",
		Latitude:   37.7749,
		Longitude:  -122.4194,
		RecordedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertFix(ctx, fix); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetFix(ctx, "phone-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Latitude != fix.Latitude || got.Longitude != fix.Longitude {
		t.Fatalf("unexpected fix %+v", got)
	}

	fix.Latitude = 40.0
	if err := s.UpsertFix(ctx, fix); err != nil {
		t.Fatalf("upsert overwrite: %v", err)
	}
	got, err = s.GetFix(ctx, "phone-1")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if got.Latitude != 40.0 {
		t.Fatalf("fix not overwritten: %+v", got)
	}

	fixes, err := s.ListFixes(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fixes) != 1 {
		t.Fatalf("expected 1 fix, got %d", len(fixes))
	}
}
