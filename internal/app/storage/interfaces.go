package storage

import (
	"context"
	"errors"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
)

// ErrNotFound is returned by stores when the requested row or key is absent.
// Every backend maps its own sentinel (sql.ErrNoRows, redis.Nil) onto it.
var ErrNotFound = errors.New("not found")

// BatchStore archives accepted upload batches for the operator API. The
// archive is a best-effort secondary sink; the journal remains the source of
// truth.
type BatchStore interface {
	InsertBatch(ctx context.Context, rec location.Record) (location.Record, error)
	RecentBatches(ctx context.Context, limit int) ([]location.Record, error)
	Stats(ctx context.Context) (location.Stats, error)
}

// FixStore tracks the most recent position per device.
type FixStore interface {
	UpsertFix(ctx context.Context, fix location.Fix) error
	GetFix(ctx context.Context, deviceID string) (location.Fix, error)
	ListFixes(ctx context.Context) ([]location.Fix, error)
}
