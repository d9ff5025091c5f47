// Package postgres implements the batch archive on PostgreSQL. Schema setup
// runs through embedded migrations so a fresh database is ready after Open.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
	"github.com/overland-tools/overlandd/internal/app/storage"
	"github.com/overland-tools/overlandd/internal/config"
)

// Store implements storage.BatchStore backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.BatchStore = (*Store)(nil)

// batchRow is the table shape of overland_batches.
type batchRow struct {
	ID         string          `db:"id"`
	ReceivedAt time.Time       `db:"received_at"`
	RemoteIP   string          `db:"remote_ip"`
	UserAgent  string          `db:"user_agent"`
	DeviceID   string          `db:"device_id"`
	Locations  int             `db:"locations"`
	Payload    json.RawMessage `db:"payload"`
}

func (r batchRow) toRecord() location.Record {
	return location.Record{
		ID:         r.ID,
		ReceivedAt: r.ReceivedAt.UTC(),
		RemoteIP:   r.RemoteIP,
		UserAgent:  r.UserAgent,
		DeviceID:   r.DeviceID,
		Locations:  r.Locations,
		Payload:    r.Payload,
	}
}

// New creates a Store using the provided database handle. The caller owns the
// handle; use Open to connect, migrate and configure the pool in one step.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL, verifies the connection, applies pending
// migrations and returns a ready store.
func Open(ctx context.Context, cfg config.ArchiveConfig) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}

	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive database: %w", err)
	}
	return New(db), nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InsertBatch(ctx context.Context, rec location.Record) (location.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	payload := rec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO overland_batches (id, received_at, remote_ip, user_agent, device_id, locations, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.ReceivedAt, rec.RemoteIP, rec.UserAgent, rec.DeviceID, rec.Locations, []byte(payload))
	if err != nil {
		return location.Record{}, err
	}
	return rec, nil
}

func (s *Store) RecentBatches(ctx context.Context, limit int) ([]location.Record, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []batchRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, received_at, remote_ip, user_agent, device_id, locations, payload
		FROM overland_batches
		ORDER BY received_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}

	out := make([]location.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (location.Stats, error) {
	var row struct {
		Batches    int64        `db:"batches"`
		Locations  int64        `db:"locations"`
		Devices    int64        `db:"devices"`
		LastUpload sql.NullTime `db:"last_upload"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS batches,
		       COALESCE(SUM(locations), 0) AS locations,
		       COUNT(DISTINCT device_id) FILTER (WHERE device_id <> '') AS devices,
		       MAX(received_at) AS last_upload
		FROM overland_batches
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return location.Stats{}, nil
		}
		return location.Stats{}, err
	}

	stats := location.Stats{
		Batches:   row.Batches,
		Locations: row.Locations,
		Devices:   row.Devices,
	}
	if row.LastUpload.Valid {
		stats.LastUpload = row.LastUpload.Time.UTC()
	}
	return stats, nil
}
