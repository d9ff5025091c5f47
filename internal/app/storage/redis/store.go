// Package redis implements the device fix cache on Redis so multiple server
// replicas can share last-known positions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
	"github.com/overland-tools/overlandd/internal/app/storage"
	"github.com/overland-tools/overlandd/internal/config"
)

const fixKeyPrefix = "overland:lastfix:"

// Store implements storage.FixStore backed by Redis. Entries expire after the
// configured TTL; a zero TTL keeps them forever.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
}

var _ storage.FixStore = (*Store)(nil)

// fixDoc is the serialized cache value.
type fixDoc struct {
	DeviceID   string    `json:"device_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude,omitempty"`
	Speed      float64   `json:"speed,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// New wraps an existing client. The caller keeps ownership of the client.
func New(client *goredis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Open connects to Redis, verifies the connection and returns a ready store.
func Open(ctx context.Context, cfg config.CacheConfig) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return New(client, cfg.FixTTL), nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) UpsertFix(ctx context.Context, fix location.Fix) error {
	if fix.DeviceID == "" {
		return fmt.Errorf("device id required")
	}

	data, err := json.Marshal(fixDoc{
		DeviceID:   fix.DeviceID,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Altitude:   fix.Altitude,
		Speed:      fix.Speed,
		RecordedAt: fix.RecordedAt,
		ReceivedAt: fix.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal fix: %w", err)
	}
	return s.client.Set(ctx, fixKeyPrefix+fix.DeviceID, data, s.ttl).Err()
}

func (s *Store) GetFix(ctx context.Context, deviceID string) (location.Fix, error) {
	data, err := s.client.Get(ctx, fixKeyPrefix+deviceID).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return location.Fix{}, storage.ErrNotFound
		}
		return location.Fix{}, err
	}
	return decodeFix(data)
}

func (s *Store) ListFixes(ctx context.Context) ([]location.Fix, error) {
	var out []location.Fix

	iter := s.client.Scan(ctx, 0, fixKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				// expired between scan and get
				continue
			}
			return nil, err
		}
		fix, err := decodeFix(data)
		if err != nil {
			return nil, err
		}
		out = append(out, fix)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeFix(data []byte) (location.Fix, error) {
	var doc fixDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return location.Fix{}, fmt.Errorf("decode fix: %w", err)
	}
	return location.Fix{
		DeviceID:   doc.DeviceID,
		Latitude:   doc.Latitude,
		Longitude:  doc.Longitude,
		Altitude:   doc.Altitude,
		Speed:      doc.Speed,
		RecordedAt: doc.RecordedAt,
		ReceivedAt: doc.ReceivedAt,
	}, nil
}
