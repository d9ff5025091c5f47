// Package ingest accepts Overland upload batches: it authenticates the
// request, journals the payload verbatim and fans the batch out to the
// optional sinks. Only the journal write can fail an upload.
package ingest

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
	"github.com/overland-tools/overlandd/internal/app/metrics"
	"github.com/overland-tools/overlandd/internal/app/storage"
	"github.com/overland-tools/overlandd/internal/config"
	"github.com/overland-tools/overlandd/pkg/logger"
)

// Rejection sentinels. Their messages are the response bodies the original
// Overland endpoint returns, so clients keep seeing the exact same strings.
var (
	ErrBadToken         = errors.New("bad token")
	ErrBadAuthorization = errors.New("bad authorization")
	ErrInvalidJSON      = errors.New("invalid JSON")
)

// Journal is the mandatory sink. Append failures fail the upload.
type Journal interface {
	Append(rec location.Record) error
}

// Tracker receives the fixes extracted from an accepted batch.
type Tracker interface {
	Observe(ctx context.Context, fixes []location.Fix)
}

// Forwarder queues accepted batches for downstream delivery. Enqueue reports
// false when the queue is full and the batch was dropped.
type Forwarder interface {
	Enqueue(rec location.Record) bool
}

// Broadcaster pushes accepted batches to live subscribers.
type Broadcaster interface {
	Broadcast(rec location.Record)
}

// Meta carries what the server observed about the upload request.
type Meta struct {
	RemoteIP  string
	UserAgent string
}

// Service implements the upload pipeline.
type Service struct {
	cfg     config.IngestConfig
	journal Journal
	log     *logger.Logger

	archive     storage.BatchStore
	tracker     Tracker
	forwarder   Forwarder
	broadcaster Broadcaster
}

// New constructs the ingest service around the mandatory journal sink.
func New(cfg config.IngestConfig, jrnl Journal, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ingest")
	}
	return &Service{cfg: cfg, journal: jrnl, log: log.Named("ingest")}
}

// AttachArchive adds the optional batch archive sink.
func (s *Service) AttachArchive(store storage.BatchStore) { s.archive = store }

// AttachTracker adds the optional device fix tracker.
func (s *Service) AttachTracker(t Tracker) { s.tracker = t }

// AttachForwarder adds the optional downstream forwarder.
func (s *Service) AttachForwarder(f Forwarder) { s.forwarder = f }

// AttachBroadcaster adds the optional live stream sink.
func (s *Service) AttachBroadcaster(b Broadcaster) { s.broadcaster = b }

// Authorize checks the shared token and, when configured, the Authorization
// header. The token comparison is constant-time.
func (s *Service) Authorize(token, authorization string) error {
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
		return ErrBadToken
	}
	if s.cfg.AuthSecret != "" && !strings.Contains(authorization, s.cfg.AuthSecret) {
		return ErrBadAuthorization
	}
	return nil
}

// Accept validates and journals one upload, then fans it out. The returned
// record carries the assigned batch ID.
func (s *Service) Accept(ctx context.Context, payload []byte, meta Meta) (location.Record, error) {
	if !gjson.ValidBytes(payload) {
		metrics.RecordIngest("invalid", 0, 0)
		return location.Record{}, ErrInvalidJSON
	}
	parsed := gjson.ParseBytes(payload)
	if !parsed.IsObject() || !parsed.Get("locations").Exists() {
		metrics.RecordIngest("invalid", 0, 0)
		return location.Record{}, ErrInvalidJSON
	}

	now := time.Now().UTC()
	summary := summarize(payload, now)

	rec := location.Record{
		ID:         uuid.NewString(),
		ReceivedAt: now,
		RemoteIP:   meta.RemoteIP,
		UserAgent:  meta.UserAgent,
		DeviceID:   summary.deviceID,
		Locations:  summary.count,
		Payload:    append([]byte(nil), payload...),
	}

	if err := s.journal.Append(rec); err != nil {
		metrics.RecordIngest("journal_error", 0, 0)
		s.log.WithError(err).WithField("ip", meta.RemoteIP).Error("journal append failed")
		return location.Record{}, err
	}

	s.fanOut(ctx, rec, summary.fixes)

	metrics.RecordIngest("accepted", rec.Locations, len(payload))
	s.log.WithField("batch_id", rec.ID).
		WithField("device_id", rec.DeviceID).
		WithField("locations", rec.Locations).
		WithField("ip", rec.RemoteIP).
		Info("batch accepted")
	return rec, nil
}

// fanOut delivers the accepted batch to every optional sink. Failures are
// logged and never surface to the uploader.
func (s *Service) fanOut(ctx context.Context, rec location.Record, fixes []location.Fix) {
	if s.archive != nil {
		archiveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := s.archive.InsertBatch(archiveCtx, rec)
		cancel()
		metrics.RecordArchiveInsert(err)
		if err != nil {
			s.log.WithError(err).WithField("batch_id", rec.ID).Warn("archive insert failed")
		}
	}

	if s.tracker != nil && len(fixes) > 0 {
		s.tracker.Observe(ctx, fixes)
	}

	if s.forwarder != nil {
		if !s.forwarder.Enqueue(rec) {
			s.log.WithField("batch_id", rec.ID).Warn("forward queue full; batch dropped")
		}
	}

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(rec)
	}
}
