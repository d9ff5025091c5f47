// Package forward mirrors accepted batches to a downstream collector. The
// journal remains the source of truth; delivery here is best-effort with a
// bounded backlog, so a slow or dead downstream can never stall ingest.
package forward

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
	"github.com/overland-tools/overlandd/internal/app/metrics"
	"github.com/overland-tools/overlandd/internal/app/system"
	"github.com/overland-tools/overlandd/internal/config"
	"github.com/overland-tools/overlandd/pkg/logger"
)

var _ system.Service = (*Service)(nil)

// retryBackoff is the base delay between delivery attempts; attempt N waits
// N times this long.
var retryBackoff = 500 * time.Millisecond

// Service delivers queued batches to the configured downstream URL.
type Service struct {
	cfg    config.ForwardConfig
	target string
	client *http.Client
	log    *logger.Logger
	queue  chan location.Record

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates the forwarder. The queue size and timeout fall back to the
// config defaults when unset.
func New(cfg config.ForwardConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("forward")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}

	return &Service{
		cfg:    cfg,
		target: buildTarget(cfg),
		client: &http.Client{Timeout: timeout},
		log:    log.Named("forward"),
		queue:  make(chan location.Record, size),
	}
}

// buildTarget appends the downstream token as the token query parameter, the
// same way Overland clients authenticate against this server.
func buildTarget(cfg config.ForwardConfig) string {
	if cfg.Token == "" {
		return cfg.URL
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return cfg.URL
	}
	q := u.Query()
	q.Set("token", cfg.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) Name() string { return "forwarder" }

// Enqueue queues one batch for delivery. It never blocks; when the queue is
// full the batch is dropped and false returned.
func (s *Service) Enqueue(rec location.Record) bool {
	select {
	case s.queue <- rec:
		metrics.SetForwardQueueDepth(len(s.queue))
		return true
	default:
		metrics.RecordForward("dropped")
		return false
	}
}

// QueueDepth reports the current backlog.
func (s *Service) QueueDepth() int { return len(s.queue) }

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx)
	}()

	s.log.WithField("target", s.cfg.URL).Info("forwarder started")
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if backlog := len(s.queue); backlog > 0 {
		s.log.WithField("backlog", backlog).Warn("forwarder stopped with undelivered batches")
	}
	s.log.Info("forwarder stopped")
	return nil
}

func (s *Service) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-s.queue:
			metrics.SetForwardQueueDepth(len(s.queue))
			s.deliver(ctx, rec)
		}
	}
}

// deliver posts one batch, retrying transient failures with linear backoff.
func (s *Service) deliver(ctx context.Context, rec location.Record) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				metrics.RecordForward("failed")
				return
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		if lastErr = s.post(ctx, rec); lastErr == nil {
			metrics.RecordForward("delivered")
			return
		}
	}

	metrics.RecordForward("failed")
	s.log.WithError(lastErr).
		WithField("batch_id", rec.ID).
		WithField("attempts", s.cfg.MaxRetries+1).
		Warn("forward delivery failed")
}

func (s *Service) post(ctx context.Context, rec location.Record) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.target, strings.NewReader(string(rec.Payload)))
	if err != nil {
		return fmt.Errorf("build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("forward request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("downstream returned status %d", resp.StatusCode)
	}
	return nil
}
