package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
	"github.com/overland-tools/overlandd/internal/app/storage/memory"
	"github.com/overland-tools/overlandd/internal/config"
)

type captureJournal struct {
	recs []location.Record
	err  error
}

func (c *captureJournal) Append(rec location.Record) error {
	if c.err != nil {
		return c.err
	}
	c.recs = append(c.recs, rec)
	return nil
}

type captureTracker struct {
	fixes []location.Fix
}

func (c *captureTracker) Observe(_ context.Context, fixes []location.Fix) {
	c.fixes = append(c.fixes, fixes...)
}

type captureForwarder struct {
	recs []location.Record
	full bool
}

func (c *captureForwarder) Enqueue(rec location.Record) bool {
	if c.full {
		return false
	}
	c.recs = append(c.recs, rec)
	return true
}

type captureBroadcaster struct {
	recs []location.Record
}

func (c *captureBroadcaster) Broadcast(rec location.Record) {
	c.recs = append(c.recs, rec)
}

const sampleBatch = `{"locations":[
	{"type":"Feature","geometry":{"type":"Point","coordinates":[-122.4194,37.7749,52.0]},
	 "properties":{"device_id":"phone-1","timestamp":"2025-06-01T12:00:00Z","speed":2.5}},
	{"type":"Feature","geometry":{"type":"Point","coordinates":[-122.4180,37.7755]},
	 "properties":{"device_id":"phone-1","timestamp":"2025-06-01T12:01:00Z","speed":3.1,"altitude":48.0}}
]}`

func TestAuthorize(t *testing.T) {
	svc := New(config.IngestConfig{Token: "secret"}, &captureJournal{}, nil)

	if err := svc.Authorize("secret", ""); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if err := svc.Authorize("wrong", ""); !errors.Is(err, ErrBadToken) {
		t.Fatalf("expected ErrBadToken, got %v", err)
	}
	if err := svc.Authorize("", ""); !errors.Is(err, ErrBadToken) {
		t.Fatalf("expected ErrBadToken for empty token, got %v", err)
	}
}

func TestAuthorizeWithAuthSecret(t *testing.T) {
	svc := New(config.IngestConfig{Token: "secret", AuthSecret: "shared"}, &captureJournal{}, nil)

	if err := svc.Authorize("secret", "Bearer shared-key"); err != nil {
		t.Fatalf("authorization containing secret rejected: %v", err)
	}
	if err := svc.Authorize("secret", "Bearer other"); !errors.Is(err, ErrBadAuthorization) {
		t.Fatalf("expected ErrBadAuthorization, got %v", err)
	}
	if err := svc.Authorize("secret", ""); !errors.Is(err, ErrBadAuthorization) {
		t.Fatalf("expected ErrBadAuthorization for missing header, got %v", err)
	}
	// token check comes first
	if err := svc.Authorize("wrong", "Bearer shared"); !errors.Is(err, ErrBadToken) {
		t.Fatalf("expected ErrBadToken, got %v", err)
	}
}

func TestAcceptRejectsInvalidJSON(t *testing.T) {
	jrnl := &captureJournal{}
	svc := New(config.IngestConfig{Token: "secret"}, jrnl, nil)

	_, err := svc.Accept(context.Background(), []byte(`{"locations":`), Meta{})
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
	if len(jrnl.recs) != 0 {
		t.Fatal("invalid payload must not reach the journal")
	}
}

func TestAcceptJournalsVerbatim(t *testing.T) {
	jrnl := &captureJournal{}
	svc := New(config.IngestConfig{Token: "secret"}, jrnl, nil)

	rec, err := svc.Accept(context.Background(), []byte(sampleBatch), Meta{
		RemoteIP:  "203.0.113.7",
		UserAgent: "Overland/2.0",
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected assigned batch ID")
	}
	if rec.DeviceID != "phone-1" || rec.Locations != 2 {
		t.Fatalf("unexpected summary: device=%s locations=%d", rec.DeviceID, rec.Locations)
	}

	if len(jrnl.recs) != 1 {
		t.Fatalf("expected 1 journal record, got %d", len(jrnl.recs))
	}
	got := jrnl.recs[0]
	if string(got.Payload) != sampleBatch {
		t.Fatal("payload must be journaled verbatim")
	}
	if got.RemoteIP != "203.0.113.7" || got.UserAgent != "Overland/2.0" {
		t.Fatalf("request metadata lost: %+v", got)
	}
}

func TestAcceptRequiresLocationsKey(t *testing.T) {
	jrnl := &captureJournal{}
	svc := New(config.IngestConfig{Token: "secret"}, jrnl, nil)

	for _, payload := range []string{`{"hello":"world"}`, `[1,2,3]`, `"locations"`, `42`} {
		if _, err := svc.Accept(context.Background(), []byte(payload), Meta{}); !errors.Is(err, ErrInvalidJSON) {
			t.Fatalf("payload %s: expected ErrInvalidJSON, got %v", payload, err)
		}
	}
	if len(jrnl.recs) != 0 {
		t.Fatal("rejected payloads must not reach the journal")
	}

	// The key alone satisfies the contract; its value stays opaque.
	rec, err := svc.Accept(context.Background(), []byte(`{"locations":null}`), Meta{})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if rec.Locations != 0 || rec.DeviceID != "" {
		t.Fatalf("unexpected summary %+v", rec)
	}
	if len(jrnl.recs) != 1 {
		t.Fatal("batch with locations key must be journaled")
	}
}

func TestAcceptJournalFailureFailsUpload(t *testing.T) {
	boom := errors.New("disk full")
	jrnl := &captureJournal{err: boom}
	fwd := &captureForwarder{}
	svc := New(config.IngestConfig{Token: "secret"}, jrnl, nil)
	svc.AttachForwarder(fwd)

	_, err := svc.Accept(context.Background(), []byte(sampleBatch), Meta{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected journal error, got %v", err)
	}
	if len(fwd.recs) != 0 {
		t.Fatal("failed upload must not fan out")
	}
}

func TestAcceptFansOut(t *testing.T) {
	jrnl := &captureJournal{}
	store := memory.New()
	tracker := &captureTracker{}
	fwd := &captureForwarder{}
	bcast := &captureBroadcaster{}

	svc := New(config.IngestConfig{Token: "secret"}, jrnl, nil)
	svc.AttachArchive(store)
	svc.AttachTracker(tracker)
	svc.AttachForwarder(fwd)
	svc.AttachBroadcaster(bcast)

	rec, err := svc.Accept(context.Background(), []byte(sampleBatch), Meta{RemoteIP: "203.0.113.7"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Batches != 1 || stats.Locations != 2 {
		t.Fatalf("archive did not receive the batch: %+v", stats)
	}

	if len(tracker.fixes) != 1 {
		t.Fatalf("expected 1 fix for phone-1, got %d", len(tracker.fixes))
	}
	if tracker.fixes[0].Speed != 3.1 {
		t.Fatalf("tracker should see the newest fix, got %+v", tracker.fixes[0])
	}

	if len(fwd.recs) != 1 || fwd.recs[0].ID != rec.ID {
		t.Fatal("forwarder did not receive the batch")
	}
	if len(bcast.recs) != 1 || bcast.recs[0].ID != rec.ID {
		t.Fatal("broadcaster did not receive the batch")
	}
}

func TestAcceptSurvivesFullForwardQueue(t *testing.T) {
	jrnl := &captureJournal{}
	svc := New(config.IngestConfig{Token: "secret"}, jrnl, nil)
	svc.AttachForwarder(&captureForwarder{full: true})

	if _, err := svc.Accept(context.Background(), []byte(sampleBatch), Meta{}); err != nil {
		t.Fatalf("accept must succeed when the forward queue is full: %v", err)
	}
}

func TestSummarizeNewestFixWins(t *testing.T) {
	received := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	payload := `{"locations":[
		{"geometry":{"coordinates":[-1.0,1.0]},"properties":{"device_id":"a","timestamp":"2025-06-01T12:02:00Z"}},
		{"geometry":{"coordinates":[-2.0,2.0]},"properties":{"device_id":"a","timestamp":"2025-06-01T12:01:00Z"}},
		{"geometry":{"coordinates":[-3.0,3.0]},"properties":{"device_id":"b","timestamp":"2025-06-01T12:03:00Z"}}
	]}`

	sum := summarize([]byte(payload), received)
	if sum.count != 3 {
		t.Fatalf("count = %d, want 3", sum.count)
	}
	if sum.deviceID != "a" {
		t.Fatalf("deviceID = %s, want first seen", sum.deviceID)
	}
	if len(sum.fixes) != 2 {
		t.Fatalf("expected one fix per device, got %d", len(sum.fixes))
	}
	for _, fix := range sum.fixes {
		switch fix.DeviceID {
		case "a":
			if fix.Latitude != 1.0 {
				t.Fatalf("device a should keep its newest fix, got %+v", fix)
			}
		case "b":
			if fix.Latitude != 3.0 {
				t.Fatalf("unexpected device b fix %+v", fix)
			}
		default:
			t.Fatalf("unexpected device %s", fix.DeviceID)
		}
		if !fix.ReceivedAt.Equal(received) {
			t.Fatalf("fix should carry the batch receive time, got %v", fix.ReceivedAt)
		}
	}
}

func TestSummarizeSkipsIncompleteFeatures(t *testing.T) {
	payload := `{"locations":[
		{"geometry":{"coordinates":[-1.0]},"properties":{"device_id":"short"}},
		{"geometry":{"coordinates":[-1.0,1.0]},"properties":{}},
		{"properties":{"device_id":"nogeo"}}
	]}`

	sum := summarize([]byte(payload), time.Now())
	if sum.count != 3 {
		t.Fatalf("count = %d, want 3", sum.count)
	}
	if len(sum.fixes) != 0 {
		t.Fatalf("incomplete features must not produce fixes, got %+v", sum.fixes)
	}
}

func TestSummarizeAltitudeAndSpeed(t *testing.T) {
	payload := `{"locations":[
		{"geometry":{"coordinates":[-1.0,1.0,99.5]},"properties":{"device_id":"a","speed":-1}},
		{"geometry":{"coordinates":[-2.0,2.0]},"properties":{"device_id":"b","altitude":12.5,"speed":4.2}}
	]}`

	sum := summarize([]byte(payload), time.Now())
	for _, fix := range sum.fixes {
		switch fix.DeviceID {
		case "a":
			if fix.Altitude != 99.5 {
				t.Fatalf("altitude should come from coordinates, got %+v", fix)
			}
			if fix.Speed != 0 {
				t.Fatalf("negative speed must be ignored, got %+v", fix)
			}
		case "b":
			if fix.Altitude != 12.5 || fix.Speed != 4.2 {
				t.Fatalf("unexpected device b fix %+v", fix)
			}
		}
	}
}

func TestSummarizeNonBatchPayloads(t *testing.T) {
	for _, payload := range []string{`{}`, `[]`, `"text"`, `{"locations":{}}`, `42`} {
		sum := summarize([]byte(payload), time.Now())
		if sum.count != 0 || len(sum.fixes) != 0 {
			t.Fatalf("payload %s should yield empty summary, got %+v", payload, sum)
		}
	}
}
