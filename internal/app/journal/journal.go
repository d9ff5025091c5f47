// Package journal persists accepted uploads as NDJSON, one record per line.
// The journal is the durability anchor of the ingest pipeline: an append
// failure fails the upload, every other sink is best-effort.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
	"github.com/overland-tools/overlandd/internal/app/metrics"
	"github.com/overland-tools/overlandd/internal/config"
	"github.com/overland-tools/overlandd/pkg/logger"
)

// entry is the on-disk line shape. The field names are part of the journal
// format and consumed by downstream tooling; do not rename them.
type entry struct {
	TS      string          `json:"ts"`
	IP      string          `json:"ip"`
	UA      string          `json:"ua"`
	Payload json.RawMessage `json:"payload"`
}

// Journal appends upload records to the active NDJSON file and rotates it
// once it outgrows the configured limit. A zero limit disables rotation.
type Journal struct {
	dir      string
	file     string
	maxBytes int64
	log      *logger.Logger

	mu     sync.Mutex
	f      *os.File
	size   int64
	opened bool
}

// New builds an unopened journal. Start creates the directory and file.
func New(cfg config.JournalConfig, log *logger.Logger) *Journal {
	if log == nil {
		log = logger.NewDefault("journal")
	}
	return &Journal{
		dir:      cfg.Dir,
		file:     cfg.File,
		maxBytes: cfg.MaxBytes,
		log:      log.Named("journal"),
	}
}

// Name implements system.Service.
func (j *Journal) Name() string { return "journal" }

// Path returns the location of the active journal file.
func (j *Journal) Path() string { return filepath.Join(j.dir, j.file) }

// Start creates the journal directory and opens the active file for append.
func (j *Journal) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.opened {
		return fmt.Errorf("journal already started")
	}
	if err := os.MkdirAll(j.dir, 0o750); err != nil {
		return fmt.Errorf("create journal dir %s: %w", j.dir, err)
	}
	if err := j.openLocked(); err != nil {
		return err
	}
	j.opened = true
	j.log.WithField("path", j.Path()).WithField("size", j.size).Info("journal opened")
	return nil
}

// Stop closes the active file. Appends after Stop fail.
func (j *Journal) Stop(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.opened {
		return nil
	}
	j.opened = false
	return j.closeLocked()
}

// Append writes one record as a single NDJSON line. When the write would push
// the file past the rotation limit the journal rotates first. Rotation
// failures are logged and the append proceeds on the current file, losing a
// record is worse than an oversized file.
func (j *Journal) Append(rec location.Record) error {
	line, err := json.Marshal(entry{
		TS:      rec.ReceivedAt.UTC().Format(time.RFC3339Nano),
		IP:      rec.RemoteIP,
		UA:      rec.UserAgent,
		Payload: rec.Payload,
	})
	if err != nil {
		metrics.RecordJournalAppend(err, 0)
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.opened {
		err := fmt.Errorf("journal not started")
		metrics.RecordJournalAppend(err, 0)
		return err
	}

	if j.maxBytes > 0 && j.size > 0 && j.size+int64(len(line)) > j.maxBytes {
		if err := j.rotateLocked(time.Now()); err != nil {
			j.log.WithError(err).Warn("journal rotation failed; continuing on current file")
		}
	}

	n, err := j.f.Write(line)
	j.size += int64(n)
	metrics.RecordJournalAppend(err, j.size)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Rotate closes the active file, renames it with a UTC timestamp and opens a
// fresh one. Safe to call at any time once started.
func (j *Journal) Rotate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.opened {
		return fmt.Errorf("journal not started")
	}
	return j.rotateLocked(time.Now())
}

// Size reports the byte size of the active file.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// SweepRotated removes rotated journal files whose modification time is
// before the cutoff. The active file is never touched. Removal errors are
// logged and skipped so one bad file cannot stall the sweep.
func (j *Journal) SweepRotated(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return 0, fmt.Errorf("list journal dir %s: %w", j.dir, err)
	}

	prefix, ext := splitName(j.file)
	removed := 0
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || name == j.file {
			continue
		}
		if !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, name)); err != nil {
			j.log.WithError(err).WithField("file", name).Warn("remove rotated journal")
			continue
		}
		removed++
	}
	return removed, nil
}

func (j *Journal) openLocked() error {
	f, err := os.OpenFile(j.Path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open journal %s: %w", j.Path(), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat journal %s: %w", j.Path(), err)
	}
	j.f = f
	j.size = info.Size()
	return nil
}

func (j *Journal) closeLocked() error {
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

func (j *Journal) rotateLocked(now time.Time) error {
	if err := j.closeLocked(); err != nil {
		j.log.WithError(err).Warn("close journal before rotation")
	}

	target := j.rotatedPath(now)
	if err := os.Rename(j.Path(), target); err != nil {
		// reopen the original so appends keep flowing
		if reopenErr := j.openLocked(); reopenErr != nil {
			return fmt.Errorf("rename journal: %v; reopen failed: %w", err, reopenErr)
		}
		return fmt.Errorf("rename journal: %w", err)
	}

	if err := j.openLocked(); err != nil {
		return err
	}
	metrics.RecordJournalRotation(j.size)
	j.log.WithField("rotated", filepath.Base(target)).Info("journal rotated")
	return nil
}

func (j *Journal) rotatedPath(now time.Time) string {
	prefix, ext := splitName(j.file)
	stamp := now.UTC().Format("20060102T150405Z")
	candidate := filepath.Join(j.dir, fmt.Sprintf("%s-%s%s", prefix, stamp, ext))
	if _, err := os.Stat(candidate); err == nil {
		stamp = now.UTC().Format("20060102T150405.000000000Z")
		candidate = filepath.Join(j.dir, fmt.Sprintf("%s-%s%s", prefix, stamp, ext))
	}
	return candidate
}

func splitName(file string) (prefix, ext string) {
	ext = filepath.Ext(file)
	return strings.TrimSuffix(file, ext), ext
}
