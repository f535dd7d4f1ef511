// Package journal implements the append-only JSONL event log. One file per
// UTC day; finished days are sealed segments that the archiver ships to
// object storage.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

const (
	eventTrade    = "trade_closed"
	eventSnapshot = "snapshot"

	segmentPrefix = "events-"
	segmentExt    = ".jsonl"
)

// event is the wire envelope for one journal line.
type event struct {
	ID       string                      `json:"id"`
	Type     string                      `json:"type"`
	Time     time.Time                   `json:"time"`
	Trade    *domain.ClosedTrade         `json:"trade,omitempty"`
	Snapshot *domain.PerformanceSnapshot `json:"snapshot,omitempty"`
}

// Writer appends events to events-YYYY-MM-DD.jsonl under its directory,
// rotating when the UTC day changes. Safe for concurrent use.
type Writer struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	file *os.File
	day  string // YYYY-MM-DD of the open segment
}

var _ domain.Journal = (*Writer)(nil)

// NewWriter creates the journal directory if needed and returns a Writer.
// The current segment is opened lazily on first write.
func NewWriter(dir string, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir %s: %w", dir, err)
	}
	return &Writer{
		dir:    dir,
		logger: logger.With(slog.String("component", "journal")),
		now:    time.Now,
	}, nil
}

// RecordTrade appends a trade_closed event.
func (w *Writer) RecordTrade(trade domain.ClosedTrade) error {
	return w.append(event{
		ID:    uuid.New().String(),
		Type:  eventTrade,
		Time:  w.now().UTC(),
		Trade: &trade,
	})
}

// RecordSnapshot appends a snapshot event.
func (w *Writer) RecordSnapshot(snap domain.PerformanceSnapshot) error {
	return w.append(event{
		ID:       uuid.New().String(),
		Type:     eventSnapshot,
		Time:     w.now().UTC(),
		Snapshot: &snap,
	})
}

// Close flushes and closes the open segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.day = ""
	if err != nil {
		return fmt.Errorf("journal: close segment: %w", err)
	}
	return nil
}

// SealedSegments returns the paths of completed segments, i.e. every segment
// file except the one for the current UTC day, sorted by name (and therefore
// by date).
func (w *Writer) SealedSegments() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("journal: read dir %s: %w", w.dir, err)
	}

	today := w.now().UTC().Format("2006-01-02")
	var sealed []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentExt) {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentExt)
		if day >= today {
			continue
		}
		sealed = append(sealed, filepath.Join(w.dir, name))
	}
	sort.Strings(sealed)
	return sealed, nil
}

func (w *Writer) append(ev event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("journal: marshal %s event: %w", ev.Type, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	day := ev.Time.Format("2006-01-02")
	if err := w.ensureSegmentLocked(day); err != nil {
		return err
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("journal: append %s event: %w", ev.Type, err)
	}
	return nil
}

// ensureSegmentLocked opens the segment for day, rotating away from a
// previous day's file if one is open.
func (w *Writer) ensureSegmentLocked(day string) error {
	if w.file != nil && w.day == day {
		return nil
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			w.logger.Warn("segment close failed during rotation",
				slog.String("day", w.day),
				slog.String("error", err.Error()),
			)
		}
		w.logger.Info("journal segment sealed", slog.String("day", w.day))
		w.file = nil
	}

	path := filepath.Join(w.dir, segmentPrefix+day+segmentExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open segment %s: %w", path, err)
	}
	w.file = f
	w.day = day
	return nil
}

// Nop is a Journal that discards events. Used when journaling is disabled.
type Nop struct{}

var _ domain.Journal = Nop{}

func (Nop) RecordTrade(domain.ClosedTrade) error            { return nil }
func (Nop) RecordSnapshot(domain.PerformanceSnapshot) error { return nil }
