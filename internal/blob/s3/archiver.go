package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

// SegmentSource lists completed journal segment files on local disk.
type SegmentSource interface {
	SealedSegments() ([]string, error)
}

// TradeLister provides read access to closed trades for archival exports.
type TradeLister interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ClosedTrade, error)
}

// Archiver ships sealed journal segments to object storage and, when a trade
// store is attached, exports monthly trade history as JSONL. Segments are
// removed from local disk only after a successful upload.
type Archiver struct {
	writer   domain.BlobWriter
	segments SegmentSource // optional
	trades   TradeLister   // optional

	exportedMonth time.Time // start of the last month the trade export ran for
	now           func() time.Time

	logger *slog.Logger
}

// NewArchiver creates an Archiver. segments may be nil when the disk journal
// is disabled, trades may be nil when no database is configured.
func NewArchiver(writer domain.BlobWriter, segments SegmentSource, trades TradeLister, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:   writer,
		segments: segments,
		trades:   trades,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Run sweeps on the given interval until ctx is cancelled. The first sweep
// runs immediately so segments left over from a previous run are shipped at
// startup.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *Archiver) sweep(ctx context.Context) {
	if n, err := a.ArchiveSegments(ctx); err != nil {
		a.logger.WarnContext(ctx, "segment archive sweep failed",
			slog.String("error", err.Error()),
		)
	} else if n > 0 {
		a.logger.InfoContext(ctx, "journal segments archived", slog.Int("count", n))
	}
	a.sweepTrades(ctx)
}

// sweepTrades runs the trade export once per UTC month. The cutoff is the
// start of the current month, so every trade settled in an earlier month is
// covered. A failed export retries on the next sweep.
func (a *Archiver) sweepTrades(ctx context.Context) {
	if a.trades == nil {
		return
	}

	monthStart := startOfMonth(a.now().UTC())
	if !monthStart.After(a.exportedMonth) {
		return
	}

	n, err := a.ArchiveTrades(ctx, monthStart)
	if err != nil {
		a.logger.WarnContext(ctx, "trade archive sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}
	a.exportedMonth = monthStart
	if n > 0 {
		a.logger.InfoContext(ctx, "trade history archived",
			slog.Int64("count", n),
			slog.String("cutoff", monthStart.Format("2006-01-02")),
		)
	}
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ArchiveSegments uploads every sealed journal segment to
// journal/YYYY-MM-DD.jsonl and deletes the local file once the upload
// succeeds. It returns the number of segments shipped.
func (a *Archiver) ArchiveSegments(ctx context.Context) (int, error) {
	if a.segments == nil {
		return 0, nil
	}
	paths, err := a.segments.SealedSegments()
	if err != nil {
		return 0, fmt.Errorf("s3blob: list sealed segments: %w", err)
	}

	shipped := 0
	for _, path := range paths {
		if err := a.archiveSegment(ctx, path); err != nil {
			return shipped, err
		}
		shipped++
	}
	return shipped, nil
}

func (a *Archiver) archiveSegment(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("s3blob: open segment %s: %w", path, err)
	}

	key := "journal/" + filepath.Base(path)
	err = a.writer.Put(ctx, key, f, "application/x-ndjson")
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("s3blob: upload segment %s: %w", path, err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("s3blob: remove shipped segment %s: %w", path, err)
	}
	return nil
}

// ArchiveTrades exports all trades closed before the cutoff to
// archive/trades/YYYY-MM.jsonl and returns the record count. The rows stay
// in the primary store; pruning is a separate explicit step.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	if a.trades == nil {
		return 0, nil
	}

	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	key := fmt.Sprintf("archive/trades/%s.jsonl", before.Format("2006-01"))
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return int64(len(trades)), nil
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
