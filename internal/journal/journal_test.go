package journal

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

func trade(id string) domain.ClosedTrade {
	return domain.ClosedTrade{
		PositionID:   id,
		InstrumentID: "BTCUSDT",
		Direction:    domain.DirectionLong,
		EntryPrice:   100,
		ExitPrice:    101,
		Size:         10,
		PnL:          0.1,
		Reason:       domain.CloseTakeProfit,
		OpenedAt:     time.Now().UTC(),
		ClosedAt:     time.Now().UTC(),
	}
}

func readLines(t *testing.T, path string) []event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		out = append(out, ev)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestWriterAppendsEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer w.Close()

	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	require.NoError(t, w.RecordTrade(trade("p1")))
	require.NoError(t, w.RecordSnapshot(domain.PerformanceSnapshot{Time: fixed, Balance: 100}))

	events := readLines(t, filepath.Join(dir, "events-2026-03-10.jsonl"))
	require.Len(t, events, 2)

	assert.Equal(t, "trade_closed", events[0].Type)
	assert.NotEmpty(t, events[0].ID)
	require.NotNil(t, events[0].Trade)
	assert.Equal(t, "p1", events[0].Trade.PositionID)
	assert.Nil(t, events[0].Snapshot)

	assert.Equal(t, "snapshot", events[1].Type)
	require.NotNil(t, events[1].Snapshot)
	assert.Equal(t, 100.0, events[1].Snapshot.Balance)
}

func TestWriterRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer w.Close()

	day1 := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day1 }
	require.NoError(t, w.RecordTrade(trade("p1")))

	day2 := day1.Add(2 * time.Minute)
	w.now = func() time.Time { return day2 }
	require.NoError(t, w.RecordTrade(trade("p2")))

	first := readLines(t, filepath.Join(dir, "events-2026-03-10.jsonl"))
	second := readLines(t, filepath.Join(dir, "events-2026-03-11.jsonl"))
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "p1", first[0].Trade.PositionID)
	assert.Equal(t, "p2", second[0].Trade.PositionID)
}

func TestSealedSegments(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer w.Close()

	day1 := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return day1 }
	require.NoError(t, w.RecordTrade(trade("p1")))

	day2 := day1.Add(24 * time.Hour)
	w.now = func() time.Time { return day2 }
	require.NoError(t, w.RecordTrade(trade("p2")))

	// A stray non-segment file is ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	sealed, err := w.SealedSegments()
	require.NoError(t, err)
	require.Len(t, sealed, 1, "the live day's segment stays unsealed")
	assert.Equal(t, filepath.Join(dir, "events-2026-03-09.jsonl"), sealed[0])
}

func TestNopJournal(t *testing.T) {
	var j Nop
	assert.NoError(t, j.RecordTrade(trade("p1")))
	assert.NoError(t, j.RecordSnapshot(domain.PerformanceSnapshot{}))
}
