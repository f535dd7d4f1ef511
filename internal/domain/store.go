package domain

import (
	"context"
	"io"
	"time"
)

// PriceCache stores the latest observed price per instrument. The scanner and
// the websocket feed write into it; the position monitor reads it as a
// fallback quote when the gateway is briefly unavailable.
type PriceCache interface {
	SetPrice(ctx context.Context, instrumentID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, instrumentID string) (float64, time.Time, error)
}

// TradeStore persists closed trades. Records are append-only.
type TradeStore interface {
	Insert(ctx context.Context, trade ClosedTrade) error
}

// SnapshotStore persists performance snapshots. Records are append-only.
type SnapshotStore interface {
	Insert(ctx context.Context, snap PerformanceSnapshot) error
}

// Journal is the line-oriented event log: one record per closed trade, one
// per snapshot, timestamp-ordered. Implementations must be safe for
// concurrent use.
type Journal interface {
	RecordTrade(trade ClosedTrade) error
	RecordSnapshot(snap PerformanceSnapshot) error
}

// BlobWriter uploads a journal segment to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
