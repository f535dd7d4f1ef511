package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradecraft-labs/microscalp/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the time allowed between inbound frames. Bybit pushes
	// ticker updates far more often than this on any liquid symbol.
	readWait = 60 * time.Second

	// pingPeriod keeps the connection alive. Bybit expects an application
	// level ping op every 20 seconds.
	pingPeriod = 20 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TickerFeed streams public ticker updates into the price cache so the
// monitor has a warm quote for every instrument in the universe even when a
// REST call fails.
type TickerFeed struct {
	wsURL  string
	prices domain.PriceCache
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols []string

	// writeMu serializes frame writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex
}

// NewTickerFeed creates a feed for the given public stream URL.
func NewTickerFeed(wsURL string, prices domain.PriceCache, logger *slog.Logger) *TickerFeed {
	return &TickerFeed{
		wsURL:  wsURL,
		prices: prices,
		logger: logger.With(slog.String("component", "ticker_feed")),
	}
}

// SetSymbols replaces the subscription set. The new set takes effect on the
// current connection immediately and is restored after every reconnect.
func (f *TickerFeed) SetSymbols(symbols []string) {
	f.mu.Lock()
	old := f.symbols
	f.symbols = append([]string(nil), symbols...)
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return
	}
	if removed := topicDiff(old, symbols); len(removed) > 0 {
		_ = f.sendTo(conn, wsCommand{Op: "unsubscribe", Args: removed})
	}
	if added := topicDiff(symbols, old); len(added) > 0 {
		_ = f.sendTo(conn, wsCommand{Op: "subscribe", Args: added})
	}
}

// Run connects and consumes ticker frames until ctx is cancelled,
// reconnecting with exponential backoff on any failure.
func (f *TickerFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := f.connectAndConsume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.WarnContext(ctx, "feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *TickerFeed) connectAndConsume(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bybit/ws: connect: %w", err)
	}
	defer conn.Close()

	f.mu.Lock()
	f.conn = conn
	topics := topicDiff(f.symbols, nil)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	if len(topics) > 0 {
		if err := f.send(wsCommand{Op: "subscribe", Args: topics}); err != nil {
			return fmt.Errorf("bybit/ws: subscribe: %w", err)
		}
	}

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := f.send(wsCommand{Op: "ping"}); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("bybit/ws: read: %w", err)
		}
		f.handleFrame(ctx, payload)
	}
}

func (f *TickerFeed) handleFrame(ctx context.Context, payload []byte) {
	var msg wsTickerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") || msg.Data.LastPrice == "" {
		return
	}

	price, err := strconv.ParseFloat(msg.Data.LastPrice, 64)
	if err != nil || price <= 0 {
		return
	}

	ts := time.UnixMilli(msg.TS)
	if msg.TS == 0 {
		ts = time.Now()
	}
	if err := f.prices.SetPrice(ctx, msg.Data.Symbol, price, ts); err != nil {
		f.logger.DebugContext(ctx, "price cache write failed",
			slog.String("symbol", msg.Data.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

// send writes a command frame on the current connection.
func (f *TickerFeed) send(cmd wsCommand) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("bybit/ws: not connected")
	}
	return f.sendTo(conn, cmd)
}

func (f *TickerFeed) sendTo(conn *websocket.Conn, cmd wsCommand) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(cmd)
}

// topicDiff returns the ticker topics for symbols in a that are not in b.
func topicDiff(a, b []string) []string {
	seen := make(map[string]bool, len(b))
	for _, s := range b {
		seen[s] = true
	}
	var out []string
	for _, s := range a {
		if !seen[s] {
			out = append(out, "tickers."+s)
		}
	}
	return out
}
