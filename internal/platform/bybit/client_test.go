package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecraft-labs/microscalp/internal/crypto"
	"github.com/tradecraft-labs/microscalp/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	signer := crypto.NewSigner("test-key", "test-secret", 5000)
	return NewClient(srv.URL, signer, 50, slog.New(slog.DiscardHandler))
}

func writeEnvelope(w http.ResponseWriter, result any) {
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(apiResponse{RetCode: 0, RetMsg: "OK", Result: raw})
}

func writeRetCode(w http.ResponseWriter, code int, msg string) {
	_ = json.NewEncoder(w).Encode(apiResponse{RetCode: code, RetMsg: msg, Result: []byte("{}")})
}

func TestMapRetCode(t *testing.T) {
	assert.NoError(t, mapRetCode(0, "OK"))
	assert.ErrorIs(t, mapRetCode(10016, "timeout"), domain.ErrTimeout)
	assert.ErrorIs(t, mapRetCode(10006, "too many visits"), domain.ErrRateLimited)
	assert.ErrorIs(t, mapRetCode(110007, "ab not enough"), domain.ErrInsufficientFunds)
	assert.ErrorIs(t, mapRetCode(110017, "position is zero"), domain.ErrAlreadyClosed)
	assert.ErrorIs(t, mapRetCode(110025, "reduce-only rejected"), domain.ErrAlreadyClosed)
	assert.ErrorIs(t, mapRetCode(110001, "order not exists"), domain.ErrNotFound)
	assert.ErrorIs(t, mapRetCode(10005, "duplicate"), errDuplicateClientOrder)
	assert.ErrorIs(t, mapRetCode(33004, "anything else"), domain.ErrRejected)
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, domain.TierHigh, tierFor(50_000_000))
	assert.Equal(t, domain.TierHigh, tierFor(200_000_000))
	assert.Equal(t, domain.TierMid, tierFor(10_000_000))
	assert.Equal(t, domain.TierMid, tierFor(49_999_999))
	assert.Equal(t, domain.TierLow, tierFor(9_999_999))
	assert.Equal(t, domain.TierLow, tierFor(0))
}

func TestListInstruments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, tickerResult{List: []tickerEntry{
			{Symbol: "BTCUSDT", LastPrice: "50000", Turnover24h: "90000000"},
			{Symbol: "ETHUSDT", LastPrice: "3000", Turnover24h: "20000000"},
			{Symbol: "DEADUSDT", LastPrice: "1", Turnover24h: "100"},
			{Symbol: "BADROW", LastPrice: "1", Turnover24h: "not-a-number"},
		}})
	})
	mux.HandleFunc("/v5/market/instruments-info", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, instrumentsResult{List: []instrumentEntry{
			{Symbol: "BTCUSDT", Status: "Trading", LotSizeFilter: lotSizeFilter{MinNotionalValue: "5"}},
			{Symbol: "ETHUSDT", Status: "Trading", LotSizeFilter: lotSizeFilter{MinNotionalValue: ""}},
			{Symbol: "DEADUSDT", Status: "Closed", LotSizeFilter: lotSizeFilter{MinNotionalValue: "5"}},
			{Symbol: "BADROW", Status: "Trading", LotSizeFilter: lotSizeFilter{MinNotionalValue: "5"}},
		}})
	})
	c := newTestClient(t, mux)

	got, err := c.ListInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2, "non-trading and unparsable rows are dropped")

	assert.Equal(t, "BTCUSDT", got[0].ID)
	assert.Equal(t, domain.TierHigh, got[0].Tier)
	assert.Equal(t, 5.0, got[0].MinSize)
	assert.Equal(t, 90_000_000.0, got[0].Volume24h)

	assert.Equal(t, "ETHUSDT", got[1].ID)
	assert.Equal(t, domain.TierMid, got[1].Tier)
	assert.Equal(t, 5.0, got[1].MinSize, "missing min notional falls back to the venue default")
}

func TestGetMarketDataReversesKlines(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/kline", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1", r.URL.Query().Get("interval"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		// Newest first, three bars: closes 103, 102, 101.
		writeEnvelope(w, klineResult{List: [][]string{
			{"3000", "102.5", "103.5", "102.0", "103", "10", "1000"},
			{"2000", "101.5", "102.5", "101.0", "102", "10", "1000"},
			{"1000", "100.5", "101.5", "100.0", "101", "10", "1000"},
		}})
	})
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, tickerResult{List: []tickerEntry{{Symbol: "BTCUSDT", LastPrice: "103.7"}}})
	})
	c := newTestClient(t, mux)

	md, err := c.GetMarketData(context.Background(), domain.Instrument{ID: "BTCUSDT", Volume24h: 90_000_000})
	require.NoError(t, err)

	assert.Equal(t, []float64{101, 102, 103}, md.Closes, "oldest first")
	assert.Equal(t, []float64{101.5, 102.5, 103.5}, md.Highs)
	assert.Equal(t, []float64{100, 101, 102}, md.Lows)
	assert.Equal(t, 103.7, md.LastPrice, "live ticker overrides the bar close")
	assert.Equal(t, 90_000_000.0, md.Volume24h)
}

func TestGetMarketDataEmptyKlines(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/kline", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, klineResult{})
	})
	c := newTestClient(t, mux)

	_, err := c.GetMarketData(context.Background(), domain.Instrument{ID: "NOPEUSDT"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceOrderAndClose(t *testing.T) {
	var created []orderRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, tickerResult{List: []tickerEntry{{Symbol: "BTCUSDT", LastPrice: "100"}}})
	})
	mux.HandleFunc("/v5/order/create", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"), "order endpoints must be signed")
		assert.Equal(t, "test-key", r.Header.Get("X-BAPI-API-KEY"))
		var req orderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		created = append(created, req)
		writeEnvelope(w, orderResult{OrderID: fmt.Sprintf("venue-%d", len(created))})
	})
	mux.HandleFunc("/v5/order/history", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, orderHistoryResult{List: []orderDetail{
			{OrderID: "venue-1", AvgPrice: "100.2"},
		}})
	})
	c := newTestClient(t, mux)

	ack, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Instrument:    domain.Instrument{ID: "BTCUSDT", MinSize: 5},
		Direction:     domain.DirectionLong,
		Size:          10,
		StopLoss:      99,
		TakeProfit:    101,
		ClientOrderID: "BTCUSDT-1767225600000",
	})
	require.NoError(t, err)
	assert.Equal(t, "venue-1", ack.OrderID)
	assert.Equal(t, 100.2, ack.FillPrice, "fill comes from the executed average")

	require.Len(t, created, 1)
	entry := created[0]
	assert.Equal(t, "Buy", entry.Side)
	assert.Equal(t, "Market", entry.OrderType)
	assert.Equal(t, "0.100000", entry.Qty, "10 USDT at price 100")
	assert.Equal(t, "BTCUSDT-1767225600000", entry.OrderLinkID)
	assert.Equal(t, "101", entry.TakeProfit)
	assert.Equal(t, "99", entry.StopLoss)
	assert.False(t, entry.ReduceOnly)

	_, err = c.ClosePosition(context.Background(), "venue-1")
	require.NoError(t, err)

	require.Len(t, created, 2)
	exit := created[1]
	assert.Equal(t, "Sell", exit.Side, "close is the opposite side")
	assert.Equal(t, entry.Qty, exit.Qty)
	assert.True(t, exit.ReduceOnly)

	// The entry is forgotten once closed.
	_, err = c.ClosePosition(context.Background(), "venue-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceOrderRecoversDuplicateLinkID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, tickerResult{List: []tickerEntry{{Symbol: "BTCUSDT", LastPrice: "100"}}})
	})
	mux.HandleFunc("/v5/order/create", func(w http.ResponseWriter, r *http.Request) {
		writeRetCode(w, retCodeDuplicateOrder, "order link id exists")
	})
	mux.HandleFunc("/v5/order/history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT-42", r.URL.Query().Get("orderLinkId"))
		writeEnvelope(w, orderHistoryResult{List: []orderDetail{
			{OrderID: "earlier-order", OrderLinkID: "BTCUSDT-42", AvgPrice: "99.8"},
		}})
	})
	c := newTestClient(t, mux)

	ack, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Instrument:    domain.Instrument{ID: "BTCUSDT"},
		Direction:     domain.DirectionLong,
		Size:          10,
		ClientOrderID: "BTCUSDT-42",
	})
	require.NoError(t, err, "a duplicate link id resolves to the earlier order")
	assert.Equal(t, "earlier-order", ack.OrderID)
	assert.Equal(t, 99.8, ack.FillPrice)
}

func TestClosePositionAlreadyClosed(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, tickerResult{List: []tickerEntry{{Symbol: "BTCUSDT", LastPrice: "100"}}})
	})
	mux.HandleFunc("/v5/order/create", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeEnvelope(w, orderResult{OrderID: "venue-1"})
			return
		}
		// The attached stop already flattened the position.
		writeRetCode(w, retCodePositionIsZero, "current position is zero")
	})
	mux.HandleFunc("/v5/order/history", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, orderHistoryResult{List: []orderDetail{{OrderID: "venue-1", AvgPrice: "100"}}})
	})
	c := newTestClient(t, mux)

	_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Instrument: domain.Instrument{ID: "BTCUSDT"},
		Direction:  domain.DirectionLong,
		Size:       10,
	})
	require.NoError(t, err)

	_, err = c.ClosePosition(context.Background(), "venue-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)
}

func TestDoMapsHTTPStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c := newTestClient(t, mux)

	_, err := c.ListInstruments(context.Background())
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestGetBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/account/wallet-balance", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))
		assert.Equal(t, "UNIFIED", r.URL.Query().Get("accountType"))
		writeEnvelope(w, map[string]any{
			"list": []map[string]any{{
				"accountType": "UNIFIED",
				"coin": []map[string]any{
					{"coin": "BTC", "walletBalance": "0.001"},
					{"coin": "USDT", "walletBalance": "104.25"},
				},
			}},
		})
	})
	c := newTestClient(t, mux)

	balance, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 104.25, balance)
}
