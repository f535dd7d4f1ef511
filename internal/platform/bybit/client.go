// Package bybit implements domain.MarketGateway against the Bybit v5 REST
// and public websocket APIs, linear (USDT perpetual) category.
package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/tradecraft-labs/microscalp/internal/crypto"
	"github.com/tradecraft-labs/microscalp/internal/domain"
)

const (
	category      = "linear"
	settleCoin    = "USDT"
	klineInterval = "1" // 1-minute bars

	// Turnover thresholds for liquidity tiering, USDT per 24h.
	tierHighTurnover = 50_000_000
	tierMidTurnover  = 10_000_000
)

// openOrder remembers what PlaceOrder submitted so ClosePosition can build
// the reduce-only opposite order without a venue round-trip.
type openOrder struct {
	symbol string
	side   string // side of the entry order
	qty    string
}

// Client is the REST gateway for Bybit v5.
type Client struct {
	baseURL    string
	signer     *crypto.Signer
	httpClient *http.Client
	klineLimit int
	logger     *slog.Logger

	mu     sync.Mutex
	orders map[string]openOrder // entry order ID -> submitted order
}

var _ domain.MarketGateway = (*Client)(nil)

// NewClient creates a Bybit gateway. klineLimit is the number of bars
// requested per market-data call.
func NewClient(baseURL string, signer *crypto.Signer, klineLimit int, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		signer:  signer,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		klineLimit: klineLimit,
		logger:     logger.With(slog.String("component", "bybit")),
		orders:     make(map[string]openOrder),
	}
}

// ListInstruments returns every tradeable linear instrument with its 24h
// turnover and liquidity tier.
func (c *Client) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	params := url.Values{}
	params.Set("category", category)

	body, err := c.get(ctx, "/v5/market/tickers", params, false)
	if err != nil {
		return nil, fmt.Errorf("bybit: list tickers: %w", err)
	}

	var result tickerResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("bybit: decode tickers: %w", err)
	}

	minSizes, err := c.minNotionals(ctx)
	if err != nil {
		return nil, err
	}

	instruments := make([]domain.Instrument, 0, len(result.List))
	for _, t := range result.List {
		turnover, err := strconv.ParseFloat(t.Turnover24h, 64)
		if err != nil {
			continue
		}
		minSize, ok := minSizes[t.Symbol]
		if !ok {
			continue // not tradeable
		}
		instruments = append(instruments, domain.Instrument{
			ID:        t.Symbol,
			MinSize:   minSize,
			Tier:      tierFor(turnover),
			Volume24h: turnover,
		})
	}
	return instruments, nil
}

// minNotionals returns the minimum order notional per trading symbol.
func (c *Client) minNotionals(ctx context.Context) (map[string]float64, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("limit", "1000")

	body, err := c.get(ctx, "/v5/market/instruments-info", params, false)
	if err != nil {
		return nil, fmt.Errorf("bybit: instruments info: %w", err)
	}

	var result instrumentsResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("bybit: decode instruments info: %w", err)
	}

	out := make(map[string]float64, len(result.List))
	for _, inst := range result.List {
		if inst.Status != "Trading" {
			continue
		}
		minNotional, err := strconv.ParseFloat(inst.LotSizeFilter.MinNotionalValue, 64)
		if err != nil || minNotional <= 0 {
			minNotional = 5 // Bybit's standard linear minimum
		}
		out[inst.Symbol] = minNotional
	}
	return out, nil
}

// GetMarketData returns the recent 1-minute kline window plus the latest tick
// for one instrument.
func (c *Client) GetMarketData(ctx context.Context, inst domain.Instrument) (domain.MarketData, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", inst.ID)
	params.Set("interval", klineInterval)
	params.Set("limit", strconv.Itoa(c.klineLimit))

	body, err := c.get(ctx, "/v5/market/kline", params, false)
	if err != nil {
		return domain.MarketData{}, fmt.Errorf("bybit: kline %s: %w", inst.ID, err)
	}

	var result klineResult
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.MarketData{}, fmt.Errorf("bybit: decode kline %s: %w", inst.ID, err)
	}
	if len(result.List) == 0 {
		return domain.MarketData{}, fmt.Errorf("bybit: kline %s: %w", inst.ID, domain.ErrNotFound)
	}

	// Rows arrive newest first; the scanner wants oldest first.
	n := len(result.List)
	md := domain.MarketData{
		InstrumentID: inst.ID,
		Closes:       make([]float64, 0, n),
		Highs:        make([]float64, 0, n),
		Lows:         make([]float64, 0, n),
		Volume24h:    inst.Volume24h,
	}
	for i := n - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 5 {
			return domain.MarketData{}, fmt.Errorf("bybit: kline %s: short row", inst.ID)
		}
		high, err1 := strconv.ParseFloat(row[2], 64)
		low, err2 := strconv.ParseFloat(row[3], 64)
		closePx, err3 := strconv.ParseFloat(row[4], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return domain.MarketData{}, fmt.Errorf("bybit: kline %s: bad row", inst.ID)
		}
		md.Highs = append(md.Highs, high)
		md.Lows = append(md.Lows, low)
		md.Closes = append(md.Closes, closePx)
	}
	md.LastPrice = md.Closes[len(md.Closes)-1]

	if last, err := c.lastPrice(ctx, inst.ID); err == nil && last > 0 {
		md.LastPrice = last
	}
	return md, nil
}

func (c *Client) lastPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)

	body, err := c.get(ctx, "/v5/market/tickers", params, false)
	if err != nil {
		return 0, err
	}
	var result tickerResult
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, domain.ErrNotFound
	}
	return strconv.ParseFloat(result.List[0].LastPrice, 64)
}

// PlaceOrder submits a market entry order with attached take-profit and
// stop-loss. The request's ClientOrderID becomes the venue orderLinkId, so a
// retried submission dedupes server-side.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	price, err := c.lastPrice(ctx, req.Instrument.ID)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("bybit: quote %s: %w", req.Instrument.ID, err)
	}
	if price <= 0 {
		return domain.OrderAck{}, fmt.Errorf("bybit: quote %s: non-positive price", req.Instrument.ID)
	}

	side := "Buy"
	if req.Direction == domain.DirectionShort {
		side = "Sell"
	}
	qty := strconv.FormatFloat(req.Size/price, 'f', 6, 64)

	order := orderRequest{
		Category:    category,
		Symbol:      req.Instrument.ID,
		Side:        side,
		OrderType:   "Market",
		Qty:         qty,
		OrderLinkID: req.ClientOrderID,
		TakeProfit:  strconv.FormatFloat(req.TakeProfit, 'f', -1, 64),
		StopLoss:    strconv.FormatFloat(req.StopLoss, 'f', -1, 64),
	}

	body, err := c.post(ctx, "/v5/order/create", order)
	if errors.Is(err, errDuplicateClientOrder) {
		// A previous attempt already landed; recover its ack instead of
		// opening a second position.
		return c.recoverByLinkID(ctx, req.Instrument.ID, req.ClientOrderID, side, qty, price)
	}
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("bybit: place order %s: %w", req.Instrument.ID, err)
	}

	var result orderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.OrderAck{}, fmt.Errorf("bybit: decode order ack: %w", err)
	}

	fill := price
	if avg, err := c.avgFillPrice(ctx, req.Instrument.ID, result.OrderID); err == nil && avg > 0 {
		fill = avg
	}

	c.mu.Lock()
	c.orders[result.OrderID] = openOrder{symbol: req.Instrument.ID, side: side, qty: qty}
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "order placed",
		slog.String("symbol", req.Instrument.ID),
		slog.String("side", side),
		slog.String("qty", qty),
		slog.Float64("fill", fill),
	)
	return domain.OrderAck{OrderID: result.OrderID, FillPrice: fill}, nil
}

// recoverByLinkID rebuilds the ack for an order a previous attempt submitted
// under the same client order ID.
func (c *Client) recoverByLinkID(ctx context.Context, symbol, linkID, side, qty string, quote float64) (domain.OrderAck, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)
	params.Set("orderLinkId", linkID)

	body, err := c.get(ctx, "/v5/order/history", params, true)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("bybit: recover order %s: %w", linkID, err)
	}
	var result orderHistoryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.OrderAck{}, fmt.Errorf("bybit: decode recovered order: %w", err)
	}
	if len(result.List) == 0 {
		return domain.OrderAck{}, fmt.Errorf("bybit: recover order %s: %w", linkID, domain.ErrNotFound)
	}

	detail := result.List[0]
	fill := quote
	if avg, err := strconv.ParseFloat(detail.AvgPrice, 64); err == nil && avg > 0 {
		fill = avg
	}

	c.mu.Lock()
	c.orders[detail.OrderID] = openOrder{symbol: symbol, side: side, qty: qty}
	c.mu.Unlock()

	return domain.OrderAck{OrderID: detail.OrderID, FillPrice: fill}, nil
}

// avgFillPrice looks up the executed average price of an order.
func (c *Client) avgFillPrice(ctx context.Context, symbol, orderID string) (float64, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	body, err := c.get(ctx, "/v5/order/history", params, true)
	if err != nil {
		return 0, err
	}
	var result orderHistoryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, domain.ErrNotFound
	}
	return strconv.ParseFloat(result.List[0].AvgPrice, 64)
}

// ClosePosition exits the position opened by the given entry order with a
// reduce-only market order on the opposite side. Returns
// domain.ErrAlreadyClosed when the venue reports no position left to reduce,
// which happens when the attached stop or take-profit already fired.
func (c *Client) ClosePosition(ctx context.Context, orderID string) (domain.CloseAck, error) {
	c.mu.Lock()
	entry, ok := c.orders[orderID]
	c.mu.Unlock()
	if !ok {
		return domain.CloseAck{}, fmt.Errorf("bybit: close %s: unknown order: %w", orderID, domain.ErrNotFound)
	}

	side := "Sell"
	if entry.side == "Sell" {
		side = "Buy"
	}

	order := orderRequest{
		Category:   category,
		Symbol:     entry.symbol,
		Side:       side,
		OrderType:  "Market",
		Qty:        entry.qty,
		ReduceOnly: true,
	}

	body, err := c.post(ctx, "/v5/order/create", order)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) {
			c.forget(orderID)
		}
		return domain.CloseAck{}, fmt.Errorf("bybit: close %s: %w", orderID, err)
	}

	var result orderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.CloseAck{}, fmt.Errorf("bybit: decode close ack: %w", err)
	}

	exit, err := c.avgFillPrice(ctx, entry.symbol, result.OrderID)
	if err != nil || exit <= 0 {
		// Fall back to the live quote; the close order is already filled.
		exit, _ = c.lastPrice(ctx, entry.symbol)
	}

	c.forget(orderID)
	return domain.CloseAck{ExitPrice: exit}, nil
}

func (c *Client) forget(orderID string) {
	c.mu.Lock()
	delete(c.orders, orderID)
	c.mu.Unlock()
}

// GetBalance returns the USDT wallet balance of the unified account.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	params.Set("coin", settleCoin)

	body, err := c.get(ctx, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return 0, fmt.Errorf("bybit: wallet balance: %w", err)
	}

	var result walletResult
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("bybit: decode wallet balance: %w", err)
	}

	for _, acct := range result.List {
		for _, coin := range acct.Coin {
			if coin.Coin != settleCoin {
				continue
			}
			balance, err := strconv.ParseFloat(coin.WalletBalance, 64)
			if err != nil {
				return 0, fmt.Errorf("bybit: parse wallet balance: %w", err)
			}
			return balance, nil
		}
	}
	return 0, fmt.Errorf("bybit: wallet balance: %s not found: %w", settleCoin, domain.ErrNotFound)
}

// ---------------------------------------------------------------------------
// transport
// ---------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool) ([]byte, error) {
	query := params.Encode()
	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		for k, v := range c.signer.Headers(query) {
			req.Header.Set(k, v)
		}
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.signer.Headers(string(jsonBody)) {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

// do sends the request and unwraps the Bybit envelope, mapping transport and
// venue failures onto the domain sentinels.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("http request: %w", domain.ErrTimeout)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("http request: %w", domain.ErrTimeout)
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("HTTP 429: %w", domain.ErrRateLimited)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrTimeout)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := mapRetCode(envelope.RetCode, envelope.RetMsg); err != nil {
		return nil, err
	}
	return envelope.Result, nil
}

// errDuplicateClientOrder marks a resubmission under an orderLinkId the venue
// has already accepted.
var errDuplicateClientOrder = errors.New("duplicate client order")

// mapRetCode translates Bybit v5 return codes to domain sentinels.
func mapRetCode(code int, msg string) error {
	switch code {
	case retCodeOK:
		return nil
	case retCodeDuplicateOrder:
		return fmt.Errorf("retCode %d %s: %w", code, msg, errDuplicateClientOrder)
	case retCodeTimeout:
		return fmt.Errorf("retCode %d %s: %w", code, msg, domain.ErrTimeout)
	case retCodeRateLimited:
		return fmt.Errorf("retCode %d %s: %w", code, msg, domain.ErrRateLimited)
	case retCodeBalanceTooLow:
		return fmt.Errorf("retCode %d %s: %w", code, msg, domain.ErrInsufficientFunds)
	case retCodePositionIsZero, retCodeReduceOnlyEmpty:
		return fmt.Errorf("retCode %d %s: %w", code, msg, domain.ErrAlreadyClosed)
	case retCodeOrderNotFound:
		return fmt.Errorf("retCode %d %s: %w", code, msg, domain.ErrNotFound)
	default:
		return fmt.Errorf("retCode %d %s: %w", code, msg, domain.ErrRejected)
	}
}

// tierFor buckets 24h turnover into a liquidity tier.
func tierFor(turnover float64) domain.LiquidityTier {
	switch {
	case turnover >= tierHighTurnover:
		return domain.TierHigh
	case turnover >= tierMidTurnover:
		return domain.TierMid
	default:
		return domain.TierLow
	}
}
