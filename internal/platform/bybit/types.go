package bybit

import "encoding/json"

// apiResponse is the envelope every Bybit v5 REST endpoint returns.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// Bybit v5 return codes the gateway maps to domain sentinels.
const (
	retCodeOK              = 0
	retCodeTimeout         = 10016
	retCodeRateLimited     = 10006
	retCodeBalanceTooLow   = 110007
	retCodePositionIsZero  = 110017
	retCodeDuplicateOrder  = 10005
	retCodeOrderNotFound   = 110001
	retCodeReduceOnlyEmpty = 110025
)

// tickerEntry is one row of /v5/market/tickers.
type tickerEntry struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Turnover24h  string `json:"turnover24h"`
	Volume24h    string `json:"volume24h"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
}

type tickerResult struct {
	Category string        `json:"category"`
	List     []tickerEntry `json:"list"`
}

// klineResult holds /v5/market/kline rows. Each row is
// [startTime, open, high, low, close, volume, turnover], newest first.
type klineResult struct {
	Symbol   string     `json:"symbol"`
	Category string     `json:"category"`
	List     [][]string `json:"list"`
}

// instrumentEntry is one row of /v5/market/instruments-info.
type instrumentEntry struct {
	Symbol        string        `json:"symbol"`
	Status        string        `json:"status"`
	LotSizeFilter lotSizeFilter `json:"lotSizeFilter"`
}

type lotSizeFilter struct {
	MinNotionalValue string `json:"minNotionalValue"`
	MinOrderQty      string `json:"minOrderQty"`
}

type instrumentsResult struct {
	Category string            `json:"category"`
	List     []instrumentEntry `json:"list"`
}

// orderRequest is the body of /v5/order/create.
type orderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"` // "Buy" or "Sell"
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
	TakeProfit  string `json:"takeProfit,omitempty"`
	StopLoss    string `json:"stopLoss,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
}

type orderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// orderDetail is one row of /v5/order/history.
type orderDetail struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	OrderStatus string `json:"orderStatus"`
	AvgPrice    string `json:"avgPrice"`
	CumExecQty  string `json:"cumExecQty"`
}

type orderHistoryResult struct {
	List []orderDetail `json:"list"`
}

// walletResult holds /v5/account/wallet-balance rows.
type walletResult struct {
	List []struct {
		AccountType string `json:"accountType"`
		Coin        []struct {
			Coin          string `json:"coin"`
			WalletBalance string `json:"walletBalance"`
			Equity        string `json:"equity"`
		} `json:"coin"`
	} `json:"list"`
}

// wsTickerMessage is a public ticker push frame.
type wsTickerMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

// wsCommand is a subscribe/ping frame sent to the public stream.
type wsCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}
