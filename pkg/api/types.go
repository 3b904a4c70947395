package api

// API request/response types. Amounts cross the wire as decimal
// strings: wei values overflow JSON-safe integers.

// ==============================
// REST Request Types
// ==============================

// DepositRequest funds the caller's exchange balance. Asset empty or
// zero means the native currency; for native deposits the attached
// value equals the amount.
type DepositRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset,omitempty"`
	Amount string `json:"amount"`
}

type WithdrawRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset,omitempty"`
	Amount string `json:"amount"`
}

type MakeOrderRequest struct {
	Owner      string `json:"owner"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
}

// OrderActionRequest cancels or fills the order in the URL path.
type OrderActionRequest struct {
	Caller string `json:"caller"`
}

// ==============================
// REST Response Types
// ==============================

type BalanceResponse struct {
	Asset   string `json:"asset"`
	User    string `json:"user"`
	Balance string `json:"balance"`
}

type MakeOrderResponse struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// OrderBookResponse is the open book split by side.
type OrderBookResponse struct {
	Buys  interface{} `json:"buys"`
	Sells interface{} `json:"sells"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest subscribes/unsubscribes event channels. Channels
// are event kinds ("deposit", "withdraw", "order", "cancel", "trade")
// or "events" for everything.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSEvent wraps a broadcast log event with its channel.
type WSEvent struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}
