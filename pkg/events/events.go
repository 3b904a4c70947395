// Package events defines the exchange's append-only event log: one
// record per ledger state transition, totally ordered by sequence
// number. The log is the only channel between the ledger and any
// derived read model.
package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
	KindOrder    Kind = "order"
	KindCancel   Kind = "cancel"
	KindTrade    Kind = "trade"
)

// Event is the envelope persisted and streamed for every transition.
// Exactly one payload pointer is set, matching Kind.
type Event struct {
	Seq  uint64 `json:"seq"`
	Kind Kind   `json:"kind"`

	Deposit  *Deposit  `json:"deposit,omitempty"`
	Withdraw *Withdraw `json:"withdraw,omitempty"`
	Order    *Order    `json:"order,omitempty"`
	Cancel   *Cancel   `json:"cancel,omitempty"`
	Trade    *Trade    `json:"trade,omitempty"`
}

// Deposit is emitted after funds enter exchange custody.
// Balance is the (asset, user) balance after the deposit.
type Deposit struct {
	Asset   common.Address `json:"asset"`
	User    common.Address `json:"user"`
	Amount  *big.Int       `json:"amount"`
	Balance *big.Int       `json:"balance"`
}

// Withdraw is emitted after funds leave exchange custody.
// Balance is the (asset, user) balance after the withdrawal.
type Withdraw struct {
	Asset   common.Address `json:"asset"`
	User    common.Address `json:"user"`
	Amount  *big.Int       `json:"amount"`
	Balance *big.Int       `json:"balance"`
}

// Order is emitted when a new order enters the book.
type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"` // creation time, unix seconds
}

// Cancel is emitted when an order's creator cancels it.
type Cancel struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"` // cancellation time, unix seconds
}

// Trade is emitted when an order is filled. User is the maker, Filler
// the taker. FeeAmount was charged to the filler in TokenGet on top of
// AmountGet; the maker received AmountGet in full.
type Trade struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	Filler     common.Address `json:"filler"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	FeeAmount  *big.Int       `json:"feeAmount"`
	Timestamp  int64          `json:"timestamp"` // fill time, unix seconds
}
