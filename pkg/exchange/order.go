package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus is the lifecycle state of an order. Transitions are
// one-way: Open -> Cancelled or Open -> Filled, never back.
type OrderStatus int8

const (
	OrderOpen OrderStatus = iota
	OrderCancelled
	OrderFilled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderCancelled:
		return "cancelled"
	case OrderFilled:
		return "filled"
	default:
		return "unknown"
	}
}

// Order is a standing offer to swap AmountGive of TokenGive for
// AmountGet of TokenGet. IDs are assigned sequentially by the ledger
// and never reused.
type Order struct {
	ID         uint64
	Owner      common.Address
	TokenGet   Asset
	AmountGet  *big.Int
	TokenGive  Asset
	AmountGive *big.Int
	CreatedAt  int64 // unix seconds
	Status     OrderStatus
}

func (o *Order) IsOpen() bool { return o.Status == OrderOpen }

// Clone returns a deep copy so callers can hold a snapshot while the
// ledger keeps mutating the original.
func (o *Order) Clone() Order {
	cp := *o
	cp.AmountGet = new(big.Int).Set(o.AmountGet)
	cp.AmountGive = new(big.Int).Set(o.AmountGive)
	return cp
}
