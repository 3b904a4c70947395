package projector

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/sangwoo-bae/etherdex/pkg/events"
)

// Trend colors a trade relative to the chronologically previous one.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
)

const weiDecimals = 18

// nativeAsset mirrors the ledger's native sentinel (zero address).
var nativeAsset = common.Address{}

// DecoratedOrder is an open order with its native-per-token unit price.
type DecoratedOrder struct {
	events.Order
	EtherAmount decimal.Decimal `json:"etherAmount"`
	TokenAmount decimal.Decimal `json:"tokenAmount"`
	Price       decimal.Decimal `json:"price"`
	Side        string          `json:"side"` // "buy" = order acquires tokens with native
}

// DecoratedTrade is a fill with price and trend classification.
type DecoratedTrade struct {
	events.Trade
	EtherAmount decimal.Decimal `json:"etherAmount"`
	TokenAmount decimal.Decimal `json:"tokenAmount"`
	Price       decimal.Decimal `json:"price"`
	Trend       Trend           `json:"trend"`
}

// UserTrade is a fill seen from one account's perspective.
type UserTrade struct {
	DecoratedTrade
	Side string `json:"side"` // "buy" or "sell" of the token side
}

// Candle is one hour of trade prices. Hours with no trades are omitted.
type Candle struct {
	Time  int64           `json:"time"` // bucket start, unix seconds
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// priceOf derives the native-per-token unit price: whichever side of
// the swap is the native asset is the ether amount, the other the
// token amount, and price = ether/token rounded to 5 decimal places,
// half away from zero. Always native-per-token, never inverted.
func priceOf(tokenGive common.Address, amountGive, amountGet *big.Int) (ether, tokens, price decimal.Decimal) {
	var etherWei, tokenWei *big.Int
	if tokenGive == nativeAsset {
		etherWei, tokenWei = amountGive, amountGet
	} else {
		etherWei, tokenWei = amountGet, amountGive
	}
	ether = decimal.NewFromBigInt(etherWei, -weiDecimals)
	tokens = decimal.NewFromBigInt(tokenWei, -weiDecimals)
	if tokenWei.Sign() == 0 {
		return ether, tokens, decimal.Zero
	}
	price = decimal.NewFromBigInt(etherWei, 0).
		Div(decimal.NewFromBigInt(tokenWei, 0)).
		Round(5)
	return ether, tokens, price
}

// DecorateOrder computes an order's display amounts and unit price.
func DecorateOrder(o events.Order) DecoratedOrder {
	ether, tokens, price := priceOf(o.TokenGive, o.AmountGive, o.AmountGet)
	side := "sell"
	if o.TokenGive == nativeAsset {
		side = "buy"
	}
	return DecoratedOrder{Order: o, EtherAmount: ether, TokenAmount: tokens, Price: price, Side: side}
}

// OpenOrders returns every order not yet cancelled or filled, in
// creation order. Linear in total orders seen; no indexing needed at
// this scale.
func (p *Projector) OpenOrders() []DecoratedOrder {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []DecoratedOrder
	for _, id := range p.orderIDs {
		if _, ok := p.cancelled[id]; ok {
			continue
		}
		if _, ok := p.filled[id]; ok {
			continue
		}
		out = append(out, DecorateOrder(p.orders[id]))
	}
	return out
}

// OrderBook splits the open orders into buy side (orders offering
// native for tokens) and sell side, each sorted by price: buys high to
// low, sells low to high.
func (p *Projector) OrderBook() (buys, sells []DecoratedOrder) {
	for _, o := range p.OpenOrders() {
		if o.Side == "buy" {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool { return buys[i].Price.GreaterThan(buys[j].Price) })
	sort.SliceStable(sells, func(i, j int) bool { return sells[i].Price.LessThan(sells[j].Price) })
	return buys, sells
}

// CancelledOrders returns the cancellation history, most recent first.
func (p *Projector) CancelledOrders() []events.Cancel {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]events.Cancel, 0, len(p.cancelled))
	for _, c := range p.cancelled {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// tradesAscending copies the fill history sorted by fill time (ties
// keep log order). Trend classification walks this ascending sequence:
// each trade compares against the chronologically previous one, and
// the very first trade is "up".
func (p *Projector) tradesAscending() []DecoratedTrade {
	p.mu.RLock()
	raw := make([]events.Trade, len(p.trades))
	copy(raw, p.trades)
	p.mu.RUnlock()

	sort.SliceStable(raw, func(i, j int) bool { return raw[i].Timestamp < raw[j].Timestamp })

	out := make([]DecoratedTrade, len(raw))
	prev := decimal.Zero
	for i, t := range raw {
		ether, tokens, price := priceOf(t.TokenGive, t.AmountGive, t.AmountGet)
		trend := TrendUp
		if i > 0 && price.LessThan(prev) {
			trend = TrendDown
		}
		out[i] = DecoratedTrade{Trade: t, EtherAmount: ether, TokenAmount: tokens, Price: price, Trend: trend}
		prev = price
	}
	return out
}

// TradeHistory returns every fill, most recent first, with trend
// classification computed over ascending time before the display sort.
func (p *Projector) TradeHistory() []DecoratedTrade {
	asc := p.tradesAscending()
	out := make([]DecoratedTrade, len(asc))
	for i, t := range asc {
		out[len(asc)-1-i] = t
	}
	return out
}

// Candles groups the fill history into hourly OHLC buckets. A bucket
// covers [floor(ts/1h), +1h); hours with no trades are omitted, not
// interpolated.
func (p *Projector) Candles() []Candle {
	const bucketSeconds = 3600

	asc := p.tradesAscending()
	var out []Candle
	byTime := make(map[int64]int) // bucket start -> index in out
	for _, t := range asc {
		bucket := t.Timestamp - (t.Timestamp % bucketSeconds)
		i, ok := byTime[bucket]
		if !ok {
			byTime[bucket] = len(out)
			out = append(out, Candle{Time: bucket, Open: t.Price, High: t.Price, Low: t.Price, Close: t.Price})
			continue
		}
		c := &out[i]
		if t.Price.GreaterThan(c.High) {
			c.High = t.Price
		}
		if t.Price.LessThan(c.Low) {
			c.Low = t.Price
		}
		c.Close = t.Price
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// OpenOrdersForUser filters the open book down to one maker.
func (p *Projector) OpenOrdersForUser(user common.Address) []DecoratedOrder {
	var out []DecoratedOrder
	for _, o := range p.OpenOrders() {
		if o.User == user {
			out = append(out, o)
		}
	}
	return out
}

// TradeHistoryForUser returns the fills the user took part in, most
// recent first. Side is "buy" when the user ended up with the token
// side of the swap (paid native) and "sell" when they gave it up,
// whether they were maker or taker.
func (p *Projector) TradeHistoryForUser(user common.Address) []UserTrade {
	var out []UserTrade
	for _, t := range p.TradeHistory() {
		if t.User != user && t.Filler != user {
			continue
		}
		giveIsNative := t.TokenGive == nativeAsset
		var side string
		if t.User == user {
			// Maker: giving native means buying tokens.
			if giveIsNative {
				side = "buy"
			} else {
				side = "sell"
			}
		} else {
			// Taker: the mirror of the maker's side.
			if giveIsNative {
				side = "sell"
			} else {
				side = "buy"
			}
		}
		out = append(out, UserTrade{DecoratedTrade: t, Side: side})
	}
	return out
}
