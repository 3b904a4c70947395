package projector

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/sangwoo-bae/etherdex/pkg/events"
)

var (
	dapp  = common.HexToAddress("0xDa99000000000000000000000000000000000000")
	maker = common.HexToAddress("0xA100000000000000000000000000000000000000")
	taker = common.HexToAddress("0xB200000000000000000000000000000000000000")
)

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), weiPerEther)
}

// tokens and ether share 18 decimals
var tokens = ether

func milliEther(n int64) *big.Int {
	out := new(big.Int).Mul(big.NewInt(n), weiPerEther)
	return out.Div(out, big.NewInt(1000))
}

// eventScript builds a small but representative log: two deposits, a
// buy order that gets filled, a cancelled order, and an open order.
func eventScript() []events.Event {
	const t0 = 1_700_000_000 // falls mid-hour

	evs := []events.Event{
		{Kind: events.KindDeposit, Deposit: &events.Deposit{Asset: common.Address{}, User: maker, Amount: ether(1), Balance: ether(1)}},
		{Kind: events.KindDeposit, Deposit: &events.Deposit{Asset: dapp, User: taker, Amount: tokens(500), Balance: tokens(500)}},
		{Kind: events.KindOrder, Order: &events.Order{ID: 1, User: maker, TokenGet: dapp, AmountGet: tokens(100), TokenGive: common.Address{}, AmountGive: milliEther(100), Timestamp: t0}},
		{Kind: events.KindTrade, Trade: &events.Trade{ID: 1, User: maker, Filler: taker, TokenGet: dapp, AmountGet: tokens(100), TokenGive: common.Address{}, AmountGive: milliEther(100), FeeAmount: tokens(2), Timestamp: t0 + 60}},
		{Kind: events.KindOrder, Order: &events.Order{ID: 2, User: maker, TokenGet: dapp, AmountGet: tokens(100), TokenGive: common.Address{}, AmountGive: milliEther(120), Timestamp: t0 + 120}},
		{Kind: events.KindCancel, Cancel: &events.Cancel{ID: 2, User: maker, TokenGet: dapp, AmountGet: tokens(100), TokenGive: common.Address{}, AmountGive: milliEther(120), Timestamp: t0 + 180}},
		{Kind: events.KindOrder, Order: &events.Order{ID: 3, User: taker, TokenGet: common.Address{}, AmountGet: milliEther(50), TokenGive: dapp, AmountGive: tokens(50), Timestamp: t0 + 240}},
	}
	for i := range evs {
		evs[i].Seq = uint64(i)
	}
	return evs
}

func TestOpenOrdersExcludesTerminal(t *testing.T) {
	p := New(nil)
	p.Replay(eventScript())

	open := p.OpenOrders()
	if len(open) != 1 {
		t.Fatalf("open orders = %d, want 1", len(open))
	}
	if open[0].ID != 3 {
		t.Errorf("open order id = %d, want 3 (1 filled, 2 cancelled)", open[0].ID)
	}
}

// TestReplayDeterminism replays the same log into two fresh projectors
// and requires identical views. Full-replay determinism is the core
// correctness property.
func TestReplayDeterminism(t *testing.T) {
	a, b := New(nil), New(nil)
	a.Replay(eventScript())
	b.Replay(eventScript())

	ao, bo := a.OpenOrders(), b.OpenOrders()
	if len(ao) != len(bo) {
		t.Fatalf("open orders differ: %d vs %d", len(ao), len(bo))
	}
	for i := range ao {
		if ao[i].ID != bo[i].ID || !ao[i].Price.Equal(bo[i].Price) {
			t.Errorf("open order %d differs: %+v vs %+v", i, ao[i], bo[i])
		}
	}

	at, bt := a.TradeHistory(), b.TradeHistory()
	if len(at) != len(bt) {
		t.Fatalf("trade history differs: %d vs %d", len(at), len(bt))
	}
	for i := range at {
		if at[i].ID != bt[i].ID || !at[i].Price.Equal(bt[i].Price) || at[i].Trend != bt[i].Trend {
			t.Errorf("trade %d differs: %+v vs %+v", i, at[i], bt[i])
		}
	}

	ac, bc := a.Candles(), b.Candles()
	if len(ac) != len(bc) {
		t.Fatalf("candles differ: %d vs %d", len(ac), len(bc))
	}
	for i := range ac {
		if ac[i].Time != bc[i].Time || !ac[i].Open.Equal(bc[i].Open) || !ac[i].Close.Equal(bc[i].Close) {
			t.Errorf("candle %d differs: %+v vs %+v", i, ac[i], bc[i])
		}
	}
}

// TestReplayIdempotent re-ingests the full log into an already caught
// up projector: no view may change.
func TestReplayIdempotent(t *testing.T) {
	p := New(nil)
	script := eventScript()
	p.Replay(script)

	trades := len(p.TradeHistory())
	open := len(p.OpenOrders())
	balance := p.Balance(dapp, taker)

	p.Replay(script) // duplicates, as after a re-subscribe overlap

	if got := len(p.TradeHistory()); got != trades {
		t.Errorf("trade count after duplicate replay = %d, want %d", got, trades)
	}
	if got := len(p.OpenOrders()); got != open {
		t.Errorf("open count after duplicate replay = %d, want %d", got, open)
	}
	if got := p.Balance(dapp, taker); got.Cmp(balance) != 0 {
		t.Errorf("balance after duplicate replay = %s, want %s", got, balance)
	}
}

func TestDecorateOrderPrice(t *testing.T) {
	cases := []struct {
		name  string
		order events.Order
		price string
		side  string
	}{
		{
			// 1 ether for 100 tokens: 0.01 native per token
			name:  "give native",
			order: events.Order{TokenGive: common.Address{}, AmountGive: ether(1), TokenGet: dapp, AmountGet: tokens(100)},
			price: "0.01",
			side:  "buy",
		},
		{
			// Same trade from the other side: price is still native per token
			name:  "give tokens",
			order: events.Order{TokenGive: dapp, AmountGive: tokens(100), TokenGet: common.Address{}, AmountGet: ether(1)},
			price: "0.01",
			side:  "sell",
		},
		{
			// 1/3 rounds half away from zero at the 5th decimal
			name:  "rounded",
			order: events.Order{TokenGive: common.Address{}, AmountGive: ether(1), TokenGet: dapp, AmountGet: tokens(3)},
			price: "0.33333",
			side:  "buy",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := DecorateOrder(tc.order)
			if want := decimal.RequireFromString(tc.price); !d.Price.Equal(want) {
				t.Errorf("price = %s, want %s", d.Price, want)
			}
			if d.Side != tc.side {
				t.Errorf("side = %s, want %s", d.Side, tc.side)
			}
		})
	}
}

// tradeAt emits a fill of 100 tokens against `give` milli-ether at ts,
// after an order event so the projector accepts it.
func tradeAt(seq *uint64, id uint64, ts int64, give int64) []events.Event {
	o := events.Order{ID: id, User: maker, TokenGet: dapp, AmountGet: tokens(100), TokenGive: common.Address{}, AmountGive: milliEther(give), Timestamp: ts}
	tr := events.Trade{ID: id, User: maker, Filler: taker, TokenGet: dapp, AmountGet: tokens(100), TokenGive: common.Address{}, AmountGive: milliEther(give), FeeAmount: tokens(2), Timestamp: ts}
	out := []events.Event{
		{Seq: *seq, Kind: events.KindOrder, Order: &o},
		{Seq: *seq + 1, Kind: events.KindTrade, Trade: &tr},
	}
	*seq += 2
	return out
}

func TestTrendClassification(t *testing.T) {
	const t0 = 1_700_000_000
	var seq uint64
	p := New(nil)
	// Prices: 0.001, 0.0012, 0.0009 native per token
	p.Replay(tradeAt(&seq, 1, t0, 100))
	p.Replay(tradeAt(&seq, 2, t0+60, 120))
	p.Replay(tradeAt(&seq, 3, t0+120, 90))

	history := p.TradeHistory() // most recent first
	if len(history) != 3 {
		t.Fatalf("history len = %d, want 3", len(history))
	}

	want := []struct {
		id    uint64
		trend Trend
	}{
		{3, TrendDown}, // 0.0009 < 0.0012
		{2, TrendUp},   // 0.0012 > 0.001
		{1, TrendUp},   // first trade
	}
	for i, w := range want {
		if history[i].ID != w.id {
			t.Errorf("history[%d].ID = %d, want %d", i, history[i].ID, w.id)
		}
		if history[i].Trend != w.trend {
			t.Errorf("history[%d].Trend = %s, want %s", i, history[i].Trend, w.trend)
		}
	}
}

func TestTrendEqualPriceIsUp(t *testing.T) {
	const t0 = 1_700_000_000
	var seq uint64
	p := New(nil)
	p.Replay(tradeAt(&seq, 1, t0, 100))
	p.Replay(tradeAt(&seq, 2, t0+60, 100))

	history := p.TradeHistory()
	if history[0].Trend != TrendUp {
		t.Errorf("equal price trend = %s, want up", history[0].Trend)
	}
}

func TestCandlesHourlyBuckets(t *testing.T) {
	base := int64(1_700_000_000)
	hour := base - base%3600
	var seq uint64
	p := New(nil)
	// Three trades inside one hour, one two hours later
	p.Replay(tradeAt(&seq, 1, hour+60, 100))   // 0.001, open
	p.Replay(tradeAt(&seq, 2, hour+300, 150))  // 0.0015, high
	p.Replay(tradeAt(&seq, 3, hour+1800, 80))  // 0.0008, low and close
	p.Replay(tradeAt(&seq, 4, hour+7500, 110)) // next occupied bucket

	candles := p.Candles()
	if len(candles) != 2 {
		t.Fatalf("candles = %d, want 2 (empty hour omitted)", len(candles))
	}

	c := candles[0]
	if c.Time != hour {
		t.Errorf("bucket start = %d, want %d", c.Time, hour)
	}
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"open", c.Open, "0.001"},
		{"high", c.High, "0.0015"},
		{"low", c.Low, "0.0008"},
		{"close", c.Close, "0.0008"},
	}
	for _, ch := range checks {
		if want := decimal.RequireFromString(ch.want); !ch.got.Equal(want) {
			t.Errorf("%s = %s, want %s", ch.name, ch.got, want)
		}
	}

	if candles[1].Time != hour+7200 {
		t.Errorf("second bucket = %d, want %d", candles[1].Time, hour+7200)
	}
}

func TestUserViews(t *testing.T) {
	p := New(nil)
	p.Replay(eventScript())

	// Order 3 is taker's open order
	mine := p.OpenOrdersForUser(taker)
	if len(mine) != 1 || mine[0].ID != 3 {
		t.Fatalf("taker open orders = %+v", mine)
	}
	if got := p.OpenOrdersForUser(maker); len(got) != 0 {
		t.Errorf("maker open orders = %d, want 0", len(got))
	}

	// The fill: maker gave native for tokens (buy); taker the mirror
	makerTrades := p.TradeHistoryForUser(maker)
	if len(makerTrades) != 1 || makerTrades[0].Side != "buy" {
		t.Fatalf("maker trades = %+v", makerTrades)
	}
	takerTrades := p.TradeHistoryForUser(taker)
	if len(takerTrades) != 1 || takerTrades[0].Side != "sell" {
		t.Fatalf("taker trades = %+v", takerTrades)
	}

	if got := p.TradeHistoryForUser(common.HexToAddress("0xCC00")); len(got) != 0 {
		t.Errorf("stranger trades = %d, want 0", len(got))
	}
}

func TestBalancesFromEvents(t *testing.T) {
	p := New(nil)
	p.Replay(eventScript())

	// Deposit set maker native to 1 ether; the fill then debited the
	// maker's give side and credited the get side.
	wantMakerNative := new(big.Int).Sub(ether(1), milliEther(100))
	if got := p.Balance(common.Address{}, maker); got.Cmp(wantMakerNative) != 0 {
		t.Errorf("maker native = %s, want %s", got, wantMakerNative)
	}
	if got := p.Balance(dapp, maker); got.Cmp(tokens(100)) != 0 {
		t.Errorf("maker tokens = %s, want %s", got, tokens(100))
	}
	// Taker: 500 deposited - 100 traded - 2 fee, + 0.1 ether
	wantTakerTokens := new(big.Int).Sub(tokens(500), tokens(102))
	if got := p.Balance(dapp, taker); got.Cmp(wantTakerTokens) != 0 {
		t.Errorf("taker tokens = %s, want %s", got, wantTakerTokens)
	}
	if got := p.Balance(common.Address{}, taker); got.Cmp(milliEther(100)) != 0 {
		t.Errorf("taker native = %s, want %s", got, milliEther(100))
	}
}

// TestUnknownReferencesDropped feeds terminal events for orders the
// projector has never seen: they are skipped, not fatal.
func TestUnknownReferencesDropped(t *testing.T) {
	p := New(nil)

	p.Apply(events.Event{Seq: 0, Kind: events.KindCancel, Cancel: &events.Cancel{ID: 99}})
	p.Apply(events.Event{Seq: 1, Kind: events.KindTrade, Trade: &events.Trade{
		ID: 98, AmountGet: tokens(1), AmountGive: tokens(1), FeeAmount: big.NewInt(0),
	}})
	p.Apply(events.Event{Seq: 2, Kind: events.KindOrder}) // malformed: nil payload

	if got := len(p.TradeHistory()); got != 0 {
		t.Errorf("trades = %d, want 0", got)
	}
	if got := len(p.CancelledOrders()); got != 0 {
		t.Errorf("cancels = %d, want 0", got)
	}
	// The projector still advanced past the bad events
	if p.Pos() != 3 {
		t.Errorf("pos = %d, want 3", p.Pos())
	}
}

// TestGapTolerated: a consumer that lost events mid-stream keeps
// working; the gap is logged, not fatal, and a later full replay from
// zero can repair the views.
func TestGapTolerated(t *testing.T) {
	script := eventScript()
	p := New(nil)
	p.Apply(script[0])
	p.Apply(script[2]) // seq 1 missing
	p.Apply(script[3])

	if len(p.TradeHistory()) != 1 {
		t.Errorf("trade not applied across gap")
	}

	// Full resync from position 0 into a fresh projector
	fresh := New(nil)
	fresh.Replay(script)
	if len(fresh.TradeHistory()) != 1 || len(fresh.OpenOrders()) != 1 {
		t.Errorf("replay from zero: trades=%d open=%d", len(fresh.TradeHistory()), len(fresh.OpenOrders()))
	}
}
