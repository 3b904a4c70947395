// Package projector rebuilds the exchange's read-only views (open
// order book, trade history, balances) by replaying the ledger's event
// log. It never reads ledger state directly: replaying the same log
// into a fresh projector always yields the same views, and replay can
// restart from position 0 at any time.
package projector

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sangwoo-bae/etherdex/pkg/events"
)

type balanceKey struct {
	Asset common.Address
	User  common.Address
}

type Projector struct {
	mu sync.RWMutex

	orders    map[uint64]events.Order
	orderIDs  []uint64 // creation order
	cancelled map[uint64]events.Cancel
	filled    map[uint64]events.Trade
	trades    []events.Trade // ingest order
	balances  map[balanceKey]*big.Int

	pos    uint64 // next seq expected
	logger *zap.SugaredLogger
}

func New(logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{
		orders:    make(map[uint64]events.Order),
		cancelled: make(map[uint64]events.Cancel),
		filled:    make(map[uint64]events.Trade),
		balances:  make(map[balanceKey]*big.Int),
		logger:    logger.Sugar(),
	}
}

// Pos returns the seq of the next event not yet applied.
func (p *Projector) Pos() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pos
}

// Apply ingests one event. Re-applying an already seen event is a
// no-op (seq guard plus terminal-event dedupe by order id), so a
// consumer that re-subscribes after a gap and replays overlap is safe.
// Events referencing unknown orders are dropped with a logged
// inconsistency, never fatal.
func (p *Projector) Apply(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Seq < p.pos {
		p.logger.Debugw("event_duplicate_skipped", "seq", ev.Seq)
		return
	}
	if ev.Seq > p.pos {
		p.logger.Warnw("event_gap", "expected", p.pos, "got", ev.Seq)
	}
	p.pos = ev.Seq + 1

	switch ev.Kind {
	case events.KindDeposit:
		if ev.Deposit == nil {
			p.logger.Warnw("malformed_event", "seq", ev.Seq, "kind", ev.Kind)
			return
		}
		// Deposit carries the post-operation balance: set, not add.
		p.balances[balanceKey{ev.Deposit.Asset, ev.Deposit.User}] = new(big.Int).Set(ev.Deposit.Balance)

	case events.KindWithdraw:
		if ev.Withdraw == nil {
			p.logger.Warnw("malformed_event", "seq", ev.Seq, "kind", ev.Kind)
			return
		}
		p.balances[balanceKey{ev.Withdraw.Asset, ev.Withdraw.User}] = new(big.Int).Set(ev.Withdraw.Balance)

	case events.KindOrder:
		if ev.Order == nil {
			p.logger.Warnw("malformed_event", "seq", ev.Seq, "kind", ev.Kind)
			return
		}
		if _, ok := p.orders[ev.Order.ID]; !ok {
			p.orderIDs = append(p.orderIDs, ev.Order.ID)
		}
		p.orders[ev.Order.ID] = *ev.Order

	case events.KindCancel:
		if ev.Cancel == nil {
			p.logger.Warnw("malformed_event", "seq", ev.Seq, "kind", ev.Kind)
			return
		}
		if _, ok := p.orders[ev.Cancel.ID]; !ok {
			p.logger.Warnw("cancel_for_unknown_order", "seq", ev.Seq, "order_id", ev.Cancel.ID)
			return
		}
		if _, ok := p.cancelled[ev.Cancel.ID]; ok {
			return
		}
		p.cancelled[ev.Cancel.ID] = *ev.Cancel

	case events.KindTrade:
		if ev.Trade == nil {
			p.logger.Warnw("malformed_event", "seq", ev.Seq, "kind", ev.Kind)
			return
		}
		if _, ok := p.orders[ev.Trade.ID]; !ok {
			p.logger.Warnw("trade_for_unknown_order", "seq", ev.Seq, "order_id", ev.Trade.ID)
			return
		}
		if _, ok := p.filled[ev.Trade.ID]; ok {
			return
		}
		t := *ev.Trade
		p.filled[t.ID] = t
		p.trades = append(p.trades, t)
		p.applyTradeBalances(t)

	default:
		p.logger.Warnw("unknown_event_kind", "seq", ev.Seq, "kind", ev.Kind)
	}
}

// applyTradeBalances adjusts maker and filler balances for a fill. The
// fee recipient's cut is not attributed: the Trade record does not
// carry the recipient address (wire contract), so only the two trading
// parties are tracked here.
func (p *Projector) applyTradeBalances(t events.Trade) {
	required := new(big.Int).Add(t.AmountGet, t.FeeAmount)
	p.adjust(t.TokenGet, t.Filler, new(big.Int).Neg(required))
	p.adjust(t.TokenGet, t.User, t.AmountGet)
	p.adjust(t.TokenGive, t.User, new(big.Int).Neg(t.AmountGive))
	p.adjust(t.TokenGive, t.Filler, t.AmountGive)
}

func (p *Projector) adjust(asset, user common.Address, delta *big.Int) {
	key := balanceKey{asset, user}
	b, ok := p.balances[key]
	if !ok {
		b = new(big.Int)
		p.balances[key] = b
	}
	b.Add(b, delta)
}

// Replay applies a batch of events in order.
func (p *Projector) Replay(evs []events.Event) {
	for _, ev := range evs {
		p.Apply(ev)
	}
}

// Balance returns the derived balance for (asset, user); 0 if unknown.
func (p *Projector) Balance(asset, user common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if b, ok := p.balances[balanceKey{asset, user}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Run follows the log from the projector's current position until ctx
// is cancelled, applying each event in sequence order. A subscription
// dropped for slow consumption is reopened from the position already
// reached, so nothing is lost or applied twice.
func (p *Projector) Run(ctx context.Context, log *events.Log) {
outer:
	for {
		sub := log.Subscribe(p.Pos(), 1024)
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case ev, ok := <-sub.C:
				if !ok {
					if errors.Is(sub.Err(), events.ErrSlowConsumer) {
						p.logger.Warnw("projector_lagged", "resume_from", p.Pos())
						continue outer
					}
					return
				}
				p.Apply(ev)
			}
		}
	}
}
