// Package exchange implements the authoritative exchange ledger: a
// single-writer state machine owning custodial balances per
// (asset, owner) and the canonical order set. Every state transition
// appends exactly one event to the log before the operation returns.
package exchange

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sangwoo-bae/etherdex/pkg/events"
	"github.com/sangwoo-bae/etherdex/pkg/token"
	"github.com/sangwoo-bae/etherdex/pkg/util"
)

// DefaultCustody is the on-chain address holding deposited funds when
// the caller does not supply one.
var DefaultCustody = common.HexToAddress("0xEc50000000000000000000000000000000000000")

// Config is the immutable ledger configuration.
type Config struct {
	// FeeRecipient is credited the fee portion of every fill.
	FeeRecipient common.Address
	// FeePercent is an integer percentage (0-100) of amountGet,
	// charged to the filler in tokenGet.
	FeePercent int64
	// Custody is the registry address that holds deposited funds.
	// Defaults to DefaultCustody.
	Custody common.Address
}

type balanceKey struct {
	Asset Asset
	Owner common.Address
}

// Ledger serializes every write behind one mutex: operations apply in
// the total order their events occupy in the log. Reads see the latest
// committed state, never a partially applied operation.
type Ledger struct {
	mu sync.RWMutex

	feeRecipient common.Address
	feePercent   int64
	custody      common.Address

	tokens   *token.Registry
	balances map[balanceKey]*big.Int
	orders   map[uint64]*Order
	nextID   uint64

	log    *events.Log
	clock  util.Clock
	logger *zap.SugaredLogger
}

func NewLedger(cfg Config, tokens *token.Registry, elog *events.Log, clock util.Clock, logger *zap.Logger) (*Ledger, error) {
	if cfg.FeePercent < 0 || cfg.FeePercent > 100 {
		return nil, fmt.Errorf("fee percent out of range: %d", cfg.FeePercent)
	}
	if cfg.Custody == (common.Address{}) {
		cfg.Custody = DefaultCustody
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		feeRecipient: cfg.FeeRecipient,
		feePercent:   cfg.FeePercent,
		custody:      cfg.Custody,
		tokens:       tokens,
		balances:     make(map[balanceKey]*big.Int),
		orders:       make(map[uint64]*Order),
		nextID:       1,
		log:          elog,
		clock:        clock,
		logger:       logger.Sugar(),
	}
	if elog != nil {
		if err := l.restore(elog.Range(0, elog.Len())); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// restore rebuilds balances, orders, and the id counter from the
// durable event log, so a restarted node resumes exactly where the
// previous process stopped and never reissues an order id.
func (l *Ledger) restore(evs []events.Event) error {
	for _, ev := range evs {
		switch ev.Kind {
		case events.KindDeposit:
			if ev.Deposit == nil {
				return fmt.Errorf("corrupt event %d: %s without payload", ev.Seq, ev.Kind)
			}
			// Deposit/Withdraw carry the post-operation balance.
			l.setBalanceLocked(ev.Deposit.Asset, ev.Deposit.User, new(big.Int).Set(ev.Deposit.Balance))

		case events.KindWithdraw:
			if ev.Withdraw == nil {
				return fmt.Errorf("corrupt event %d: %s without payload", ev.Seq, ev.Kind)
			}
			l.setBalanceLocked(ev.Withdraw.Asset, ev.Withdraw.User, new(big.Int).Set(ev.Withdraw.Balance))

		case events.KindOrder:
			if ev.Order == nil {
				return fmt.Errorf("corrupt event %d: %s without payload", ev.Seq, ev.Kind)
			}
			o := ev.Order
			l.orders[o.ID] = &Order{
				ID:         o.ID,
				Owner:      o.User,
				TokenGet:   o.TokenGet,
				AmountGet:  new(big.Int).Set(o.AmountGet),
				TokenGive:  o.TokenGive,
				AmountGive: new(big.Int).Set(o.AmountGive),
				CreatedAt:  o.Timestamp,
				Status:     OrderOpen,
			}
			if o.ID >= l.nextID {
				l.nextID = o.ID + 1
			}

		case events.KindCancel:
			if ev.Cancel == nil {
				return fmt.Errorf("corrupt event %d: %s without payload", ev.Seq, ev.Kind)
			}
			o, ok := l.orders[ev.Cancel.ID]
			if !ok {
				return fmt.Errorf("corrupt event %d: cancel for unknown order %d", ev.Seq, ev.Cancel.ID)
			}
			o.Status = OrderCancelled

		case events.KindTrade:
			if ev.Trade == nil {
				return fmt.Errorf("corrupt event %d: %s without payload", ev.Seq, ev.Kind)
			}
			t := ev.Trade
			o, ok := l.orders[t.ID]
			if !ok {
				return fmt.Errorf("corrupt event %d: trade for unknown order %d", ev.Seq, t.ID)
			}
			required := new(big.Int).Add(t.AmountGet, t.FeeAmount)
			l.adjustLocked(t.TokenGet, t.Filler, new(big.Int).Neg(required))
			l.adjustLocked(t.TokenGet, t.User, t.AmountGet)
			l.adjustLocked(t.TokenGet, l.feeRecipient, t.FeeAmount)
			l.adjustLocked(t.TokenGive, t.User, new(big.Int).Neg(t.AmountGive))
			l.adjustLocked(t.TokenGive, t.Filler, t.AmountGive)
			o.Status = OrderFilled

		default:
			return fmt.Errorf("corrupt event %d: unknown kind %q", ev.Seq, ev.Kind)
		}
	}
	return nil
}

func (l *Ledger) FeeRecipient() common.Address { return l.feeRecipient }
func (l *Ledger) FeePercent() int64            { return l.feePercent }
func (l *Ledger) Custody() common.Address      { return l.custody }

// BalanceOf returns the custodial balance for (asset, owner). Unknown
// keys read as 0; this never fails.
func (l *Ledger) BalanceOf(asset Asset, owner common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balanceLocked(asset, owner))
}

// Order returns a snapshot of the order with the given id.
func (l *Ledger) Order(id uint64) (Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.Clone(), true
}

// DepositNative credits (Native, owner) with amount. value is the
// native currency attached to the call and must equal amount exactly.
func (l *Ledger) DepositNative(owner common.Address, amount, value *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidDeposit)
	}
	if value == nil || amount.Cmp(value) != 0 {
		return fmt.Errorf("%w: amount %s does not match attached value", ErrInvalidDeposit, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Pull the attached value into custody.
	if err := l.tokens.Transfer(token.Native, owner, l.custody, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDeposit, err)
	}

	newBalance := new(big.Int).Add(l.balanceLocked(NativeAsset, owner), amount)
	if err := l.append(events.Event{Kind: events.KindDeposit, Deposit: &events.Deposit{
		Asset:   NativeAsset,
		User:    owner,
		Amount:  new(big.Int).Set(amount),
		Balance: newBalance,
	}}); err != nil {
		// Undo the custody pull; the operation never happened.
		l.tokens.Transfer(token.Native, l.custody, owner, amount)
		return err
	}
	l.setBalanceLocked(NativeAsset, owner, newBalance)
	return nil
}

// WithdrawNative debits (Native, owner) and returns amount to the
// owner's on-chain balance.
func (l *Ledger) WithdrawNative(owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInsufficientBalance)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balanceLocked(NativeAsset, owner)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, amount)
	}
	if err := l.tokens.Transfer(token.Native, l.custody, owner, amount); err != nil {
		return fmt.Errorf("withdraw transfer: %w", err)
	}

	newBalance := new(big.Int).Sub(bal, amount)
	if err := l.append(events.Event{Kind: events.KindWithdraw, Withdraw: &events.Withdraw{
		Asset:   NativeAsset,
		User:    owner,
		Amount:  new(big.Int).Set(amount),
		Balance: newBalance,
	}}); err != nil {
		l.tokens.Transfer(token.Native, owner, l.custody, amount)
		return err
	}
	l.setBalanceLocked(NativeAsset, owner, newBalance)
	return nil
}

// DepositToken pulls amount of asset from the owner into custody via
// the owner's pre-authorized allowance, then credits (asset, owner).
func (l *Ledger) DepositToken(asset Asset, owner common.Address, amount *big.Int) error {
	if IsNative(asset) {
		return fmt.Errorf("%w: native currency must use DepositNative", ErrInvalidAsset)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidDeposit)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// The allowance is the capability check: no approval, no deposit.
	if err := l.tokens.TransferFrom(asset, l.custody, owner, l.custody, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferNotAuthorized, err)
	}

	newBalance := new(big.Int).Add(l.balanceLocked(asset, owner), amount)
	if err := l.append(events.Event{Kind: events.KindDeposit, Deposit: &events.Deposit{
		Asset:   asset,
		User:    owner,
		Amount:  new(big.Int).Set(amount),
		Balance: newBalance,
	}}); err != nil {
		l.tokens.Transfer(asset, l.custody, owner, amount)
		return err
	}
	l.setBalanceLocked(asset, owner, newBalance)
	return nil
}

// WithdrawToken debits (asset, owner) and pushes amount of asset back
// to the owner.
func (l *Ledger) WithdrawToken(asset Asset, owner common.Address, amount *big.Int) error {
	if IsNative(asset) {
		return fmt.Errorf("%w: native currency must use WithdrawNative", ErrInvalidAsset)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInsufficientBalance)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balanceLocked(asset, owner)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, amount)
	}
	if err := l.tokens.Transfer(asset, l.custody, owner, amount); err != nil {
		return fmt.Errorf("withdraw transfer: %w", err)
	}

	newBalance := new(big.Int).Sub(bal, amount)
	if err := l.append(events.Event{Kind: events.KindWithdraw, Withdraw: &events.Withdraw{
		Asset:   asset,
		User:    owner,
		Amount:  new(big.Int).Set(amount),
		Balance: newBalance,
	}}); err != nil {
		l.tokens.Transfer(asset, owner, l.custody, amount)
		return err
	}
	l.setBalanceLocked(asset, owner, newBalance)
	return nil
}

// MakeOrder creates an Open order and returns its id. The owner's
// tokenGive balance is deliberately NOT checked here: sufficiency is
// enforced lazily at fill time, so an unfunded order can sit in the
// open book. See FillOrder.
func (l *Ledger) MakeOrder(owner common.Address, tokenGet Asset, amountGet *big.Int, tokenGive Asset, amountGive *big.Int) (uint64, error) {
	if amountGet == nil || amountGet.Sign() <= 0 {
		return 0, fmt.Errorf("%w: amountGet must be positive", ErrInvalidOrder)
	}
	if amountGive == nil || amountGive.Sign() <= 0 {
		return 0, fmt.Errorf("%w: amountGive must be positive", ErrInvalidOrder)
	}
	if tokenGet == tokenGive {
		return 0, fmt.Errorf("%w: tokenGet and tokenGive must differ", ErrInvalidOrder)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	o := &Order{
		ID:         l.nextID,
		Owner:      owner,
		TokenGet:   tokenGet,
		AmountGet:  new(big.Int).Set(amountGet),
		TokenGive:  tokenGive,
		AmountGive: new(big.Int).Set(amountGive),
		CreatedAt:  l.clock.Now().Unix(),
		Status:     OrderOpen,
	}
	if err := l.append(events.Event{Kind: events.KindOrder, Order: &events.Order{
		ID:         o.ID,
		User:       o.Owner,
		TokenGet:   o.TokenGet,
		AmountGet:  new(big.Int).Set(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: new(big.Int).Set(o.AmountGive),
		Timestamp:  o.CreatedAt,
	}}); err != nil {
		return 0, err
	}
	l.orders[o.ID] = o
	l.nextID++
	return o.ID, nil
}

// CancelOrder transitions an Open order to Cancelled. Only the order's
// creator may cancel, and only once.
func (l *Ledger) CancelOrder(caller common.Address, orderID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, orderID)
	}
	if o.Owner != caller {
		return fmt.Errorf("%w: order %d belongs to %s", ErrNotOrderOwner, orderID, o.Owner.Hex())
	}
	if !o.IsOpen() {
		return fmt.Errorf("%w: order %d is %s", ErrOrderNotOpen, orderID, o.Status)
	}

	if err := l.append(events.Event{Kind: events.KindCancel, Cancel: &events.Cancel{
		ID:         o.ID,
		User:       o.Owner,
		TokenGet:   o.TokenGet,
		AmountGet:  new(big.Int).Set(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: new(big.Int).Set(o.AmountGive),
		Timestamp:  l.clock.Now().Unix(),
	}}); err != nil {
		return err
	}
	o.Status = OrderCancelled
	return nil
}

// FillOrder settles an Open order against the caller. The caller pays
// amountGet plus the fee in tokenGet and receives amountGive in
// tokenGive; the maker receives amountGet in full and the fee
// recipient the fee. Only the caller's tokenGet balance is checked;
// the maker's tokenGive balance is assumed sufficient (it was never
// checked at MakeOrder time either, and a maker who withdrew in the
// meantime goes negative rather than blocking the fill).
func (l *Ledger) FillOrder(caller common.Address, orderID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, orderID)
	}
	if !o.IsOpen() {
		return fmt.Errorf("%w: order %d is %s", ErrOrderNotOpen, orderID, o.Status)
	}

	// feeAmount = amountGet * feePercent / 100, floor division.
	feeAmount := new(big.Int).Mul(o.AmountGet, big.NewInt(l.feePercent))
	feeAmount.Div(feeAmount, big.NewInt(100))
	required := new(big.Int).Add(o.AmountGet, feeAmount)

	callerBal := l.balanceLocked(o.TokenGet, caller)
	if callerBal.Cmp(required) < 0 {
		return fmt.Errorf("%w: filling order %d needs %s of %s, have %s",
			ErrInsufficientBalance, orderID, required, o.TokenGet.Hex(), callerBal)
	}

	if err := l.append(events.Event{Kind: events.KindTrade, Trade: &events.Trade{
		ID:         o.ID,
		User:       o.Owner,
		Filler:     caller,
		TokenGet:   o.TokenGet,
		AmountGet:  new(big.Int).Set(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: new(big.Int).Set(o.AmountGive),
		FeeAmount:  feeAmount,
		Timestamp:  l.clock.Now().Unix(),
	}}); err != nil {
		return err
	}

	// All five balance moves and the status flip commit together;
	// nothing below can fail.
	l.adjustLocked(o.TokenGet, caller, new(big.Int).Neg(required))
	l.adjustLocked(o.TokenGet, o.Owner, o.AmountGet)
	l.adjustLocked(o.TokenGet, l.feeRecipient, feeAmount)
	l.adjustLocked(o.TokenGive, o.Owner, new(big.Int).Neg(o.AmountGive))
	l.adjustLocked(o.TokenGive, caller, o.AmountGive)
	o.Status = OrderFilled
	return nil
}

// internal helpers, callers hold l.mu

func (l *Ledger) balanceLocked(asset Asset, owner common.Address) *big.Int {
	if b, ok := l.balances[balanceKey{asset, owner}]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) setBalanceLocked(asset Asset, owner common.Address, b *big.Int) {
	l.balances[balanceKey{asset, owner}] = b
}

func (l *Ledger) adjustLocked(asset Asset, owner common.Address, delta *big.Int) {
	key := balanceKey{asset, owner}
	b, ok := l.balances[key]
	if !ok {
		b = new(big.Int)
		l.balances[key] = b
	}
	b.Add(b, delta)
}

func (l *Ledger) append(ev events.Event) error {
	seq, err := l.log.Append(ev)
	if err != nil {
		l.logger.Errorw("event_append_failed", "kind", ev.Kind, "err", err)
		return fmt.Errorf("append %s event: %w", ev.Kind, err)
	}
	l.logger.Debugw("event_appended", "seq", seq, "kind", ev.Kind)
	return nil
}
