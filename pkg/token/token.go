// Package token models the on-chain asset layer the exchange ledger
// pulls deposits from and pushes withdrawals to: an ERC20-style
// balance/allowance sheet per token contract address, with the native
// currency tracked under the zero address.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownToken          = errors.New("unknown token")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrTokenExists           = errors.New("token already registered")
)

// Native is the sentinel address for the chain's base currency.
var Native = common.Address{}

// Token holds a registered token's static metadata.
type Token struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// Registry tracks balances and allowances for the native currency and
// every registered token. All amounts are in the smallest unit (wei
// for 18-decimal assets).
type Registry struct {
	mu         sync.RWMutex
	tokens     map[common.Address]*Token
	balances   map[common.Address]map[common.Address]*big.Int            // asset -> holder -> amount
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int // asset -> owner -> spender -> amount
}

func NewRegistry() *Registry {
	return &Registry{
		tokens:     make(map[common.Address]*Token),
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
	}
}

// Register creates a token at addr and credits the full supply to owner.
func (r *Registry) Register(addr common.Address, name, symbol string, decimals uint8, totalSupply *big.Int, owner common.Address) error {
	if addr == Native {
		return fmt.Errorf("%w: zero address is reserved for the native currency", ErrTokenExists)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[addr]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, addr.Hex())
	}
	r.tokens[addr] = &Token{
		Name:        name,
		Symbol:      symbol,
		Decimals:    decimals,
		TotalSupply: new(big.Int).Set(totalSupply),
	}
	r.credit(addr, owner, totalSupply)
	return nil
}

// Info returns a registered token's metadata.
func (r *Registry) Info(addr common.Address) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	if !ok {
		return Token{}, false
	}
	return *t, true
}

// Tokens returns the addresses of every registered token.
func (r *Registry) Tokens() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.tokens))
	for addr := range r.tokens {
		out = append(out, addr)
	}
	return out
}

// CreditNative mints native currency to addr. Genesis funding only;
// there is no corresponding burn.
func (r *Registry) CreditNative(addr common.Address, amount *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credit(Native, addr, amount)
}

// BalanceOf returns the holder's balance of asset. Unknown keys read as 0.
func (r *Registry) BalanceOf(asset, holder common.Address) *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return new(big.Int).Set(r.balance(asset, holder))
}

// Transfer moves amount of asset from one holder to another.
func (r *Registry) Transfer(asset, from, to common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkAsset(asset); err != nil {
		return err
	}
	if r.balance(asset, from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, need %s",
			ErrInsufficientFunds, from.Hex(), r.balance(asset, from), asset.Hex(), amount)
	}
	r.debit(asset, from, amount)
	r.credit(asset, to, amount)
	return nil
}

// Approve lets spender move up to amount of owner's asset via TransferFrom.
// Overwrites any prior approval.
func (r *Registry) Approve(asset, owner, spender common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkAsset(asset); err != nil {
		return err
	}
	byOwner, ok := r.allowances[asset]
	if !ok {
		byOwner = make(map[common.Address]map[common.Address]*big.Int)
		r.allowances[asset] = byOwner
	}
	bySpender, ok := byOwner[owner]
	if !ok {
		bySpender = make(map[common.Address]*big.Int)
		byOwner[owner] = bySpender
	}
	bySpender[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns what spender may still move of owner's asset.
func (r *Registry) Allowance(asset, owner, spender common.Address) *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return new(big.Int).Set(r.allowance(asset, owner, spender))
}

// TransferFrom moves amount of owner's asset to recipient on behalf of
// spender, consuming allowance.
func (r *Registry) TransferFrom(asset, spender, owner, to common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkAsset(asset); err != nil {
		return err
	}
	allowed := r.allowance(asset, owner, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: spender %s allowed %s of %s, need %s",
			ErrInsufficientAllowance, spender.Hex(), allowed, asset.Hex(), amount)
	}
	if r.balance(asset, owner).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, need %s",
			ErrInsufficientFunds, owner.Hex(), r.balance(asset, owner), asset.Hex(), amount)
	}
	allowed.Sub(allowed, amount)
	r.debit(asset, owner, amount)
	r.credit(asset, to, amount)
	return nil
}

// internal helpers, callers hold r.mu

func (r *Registry) checkAsset(asset common.Address) error {
	if asset == Native {
		return nil
	}
	if _, ok := r.tokens[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())
	}
	return nil
}

func (r *Registry) balance(asset, holder common.Address) *big.Int {
	if holders, ok := r.balances[asset]; ok {
		if b, ok := holders[holder]; ok {
			return b
		}
	}
	return new(big.Int)
}

func (r *Registry) allowance(asset, owner, spender common.Address) *big.Int {
	if byOwner, ok := r.allowances[asset]; ok {
		if bySpender, ok := byOwner[owner]; ok {
			if a, ok := bySpender[spender]; ok {
				return a
			}
		}
	}
	return new(big.Int)
}

func (r *Registry) credit(asset, holder common.Address, amount *big.Int) {
	holders, ok := r.balances[asset]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		r.balances[asset] = holders
	}
	b, ok := holders[holder]
	if !ok {
		b = new(big.Int)
		holders[holder] = b
	}
	b.Add(b, amount)
}

func (r *Registry) debit(asset, holder common.Address, amount *big.Int) {
	r.balances[asset][holder].Sub(r.balances[asset][holder], amount)
}
