// Package bank implements the account ledger the escrow engine settles
// against. It is the concrete form of the external fund-movement primitive:
// synchronous, all-or-nothing, and tagged with a fresh reference per transfer
// so an operator can correlate ledger movements with escrow events.
package bank

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientFunds is returned when the source account cannot cover
	// the transfer.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrInvalidAmount is returned for nil, zero or negative amounts.
	ErrInvalidAmount = errors.New("bank: amount must be positive")
)

// Ledger is an in-process balance store keyed by address.
type Ledger struct {
	mu       sync.Mutex
	balances map[[20]byte]*big.Int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[[20]byte]*big.Int)}
}

// Mint credits an account, used for genesis balances and tests.
func (l *Ledger) Mint(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] = new(big.Int).Add(l.balance(addr), amount)
	return nil
}

// BalanceOf returns a copy of the account balance.
func (l *Ledger) BalanceOf(addr [20]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(addr))
}

// Transfer atomically moves amount from one account to another and returns a
// unique transfer reference. Either both balances change or neither does.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	if from == to {
		return "", fmt.Errorf("bank: transfer to self")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.balance(from)
	if src.Cmp(amount) < 0 {
		return "", ErrInsufficientFunds
	}
	l.balances[from] = new(big.Int).Sub(src, amount)
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	return uuid.NewString(), nil
}

// balance must be called with the lock held.
func (l *Ledger) balance(addr [20]byte) *big.Int {
	if bal, ok := l.balances[addr]; ok {
		return bal
	}
	return big.NewInt(0)
}
