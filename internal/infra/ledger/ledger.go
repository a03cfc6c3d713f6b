// Package ledger talks to the bridged-asset ledger. Gateways call it inside
// storage transactions, so a ledger failure aborts the whole custody
// operation.
package ledger

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrInsufficientFunds is returned when a burn exceeds the account
	// balance
	ErrInsufficientFunds = errors.New("insufficient ledger balance")
	// ErrSupplyOverflow is returned when a mint would overflow an account
	// balance
	ErrSupplyOverflow = errors.New("ledger balance overflow")
)

// AssetLedger mints and burns the bridged asset.
type AssetLedger interface {
	// Mint credits amount to account.
	Mint(ctx context.Context, account string, amount uint64) error

	// Burn debits amount from account, ErrInsufficientFunds if the
	// balance is too small.
	Burn(ctx context.Context, account string, amount uint64) error

	// Balance retrieves the current balance of account.
	Balance(ctx context.Context, account string) (uint64, error)

	// Health checks connectivity.
	Health(ctx context.Context) error
}

// MemoryLedger is an in-process ledger for dev mode and tests.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]uint64
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]uint64)}
}

// Mint credits amount to account.
func (l *MemoryLedger) Mint(ctx context.Context, account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[account]+amount < l.balances[account] {
		return ErrSupplyOverflow
	}
	l.balances[account] += amount
	return nil
}

// Burn debits amount from account.
func (l *MemoryLedger) Burn(ctx context.Context, account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[account] < amount {
		return ErrInsufficientFunds
	}
	l.balances[account] -= amount
	return nil
}

// Balance retrieves the current balance of account.
func (l *MemoryLedger) Balance(ctx context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

// Health always reports healthy.
func (l *MemoryLedger) Health(ctx context.Context) error {
	return nil
}
