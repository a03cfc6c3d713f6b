// Package registry owns the custodian and wallet records. It exposes
// record-level primitives with record invariants only; the state-machine and
// flow rules live in the manager and gateways, which are the only callers.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/infra/storage"
)

var (
	// ErrCustodianNotActive is returned when an operation requires an
	// active custodian
	ErrCustodianNotActive = errors.New("custodian not active")
	// ErrCustodianRevoked is returned when an operation is attempted
	// against a revoked custodian
	ErrCustodianRevoked = errors.New("custodian is revoked")
	// ErrCapacityExceeded is returned when a mint would push the minted
	// counter past the custodian's capacity
	ErrCapacityExceeded = errors.New("mint capacity exceeded")
	// ErrReserveShortfall is returned when a mint would push the minted
	// counter past the attested reserve
	ErrReserveShortfall = errors.New("insufficient attested reserve")
	// ErrStateChanged is returned when a guarded transition observed a
	// different current status than expected
	ErrStateChanged = errors.New("record status changed concurrently")
	// ErrObligationUnderflow is returned when releasing more minted supply
	// than the custodian carries
	ErrObligationUnderflow = errors.New("release exceeds minted supply")
)

// Registry is a view over a store. Build one inside a transaction closure to
// keep every primitive on the same transaction.
type Registry struct {
	store storage.Store
}

// New creates a registry view over store.
func New(store storage.Store) *Registry {
	return &Registry{store: store}
}

// Custodian retrieves a custodian record.
func (r *Registry) Custodian(ctx context.Context, id string) (*domain.Custodian, error) {
	return r.store.Custodians().Get(ctx, id)
}

// ListCustodians retrieves all custodian records.
func (r *Registry) ListCustodians(ctx context.Context) ([]*domain.Custodian, error) {
	return r.store.Custodians().List(ctx)
}

// AddCustodian inserts a new custodian record.
func (r *Registry) AddCustodian(ctx context.Context, custodian *domain.Custodian) error {
	return r.store.Custodians().Create(ctx, custodian)
}

// TransitionCustodian moves a custodian from one status to another,
// failing with ErrStateChanged when the current status does not match.
func (r *Registry) TransitionCustodian(ctx context.Context, id string, from, to domain.CustodianStatus) error {
	err := r.store.Custodians().SetStatus(ctx, id, from, to)
	if errors.Is(err, storage.ErrConditionFailed) {
		return ErrStateChanged
	}
	return err
}

// UpdateCapacity sets the mint capacity ceiling.
func (r *Registry) UpdateCapacity(ctx context.Context, id string, maxCapacity uint64) error {
	return r.store.Custodians().SetMaxCapacity(ctx, id, maxCapacity)
}

// ChargeMint atomically adds amount to the custodian's minted counter. The
// increment succeeds only while the custodian is active and the new total
// stays within both the capacity and the attested reserve ceiling; a failed
// guard is classified into a precise error.
func (r *Registry) ChargeMint(ctx context.Context, id string, amount, reserveCeiling uint64) error {
	err := r.store.Custodians().IncrementMinted(ctx, id, amount, reserveCeiling)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrConditionFailed) {
		return err
	}

	custodian, getErr := r.store.Custodians().Get(ctx, id)
	if getErr != nil {
		return fmt.Errorf("failed to classify mint rejection: %w", getErr)
	}
	switch {
	case custodian.Status != domain.CustodianActive:
		return ErrCustodianNotActive
	case custodian.Minted+amount < custodian.Minted || custodian.Minted+amount > custodian.MaxCapacity:
		return ErrCapacityExceeded
	default:
		return ErrReserveShortfall
	}
}

// ReleaseMinted atomically subtracts a settled obligation from the minted
// counter.
func (r *Registry) ReleaseMinted(ctx context.Context, id string, amount uint64) error {
	err := r.store.Custodians().DecrementMinted(ctx, id, amount)
	if errors.Is(err, storage.ErrConditionFailed) {
		return ErrObligationUnderflow
	}
	return err
}

// Wallet retrieves a wallet record.
func (r *Registry) Wallet(ctx context.Context, address string) (*domain.Wallet, error) {
	return r.store.Wallets().Get(ctx, address)
}

// WalletsOf retrieves all wallets registered to a custodian.
func (r *Registry) WalletsOf(ctx context.Context, custodianID string) ([]*domain.Wallet, error) {
	return r.store.Wallets().ListByCustodian(ctx, custodianID)
}

// AddWallet inserts a new wallet record. Addresses are unique across all
// custodians.
func (r *Registry) AddWallet(ctx context.Context, wallet *domain.Wallet) error {
	return r.store.Wallets().Create(ctx, wallet)
}

// TransitionWallet moves a wallet from one status to another, failing with
// ErrStateChanged when the current status does not match.
func (r *Registry) TransitionWallet(ctx context.Context, address string, from, to domain.WalletStatus) error {
	err := r.store.Wallets().SetStatus(ctx, address, from, to)
	if errors.Is(err, storage.ErrConditionFailed) {
		return ErrStateChanged
	}
	return err
}
