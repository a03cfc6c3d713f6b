package manager

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/custody/auth"
	"github.com/qcnet/warden/internal/custody/events"
	"github.com/qcnet/warden/internal/custody/oracle"
	"github.com/qcnet/warden/internal/custody/registry"
	"github.com/qcnet/warden/internal/infra/storage"
)

// Wallet retrieves a wallet record.
func (m *Manager) Wallet(ctx context.Context, address string) (*domain.Wallet, error) {
	return registry.New(m.store).Wallet(ctx, address)
}

// Wallets retrieves all wallets registered to a custodian.
func (m *Manager) Wallets(ctx context.Context, custodianID string) ([]*domain.Wallet, error) {
	return registry.New(m.store).WalletsOf(ctx, custodianID)
}

// RequestWalletRegistration creates an inactive wallet record and issues the
// proof-of-control challenge the custodian must sign to activate it.
func (m *Manager) RequestWalletRegistration(ctx context.Context, caller, custodianID, address string) (*domain.Wallet, error) {
	if err := requireSelf(caller, custodianID); err != nil {
		return nil, err
	}
	if address == "" {
		return nil, fmt.Errorf("%w: wallet address required", ErrInvalidArgument)
	}

	wallet := &domain.Wallet{
		Address:     address,
		CustodianID: custodianID,
		Status:      domain.WalletInactive,
		Challenge:   uuid.NewString(),
	}
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		reg := registry.New(tx)
		custodian, err := reg.Custodian(ctx, custodianID)
		if err != nil {
			return err
		}
		if custodian.Status == domain.CustodianRevoked {
			return registry.ErrCustodianRevoked
		}
		if err := reg.AddWallet(ctx, wallet); err != nil {
			return err
		}
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventWalletRegistrationRequested,
			CustodianID: custodianID,
			Actor:       caller,
			Details:     map[string]any{"address": address},
		})
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// ActivateWallet verifies the proof-of-control signature over the issued
// challenge and brings the wallet into active service.
func (m *Manager) ActivateWallet(ctx context.Context, caller, custodianID, address, signature string) error {
	if err := requireSelf(caller, custodianID); err != nil {
		return err
	}
	return m.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		reg := registry.New(tx)
		wallet, err := reg.Wallet(ctx, address)
		if err != nil {
			return err
		}
		if wallet.CustodianID != custodianID {
			return storage.ErrWalletNotFound
		}
		if !CanTransitionWallet(wallet.Status, domain.WalletActive) {
			return fmt.Errorf("%w: cannot activate wallet in status %s", ErrInvalidWalletTransition, wallet.Status)
		}
		if err := m.verifier.VerifyAddressControl(ctx, address, wallet.Challenge, signature); err != nil {
			return fmt.Errorf("%w: %v", ErrProofInvalid, err)
		}
		if err := reg.TransitionWallet(ctx, address, wallet.Status, domain.WalletActive); err != nil {
			return err
		}
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventWalletActivated,
			CustodianID: custodianID,
			Actor:       caller,
			Details:     map[string]any{"address": address},
		})
	})
}

// RequestWalletDeregistration starts the two-phase removal of a wallet. The
// wallet stops counting toward anything new but stays on the books until an
// attester finalizes with a fresh solvency check.
func (m *Manager) RequestWalletDeregistration(ctx context.Context, caller, custodianID, address string) error {
	if err := requireSelf(caller, custodianID); err != nil {
		return err
	}
	return m.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		reg := registry.New(tx)
		wallet, err := reg.Wallet(ctx, address)
		if err != nil {
			return err
		}
		if wallet.CustodianID != custodianID {
			return storage.ErrWalletNotFound
		}
		if !CanTransitionWallet(wallet.Status, domain.WalletPendingDereg) {
			return fmt.Errorf("%w: cannot deregister wallet in status %s", ErrInvalidWalletTransition, wallet.Status)
		}
		if err := reg.TransitionWallet(ctx, address, wallet.Status, domain.WalletPendingDereg); err != nil {
			return err
		}
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventWalletDeregRequested,
			CustodianID: custodianID,
			Actor:       caller,
			Details:     map[string]any{"address": address},
		})
	})
}

// FinalizeWalletDeregistration completes the removal. In a single
// transaction it records a fresh direct attestation of the custodian's
// remaining balance and re-checks solvency against the minted supply; if the
// custodian would owe more than it holds, the whole transaction aborts and
// the wallet stays pending.
func (m *Manager) FinalizeWalletDeregistration(ctx context.Context, caller, custodianID, address string, balance uint64) error {
	if err := auth.Require(m.authority, caller, auth.RoleAttester); err != nil {
		return err
	}
	return m.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		reg := registry.New(tx)
		wallet, err := reg.Wallet(ctx, address)
		if err != nil {
			return err
		}
		if wallet.CustodianID != custodianID {
			return storage.ErrWalletNotFound
		}
		if !CanTransitionWallet(wallet.Status, domain.WalletDeregistered) {
			return fmt.Errorf("%w: cannot finalize wallet in status %s", ErrInvalidWalletTransition, wallet.Status)
		}

		if _, err := oracle.New(tx, m.authority).AttestDirect(ctx, caller, custodianID, balance); err != nil {
			return err
		}
		custodian, err := reg.Custodian(ctx, custodianID)
		if err != nil {
			return err
		}
		if custodian.Minted > balance {
			return fmt.Errorf("%w: minted %d, attested %d", ErrInsolvent, custodian.Minted, balance)
		}

		if err := reg.TransitionWallet(ctx, address, wallet.Status, domain.WalletDeregistered); err != nil {
			return err
		}
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventWalletDeregistered,
			CustodianID: custodianID,
			Actor:       caller,
			Details:     map[string]any{"address": address, "attested_balance": balance},
		})
	})
}
