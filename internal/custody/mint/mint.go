// Package mint issues the bridged asset against attested custodian reserves.
// A mint request passes an ordered series of checks and then commits the
// minted-counter increment, the ledger issuance and the audit receipt in one
// transaction.
package mint

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/custody/auth"
	"github.com/qcnet/warden/internal/custody/events"
	"github.com/qcnet/warden/internal/custody/oracle"
	"github.com/qcnet/warden/internal/custody/registry"
	"github.com/qcnet/warden/internal/infra/storage"
	"github.com/qcnet/warden/internal/metrics"
)

var (
	// ErrMintingPaused is returned while the mint switch is off
	ErrMintingPaused = errors.New("minting is paused")
	// ErrAmountOutOfRange is returned when the amount falls outside the
	// configured per-request bounds
	ErrAmountOutOfRange = errors.New("mint amount outside allowed range")
	// ErrBeneficiaryRequired is returned for an empty beneficiary account
	ErrBeneficiaryRequired = errors.New("beneficiary account required")
)

// Issuer mints the bridged asset on the ledger.
type Issuer interface {
	Mint(ctx context.Context, account string, amount uint64) error
}

// Gateway is the mint entry point.
type Gateway struct {
	store     storage.Store
	authority auth.Authority
	issuer    Issuer
}

// NewGateway creates a mint gateway over store.
func NewGateway(store storage.Store, authority auth.Authority, issuer Issuer) *Gateway {
	return &Gateway{store: store, authority: authority, issuer: issuer}
}

// RequestMint checks the request against the pause switch, the configured
// amount bounds, the custodian's status, capacity and attested reserve, then
// atomically increments the minted counter, issues to the beneficiary on the
// ledger and records a receipt. Any failure leaves the minted counter
// untouched. Checks run in a fixed order so a request failing several of
// them reports the same error every time.
func (g *Gateway) RequestMint(ctx context.Context, caller, custodianID, beneficiary string, amount uint64) (*domain.MintReceipt, error) {
	if err := requireSelf(caller, custodianID); err != nil {
		return nil, err
	}
	if beneficiary == "" {
		return nil, ErrBeneficiaryRequired
	}

	receipt := &domain.MintReceipt{
		ID:          uuid.NewString(),
		CustodianID: custodianID,
		Beneficiary: beneficiary,
		Amount:      amount,
	}
	err := g.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		params, err := tx.Params().Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to read system params: %w", err)
		}
		if params.MintingPaused {
			return ErrMintingPaused
		}
		if amount < params.MinMintAmount || amount > params.MaxMintAmount {
			return fmt.Errorf("%w: %d not in [%d, %d]", ErrAmountOutOfRange, amount, params.MinMintAmount, params.MaxMintAmount)
		}

		reg := registry.New(tx)
		custodian, err := reg.Custodian(ctx, custodianID)
		if err != nil {
			return err
		}
		if custodian.Status != domain.CustodianActive {
			return fmt.Errorf("%w: status %s", registry.ErrCustodianNotActive, custodian.Status)
		}

		snapshot, err := oracle.New(tx, g.authority).UsableReserve(ctx, custodianID, params.ReserveStaleness)
		if err != nil {
			return err
		}

		if err := reg.ChargeMint(ctx, custodianID, amount, snapshot.Balance); err != nil {
			return err
		}
		if err := g.issuer.Mint(ctx, beneficiary, amount); err != nil {
			return fmt.Errorf("failed to issue on ledger: %w", err)
		}
		if err := tx.Receipts().Create(ctx, receipt); err != nil {
			return fmt.Errorf("failed to record mint receipt: %w", err)
		}
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventMintExecuted,
			CustodianID: custodianID,
			Actor:       caller,
			Details:     map[string]any{"beneficiary": beneficiary, "amount": amount, "receipt_id": receipt.ID},
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.MintsTotal.WithLabelValues(custodianID).Inc()
	metrics.MintedAmountTotal.WithLabelValues(custodianID).Add(float64(amount))
	return receipt, nil
}

// Receipts retrieves the newest mint receipts for a custodian.
func (g *Gateway) Receipts(ctx context.Context, custodianID string, limit int) ([]*domain.MintReceipt, error) {
	if _, err := g.store.Custodians().Get(ctx, custodianID); err != nil {
		return nil, err
	}
	return g.store.Receipts().ListByCustodian(ctx, custodianID, limit)
}

func requireSelf(caller, custodianID string) error {
	if caller == "" || caller != custodianID {
		return auth.ErrUnauthorized
	}
	return nil
}
