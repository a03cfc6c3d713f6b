// Package redemption runs the burn-then-settle flow: a holder burns bridged
// asset against a custodian and the custodian settles on chain to an address
// bound at initiation. Fulfillment and default are the only exits, both
// final.
package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/custody/auth"
	"github.com/qcnet/warden/internal/custody/events"
	"github.com/qcnet/warden/internal/custody/registry"
	"github.com/qcnet/warden/internal/infra/relay"
	"github.com/qcnet/warden/internal/infra/storage"
	"github.com/qcnet/warden/internal/metrics"
)

var (
	// ErrRedemptionPaused is returned while the redemption switch is off
	ErrRedemptionPaused = errors.New("redemption is paused")
	// ErrInvalidAmount is returned for a zero redemption amount
	ErrInvalidAmount = errors.New("redemption amount must be positive")
	// ErrExceedsObligation is returned when the amount exceeds the
	// custodian's outstanding minted supply
	ErrExceedsObligation = errors.New("amount exceeds custodian minted supply")
	// ErrAmountMismatch is returned when the proven payment does not match
	// the redemption amount exactly
	ErrAmountMismatch = errors.New("settlement amount does not match redemption")
	// ErrAddressMismatch is returned when the proven payment does not pay
	// the bound settlement address
	ErrAddressMismatch = errors.New("settlement address does not match redemption")
	// ErrProofRequired is returned for a fulfillment without a settlement
	// txid
	ErrProofRequired = errors.New("settlement txid required")
	// ErrProofReused is returned when the settlement transaction already
	// fulfilled another redemption
	ErrProofReused = errors.New("settlement transaction already used")
	// ErrAlreadyFinalized is returned for fulfillment or default attempts
	// on a non-pending redemption
	ErrAlreadyFinalized = errors.New("redemption already finalized")
	// ErrTimeoutNotElapsed is returned when an arbiter flags default
	// before the settlement window has passed
	ErrTimeoutNotElapsed = errors.New("redemption timeout has not elapsed")
)

// Burner burns the bridged asset on the ledger.
type Burner interface {
	Burn(ctx context.Context, account string, amount uint64) error
}

// PaymentVerifier checks settlement addresses and payments on chain.
type PaymentVerifier interface {
	ValidateAddress(ctx context.Context, address string) error
	VerifyPayment(ctx context.Context, txID string) (*relay.Payment, error)
}

// DefaultHook runs inside the defaulting transaction so its consequences
// commit with the default itself.
type DefaultHook func(ctx context.Context, s storage.Store, custodianID, redemptionID string) error

// Gateway is the redemption entry point.
type Gateway struct {
	store     storage.Store
	authority auth.Authority
	burner    Burner
	verifier  PaymentVerifier
	onDefault DefaultHook
}

// NewGateway creates a redemption gateway over store.
func NewGateway(store storage.Store, authority auth.Authority, burner Burner, verifier PaymentVerifier) *Gateway {
	return &Gateway{store: store, authority: authority, burner: burner, verifier: verifier}
}

// SetDefaultHook registers the consequence applied when a redemption
// defaults.
func (g *Gateway) SetDefaultHook(hook DefaultHook) {
	g.onDefault = hook
}

// InitiateRedemption burns amount from the caller and opens a pending
// redemption against the custodian. The settlement address is validated and
// then bound to the record for good; fulfillment is judged against it and
// nothing else.
func (g *Gateway) InitiateRedemption(ctx context.Context, caller, custodianID string, amount uint64, settlementAddress string) (*domain.Redemption, error) {
	if caller == "" {
		return nil, auth.ErrUnauthorized
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	redemption := &domain.Redemption{
		ID:                uuid.NewString(),
		CustodianID:       custodianID,
		Requester:         caller,
		Amount:            amount,
		SettlementAddress: settlementAddress,
		Status:            domain.RedemptionPending,
	}
	err := g.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		params, err := tx.Params().Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to read system params: %w", err)
		}
		if params.RedemptionPaused {
			return ErrRedemptionPaused
		}

		custodian, err := registry.New(tx).Custodian(ctx, custodianID)
		if err != nil {
			return err
		}
		if custodian.Status == domain.CustodianRevoked {
			return registry.ErrCustodianRevoked
		}
		if amount > custodian.Minted {
			return fmt.Errorf("%w: %d > %d", ErrExceedsObligation, amount, custodian.Minted)
		}
		if err := g.verifier.ValidateAddress(ctx, settlementAddress); err != nil {
			return err
		}

		if err := g.burner.Burn(ctx, caller, amount); err != nil {
			return fmt.Errorf("failed to burn on ledger: %w", err)
		}
		if err := tx.Redemptions().Create(ctx, redemption); err != nil {
			return fmt.Errorf("failed to create redemption: %w", err)
		}
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventRedemptionInitiated,
			CustodianID: custodianID,
			Actor:       caller,
			Details:     map[string]any{"redemption_id": redemption.ID, "amount": amount, "settlement_address": settlementAddress},
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.RedemptionsTotal.WithLabelValues(custodianID, string(domain.RedemptionPending)).Inc()
	return redemption, nil
}

// RecordFulfillment accepts a settlement transaction as proof that the
// custodian paid. Anyone may submit it; the proof is judged on chain facts
// alone. The payment must pay the bound address the exact redemption amount,
// and one settlement transaction satisfies at most one redemption.
func (g *Gateway) RecordFulfillment(ctx context.Context, caller, redemptionID, txID string) (*domain.Redemption, error) {
	if txID == "" {
		return nil, ErrProofRequired
	}

	var out *domain.Redemption
	err := g.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		redemption, err := tx.Redemptions().Get(ctx, redemptionID)
		if err != nil {
			return err
		}
		if redemption.Finalized() {
			return fmt.Errorf("%w: status %s", ErrAlreadyFinalized, redemption.Status)
		}

		params, err := tx.Params().Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to read system params: %w", err)
		}
		reg := registry.New(tx)
		custodian, err := reg.Custodian(ctx, redemption.CustodianID)
		if err != nil {
			return err
		}
		if params.BlockFulfillmentUnderReview && custodian.Status == domain.CustodianUnderReview {
			return fmt.Errorf("%w: fulfillment suspended during review", registry.ErrCustodianNotActive)
		}

		payment, err := g.verifier.VerifyPayment(ctx, txID)
		if err != nil {
			return err
		}
		paid := payment.PaidTo(redemption.SettlementAddress)
		if paid == 0 {
			return fmt.Errorf("%w: %s not paid by %s", ErrAddressMismatch, redemption.SettlementAddress, txID)
		}
		if paid != redemption.Amount {
			return fmt.Errorf("%w: paid %d, owed %d", ErrAmountMismatch, paid, redemption.Amount)
		}

		err = tx.Redemptions().Finalize(ctx, redemptionID, domain.RedemptionFulfilled, txID)
		if errors.Is(err, storage.ErrTxIDUsed) {
			return fmt.Errorf("%w: %s", ErrProofReused, txID)
		}
		if errors.Is(err, storage.ErrConditionFailed) {
			return ErrAlreadyFinalized
		}
		if err != nil {
			return fmt.Errorf("failed to finalize redemption: %w", err)
		}

		// The obligation leaves the books only now that it is settled.
		if err := reg.ReleaseMinted(ctx, redemption.CustodianID, redemption.Amount); err != nil {
			return fmt.Errorf("failed to release minted supply: %w", err)
		}
		if err := events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventRedemptionFulfilled,
			CustodianID: redemption.CustodianID,
			Actor:       actorOrSystem(caller),
			Details:     map[string]any{"redemption_id": redemptionID, "txid": txID, "amount": redemption.Amount},
		}); err != nil {
			return err
		}

		out, err = tx.Redemptions().Get(ctx, redemptionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RedemptionsTotal.WithLabelValues(out.CustodianID, string(domain.RedemptionFulfilled)).Inc()
	return out, nil
}

// FlagDefault marks a redemption the custodian failed to settle within the
// timeout. Only an arbiter may flag, and only after the window has elapsed;
// there is no background timer. The registered hook then applies the
// consequence in the same transaction.
func (g *Gateway) FlagDefault(ctx context.Context, caller, redemptionID string) (*domain.Redemption, error) {
	if err := auth.Require(g.authority, caller, auth.RoleArbiter); err != nil {
		return nil, err
	}

	var out *domain.Redemption
	err := g.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		redemption, err := tx.Redemptions().Get(ctx, redemptionID)
		if err != nil {
			return err
		}
		if redemption.Finalized() {
			return fmt.Errorf("%w: status %s", ErrAlreadyFinalized, redemption.Status)
		}

		params, err := tx.Params().Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to read system params: %w", err)
		}
		deadline := redemption.Deadline(params.RedemptionTimeout)
		if now := time.Now().UTC(); now.Before(deadline) {
			return fmt.Errorf("%w: %s remaining", ErrTimeoutNotElapsed, deadline.Sub(now).Round(time.Second))
		}

		err = tx.Redemptions().Finalize(ctx, redemptionID, domain.RedemptionDefaulted, "")
		if errors.Is(err, storage.ErrConditionFailed) {
			return ErrAlreadyFinalized
		}
		if err != nil {
			return fmt.Errorf("failed to finalize redemption: %w", err)
		}
		if err := events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventRedemptionDefaulted,
			CustodianID: redemption.CustodianID,
			Actor:       caller,
			Details:     map[string]any{"redemption_id": redemptionID, "amount": redemption.Amount},
		}); err != nil {
			return err
		}

		if g.onDefault != nil {
			if err := g.onDefault(ctx, tx, redemption.CustodianID, redemptionID); err != nil {
				return fmt.Errorf("failed to apply default consequence: %w", err)
			}
		}

		out, err = tx.Redemptions().Get(ctx, redemptionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RedemptionsTotal.WithLabelValues(out.CustodianID, string(domain.RedemptionDefaulted)).Inc()
	return out, nil
}

// Redemption retrieves a redemption record.
func (g *Gateway) Redemption(ctx context.Context, id string) (*domain.Redemption, error) {
	return g.store.Redemptions().Get(ctx, id)
}

// ListByCustodian retrieves a custodian's redemptions, newest first.
func (g *Gateway) ListByCustodian(ctx context.Context, custodianID string) ([]*domain.Redemption, error) {
	if _, err := g.store.Custodians().Get(ctx, custodianID); err != nil {
		return nil, err
	}
	return g.store.Redemptions().ListByCustodian(ctx, custodianID)
}

// ListPending retrieves all open redemptions.
func (g *Gateway) ListPending(ctx context.Context) ([]*domain.Redemption, error) {
	return g.store.Redemptions().ListPending(ctx)
}

func actorOrSystem(caller string) string {
	if caller == "" {
		return domain.SystemActor
	}
	return caller
}
