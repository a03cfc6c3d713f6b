// Package system manages the global operating parameters: the pause switches,
// mint limits, redemption timeout, collateral ratio, staleness window and
// consensus policy. Every change is role-gated and leaves an audit event.
package system

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/custody/auth"
	"github.com/qcnet/warden/internal/custody/events"
	"github.com/qcnet/warden/internal/infra/storage"
)

var (
	// ErrInvalidLimits is returned when mint limits are inconsistent
	ErrInvalidLimits = errors.New("invalid mint limits")
	// ErrInvalidTimeout is returned for a non-positive redemption timeout
	ErrInvalidTimeout = errors.New("redemption timeout must be positive")
	// ErrInvalidRatio is returned for a collateral ratio below 100 percent
	ErrInvalidRatio = errors.New("collateral ratio must be at least 100")
	// ErrInvalidStaleness is returned for a non-positive staleness window
	ErrInvalidStaleness = errors.New("reserve staleness window must be positive")
	// ErrInvalidPolicy is returned for an unknown consensus mode or a
	// non-positive quorum
	ErrInvalidPolicy = errors.New("invalid consensus policy")
)

// Service owns the singleton parameter record.
type Service struct {
	store     storage.Store
	authority auth.Authority
}

// NewService creates a parameter service over store.
func NewService(store storage.Store, authority auth.Authority) *Service {
	return &Service{store: store, authority: authority}
}

// Seed writes the initial parameter record on first start. An existing record
// wins over configuration so operator changes survive restarts.
func (s *Service) Seed(ctx context.Context, initial domain.SystemParams) error {
	_, err := s.store.Params().Get(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrParamsNotFound) {
		return fmt.Errorf("failed to read system params: %w", err)
	}
	if err := validate(&initial); err != nil {
		return fmt.Errorf("invalid initial params: %w", err)
	}
	initial.UpdatedAt = time.Now().UTC()
	if err := s.store.Params().Put(ctx, &initial); err != nil {
		return fmt.Errorf("failed to seed system params: %w", err)
	}
	return nil
}

// Params retrieves the current parameter record.
func (s *Service) Params(ctx context.Context) (*domain.SystemParams, error) {
	return s.store.Params().Get(ctx)
}

// PauseMinting halts mint issuance. Governance or an arbiter may pause so a
// suspected incident can be contained without waiting for governance.
func (s *Service) PauseMinting(ctx context.Context, caller string) error {
	if err := auth.Require(s.authority, caller, auth.RoleGovernance, auth.RoleArbiter); err != nil {
		return err
	}
	return s.update(ctx, caller, domain.EventMintingPaused, nil, func(p *domain.SystemParams) (bool, error) {
		if p.MintingPaused {
			return false, nil
		}
		p.MintingPaused = true
		return true, nil
	})
}

// ResumeMinting lifts the mint pause. Only governance may resume.
func (s *Service) ResumeMinting(ctx context.Context, caller string) error {
	if err := auth.Require(s.authority, caller, auth.RoleGovernance); err != nil {
		return err
	}
	return s.update(ctx, caller, domain.EventMintingResumed, nil, func(p *domain.SystemParams) (bool, error) {
		if !p.MintingPaused {
			return false, nil
		}
		p.MintingPaused = false
		return true, nil
	})
}

// PauseRedemption halts new redemption requests. Governance or an arbiter may
// pause.
func (s *Service) PauseRedemption(ctx context.Context, caller string) error {
	if err := auth.Require(s.authority, caller, auth.RoleGovernance, auth.RoleArbiter); err != nil {
		return err
	}
	return s.update(ctx, caller, domain.EventRedemptionPaused, nil, func(p *domain.SystemParams) (bool, error) {
		if p.RedemptionPaused {
			return false, nil
		}
		p.RedemptionPaused = true
		return true, nil
	})
}

// ResumeRedemption lifts the redemption pause. Only governance may resume.
func (s *Service) ResumeRedemption(ctx context.Context, caller string) error {
	if err := auth.Require(s.authority, caller, auth.RoleGovernance); err != nil {
		return err
	}
	return s.update(ctx, caller, domain.EventRedemptionResumed, nil, func(p *domain.SystemParams) (bool, error) {
		if !p.RedemptionPaused {
			return false, nil
		}
		p.RedemptionPaused = false
		return true, nil
	})
}

// SetMintLimits replaces the per-request mint bounds.
func (s *Service) SetMintLimits(ctx context.Context, caller string, minAmount, maxAmount uint64) error {
	if err := auth.Require(s.authority, caller, auth.RoleGovernance); err != nil {
		return err
	}
	details := map[string]any{"min_mint_amount": minAmount, "max_mint_amount": maxAmount}
	return s.update(ctx, caller, domain.EventParamsUpdated, details, func(p *domain.SystemParams) (bool, error) {
		if maxAmount == 0 || minAmount > maxAmount {
			return false, ErrInvalidLimits
		}
		p.MinMintAmount = minAmount
		p.MaxMintAmount = maxAmount
		return true, nil
	})
}

// SetRedemptionTimeout replaces the window a custodian has to settle a
// redemption before an arbiter may flag default.
func (s *Service) SetRedemptionTimeout(ctx context.Context, caller string, timeout time.Duration) error {
	if err := auth.Require(s.authority, caller, auth.RoleGovernance); err != nil {
		return err
	}
	details := map[string]any{"redemption_timeout": timeout.String()}
	return s.update(ctx, caller, domain.EventParamsUpdated, details, func(p *domain.SystemParams) (bool, error) {
		if timeout <= 0 {
			return false, ErrInvalidTimeout
		}
		p.RedemptionTimeout = timeout
		return true, nil
	})
}

// SetMinCollateralRatio replaces the reserve-to-minted percentage the
// watchdog enforces.
func (s *Service) SetMinCollateralRatio(ctx context.Context, caller string, ratio uint64) error {
	if err := auth.Require(s.authority, caller, auth.RoleGovernance); err != nil {
		return err
	}
	details := map[string]any{"min_collateral_ratio": ratio}
	return s.update(ctx, caller, domain.EventParamsUpdated, details, func(p *domain.SystemParams) (bool, error) {
		if ratio < 100 {
			return false, ErrInvalidRatio
		}
		p.MinCollateralRatio = ratio
		return true, nil
	})
}

// SetReserveStaleness replaces the maximum age an attested reserve may have
// before reads fail closed.
func (s *Service) SetReserveStaleness(ctx context.Context, caller string, window time.Duration) error {
	if err := auth.Require(s.authority, caller, auth.RoleGovernance); err != nil {
		return err
	}
	details := map[string]any{"reserve_staleness": window.String()}
	return s.update(ctx, caller, domain.EventParamsUpdated, details, func(p *domain.SystemParams) (bool, error) {
		if window <= 0 {
			return false, ErrInvalidStaleness
		}
		p.ReserveStaleness = window
		return true, nil
	})
}

// SetConsensusPolicy replaces the oracle consensus mode, quorum and the
// minimum submission count for median rounds.
func (s *Service) SetConsensusPolicy(ctx context.Context, caller string, mode domain.ConsensusMode, quorum, minAttesters int) error {
	if err := auth.Require(s.authority, caller, auth.RoleGovernance); err != nil {
		return err
	}
	details := map[string]any{"consensus_mode": string(mode), "quorum": quorum, "min_attesters": minAttesters}
	return s.update(ctx, caller, domain.EventParamsUpdated, details, func(p *domain.SystemParams) (bool, error) {
		if mode != domain.ConsensusExact && mode != domain.ConsensusMedian {
			return false, ErrInvalidPolicy
		}
		if quorum <= 0 || minAttesters <= 0 {
			return false, ErrInvalidPolicy
		}
		p.ConsensusMode = mode
		p.Quorum = quorum
		p.MinAttesters = minAttesters
		return true, nil
	})
}

// SetFulfillmentPolicy toggles whether fulfillment proofs are accepted while
// the custodian is under review.
func (s *Service) SetFulfillmentPolicy(ctx context.Context, caller string, blockUnderReview bool) error {
	if err := auth.Require(s.authority, caller, auth.RoleGovernance); err != nil {
		return err
	}
	details := map[string]any{"block_fulfillment_under_review": blockUnderReview}
	return s.update(ctx, caller, domain.EventParamsUpdated, details, func(p *domain.SystemParams) (bool, error) {
		if p.BlockFulfillmentUnderReview == blockUnderReview {
			return false, nil
		}
		p.BlockFulfillmentUnderReview = blockUnderReview
		return true, nil
	})
}

// update applies mutate to the current record inside a transaction and
// records an audit event when the record actually changed.
func (s *Service) update(ctx context.Context, caller string, eventType domain.EventType, details map[string]any, mutate func(*domain.SystemParams) (bool, error)) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		params, err := tx.Params().Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to read system params: %w", err)
		}
		changed, err := mutate(params)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		params.UpdatedAt = time.Now().UTC()
		if err := tx.Params().Put(ctx, params); err != nil {
			return fmt.Errorf("failed to write system params: %w", err)
		}
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType: eventType,
			Actor:     caller,
			Details:   details,
		})
	})
}

func validate(p *domain.SystemParams) error {
	if p.MaxMintAmount == 0 || p.MinMintAmount > p.MaxMintAmount {
		return ErrInvalidLimits
	}
	if p.RedemptionTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if p.MinCollateralRatio < 100 {
		return ErrInvalidRatio
	}
	if p.ReserveStaleness <= 0 {
		return ErrInvalidStaleness
	}
	if p.ConsensusMode != domain.ConsensusExact && p.ConsensusMode != domain.ConsensusMedian {
		return ErrInvalidPolicy
	}
	if p.Quorum <= 0 || p.MinAttesters <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}
