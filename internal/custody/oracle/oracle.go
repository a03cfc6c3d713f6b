// Package oracle collects reserve attestations and settles them into a
// consensus reserve per custodian. Submissions run in rounds; a round closes
// once the configured policy is satisfied (or provably cannot be) and the
// next round opens immediately.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/custody/auth"
	"github.com/qcnet/warden/internal/custody/events"
	"github.com/qcnet/warden/internal/infra/storage"
	"github.com/qcnet/warden/internal/metrics"
)

var (
	// ErrDuplicateSubmission is returned when an attester submits twice in
	// the same round
	ErrDuplicateSubmission = errors.New("attester already submitted this round")
	// ErrNoConsensus is returned when no attested reserve exists yet
	ErrNoConsensus = errors.New("no consensus reserve available")
	// ErrStaleReserve is returned when the attested reserve is older than
	// the staleness window
	ErrStaleReserve = errors.New("attested reserve is stale")
)

// Round outcomes recorded in metrics.
const (
	outcomeConsensus = "consensus"
	outcomeFailed    = "failed"
)

// Oracle runs the attestation rounds.
type Oracle struct {
	store     storage.Store
	authority auth.Authority
}

// New creates an oracle over store.
func New(store storage.Store, authority auth.Authority) *Oracle {
	return &Oracle{store: store, authority: authority}
}

// SubmitAttestation records one attester's balance report for the open round
// and settles the round when the consensus policy allows. It returns the new
// reserve snapshot when this submission closed the round with consensus, nil
// while the round stays open or fails.
func (o *Oracle) SubmitAttestation(ctx context.Context, caller, custodianID string, balance uint64) (*domain.ReserveSnapshot, error) {
	if err := auth.Require(o.authority, caller, auth.RoleAttester); err != nil {
		return nil, err
	}

	var snapshot *domain.ReserveSnapshot
	err := o.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := tx.Custodians().Get(ctx, custodianID); err != nil {
			return err
		}
		round, err := tx.Attestations().CurrentRound(ctx, custodianID)
		if err != nil {
			return fmt.Errorf("failed to open attestation round: %w", err)
		}

		att := &domain.Attestation{
			CustodianID: custodianID,
			Round:       round.Round,
			Attester:    caller,
			Balance:     balance,
			SubmittedAt: time.Now().UTC(),
		}
		if err := tx.Attestations().Append(ctx, att); err != nil {
			if errors.Is(err, storage.ErrDuplicateAttestation) {
				return fmt.Errorf("%w: round %d", ErrDuplicateSubmission, round.Round)
			}
			return fmt.Errorf("failed to record attestation: %w", err)
		}
		if err := events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventAttestationRecorded,
			CustodianID: custodianID,
			Actor:       caller,
			Details:     map[string]any{"round": round.Round, "balance": balance},
		}); err != nil {
			return err
		}

		subs, err := tx.Attestations().ListByRound(ctx, custodianID, round.Round)
		if err != nil {
			return fmt.Errorf("failed to list round submissions: %w", err)
		}
		params, err := tx.Params().Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to read system params: %w", err)
		}
		population := len(o.authority.Accounts(auth.RoleAttester))

		value, outcome := evaluate(params.ConsensusMode, subs, params.Quorum, params.MinAttesters, population)
		switch outcome {
		case verdictReached:
			snapshot = &domain.ReserveSnapshot{
				CustodianID: custodianID,
				Balance:     value,
				Round:       round.Round,
				Source:      domain.ReserveFromConsensus,
				AttestedAt:  time.Now().UTC(),
			}
			if err := tx.Reserves().Put(ctx, snapshot); err != nil {
				return fmt.Errorf("failed to store reserve snapshot: %w", err)
			}
			if err := tx.Attestations().AdvanceRound(ctx, custodianID, round.Round); err != nil {
				return fmt.Errorf("failed to advance round: %w", err)
			}
			metrics.ConsensusRoundsTotal.WithLabelValues(custodianID, outcomeConsensus).Inc()
			metrics.CustodianReserve.WithLabelValues(custodianID).Set(float64(value))
			return events.Record(ctx, tx.Events(), &domain.Event{
				EventType:   domain.EventReserveConsensus,
				CustodianID: custodianID,
				Actor:       caller,
				Details:     map[string]any{"round": round.Round, "balance": value, "submissions": len(subs)},
			})
		case verdictFailed:
			if err := tx.Attestations().AdvanceRound(ctx, custodianID, round.Round); err != nil {
				return fmt.Errorf("failed to advance round: %w", err)
			}
			metrics.ConsensusRoundsTotal.WithLabelValues(custodianID, outcomeFailed).Inc()
			return events.Record(ctx, tx.Events(), &domain.Event{
				EventType:   domain.EventConsensusFailed,
				CustodianID: custodianID,
				Actor:       domain.SystemActor,
				Details:     map[string]any{"round": round.Round, "submissions": len(subs)},
			})
		default:
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	metrics.AttestationsTotal.WithLabelValues(custodianID).Inc()
	return snapshot, nil
}

// AttestDirect replaces the reserve snapshot outside the round flow. It backs
// wallet deregistration, which needs a balance attested at the moment of the
// solvency check rather than whenever the open round happens to settle.
func (o *Oracle) AttestDirect(ctx context.Context, caller, custodianID string, balance uint64) (*domain.ReserveSnapshot, error) {
	if err := auth.Require(o.authority, caller, auth.RoleAttester); err != nil {
		return nil, err
	}

	var snapshot *domain.ReserveSnapshot
	err := o.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := tx.Custodians().Get(ctx, custodianID); err != nil {
			return err
		}
		round, err := tx.Attestations().CurrentRound(ctx, custodianID)
		if err != nil {
			return fmt.Errorf("failed to read attestation round: %w", err)
		}
		snapshot = &domain.ReserveSnapshot{
			CustodianID: custodianID,
			Balance:     balance,
			Round:       round.Round,
			Source:      domain.ReserveFromDirect,
			AttestedAt:  time.Now().UTC(),
		}
		if err := tx.Reserves().Put(ctx, snapshot); err != nil {
			return fmt.Errorf("failed to store reserve snapshot: %w", err)
		}
		metrics.CustodianReserve.WithLabelValues(custodianID).Set(float64(balance))
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventReserveOverridden,
			CustodianID: custodianID,
			Actor:       caller,
			Details:     map[string]any{"balance": balance},
		})
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ConsensusReserve retrieves the latest attested reserve snapshot regardless
// of age.
func (o *Oracle) ConsensusReserve(ctx context.Context, custodianID string) (*domain.ReserveSnapshot, error) {
	snapshot, err := o.store.Reserves().Get(ctx, custodianID)
	if errors.Is(err, storage.ErrNoReserve) {
		return nil, ErrNoConsensus
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// UsableReserve retrieves the latest snapshot and fails closed when it is
// older than maxAge. Mint checks, deregistration and the watchdog all read
// reserves through this.
func (o *Oracle) UsableReserve(ctx context.Context, custodianID string, maxAge time.Duration) (*domain.ReserveSnapshot, error) {
	snapshot, err := o.ConsensusReserve(ctx, custodianID)
	if err != nil {
		return nil, err
	}
	if age := snapshot.Age(time.Now().UTC()); age > maxAge {
		return nil, fmt.Errorf("%w: attested %s ago", ErrStaleReserve, age.Round(time.Second))
	}
	return snapshot, nil
}

// RoundStatus describes the open round for a custodian.
type RoundStatus struct {
	Round       uint64                `json:"round"`
	OpenedAt    time.Time             `json:"opened_at"`
	Submissions []*domain.Attestation `json:"submissions"`
}

// Round retrieves the open round and its submissions so far.
func (o *Oracle) Round(ctx context.Context, custodianID string) (*RoundStatus, error) {
	if _, err := o.store.Custodians().Get(ctx, custodianID); err != nil {
		return nil, err
	}
	round, err := o.store.Attestations().CurrentRound(ctx, custodianID)
	if err != nil {
		return nil, fmt.Errorf("failed to read attestation round: %w", err)
	}
	subs, err := o.store.Attestations().ListByRound(ctx, custodianID, round.Round)
	if err != nil {
		return nil, fmt.Errorf("failed to list round submissions: %w", err)
	}
	return &RoundStatus{Round: round.Round, OpenedAt: round.OpenedAt, Submissions: subs}, nil
}
