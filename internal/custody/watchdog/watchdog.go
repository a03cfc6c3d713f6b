// Package watchdog polices the collateralization invariant. Anyone may run a
// check; the evidence is the attested reserve, and the only enforcement is
// moving the custodian under review.
package watchdog

import (
	"context"
	"fmt"
	"math/bits"
	"time"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/custody/auth"
	"github.com/qcnet/warden/internal/custody/events"
	"github.com/qcnet/warden/internal/custody/oracle"
	"github.com/qcnet/warden/internal/infra/storage"
	"github.com/qcnet/warden/internal/metrics"
)

// Flagger forces a custodian under review. Implemented by the manager.
type Flagger interface {
	ForceUnderReview(ctx context.Context, s storage.Store, custodianID, reason string) (bool, error)
}

// Enforcer runs collateralization checks.
type Enforcer struct {
	store     storage.Store
	authority auth.Authority
	flagger   Flagger
}

// NewEnforcer creates an enforcer over store.
func NewEnforcer(store storage.Store, authority auth.Authority, flagger Flagger) *Enforcer {
	return &Enforcer{store: store, authority: authority, flagger: flagger}
}

// CheckCustodian verifies one custodian's collateralization. It is
// permissionless. Custodians not in active service are skipped; a missing or
// stale reserve fails closed without enforcement. Returns whether an
// enforcement fired.
func (e *Enforcer) CheckCustodian(ctx context.Context, custodianID string) (bool, error) {
	forced := false
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		custodian, err := tx.Custodians().Get(ctx, custodianID)
		if err != nil {
			return err
		}
		metrics.CustodianMinted.WithLabelValues(custodianID).Set(float64(custodian.Minted))
		if custodian.Status != domain.CustodianActive {
			return nil
		}

		params, err := tx.Params().Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to read system params: %w", err)
		}
		snapshot, err := oracle.New(tx, e.authority).UsableReserve(ctx, custodianID, params.ReserveStaleness)
		if err != nil {
			return err
		}
		metrics.CustodianReserve.WithLabelValues(custodianID).Set(float64(snapshot.Balance))

		if !Undercollateralized(snapshot.Balance, custodian.Minted, params.MinCollateralRatio) {
			return nil
		}

		reason := fmt.Sprintf("reserve %d below %d%% of minted %d", snapshot.Balance, params.MinCollateralRatio, custodian.Minted)
		forced, err = e.flagger.ForceUnderReview(ctx, tx, custodianID, reason)
		if err != nil {
			return fmt.Errorf("failed to force review: %w", err)
		}
		if !forced {
			return nil
		}
		metrics.EnforcementsTotal.Inc()
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventEnforcementTriggered,
			CustodianID: custodianID,
			Actor:       domain.SystemActor,
			Details: map[string]any{
				"minted":    custodian.Minted,
				"reserve":   snapshot.Balance,
				"min_ratio": params.MinCollateralRatio,
			},
		})
	})
	if err != nil {
		return false, err
	}
	return forced, nil
}

// ScanReport summarizes one full collateralization scan.
type ScanReport struct {
	Checked  int               `json:"checked"`
	Skipped  int               `json:"skipped"`
	Flagged  []string          `json:"flagged,omitempty"`
	Failures map[string]string `json:"failures,omitempty"`
}

// ScanAll checks every custodian and collects the outcomes. A custodian
// whose check cannot run (no evidence) is reported, not fatal.
func (e *Enforcer) ScanAll(ctx context.Context) (*ScanReport, error) {
	start := time.Now()
	defer func() {
		metrics.WatchdogScanDuration.Observe(time.Since(start).Seconds())
	}()

	custodians, err := e.store.Custodians().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list custodians: %w", err)
	}

	report := &ScanReport{Failures: make(map[string]string)}
	for _, custodian := range custodians {
		if custodian.Status != domain.CustodianActive {
			report.Skipped++
			continue
		}
		report.Checked++
		forced, err := e.CheckCustodian(ctx, custodian.ID)
		if err != nil {
			report.Failures[custodian.ID] = err.Error()
			continue
		}
		if forced {
			report.Flagged = append(report.Flagged, custodian.ID)
		}
	}
	return report, nil
}

// Undercollateralized reports reserve*100 < minted*ratio using full 128-bit
// products, so the comparison cannot overflow for any uint64 inputs. Exactly
// at the ratio is not a violation.
func Undercollateralized(reserve, minted, ratio uint64) bool {
	hiR, loR := bits.Mul64(reserve, 100)
	hiM, loM := bits.Mul64(minted, ratio)
	return hiR < hiM || (hiR == hiM && loR < loM)
}
