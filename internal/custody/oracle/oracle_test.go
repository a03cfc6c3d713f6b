package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/custody/auth"
	"github.com/qcnet/warden/internal/infra/storage"
	"github.com/qcnet/warden/internal/infra/storage/memory"
)

func newTestOracle(t *testing.T, mode domain.ConsensusMode, quorum, minAttesters int, attesters []string) (*Oracle, storage.Store) {
	t.Helper()
	store := memory.NewMemoryStore()
	ctx := context.Background()

	err := store.Custodians().Create(ctx, &domain.Custodian{
		ID:          "cust-1",
		Status:      domain.CustodianActive,
		MaxCapacity: 1_000_000,
	})
	if err != nil {
		t.Fatalf("failed to seed custodian: %v", err)
	}
	err = store.Params().Put(ctx, &domain.SystemParams{
		MinMintAmount:      1,
		MaxMintAmount:      1_000_000,
		RedemptionTimeout:  time.Hour,
		MinCollateralRatio: 100,
		ReserveStaleness:   time.Hour,
		ConsensusMode:      mode,
		Quorum:             quorum,
		MinAttesters:       minAttesters,
	})
	if err != nil {
		t.Fatalf("failed to seed params: %v", err)
	}

	authority := auth.NewStaticAuthority([]string{"gov"}, []string{"arb"}, attesters)
	return New(store, authority), store
}

func TestSubmitAttestation_ExactConsensus(t *testing.T) {
	oracle, _ := newTestOracle(t, domain.ConsensusExact, 3, 1, []string{"a", "b", "c"})
	ctx := context.Background()

	for _, attester := range []string{"a", "b"} {
		snapshot, err := oracle.SubmitAttestation(ctx, attester, "cust-1", 100)
		if err != nil {
			t.Fatalf("SubmitAttestation(%s) unexpected error: %v", attester, err)
		}
		if snapshot != nil {
			t.Fatalf("SubmitAttestation(%s) settled early: %+v", attester, snapshot)
		}
	}

	snapshot, err := oracle.SubmitAttestation(ctx, "c", "cust-1", 100)
	if err != nil {
		t.Fatalf("SubmitAttestation(c) unexpected error: %v", err)
	}
	if snapshot == nil {
		t.Fatal("expected consensus snapshot after quorum")
	}
	if snapshot.Balance != 100 || snapshot.Round != 1 || snapshot.Source != domain.ReserveFromConsensus {
		t.Errorf("snapshot = %+v, want balance 100 round 1 source consensus", snapshot)
	}

	status, err := oracle.Round(ctx, "cust-1")
	if err != nil {
		t.Fatalf("Round() unexpected error: %v", err)
	}
	if status.Round != 2 || len(status.Submissions) != 0 {
		t.Errorf("open round = %d with %d submissions, want fresh round 2", status.Round, len(status.Submissions))
	}
}

func TestSubmitAttestation_ExactDisagreementFailsRound(t *testing.T) {
	oracle, store := newTestOracle(t, domain.ConsensusExact, 3, 1, []string{"a", "b", "c"})
	ctx := context.Background()

	mustSubmit(t, oracle, "a", 100)
	mustSubmit(t, oracle, "b", 100)
	snapshot, err := oracle.SubmitAttestation(ctx, "c", "cust-1", 90)
	if err != nil {
		t.Fatalf("SubmitAttestation(c) unexpected error: %v", err)
	}
	if snapshot != nil {
		t.Fatalf("disagreeing round settled: %+v", snapshot)
	}

	// The round is provably unable to reach quorum, so it closes without
	// consensus and the next one opens.
	if _, err := oracle.ConsensusReserve(ctx, "cust-1"); !errors.Is(err, ErrNoConsensus) {
		t.Fatalf("ConsensusReserve() error = %v, want %v", err, ErrNoConsensus)
	}
	status, _ := oracle.Round(ctx, "cust-1")
	if status.Round != 2 {
		t.Errorf("open round = %d, want 2", status.Round)
	}
	assertEvent(t, store, domain.EventConsensusFailed)

	// The fresh round works normally.
	mustSubmit(t, oracle, "a", 95)
	mustSubmit(t, oracle, "b", 95)
	snapshot, err = oracle.SubmitAttestation(ctx, "c", "cust-1", 95)
	if err != nil || snapshot == nil {
		t.Fatalf("round 2 consensus failed: snapshot=%v err=%v", snapshot, err)
	}
	if snapshot.Round != 2 || snapshot.Balance != 95 {
		t.Errorf("snapshot = %+v, want round 2 balance 95", snapshot)
	}
}

func TestSubmitAttestation_ExactEarlyFailure(t *testing.T) {
	oracle, _ := newTestOracle(t, domain.ConsensusExact, 3, 1, []string{"a", "b", "c"})
	ctx := context.Background()

	mustSubmit(t, oracle, "a", 100)
	// After a disagreeing second submission the best group holds one vote
	// and only one attester remains, so quorum 3 is already out of reach.
	if _, err := oracle.SubmitAttestation(ctx, "b", "cust-1", 90); err != nil {
		t.Fatalf("SubmitAttestation(b) unexpected error: %v", err)
	}

	status, _ := oracle.Round(ctx, "cust-1")
	if status.Round != 2 {
		t.Errorf("open round = %d, want 2 after early failure", status.Round)
	}
}

func TestSubmitAttestation_MedianConsensus(t *testing.T) {
	oracle, _ := newTestOracle(t, domain.ConsensusMedian, 3, 3, []string{"a", "b", "c"})
	ctx := context.Background()

	mustSubmit(t, oracle, "a", 90)
	mustSubmit(t, oracle, "b", 110)
	snapshot, err := oracle.SubmitAttestation(ctx, "c", "cust-1", 100)
	if err != nil {
		t.Fatalf("SubmitAttestation(c) unexpected error: %v", err)
	}
	if snapshot == nil || snapshot.Balance != 100 {
		t.Fatalf("snapshot = %+v, want median 100", snapshot)
	}
}

func TestMedianOf(t *testing.T) {
	tests := []struct {
		name   string
		values []uint64
		want   uint64
	}{
		{"odd count", []uint64{110, 90, 100}, 100},
		{"even count rounds down", []uint64{100, 99}, 99},
		{"single", []uint64{42}, 42},
		{"large values do not overflow", []uint64{1 << 63, (1 << 63) + 2}, (1 << 63) + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := medianOf(tt.values); got != tt.want {
				t.Errorf("medianOf(%v) = %d, want %d", tt.values, got, tt.want)
			}
		})
	}
}

func TestSubmitAttestation_DuplicateRejected(t *testing.T) {
	oracle, _ := newTestOracle(t, domain.ConsensusExact, 2, 1, []string{"a", "b"})
	ctx := context.Background()

	mustSubmit(t, oracle, "a", 100)
	if _, err := oracle.SubmitAttestation(ctx, "a", "cust-1", 100); !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("duplicate error = %v, want %v", err, ErrDuplicateSubmission)
	}

	// Settling the round lifts the restriction for the next one.
	if snapshot, err := oracle.SubmitAttestation(ctx, "b", "cust-1", 100); err != nil || snapshot == nil {
		t.Fatalf("quorum submission failed: snapshot=%v err=%v", snapshot, err)
	}
	mustSubmit(t, oracle, "a", 101)
}

func TestSubmitAttestation_RequiresAttesterRole(t *testing.T) {
	oracle, _ := newTestOracle(t, domain.ConsensusExact, 1, 1, []string{"a"})
	if _, err := oracle.SubmitAttestation(context.Background(), "gov", "cust-1", 100); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("error = %v, want %v", err, auth.ErrUnauthorized)
	}
}

func TestSubmitAttestation_UnknownCustodian(t *testing.T) {
	oracle, _ := newTestOracle(t, domain.ConsensusExact, 1, 1, []string{"a"})
	if _, err := oracle.SubmitAttestation(context.Background(), "a", "ghost", 100); !errors.Is(err, storage.ErrCustodianNotFound) {
		t.Fatalf("error = %v, want %v", err, storage.ErrCustodianNotFound)
	}
}

func TestAttestDirect_OverridesSnapshot(t *testing.T) {
	oracle, store := newTestOracle(t, domain.ConsensusExact, 1, 1, []string{"a"})
	ctx := context.Background()

	if snapshot, err := oracle.SubmitAttestation(ctx, "a", "cust-1", 100); err != nil || snapshot == nil {
		t.Fatalf("seed consensus failed: snapshot=%v err=%v", snapshot, err)
	}

	snapshot, err := oracle.AttestDirect(ctx, "a", "cust-1", 42)
	if err != nil {
		t.Fatalf("AttestDirect() unexpected error: %v", err)
	}
	if snapshot.Balance != 42 || snapshot.Source != domain.ReserveFromDirect {
		t.Errorf("snapshot = %+v, want balance 42 source direct", snapshot)
	}

	current, err := oracle.ConsensusReserve(ctx, "cust-1")
	if err != nil {
		t.Fatalf("ConsensusReserve() unexpected error: %v", err)
	}
	if current.Balance != 42 {
		t.Errorf("reserve = %d, want 42", current.Balance)
	}
	assertEvent(t, store, domain.EventReserveOverridden)
}

func TestUsableReserve_FailsClosed(t *testing.T) {
	oracle, store := newTestOracle(t, domain.ConsensusExact, 1, 1, []string{"a"})
	ctx := context.Background()

	if _, err := oracle.UsableReserve(ctx, "cust-1", time.Hour); !errors.Is(err, ErrNoConsensus) {
		t.Fatalf("error = %v, want %v", err, ErrNoConsensus)
	}

	err := store.Reserves().Put(ctx, &domain.ReserveSnapshot{
		CustodianID: "cust-1",
		Balance:     500,
		Round:       1,
		Source:      domain.ReserveFromConsensus,
		AttestedAt:  time.Now().UTC().Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to seed snapshot: %v", err)
	}

	if _, err := oracle.UsableReserve(ctx, "cust-1", time.Hour); !errors.Is(err, ErrStaleReserve) {
		t.Fatalf("error = %v, want %v", err, ErrStaleReserve)
	}
	snapshot, err := oracle.UsableReserve(ctx, "cust-1", 3*time.Hour)
	if err != nil {
		t.Fatalf("UsableReserve() unexpected error: %v", err)
	}
	if snapshot.Balance != 500 {
		t.Errorf("balance = %d, want 500", snapshot.Balance)
	}
}

func mustSubmit(t *testing.T, oracle *Oracle, attester string, balance uint64) {
	t.Helper()
	if _, err := oracle.SubmitAttestation(context.Background(), attester, "cust-1", balance); err != nil {
		t.Fatalf("SubmitAttestation(%s, %d) unexpected error: %v", attester, balance, err)
	}
}

func assertEvent(t *testing.T, store storage.Store, eventType domain.EventType) {
	t.Helper()
	list, err := store.Events().List(context.Background(), "", 50)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	for _, event := range list {
		if event.EventType == eventType {
			return
		}
	}
	t.Errorf("no %s event recorded", eventType)
}
