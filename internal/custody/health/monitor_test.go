package health

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/infra/storage"
	"github.com/qcnet/warden/internal/infra/storage/memory"
)

func testParams() *domain.SystemParams {
	return &domain.SystemParams{
		MinMintAmount:      1,
		MaxMintAmount:      math.MaxUint64,
		RedemptionTimeout:  time.Hour,
		MinCollateralRatio: 100,
		ReserveStaleness:   time.Hour,
		ConsensusMode:      domain.ConsensusExact,
		Quorum:             1,
		MinAttesters:       1,
	}
}

func seedStore(t *testing.T) storage.Store {
	t.Helper()
	store := memory.NewMemoryStore()
	if err := store.Params().Put(context.Background(), testParams()); err != nil {
		t.Fatalf("failed to seed params: %v", err)
	}
	return store
}

func seedCustodian(t *testing.T, store storage.Store, id string, minted uint64) {
	t.Helper()
	ctx := context.Background()
	err := store.Custodians().Create(ctx, &domain.Custodian{
		ID:          id,
		Status:      domain.CustodianActive,
		MaxCapacity: math.MaxUint64 / 2,
	})
	if err != nil {
		t.Fatalf("failed to seed custodian: %v", err)
	}
	if minted > 0 {
		if err := store.Custodians().IncrementMinted(ctx, id, minted, minted); err != nil {
			t.Fatalf("failed to seed minted: %v", err)
		}
	}
}

func seedReserve(t *testing.T, store storage.Store, id string, balance uint64, age time.Duration) {
	t.Helper()
	err := store.Reserves().Put(context.Background(), &domain.ReserveSnapshot{
		CustodianID: id,
		Balance:     balance,
		Round:       1,
		Source:      domain.ReserveFromConsensus,
		AttestedAt:  time.Now().UTC().Add(-age),
	})
	if err != nil {
		t.Fatalf("failed to seed reserve: %v", err)
	}
}

func TestMonitor_Healthy(t *testing.T) {
	store := seedStore(t)
	seedCustodian(t, store, "cust-1", 1000)
	seedReserve(t, store, "cust-1", 1200, time.Minute)

	monitor := NewMonitor(store, map[string]Pinger{
		"ledger": PingFunc(func(ctx context.Context) error { return nil }),
	})
	report := monitor.CheckHealth(context.Background())

	if report.SystemStatus != StatusHealthy {
		t.Fatalf("system status = %s, want %s", report.SystemStatus, StatusHealthy)
	}
	ch := report.Custodians["cust-1"]
	if ch.Status != StatusHealthy || ch.Reserve != 1200 || ch.Minted != 1000 {
		t.Errorf("custodian health = %+v, want healthy 1200/1000", ch)
	}
	if ch.CollateralPct < 119 || ch.CollateralPct > 121 {
		t.Errorf("collateral pct = %f, want ~120", ch.CollateralPct)
	}
	if dep := report.Dependencies["storage"]; dep.Status != StatusHealthy {
		t.Errorf("storage dependency = %+v, want healthy", dep)
	}
}

func TestMonitor_DegradedOnStaleReserve(t *testing.T) {
	store := seedStore(t)
	seedCustodian(t, store, "cust-1", 1000)
	seedReserve(t, store, "cust-1", 1200, 2*time.Hour)

	report := NewMonitor(store, nil).CheckHealth(context.Background())
	if report.SystemStatus != StatusDegraded {
		t.Fatalf("system status = %s, want %s", report.SystemStatus, StatusDegraded)
	}
	if age := report.Custodians["cust-1"].ReserveAgeSeconds; age < 7100 {
		t.Errorf("reserve age = %ds, want about two hours", age)
	}
}

func TestMonitor_CriticalOnShortfall(t *testing.T) {
	store := seedStore(t)
	seedCustodian(t, store, "cust-1", 1000)
	seedReserve(t, store, "cust-1", 999, time.Minute)

	report := NewMonitor(store, nil).CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical {
		t.Fatalf("system status = %s, want %s", report.SystemStatus, StatusCritical)
	}
}

func TestMonitor_CriticalWhenBlind(t *testing.T) {
	store := seedStore(t)
	seedCustodian(t, store, "cust-1", 1000)

	report := NewMonitor(store, nil).CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical {
		t.Fatalf("system status = %s, want %s for minted supply with no attested reserve", report.SystemStatus, StatusCritical)
	}
}

func TestMonitor_DependencyFailure(t *testing.T) {
	store := seedStore(t)
	seedCustodian(t, store, "cust-1", 0)
	seedReserve(t, store, "cust-1", 100, time.Minute)

	monitor := NewMonitor(store, map[string]Pinger{
		"redis": PingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})
	report := monitor.CheckHealth(context.Background())

	if report.SystemStatus != StatusDegraded {
		t.Fatalf("system status = %s, want %s", report.SystemStatus, StatusDegraded)
	}
	dep := report.Dependencies["redis"]
	if dep.Status != StatusDegraded || dep.Error == "" {
		t.Errorf("redis dependency = %+v, want degraded with error", dep)
	}
}

func TestMonitor_CountsPendingRedemptions(t *testing.T) {
	store := seedStore(t)
	seedCustodian(t, store, "cust-1", 1000)
	seedReserve(t, store, "cust-1", 1200, time.Minute)

	ctx := context.Background()
	for _, id := range []string{"red-1", "red-2"} {
		err := store.Redemptions().Create(ctx, &domain.Redemption{
			ID:                id,
			CustodianID:       "cust-1",
			Requester:         "holder-1",
			Amount:            10,
			SettlementAddress: "addr",
			Status:            domain.RedemptionPending,
		})
		if err != nil {
			t.Fatalf("failed to seed redemption: %v", err)
		}
	}

	report := NewMonitor(store, nil).CheckHealth(ctx)
	if got := report.Custodians["cust-1"].PendingRedemptions; got != 2 {
		t.Errorf("pending redemptions = %d, want 2", got)
	}
}

func TestMonitor_CachesReports(t *testing.T) {
	store := seedStore(t)
	seedCustodian(t, store, "cust-1", 1000)
	seedReserve(t, store, "cust-1", 1200, time.Minute)

	monitor := NewMonitor(store, nil)
	ctx := context.Background()

	first := monitor.CheckHealth(ctx)
	if first.SystemStatus != StatusHealthy {
		t.Fatalf("first report = %s, want healthy", first.SystemStatus)
	}

	// A state change inside the rate-limit window is not re-read.
	seedReserve(t, store, "cust-1", 1, time.Minute)
	second := monitor.CheckHealth(ctx)
	if second.SystemStatus != StatusHealthy {
		t.Errorf("second report = %s, want cached healthy", second.SystemStatus)
	}
}

func TestEvaluateCustodian(t *testing.T) {
	params := testParams()
	now := time.Now().UTC()
	fresh := func(balance uint64) *domain.ReserveSnapshot {
		return &domain.ReserveSnapshot{Balance: balance, AttestedAt: now.Add(-time.Minute)}
	}

	tests := []struct {
		name      string
		custodian *domain.Custodian
		snapshot  *domain.ReserveSnapshot
		want      SystemStatus
	}{
		{"active fully backed", &domain.Custodian{Status: domain.CustodianActive, Minted: 100}, fresh(100), StatusHealthy},
		{"active shortfall", &domain.Custodian{Status: domain.CustodianActive, Minted: 100}, fresh(99), StatusCritical},
		{"under review", &domain.Custodian{Status: domain.CustodianUnderReview, Minted: 100}, fresh(200), StatusDegraded},
		{"revoked unwound", &domain.Custodian{Status: domain.CustodianRevoked, Minted: 0}, nil, StatusHealthy},
		{"revoked with obligations", &domain.Custodian{Status: domain.CustodianRevoked, Minted: 100}, nil, StatusCritical},
		{"new custodian awaiting attestation", &domain.Custodian{Status: domain.CustodianActive, Minted: 0}, nil, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluateCustodian(tt.custodian, tt.snapshot, params, now)
			if got.Status != tt.want {
				t.Errorf("status = %s, want %s", got.Status, tt.want)
			}
		})
	}
}
