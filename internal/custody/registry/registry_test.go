package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/infra/storage"
	"github.com/qcnet/warden/internal/infra/storage/memory"
)

func seedCustodian(t *testing.T, store storage.Store, id string, status domain.CustodianStatus, minted, capacity uint64) {
	t.Helper()
	err := store.Custodians().Create(context.Background(), &domain.Custodian{
		ID:          id,
		Status:      status,
		MaxCapacity: capacity,
		Minted:      minted,
	})
	if err != nil {
		t.Fatalf("failed to seed custodian: %v", err)
	}
}

func TestChargeMint_Classification(t *testing.T) {
	tests := []struct {
		name    string
		status  domain.CustodianStatus
		minted  uint64
		cap     uint64
		amount  uint64
		ceiling uint64
		wantErr error
	}{
		{
			name:    "within all limits",
			status:  domain.CustodianActive,
			minted:  100,
			cap:     1000,
			amount:  400,
			ceiling: 1000,
			wantErr: nil,
		},
		{
			name:    "not active",
			status:  domain.CustodianUnderReview,
			minted:  0,
			cap:     1000,
			amount:  100,
			ceiling: 1000,
			wantErr: ErrCustodianNotActive,
		},
		{
			name:    "capacity exceeded",
			status:  domain.CustodianActive,
			minted:  900,
			cap:     1000,
			amount:  200,
			ceiling: 5000,
			wantErr: ErrCapacityExceeded,
		},
		{
			name:    "reserve shortfall",
			status:  domain.CustodianActive,
			minted:  900,
			cap:     5000,
			amount:  200,
			ceiling: 1000,
			wantErr: ErrReserveShortfall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewMemoryStore()
			seedCustodian(t, store, "cust-1", tt.status, tt.minted, tt.cap)

			err := New(store).ChargeMint(context.Background(), "cust-1", tt.amount, tt.ceiling)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ChargeMint() error = %v, want %v", err, tt.wantErr)
			}

			custodian, _ := store.Custodians().Get(context.Background(), "cust-1")
			wantMinted := tt.minted
			if tt.wantErr == nil {
				wantMinted += tt.amount
			}
			if custodian.Minted != wantMinted {
				t.Errorf("minted = %d, want %d", custodian.Minted, wantMinted)
			}
		})
	}
}

func TestChargeMint_UnknownCustodian(t *testing.T) {
	store := memory.NewMemoryStore()
	err := New(store).ChargeMint(context.Background(), "ghost", 10, 100)
	if !errors.Is(err, storage.ErrCustodianNotFound) {
		t.Fatalf("ChargeMint() error = %v, want %v", err, storage.ErrCustodianNotFound)
	}
}

func TestTransitionCustodian_StaleFrom(t *testing.T) {
	store := memory.NewMemoryStore()
	seedCustodian(t, store, "cust-1", domain.CustodianActive, 0, 1000)
	reg := New(store)

	err := reg.TransitionCustodian(context.Background(), "cust-1", domain.CustodianUnderReview, domain.CustodianActive)
	if !errors.Is(err, ErrStateChanged) {
		t.Fatalf("TransitionCustodian() error = %v, want %v", err, ErrStateChanged)
	}

	if err := reg.TransitionCustodian(context.Background(), "cust-1", domain.CustodianActive, domain.CustodianUnderReview); err != nil {
		t.Fatalf("TransitionCustodian() unexpected error: %v", err)
	}
}

func TestReleaseMinted_Underflow(t *testing.T) {
	store := memory.NewMemoryStore()
	seedCustodian(t, store, "cust-1", domain.CustodianActive, 50, 1000)
	reg := New(store)

	if err := reg.ReleaseMinted(context.Background(), "cust-1", 60); !errors.Is(err, ErrObligationUnderflow) {
		t.Fatalf("ReleaseMinted() error = %v, want %v", err, ErrObligationUnderflow)
	}
	if err := reg.ReleaseMinted(context.Background(), "cust-1", 50); err != nil {
		t.Fatalf("ReleaseMinted() unexpected error: %v", err)
	}

	custodian, _ := store.Custodians().Get(context.Background(), "cust-1")
	if custodian.Minted != 0 {
		t.Errorf("minted = %d, want 0", custodian.Minted)
	}
}
