package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/custody/auth"
	"github.com/qcnet/warden/internal/custody/registry"
	"github.com/qcnet/warden/internal/infra/storage"
	"github.com/qcnet/warden/internal/infra/storage/memory"
)

type stubVerifier struct {
	err error
}

func (v *stubVerifier) VerifyAddressControl(ctx context.Context, address, challenge, signature string) error {
	return v.err
}

func newTestManager(t *testing.T, verifier ControlVerifier) (*Manager, storage.Store) {
	t.Helper()
	store := memory.NewMemoryStore()
	authority := auth.NewStaticAuthority([]string{"gov"}, []string{"arb"}, []string{"att"})
	if verifier == nil {
		verifier = &stubVerifier{}
	}
	return New(store, authority, verifier), store
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     domain.CustodianStatus
		to       domain.CustodianStatus
		expected bool
	}{
		{"active to under review", domain.CustodianActive, domain.CustodianUnderReview, true},
		{"active to revoked", domain.CustodianActive, domain.CustodianRevoked, true},
		{"under review to active", domain.CustodianUnderReview, domain.CustodianActive, true},
		{"under review to revoked", domain.CustodianUnderReview, domain.CustodianRevoked, true},
		{"revoked to active", domain.CustodianRevoked, domain.CustodianActive, false},
		{"revoked to under review", domain.CustodianRevoked, domain.CustodianUnderReview, false},
		{"active to active", domain.CustodianActive, domain.CustodianActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CanTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestCanTransitionWallet(t *testing.T) {
	tests := []struct {
		name     string
		from     domain.WalletStatus
		to       domain.WalletStatus
		expected bool
	}{
		{"inactive to active", domain.WalletInactive, domain.WalletActive, true},
		{"active to pending", domain.WalletActive, domain.WalletPendingDereg, true},
		{"pending to deregistered", domain.WalletPendingDereg, domain.WalletDeregistered, true},
		{"inactive to deregistered", domain.WalletInactive, domain.WalletDeregistered, false},
		{"deregistered to active", domain.WalletDeregistered, domain.WalletActive, false},
		{"pending back to active", domain.WalletPendingDereg, domain.WalletActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CanTransitionWallet(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("CanTransitionWallet(%s, %s) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestRegisterCustodian(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	custodian, err := mgr.RegisterCustodian(ctx, "gov", "cust-1", 1000)
	if err != nil {
		t.Fatalf("RegisterCustodian() unexpected error: %v", err)
	}
	if custodian.Status != domain.CustodianActive || custodian.Minted != 0 {
		t.Errorf("custodian = %+v, want active with zero minted", custodian)
	}

	if _, err := mgr.RegisterCustodian(ctx, "gov", "cust-1", 1000); !errors.Is(err, storage.ErrCustodianExists) {
		t.Errorf("duplicate error = %v, want %v", err, storage.ErrCustodianExists)
	}
	if _, err := mgr.RegisterCustodian(ctx, "arb", "cust-2", 1000); !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("arbiter registration error = %v, want %v", err, auth.ErrUnauthorized)
	}
	if _, err := mgr.RegisterCustodian(ctx, "gov", "", 1000); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty id error = %v, want %v", err, ErrInvalidArgument)
	}
	if _, err := mgr.RegisterCustodian(ctx, "gov", "cust-3", 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero capacity error = %v, want %v", err, ErrInvalidArgument)
	}
}

func TestStatusLifecycle(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := mgr.RegisterCustodian(ctx, "gov", "cust-1", 1000); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	// Only arbiters flag, only governance restores.
	if err := mgr.MarkUnderReview(ctx, "gov", "cust-1", "audit"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("governance flag error = %v, want %v", err, auth.ErrUnauthorized)
	}
	if err := mgr.MarkUnderReview(ctx, "arb", "cust-1", "audit"); err != nil {
		t.Fatalf("MarkUnderReview() unexpected error: %v", err)
	}
	if err := mgr.MarkUnderReview(ctx, "arb", "cust-1", "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double flag error = %v, want %v", err, ErrInvalidTransition)
	}
	if err := mgr.RestoreActive(ctx, "gov", "cust-1"); err != nil {
		t.Fatalf("RestoreActive() unexpected error: %v", err)
	}

	// Revoked is terminal.
	if err := mgr.Revoke(ctx, "arb", "cust-1", "fraud"); err != nil {
		t.Fatalf("Revoke() unexpected error: %v", err)
	}
	if err := mgr.RestoreActive(ctx, "gov", "cust-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("restore from revoked error = %v, want %v", err, ErrInvalidTransition)
	}
	if err := mgr.MarkUnderReview(ctx, "arb", "cust-1", "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("flag from revoked error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestForceUnderReview(t *testing.T) {
	mgr, store := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := mgr.RegisterCustodian(ctx, "gov", "cust-1", 1000); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	forced, err := mgr.ForceUnderReview(ctx, store, "cust-1", "undercollateralized")
	if err != nil {
		t.Fatalf("ForceUnderReview() unexpected error: %v", err)
	}
	if !forced {
		t.Fatal("expected enforcement to fire")
	}

	// Repeat is a quiet no-op.
	forced, err = mgr.ForceUnderReview(ctx, store, "cust-1", "undercollateralized")
	if err != nil {
		t.Fatalf("repeat ForceUnderReview() unexpected error: %v", err)
	}
	if forced {
		t.Error("enforcement fired twice for the same breach")
	}

	custodian, _ := mgr.Custodian(ctx, "cust-1")
	if custodian.Status != domain.CustodianUnderReview {
		t.Errorf("status = %s, want %s", custodian.Status, domain.CustodianUnderReview)
	}

	// The audit trail attributes the change to the system.
	list, err := store.Events().List(ctx, "cust-1", 20)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	found := false
	for _, event := range list {
		if event.EventType == domain.EventCustodianStatusChanged && event.Actor == domain.SystemActor {
			found = true
		}
	}
	if !found {
		t.Error("no system-attributed status change event")
	}
}

func TestRevokeForDefault_Idempotent(t *testing.T) {
	mgr, store := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := mgr.RegisterCustodian(ctx, "gov", "cust-1", 1000); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if err := mgr.RevokeForDefault(ctx, store, "cust-1", "red-1"); err != nil {
		t.Fatalf("RevokeForDefault() unexpected error: %v", err)
	}
	if err := mgr.RevokeForDefault(ctx, store, "cust-1", "red-2"); err != nil {
		t.Fatalf("repeat RevokeForDefault() unexpected error: %v", err)
	}

	custodian, _ := mgr.Custodian(ctx, "cust-1")
	if custodian.Status != domain.CustodianRevoked {
		t.Errorf("status = %s, want %s", custodian.Status, domain.CustodianRevoked)
	}
}

func TestWalletRegistrationFlow(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := mgr.RegisterCustodian(ctx, "gov", "cust-1", 1000); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	// Only the custodian itself may manage its wallets.
	if _, err := mgr.RequestWalletRegistration(ctx, "cust-2", "cust-1", "addr-1"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("foreign request error = %v, want %v", err, auth.ErrUnauthorized)
	}

	wallet, err := mgr.RequestWalletRegistration(ctx, "cust-1", "cust-1", "addr-1")
	if err != nil {
		t.Fatalf("RequestWalletRegistration() unexpected error: %v", err)
	}
	if wallet.Status != domain.WalletInactive || wallet.Challenge == "" {
		t.Errorf("wallet = %+v, want inactive with challenge", wallet)
	}

	if _, err := mgr.RequestWalletRegistration(ctx, "cust-1", "cust-1", "addr-1"); !errors.Is(err, storage.ErrWalletExists) {
		t.Fatalf("duplicate address error = %v, want %v", err, storage.ErrWalletExists)
	}

	if err := mgr.ActivateWallet(ctx, "cust-1", "cust-1", "addr-1", "sig"); err != nil {
		t.Fatalf("ActivateWallet() unexpected error: %v", err)
	}
	got, _ := mgr.Wallet(ctx, "addr-1")
	if got.Status != domain.WalletActive {
		t.Errorf("status = %s, want %s", got.Status, domain.WalletActive)
	}

	// Activating twice is an invalid wallet transition.
	if err := mgr.ActivateWallet(ctx, "cust-1", "cust-1", "addr-1", "sig"); !errors.Is(err, ErrInvalidWalletTransition) {
		t.Fatalf("double activation error = %v, want %v", err, ErrInvalidWalletTransition)
	}
}

func TestActivateWallet_BadSignature(t *testing.T) {
	mgr, _ := newTestManager(t, &stubVerifier{err: errors.New("signature mismatch")})
	ctx := context.Background()

	if _, err := mgr.RegisterCustodian(ctx, "gov", "cust-1", 1000); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if _, err := mgr.RequestWalletRegistration(ctx, "cust-1", "cust-1", "addr-1"); err != nil {
		t.Fatalf("failed to request wallet: %v", err)
	}

	if err := mgr.ActivateWallet(ctx, "cust-1", "cust-1", "addr-1", "bad"); !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("error = %v, want %v", err, ErrProofInvalid)
	}
	wallet, _ := mgr.Wallet(ctx, "addr-1")
	if wallet.Status != domain.WalletInactive {
		t.Errorf("status = %s, want %s after failed activation", wallet.Status, domain.WalletInactive)
	}
}

func TestWalletRegistration_RevokedCustodian(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := mgr.RegisterCustodian(ctx, "gov", "cust-1", 1000); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if err := mgr.Revoke(ctx, "arb", "cust-1", "fraud"); err != nil {
		t.Fatalf("failed to revoke: %v", err)
	}

	if _, err := mgr.RequestWalletRegistration(ctx, "cust-1", "cust-1", "addr-1"); !errors.Is(err, registry.ErrCustodianRevoked) {
		t.Fatalf("error = %v, want %v", err, registry.ErrCustodianRevoked)
	}
}

func TestFinalizeWalletDeregistration(t *testing.T) {
	mgr, store := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := mgr.RegisterCustodian(ctx, "gov", "cust-1", 1000); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if _, err := mgr.RequestWalletRegistration(ctx, "cust-1", "cust-1", "addr-1"); err != nil {
		t.Fatalf("failed to request wallet: %v", err)
	}
	if err := mgr.ActivateWallet(ctx, "cust-1", "cust-1", "addr-1", "sig"); err != nil {
		t.Fatalf("failed to activate: %v", err)
	}
	if err := mgr.RequestWalletDeregistration(ctx, "cust-1", "cust-1", "addr-1"); err != nil {
		t.Fatalf("RequestWalletDeregistration() unexpected error: %v", err)
	}

	// Simulate outstanding minted supply above the remaining balance.
	seedMinted(t, store, "cust-1", 500)

	// Only attesters may finalize.
	if err := mgr.FinalizeWalletDeregistration(ctx, "cust-1", "cust-1", "addr-1", 400); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("self finalize error = %v, want %v", err, auth.ErrUnauthorized)
	}

	// Insolvent: the transaction aborts, the wallet stays pending and the
	// fresh attestation is rolled back with it.
	err := mgr.FinalizeWalletDeregistration(ctx, "att", "cust-1", "addr-1", 400)
	if !errors.Is(err, ErrInsolvent) {
		t.Fatalf("error = %v, want %v", err, ErrInsolvent)
	}
	wallet, _ := mgr.Wallet(ctx, "addr-1")
	if wallet.Status != domain.WalletPendingDereg {
		t.Errorf("status = %s, want %s after failed finalize", wallet.Status, domain.WalletPendingDereg)
	}
	if _, err := store.Reserves().Get(ctx, "cust-1"); !errors.Is(err, storage.ErrNoReserve) {
		t.Errorf("reserve error = %v, want %v (attestation must roll back)", err, storage.ErrNoReserve)
	}

	// Solvent: wallet leaves the books and the direct attestation sticks.
	if err := mgr.FinalizeWalletDeregistration(ctx, "att", "cust-1", "addr-1", 600); err != nil {
		t.Fatalf("FinalizeWalletDeregistration() unexpected error: %v", err)
	}
	wallet, _ = mgr.Wallet(ctx, "addr-1")
	if wallet.Status != domain.WalletDeregistered {
		t.Errorf("status = %s, want %s", wallet.Status, domain.WalletDeregistered)
	}
	snapshot, err := store.Reserves().Get(ctx, "cust-1")
	if err != nil {
		t.Fatalf("failed to read reserve: %v", err)
	}
	if snapshot.Balance != 600 || snapshot.Source != domain.ReserveFromDirect {
		t.Errorf("snapshot = %+v, want balance 600 source direct", snapshot)
	}
}

// seedMinted raises the minted counter directly through the repository.
func seedMinted(t *testing.T, store storage.Store, custodianID string, amount uint64) {
	t.Helper()
	if err := store.Custodians().IncrementMinted(context.Background(), custodianID, amount, amount); err != nil {
		t.Fatalf("failed to seed minted: %v", err)
	}
}
