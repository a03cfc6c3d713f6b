package redemption

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/custody/auth"
	"github.com/qcnet/warden/internal/custody/manager"
	"github.com/qcnet/warden/internal/custody/registry"
	"github.com/qcnet/warden/internal/infra/ledger"
	"github.com/qcnet/warden/internal/infra/relay"
	"github.com/qcnet/warden/internal/infra/storage"
	"github.com/qcnet/warden/internal/infra/storage/memory"
)

const settleAddr = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7k"

type fixture struct {
	gateway  *Gateway
	store    storage.Store
	ledger   *ledger.MemoryLedger
	verifier *relay.MemoryVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewMemoryStore()
	ctx := context.Background()

	err := store.Custodians().Create(ctx, &domain.Custodian{
		ID:          "cust-1",
		Status:      domain.CustodianActive,
		MaxCapacity: 10_000,
	})
	if err != nil {
		t.Fatalf("failed to seed custodian: %v", err)
	}
	if err := store.Custodians().IncrementMinted(ctx, "cust-1", 1000, 1000); err != nil {
		t.Fatalf("failed to seed minted: %v", err)
	}
	err = store.Params().Put(ctx, &domain.SystemParams{
		MinMintAmount:      10,
		MaxMintAmount:      10_000,
		RedemptionTimeout:  time.Hour,
		MinCollateralRatio: 100,
		ReserveStaleness:   time.Hour,
		ConsensusMode:      domain.ConsensusExact,
		Quorum:             1,
		MinAttesters:       1,
	})
	if err != nil {
		t.Fatalf("failed to seed params: %v", err)
	}

	assetLedger := ledger.NewMemoryLedger()
	if err := assetLedger.Mint(ctx, "holder-1", 1000); err != nil {
		t.Fatalf("failed to fund holder: %v", err)
	}
	verifier := relay.NewMemoryVerifier(0)
	authority := auth.NewStaticAuthority([]string{"gov"}, []string{"arb"}, []string{"att"})

	return &fixture{
		gateway:  NewGateway(store, authority, assetLedger, verifier),
		store:    store,
		ledger:   assetLedger,
		verifier: verifier,
	}
}

func (f *fixture) initiate(t *testing.T, amount uint64) *domain.Redemption {
	t.Helper()
	redemption, err := f.gateway.InitiateRedemption(context.Background(), "holder-1", "cust-1", amount, settleAddr)
	if err != nil {
		t.Fatalf("InitiateRedemption() unexpected error: %v", err)
	}
	return redemption
}

func (f *fixture) minted(t *testing.T) uint64 {
	t.Helper()
	custodian, err := f.store.Custodians().Get(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("failed to read custodian: %v", err)
	}
	return custodian.Minted
}

func TestInitiateRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	redemption := f.initiate(t, 400)
	if redemption.Status != domain.RedemptionPending || redemption.SettlementAddress != settleAddr {
		t.Errorf("redemption = %+v, want pending bound to %s", redemption, settleAddr)
	}

	// The burn happens up front; the obligation stays on the custodian.
	balance, _ := f.ledger.Balance(ctx, "holder-1")
	if balance != 600 {
		t.Errorf("holder balance = %d, want 600 after burn", balance)
	}
	if got := f.minted(t); got != 1000 {
		t.Errorf("minted = %d, want 1000 until settlement", got)
	}

	pending, err := f.gateway.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() unexpected error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != redemption.ID {
		t.Errorf("pending = %+v, want the new redemption", pending)
	}
}

func TestInitiateRedemption_Checks(t *testing.T) {
	ctx := context.Background()

	t.Run("paused", func(t *testing.T) {
		f := newFixture(t)
		params, _ := f.store.Params().Get(ctx)
		params.RedemptionPaused = true
		if err := f.store.Params().Put(ctx, params); err != nil {
			t.Fatalf("failed to pause: %v", err)
		}
		if _, err := f.gateway.InitiateRedemption(ctx, "holder-1", "cust-1", 100, settleAddr); !errors.Is(err, ErrRedemptionPaused) {
			t.Fatalf("error = %v, want %v", err, ErrRedemptionPaused)
		}
	})

	t.Run("zero amount", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.gateway.InitiateRedemption(ctx, "holder-1", "cust-1", 0, settleAddr); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("error = %v, want %v", err, ErrInvalidAmount)
		}
	})

	t.Run("exceeds obligation", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.gateway.InitiateRedemption(ctx, "holder-1", "cust-1", 1001, settleAddr); !errors.Is(err, ErrExceedsObligation) {
			t.Fatalf("error = %v, want %v", err, ErrExceedsObligation)
		}
	})

	t.Run("revoked custodian", func(t *testing.T) {
		f := newFixture(t)
		if err := f.store.Custodians().SetStatus(ctx, "cust-1", domain.CustodianActive, domain.CustodianRevoked); err != nil {
			t.Fatalf("failed to revoke: %v", err)
		}
		if _, err := f.gateway.InitiateRedemption(ctx, "holder-1", "cust-1", 100, settleAddr); !errors.Is(err, registry.ErrCustodianRevoked) {
			t.Fatalf("error = %v, want %v", err, registry.ErrCustodianRevoked)
		}
	})

	t.Run("malformed address", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.gateway.InitiateRedemption(ctx, "holder-1", "cust-1", 100, "bad addr"); !errors.Is(err, relay.ErrInvalidAddress) {
			t.Fatalf("error = %v, want %v", err, relay.ErrInvalidAddress)
		}
	})

	t.Run("insufficient holder balance", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.gateway.InitiateRedemption(ctx, "holder-2", "cust-1", 100, settleAddr)
		if !errors.Is(err, ledger.ErrInsufficientFunds) {
			t.Fatalf("error = %v, want %v", err, ledger.ErrInsufficientFunds)
		}
		// Nothing was recorded for the failed attempt.
		pending, _ := f.gateway.ListPending(ctx)
		if len(pending) != 0 {
			t.Errorf("pending = %d, want 0", len(pending))
		}
	})
}

func TestRecordFulfillment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	redemption := f.initiate(t, 400)
	f.verifier.RecordPayment("tx-1", 6, relay.Output{Address: settleAddr, Amount: 400})

	got, err := f.gateway.RecordFulfillment(ctx, "anyone", redemption.ID, "tx-1")
	if err != nil {
		t.Fatalf("RecordFulfillment() unexpected error: %v", err)
	}
	if got.Status != domain.RedemptionFulfilled || got.TxID != "tx-1" || got.FinalizedAt == nil {
		t.Errorf("redemption = %+v, want fulfilled by tx-1", got)
	}
	if minted := f.minted(t); minted != 600 {
		t.Errorf("minted = %d, want 600 after settlement", minted)
	}
}

func TestRecordFulfillment_Mismatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	redemption := f.initiate(t, 400)

	// Pays the right address the wrong amount.
	f.verifier.RecordPayment("tx-short", 6, relay.Output{Address: settleAddr, Amount: 399})
	if _, err := f.gateway.RecordFulfillment(ctx, "", redemption.ID, "tx-short"); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("error = %v, want %v", err, ErrAmountMismatch)
	}

	// Pays the right amount to the wrong address.
	f.verifier.RecordPayment("tx-wrong", 6, relay.Output{Address: "bc1qsomeoneelse0000000000000000000", Amount: 400})
	if _, err := f.gateway.RecordFulfillment(ctx, "", redemption.ID, "tx-wrong"); !errors.Is(err, ErrAddressMismatch) {
		t.Fatalf("error = %v, want %v", err, ErrAddressMismatch)
	}

	// Unknown settlement transaction.
	if _, err := f.gateway.RecordFulfillment(ctx, "", redemption.ID, "tx-ghost"); !errors.Is(err, relay.ErrProofNotFound) {
		t.Fatalf("error = %v, want %v", err, relay.ErrProofNotFound)
	}

	// The failed attempts leave the redemption and the books untouched.
	current, _ := f.gateway.Redemption(ctx, redemption.ID)
	if current.Status != domain.RedemptionPending {
		t.Errorf("status = %s, want pending", current.Status)
	}
	if minted := f.minted(t); minted != 1000 {
		t.Errorf("minted = %d, want 1000", minted)
	}
}

func TestRecordFulfillment_SplitOutputsSummed(t *testing.T) {
	f := newFixture(t)
	redemption := f.initiate(t, 400)

	// Two outputs to the bound address plus change elsewhere.
	f.verifier.RecordPayment("tx-split", 6,
		relay.Output{Address: settleAddr, Amount: 250},
		relay.Output{Address: settleAddr, Amount: 150},
		relay.Output{Address: "bc1qchange00000000000000000000000", Amount: 75},
	)
	got, err := f.gateway.RecordFulfillment(context.Background(), "", redemption.ID, "tx-split")
	if err != nil {
		t.Fatalf("RecordFulfillment() unexpected error: %v", err)
	}
	if got.Status != domain.RedemptionFulfilled {
		t.Errorf("status = %s, want fulfilled", got.Status)
	}
}

func TestRecordFulfillment_ProofReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.initiate(t, 400)
	second := f.initiate(t, 400)
	f.verifier.RecordPayment("tx-1", 6, relay.Output{Address: settleAddr, Amount: 400})

	if _, err := f.gateway.RecordFulfillment(ctx, "", first.ID, "tx-1"); err != nil {
		t.Fatalf("first fulfillment unexpected error: %v", err)
	}
	if _, err := f.gateway.RecordFulfillment(ctx, "", second.ID, "tx-1"); !errors.Is(err, ErrProofReused) {
		t.Fatalf("error = %v, want %v", err, ErrProofReused)
	}

	// The second redemption is still pending and the minted counter only
	// dropped once.
	current, _ := f.gateway.Redemption(ctx, second.ID)
	if current.Status != domain.RedemptionPending {
		t.Errorf("status = %s, want pending", current.Status)
	}
	if minted := f.minted(t); minted != 600 {
		t.Errorf("minted = %d, want 600", minted)
	}
}

func TestRecordFulfillment_AlreadyFinalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	redemption := f.initiate(t, 400)
	f.verifier.RecordPayment("tx-1", 6, relay.Output{Address: settleAddr, Amount: 400})
	f.verifier.RecordPayment("tx-2", 6, relay.Output{Address: settleAddr, Amount: 400})

	if _, err := f.gateway.RecordFulfillment(ctx, "", redemption.ID, "tx-1"); err != nil {
		t.Fatalf("fulfillment unexpected error: %v", err)
	}
	if _, err := f.gateway.RecordFulfillment(ctx, "", redemption.ID, "tx-2"); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("error = %v, want %v", err, ErrAlreadyFinalized)
	}
	if minted := f.minted(t); minted != 600 {
		t.Errorf("minted = %d, want 600 after repeat fulfillment", minted)
	}
}

func TestRecordFulfillment_UnderReviewPolicy(t *testing.T) {
	ctx := context.Background()

	for _, blocked := range []bool{true, false} {
		name := "allowed while under review"
		if blocked {
			name = "blocked while under review"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			redemption := f.initiate(t, 400)
			f.verifier.RecordPayment("tx-1", 6, relay.Output{Address: settleAddr, Amount: 400})

			params, _ := f.store.Params().Get(ctx)
			params.BlockFulfillmentUnderReview = blocked
			if err := f.store.Params().Put(ctx, params); err != nil {
				t.Fatalf("failed to set policy: %v", err)
			}
			if err := f.store.Custodians().SetStatus(ctx, "cust-1", domain.CustodianActive, domain.CustodianUnderReview); err != nil {
				t.Fatalf("failed to flag custodian: %v", err)
			}

			_, err := f.gateway.RecordFulfillment(ctx, "", redemption.ID, "tx-1")
			if blocked {
				if !errors.Is(err, registry.ErrCustodianNotActive) {
					t.Fatalf("error = %v, want %v", err, registry.ErrCustodianNotActive)
				}
			} else if err != nil {
				t.Fatalf("RecordFulfillment() unexpected error: %v", err)
			}
		})
	}
}

func TestFlagDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	redemption := f.initiate(t, 400)

	// Arbiter only.
	if _, err := f.gateway.FlagDefault(ctx, "holder-1", redemption.ID); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("holder flag error = %v, want %v", err, auth.ErrUnauthorized)
	}
	// Too early.
	if _, err := f.gateway.FlagDefault(ctx, "arb", redemption.ID); !errors.Is(err, ErrTimeoutNotElapsed) {
		t.Fatalf("early flag error = %v, want %v", err, ErrTimeoutNotElapsed)
	}

	// Age the record past the timeout and wire the real consequence.
	expired := &domain.Redemption{
		ID:                "red-old",
		CustodianID:       "cust-1",
		Requester:         "holder-1",
		Amount:            100,
		SettlementAddress: settleAddr,
		Status:            domain.RedemptionPending,
		CreatedAt:         time.Now().UTC().Add(-2 * time.Hour),
	}
	if err := f.store.Redemptions().Create(ctx, expired); err != nil {
		t.Fatalf("failed to seed expired redemption: %v", err)
	}
	mgr := manager.New(f.store, auth.NewStaticAuthority([]string{"gov"}, []string{"arb"}, []string{"att"}), nil)
	f.gateway.SetDefaultHook(mgr.RevokeForDefault)

	got, err := f.gateway.FlagDefault(ctx, "arb", "red-old")
	if err != nil {
		t.Fatalf("FlagDefault() unexpected error: %v", err)
	}
	if got.Status != domain.RedemptionDefaulted || got.FinalizedAt == nil {
		t.Errorf("redemption = %+v, want defaulted", got)
	}

	// The default revokes the custodian in the same transaction.
	custodian, _ := f.store.Custodians().Get(ctx, "cust-1")
	if custodian.Status != domain.CustodianRevoked {
		t.Errorf("custodian status = %s, want %s", custodian.Status, domain.CustodianRevoked)
	}
	// The obligation never left the books.
	if minted := f.minted(t); minted != 1000 {
		t.Errorf("minted = %d, want 1000 after default", minted)
	}

	// Defaulting twice is refused.
	if _, err := f.gateway.FlagDefault(ctx, "arb", "red-old"); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("repeat flag error = %v, want %v", err, ErrAlreadyFinalized)
	}
}
