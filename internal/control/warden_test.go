package control

import (
	"context"
	"testing"
	"time"

	"github.com/qcnet/warden/internal/core/config"
)

func testConfig() Config {
	return Config{
		Port:    0, // Random port
		Storage: config.StorageConfig{Driver: "memory"},
		Ledger:  config.LedgerConfig{Mode: "memory"},
		Relay:   config.RelayConfig{Mode: "memory", MinConfirmations: 1},
		Auth: config.AuthConfig{
			Governance: []string{"gov"},
			Arbiters:   []string{"arb"},
			Attesters:  []string{"att"},
		},
		Params: config.ParamsConfig{
			MinMintAmount:      10_000,
			MaxMintAmount:      100_000_000_000,
			RedemptionTimeout:  config.Duration(24 * time.Hour),
			MinCollateralRatio: 100,
			ReserveStaleness:   config.Duration(24 * time.Hour),
			ConsensusMode:      "exact",
			Quorum:             1,
			MinAttesters:       1,
		},
	}
}

func TestWarden_Lifecycle(t *testing.T) {
	w, err := NewWarden(testConfig())
	if err != nil {
		t.Fatalf("NewWarden failed: %v", err)
	}
	if w == nil {
		t.Fatal("Warden is nil")
	}

	// Watchdog is disabled in the test config, so no scan worker.
	if w.scanWorker != nil {
		t.Error("expected no scan worker when watchdog is disabled")
	}

	// NewWarden seeds the parameter record.
	params, err := w.store.Params().Get(context.Background())
	if err != nil {
		t.Fatalf("Params().Get failed: %v", err)
	}
	if params.MinCollateralRatio != 100 {
		t.Errorf("expected seeded ratio 100, got %d", params.MinCollateralRatio)
	}

	// Start is non-blocking: the HTTP server and workers run in goroutines.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait a bit to let goroutines spin up
	time.Sleep(100 * time.Millisecond)

	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestWarden_WatchdogWorker(t *testing.T) {
	cfg := testConfig()
	cfg.Watchdog = config.WatchdogConfig{
		Enabled:      true,
		ScanInterval: config.Duration(50 * time.Millisecond),
		LockTTL:      config.Duration(40 * time.Millisecond),
	}

	w, err := NewWarden(cfg)
	if err != nil {
		t.Fatalf("NewWarden failed: %v", err)
	}
	// No Redis in the test config: the worker runs unlocked.
	if w.scanWorker == nil {
		t.Fatal("expected a scan worker when watchdog is enabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestWarden_RejectsInvalidSeedParams(t *testing.T) {
	cfg := testConfig()
	cfg.Params.MinMintAmount = 500
	cfg.Params.MaxMintAmount = 100 // min > max

	if _, err := NewWarden(cfg); err == nil {
		t.Fatal("expected NewWarden to reject inverted mint limits")
	}
}
