package e2e

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/qcnet/warden/internal/control"
	"github.com/qcnet/warden/internal/core/config"
)

const shutdownPort = 18412

func TestGracefulShutdown(t *testing.T) {
	// Memory-backed config: enough to boot every component without
	// external services.
	cfg := control.Config{
		Port:    shutdownPort,
		Storage: config.StorageConfig{Driver: "memory"},
		Ledger:  config.LedgerConfig{Mode: "memory"},
		Relay:   config.RelayConfig{Mode: "memory", MinConfirmations: 1},
		Watchdog: config.WatchdogConfig{
			Enabled:      true,
			ScanInterval: config.Duration(100 * time.Millisecond),
			LockTTL:      config.Duration(80 * time.Millisecond),
		},
		Auth: config.AuthConfig{Governance: []string{"gov"}},
		Params: config.ParamsConfig{
			MinMintAmount:      1,
			MaxMintAmount:      1_000_000,
			RedemptionTimeout:  config.Duration(time.Hour),
			MinCollateralRatio: 100,
			ReserveStaleness:   config.Duration(time.Hour),
			ConsensusMode:      "exact",
			Quorum:             1,
			MinAttesters:       1,
		},
	}

	warden, err := control.NewWarden(cfg)
	if err != nil {
		t.Fatalf("Failed to create warden: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := warden.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", shutdownPort)
	waitForHealth(t, baseURL)

	// Trigger shutdown
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := warden.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	// The listener must be down after Stop.
	if _, err := http.Get(baseURL + "/health"); err == nil {
		t.Error("expected connection failure after shutdown")
	}
}
