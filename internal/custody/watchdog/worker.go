package watchdog

import (
	"context"
	"log/slog"
	"time"
)

// Key replicas contend on so only one scans at a time.
const scanLockKey = "warden:watchdog:scan"

// Locker coordinates scans across replicas. Implemented by the Redis client;
// a nil Locker means every replica scans independently.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Worker runs periodic collateralization scans.
type Worker struct {
	enforcer *Enforcer
	interval time.Duration
	lockTTL  time.Duration
	locker   Locker
}

// NewWorker creates a scan worker.
func NewWorker(enforcer *Enforcer, interval, lockTTL time.Duration, locker Locker) *Worker {
	return &Worker{
		enforcer: enforcer,
		interval: interval,
		lockTTL:  lockTTL,
		locker:   locker,
	}
}

// Start runs the scan loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	if w.interval <= 0 {
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Worker) scan(ctx context.Context) {
	if w.locker != nil {
		acquired, err := w.locker.AcquireLock(ctx, scanLockKey, w.lockTTL)
		if err != nil {
			slog.Warn("[Watchdog] failed to acquire scan lock", "error", err)
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := w.locker.ReleaseLock(context.Background(), scanLockKey); err != nil {
				slog.Warn("[Watchdog] failed to release scan lock", "error", err)
			}
		}()
	}

	report, err := w.enforcer.ScanAll(ctx)
	if err != nil {
		slog.Error("[Watchdog] scan failed", "error", err)
		return
	}
	if len(report.Flagged) > 0 {
		slog.Warn("[Watchdog] flagged undercollateralized custodians", "custodians", report.Flagged)
	}
	for id, reason := range report.Failures {
		slog.Warn("[Watchdog] check could not run", "custodian", id, "reason", reason)
	}
	slog.Debug("[Watchdog] scan complete",
		"checked", report.Checked,
		"skipped", report.Skipped,
		"flagged", len(report.Flagged),
	)
}
