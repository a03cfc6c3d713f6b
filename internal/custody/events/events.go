// Package events records the append-only audit trail. Every custody state
// transition is persisted as an event in the same transaction as the change,
// mirrored to the log and counted in metrics.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/infra/storage"
	"github.com/qcnet/warden/internal/metrics"
)

// Record appends the event through repo. Pass the transactional repository
// when recording inside WithinTx so the event commits with the change.
func Record(ctx context.Context, repo storage.EventRepository, event *domain.Event) error {
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now()
	}
	if event.Actor == "" {
		event.Actor = domain.SystemActor
	}

	if err := repo.Append(ctx, event); err != nil {
		return fmt.Errorf("failed to record event %s: %w", event.EventType, err)
	}

	slog.Info("custody event",
		"type", event.EventType,
		"custodian", event.CustodianID,
		"actor", event.Actor,
		"details", event.Details,
	)
	metrics.EventsTotal.WithLabelValues(string(event.EventType)).Inc()
	return nil
}
