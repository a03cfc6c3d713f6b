package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/qcnet/warden/internal/core/domain"
)

// EventRepo implements storage.EventRepository using PostgreSQL.
type EventRepo struct {
	q sqlx.ExtContext
}

type eventRow struct {
	ID          int64     `db:"id"`
	EventType   string    `db:"event_type"`
	CustodianID string    `db:"custodian_id"`
	Actor       string    `db:"actor"`
	Details     []byte    `db:"details"`
	EmittedAt   time.Time `db:"emitted_at"`
}

// Append records an event.
func (r *EventRepo) Append(ctx context.Context, event *domain.Event) error {
	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal event details: %w", err)
		}
	}

	query := `INSERT INTO events (event_type, custodian_id, actor, details, emitted_at)
	          VALUES ($1, $2, $3, $4, now()) RETURNING id`
	row := r.q.QueryRowxContext(ctx, query,
		string(event.EventType), event.CustodianID, event.Actor, details)

	var id int64
	if err := row.Scan(&id); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	event.ID = uint64(id)
	return nil
}

// List retrieves recent events, newest first. An empty custodianID returns
// events for all custodians.
func (r *EventRepo) List(ctx context.Context, custodianID string, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []eventRow
	query := `SELECT id, event_type, custodian_id, actor, details, emitted_at
	          FROM events WHERE ($1 = '' OR custodian_id = $1)
	          ORDER BY id DESC LIMIT $2`
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, custodianID, limit); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]*domain.Event, 0, len(rows))
	for _, row := range rows {
		event := &domain.Event{
			ID:          uint64(row.ID),
			EventType:   domain.EventType(row.EventType),
			CustodianID: row.CustodianID,
			Actor:       row.Actor,
			EmittedAt:   row.EmittedAt,
		}
		if len(row.Details) > 0 {
			if err := json.Unmarshal(row.Details, &event.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event details: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, nil
}
