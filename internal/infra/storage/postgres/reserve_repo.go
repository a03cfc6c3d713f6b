package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/infra/storage"
)

// ReserveRepo implements storage.ReserveRepository using PostgreSQL.
type ReserveRepo struct {
	q sqlx.ExtContext
}

type reserveRow struct {
	CustodianID string    `db:"custodian_id"`
	Balance     int64     `db:"balance"`
	Round       int64     `db:"round"`
	Source      string    `db:"source"`
	AttestedAt  time.Time `db:"attested_at"`
}

// Get retrieves the latest snapshot.
func (r *ReserveRepo) Get(ctx context.Context, custodianID string) (*domain.ReserveSnapshot, error) {
	var row reserveRow
	query := `SELECT custodian_id, balance, round, source, attested_at
	          FROM reserves WHERE custodian_id = $1`
	err := sqlx.GetContext(ctx, r.q, &row, query, custodianID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNoReserve
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reserve: %w", err)
	}
	return &domain.ReserveSnapshot{
		CustodianID: row.CustodianID,
		Balance:     uint64(row.Balance),
		Round:       uint64(row.Round),
		Source:      domain.ReserveSource(row.Source),
		AttestedAt:  row.AttestedAt,
	}, nil
}

// Put inserts or replaces the snapshot.
func (r *ReserveRepo) Put(ctx context.Context, snapshot *domain.ReserveSnapshot) error {
	query := `INSERT INTO reserves (custodian_id, balance, round, source, attested_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (custodian_id) DO UPDATE
	          SET balance = EXCLUDED.balance, round = EXCLUDED.round,
	              source = EXCLUDED.source, attested_at = EXCLUDED.attested_at`
	_, err := r.q.ExecContext(ctx, query,
		snapshot.CustodianID, int64(snapshot.Balance), int64(snapshot.Round),
		string(snapshot.Source), snapshot.AttestedAt)
	if err != nil {
		return fmt.Errorf("failed to put reserve: %w", err)
	}
	return nil
}
