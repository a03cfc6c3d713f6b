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

// RedemptionRepo implements storage.RedemptionRepository using PostgreSQL.
type RedemptionRepo struct {
	q sqlx.ExtContext
}

type redemptionRow struct {
	ID                string         `db:"id"`
	CustodianID       string         `db:"custodian_id"`
	Requester         string         `db:"requester"`
	Amount            int64          `db:"amount"`
	SettlementAddress string         `db:"settlement_address"`
	Status            string         `db:"status"`
	TxID              sql.NullString `db:"tx_id"`
	CreatedAt         time.Time      `db:"created_at"`
	FinalizedAt       sql.NullTime   `db:"finalized_at"`
}

func (r redemptionRow) toDomain() *domain.Redemption {
	red := &domain.Redemption{
		ID:                r.ID,
		CustodianID:       r.CustodianID,
		Requester:         r.Requester,
		Amount:            uint64(r.Amount),
		SettlementAddress: r.SettlementAddress,
		Status:            domain.RedemptionStatus(r.Status),
		CreatedAt:         r.CreatedAt,
	}
	if r.TxID.Valid {
		red.TxID = r.TxID.String
	}
	if r.FinalizedAt.Valid {
		t := r.FinalizedAt.Time
		red.FinalizedAt = &t
	}
	return red
}

const redemptionColumns = `id, custodian_id, requester, amount, settlement_address, status, tx_id, created_at, finalized_at`

// Create inserts a new redemption record.
func (r *RedemptionRepo) Create(ctx context.Context, redemption *domain.Redemption) error {
	query := `INSERT INTO redemptions (id, custodian_id, requester, amount, settlement_address, status, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, now())`
	_, err := r.q.ExecContext(ctx, query,
		redemption.ID, redemption.CustodianID, redemption.Requester,
		int64(redemption.Amount), redemption.SettlementAddress, string(redemption.Status))
	if err != nil {
		return fmt.Errorf("failed to create redemption: %w", err)
	}
	return nil
}

// Get retrieves a redemption by ID.
func (r *RedemptionRepo) Get(ctx context.Context, id string) (*domain.Redemption, error) {
	var row redemptionRow
	query := `SELECT ` + redemptionColumns + ` FROM redemptions WHERE id = $1`
	err := sqlx.GetContext(ctx, r.q, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRedemptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get redemption: %w", err)
	}
	return row.toDomain(), nil
}

// ListByCustodian retrieves redemptions for a custodian, newest first.
func (r *RedemptionRepo) ListByCustodian(ctx context.Context, custodianID string) ([]*domain.Redemption, error) {
	var rows []redemptionRow
	query := `SELECT ` + redemptionColumns + ` FROM redemptions
	          WHERE custodian_id = $1 ORDER BY created_at DESC`
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, custodianID); err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}

	redemptions := make([]*domain.Redemption, 0, len(rows))
	for _, row := range rows {
		redemptions = append(redemptions, row.toDomain())
	}
	return redemptions, nil
}

// ListPending retrieves all pending redemptions, oldest first.
func (r *RedemptionRepo) ListPending(ctx context.Context) ([]*domain.Redemption, error) {
	var rows []redemptionRow
	query := `SELECT ` + redemptionColumns + ` FROM redemptions
	          WHERE status = $1 ORDER BY created_at`
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, string(domain.RedemptionPending)); err != nil {
		return nil, fmt.Errorf("failed to list pending redemptions: %w", err)
	}

	redemptions := make([]*domain.Redemption, 0, len(rows))
	for _, row := range rows {
		redemptions = append(redemptions, row.toDomain())
	}
	return redemptions, nil
}

// Finalize sets a terminal status, guarded by current status pending. The
// partial unique index on tx_id backs the one-proof-one-redemption rule.
func (r *RedemptionRepo) Finalize(ctx context.Context, id string, status domain.RedemptionStatus, txID string) error {
	query := `UPDATE redemptions SET status = $2, tx_id = NULLIF($3, ''), finalized_at = now()
	          WHERE id = $1 AND status = $4`
	res, err := r.q.ExecContext(ctx, query, id, string(status), txID, string(domain.RedemptionPending))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrTxIDUsed
		}
		return fmt.Errorf("failed to finalize redemption: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := sqlx.GetContext(ctx, r.q, &exists,
		`SELECT EXISTS(SELECT 1 FROM redemptions WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("failed to check redemption existence: %w", err)
	}
	if !exists {
		return storage.ErrRedemptionNotFound
	}
	return storage.ErrConditionFailed
}
