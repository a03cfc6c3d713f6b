package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/qcnet/warden/internal/core/domain"
)

// ReceiptRepo implements storage.ReceiptRepository using PostgreSQL.
type ReceiptRepo struct {
	q sqlx.ExtContext
}

type receiptRow struct {
	ID          string    `db:"id"`
	CustodianID string    `db:"custodian_id"`
	Beneficiary string    `db:"beneficiary"`
	Amount      int64     `db:"amount"`
	CreatedAt   time.Time `db:"created_at"`
}

// Create inserts a receipt.
func (r *ReceiptRepo) Create(ctx context.Context, receipt *domain.MintReceipt) error {
	query := `INSERT INTO mint_receipts (id, custodian_id, beneficiary, amount, created_at)
	          VALUES ($1, $2, $3, $4, now())`
	_, err := r.q.ExecContext(ctx, query,
		receipt.ID, receipt.CustodianID, receipt.Beneficiary, int64(receipt.Amount))
	if err != nil {
		return fmt.Errorf("failed to create mint receipt: %w", err)
	}
	return nil
}

// ListByCustodian retrieves receipts for a custodian, newest first.
func (r *ReceiptRepo) ListByCustodian(ctx context.Context, custodianID string, limit int) ([]*domain.MintReceipt, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []receiptRow
	query := `SELECT id, custodian_id, beneficiary, amount, created_at
	          FROM mint_receipts WHERE custodian_id = $1
	          ORDER BY created_at DESC LIMIT $2`
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, custodianID, limit); err != nil {
		return nil, fmt.Errorf("failed to list mint receipts: %w", err)
	}

	receipts := make([]*domain.MintReceipt, 0, len(rows))
	for _, row := range rows {
		receipts = append(receipts, &domain.MintReceipt{
			ID:          row.ID,
			CustodianID: row.CustodianID,
			Beneficiary: row.Beneficiary,
			Amount:      uint64(row.Amount),
			CreatedAt:   row.CreatedAt,
		})
	}
	return receipts, nil
}
