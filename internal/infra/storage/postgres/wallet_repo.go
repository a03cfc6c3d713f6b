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

// WalletRepo implements storage.WalletRepository using PostgreSQL.
type WalletRepo struct {
	q sqlx.ExtContext
}

type walletRow struct {
	Address     string    `db:"address"`
	CustodianID string    `db:"custodian_id"`
	Status      string    `db:"status"`
	Challenge   string    `db:"challenge"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r walletRow) toDomain() *domain.Wallet {
	return &domain.Wallet{
		Address:     r.Address,
		CustodianID: r.CustodianID,
		Status:      domain.WalletStatus(r.Status),
		Challenge:   r.Challenge,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// Create inserts a new wallet record.
func (r *WalletRepo) Create(ctx context.Context, wallet *domain.Wallet) error {
	query := `INSERT INTO wallets (address, custodian_id, status, challenge, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, now(), now())`
	_, err := r.q.ExecContext(ctx, query,
		wallet.Address, wallet.CustodianID, string(wallet.Status), wallet.Challenge)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrWalletExists
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// Get retrieves a wallet by address.
func (r *WalletRepo) Get(ctx context.Context, address string) (*domain.Wallet, error) {
	var row walletRow
	query := `SELECT address, custodian_id, status, challenge, created_at, updated_at
	          FROM wallets WHERE address = $1`
	err := sqlx.GetContext(ctx, r.q, &row, query, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return row.toDomain(), nil
}

// ListByCustodian retrieves all wallets registered to a custodian.
func (r *WalletRepo) ListByCustodian(ctx context.Context, custodianID string) ([]*domain.Wallet, error) {
	var rows []walletRow
	query := `SELECT address, custodian_id, status, challenge, created_at, updated_at
	          FROM wallets WHERE custodian_id = $1 ORDER BY address`
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, custodianID); err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	wallets := make([]*domain.Wallet, 0, len(rows))
	for _, row := range rows {
		wallets = append(wallets, row.toDomain())
	}
	return wallets, nil
}

// SetStatus updates status only when the current status matches from.
func (r *WalletRepo) SetStatus(ctx context.Context, address string, from, to domain.WalletStatus) error {
	query := `UPDATE wallets SET status = $3, updated_at = now()
	          WHERE address = $1 AND status = $2`
	res, err := r.q.ExecContext(ctx, query, address, string(from), string(to))
	if err != nil {
		return fmt.Errorf("failed to set wallet status: %w", err)
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
		`SELECT EXISTS(SELECT 1 FROM wallets WHERE address = $1)`, address); err != nil {
		return fmt.Errorf("failed to check wallet existence: %w", err)
	}
	if !exists {
		return storage.ErrWalletNotFound
	}
	return storage.ErrConditionFailed
}
