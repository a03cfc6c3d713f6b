package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/qcnet/warden/internal/infra/storage"
)

// PostgresStore implements storage.Store. A transactional view carries a
// *sqlx.Tx so every repository call inside WithinTx runs on the same
// database transaction, ensuring atomicity (all succeed or all fail).
type PostgresStore struct {
	db *DB
	q  sqlx.ExtContext
	tx *sqlx.Tx // non-nil when this instance is a transactional view
}

var _ storage.Store = (*PostgresStore)(nil)

// NewStore creates a store over an open connection pool.
func NewStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db, q: db.DB}
}

// WithinTx begins a transaction, runs fn against a transactional view and
// commits on success. A nested call joins the enclosing transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, st storage.Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	view := &PostgresStore{db: s.db, q: tx, tx: tx}
	if err := fn(ctx, view); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Custodians() storage.CustodianRepository     { return &CustodianRepo{q: s.q} }
func (s *PostgresStore) Wallets() storage.WalletRepository           { return &WalletRepo{q: s.q} }
func (s *PostgresStore) Attestations() storage.AttestationRepository { return &AttestationRepo{q: s.q} }
func (s *PostgresStore) Reserves() storage.ReserveRepository         { return &ReserveRepo{q: s.q} }
func (s *PostgresStore) Redemptions() storage.RedemptionRepository   { return &RedemptionRepo{q: s.q} }
func (s *PostgresStore) Receipts() storage.ReceiptRepository         { return &ReceiptRepo{q: s.q} }
func (s *PostgresStore) Params() storage.ParamsRepository            { return &ParamsRepo{q: s.q} }
func (s *PostgresStore) Events() storage.EventRepository             { return &EventRepo{q: s.q} }

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
