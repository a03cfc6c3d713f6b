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

// CustodianRepo implements storage.CustodianRepository using PostgreSQL.
type CustodianRepo struct {
	q sqlx.ExtContext
}

type custodianRow struct {
	ID          string    `db:"id"`
	Status      string    `db:"status"`
	MaxCapacity int64     `db:"max_capacity"`
	Minted      int64     `db:"minted"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r custodianRow) toDomain() *domain.Custodian {
	return &domain.Custodian{
		ID:          r.ID,
		Status:      domain.CustodianStatus(r.Status),
		MaxCapacity: uint64(r.MaxCapacity),
		Minted:      uint64(r.Minted),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// Create inserts a new custodian record.
func (r *CustodianRepo) Create(ctx context.Context, custodian *domain.Custodian) error {
	query := `INSERT INTO custodians (id, status, max_capacity, minted, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, now(), now())`
	_, err := r.q.ExecContext(ctx, query,
		custodian.ID, string(custodian.Status), int64(custodian.MaxCapacity), int64(custodian.Minted))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrCustodianExists
		}
		return fmt.Errorf("failed to create custodian: %w", err)
	}
	return nil
}

// Get retrieves a custodian by ID.
func (r *CustodianRepo) Get(ctx context.Context, id string) (*domain.Custodian, error) {
	var row custodianRow
	query := `SELECT id, status, max_capacity, minted, created_at, updated_at
	          FROM custodians WHERE id = $1`
	err := sqlx.GetContext(ctx, r.q, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCustodianNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get custodian: %w", err)
	}
	return row.toDomain(), nil
}

// List retrieves all custodians.
func (r *CustodianRepo) List(ctx context.Context) ([]*domain.Custodian, error) {
	var rows []custodianRow
	query := `SELECT id, status, max_capacity, minted, created_at, updated_at
	          FROM custodians ORDER BY id`
	if err := sqlx.SelectContext(ctx, r.q, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list custodians: %w", err)
	}

	custodians := make([]*domain.Custodian, 0, len(rows))
	for _, row := range rows {
		custodians = append(custodians, row.toDomain())
	}
	return custodians, nil
}

// SetStatus updates status only when the current status matches from.
func (r *CustodianRepo) SetStatus(ctx context.Context, id string, from, to domain.CustodianStatus) error {
	query := `UPDATE custodians SET status = $3, updated_at = now()
	          WHERE id = $1 AND status = $2`
	res, err := r.q.ExecContext(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("failed to set custodian status: %w", err)
	}
	return r.classifyNoRows(ctx, res, id)
}

// SetMaxCapacity updates the mint capacity ceiling.
func (r *CustodianRepo) SetMaxCapacity(ctx context.Context, id string, maxCapacity uint64) error {
	query := `UPDATE custodians SET max_capacity = $2, updated_at = now() WHERE id = $1`
	res, err := r.q.ExecContext(ctx, query, id, int64(maxCapacity))
	if err != nil {
		return fmt.Errorf("failed to set max capacity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrCustodianNotFound
	}
	return nil
}

// IncrementMinted atomically adds amount to the minted counter. The guards
// are part of the UPDATE itself, so concurrent increments cannot overshoot
// capacity or the reserve ceiling.
func (r *CustodianRepo) IncrementMinted(ctx context.Context, id string, amount, reserveCeiling uint64) error {
	query := `UPDATE custodians SET minted = minted + $2, updated_at = now()
	          WHERE id = $1 AND status = $3
	            AND minted + $2 <= max_capacity
	            AND minted + $2 <= $4`
	res, err := r.q.ExecContext(ctx, query, id, int64(amount), string(domain.CustodianActive), int64(reserveCeiling))
	if err != nil {
		return fmt.Errorf("failed to increment minted: %w", err)
	}
	return r.classifyNoRows(ctx, res, id)
}

// DecrementMinted atomically subtracts amount, guarded by minted >= amount.
func (r *CustodianRepo) DecrementMinted(ctx context.Context, id string, amount uint64) error {
	query := `UPDATE custodians SET minted = minted - $2, updated_at = now()
	          WHERE id = $1 AND minted >= $2`
	res, err := r.q.ExecContext(ctx, query, id, int64(amount))
	if err != nil {
		return fmt.Errorf("failed to decrement minted: %w", err)
	}
	return r.classifyNoRows(ctx, res, id)
}

// classifyNoRows maps a zero-row conditional update to not-found or
// condition-failed.
func (r *CustodianRepo) classifyNoRows(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := sqlx.GetContext(ctx, r.q, &exists,
		`SELECT EXISTS(SELECT 1 FROM custodians WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("failed to check custodian existence: %w", err)
	}
	if !exists {
		return storage.ErrCustodianNotFound
	}
	return storage.ErrConditionFailed
}
