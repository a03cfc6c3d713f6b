package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/infra/storage"
)

// AttestationRepo implements storage.AttestationRepository using PostgreSQL.
type AttestationRepo struct {
	q sqlx.ExtContext
}

type attestationRow struct {
	ID          int64     `db:"id"`
	CustodianID string    `db:"custodian_id"`
	Round       int64     `db:"round"`
	Attester    string    `db:"attester"`
	Balance     int64     `db:"balance"`
	SubmittedAt time.Time `db:"submitted_at"`
}

func (r attestationRow) toDomain() *domain.Attestation {
	return &domain.Attestation{
		ID:          uint64(r.ID),
		CustodianID: r.CustodianID,
		Round:       uint64(r.Round),
		Attester:    r.Attester,
		Balance:     uint64(r.Balance),
		SubmittedAt: r.SubmittedAt,
	}
}

// Append records a submission. The unique index on
// (custodian_id, round, attester) backs the one-submission-per-round rule.
func (r *AttestationRepo) Append(ctx context.Context, att *domain.Attestation) error {
	query := `INSERT INTO attestations (custodian_id, round, attester, balance, submitted_at)
	          VALUES ($1, $2, $3, $4, now()) RETURNING id`
	row := r.q.QueryRowxContext(ctx, query,
		att.CustodianID, int64(att.Round), att.Attester, int64(att.Balance))

	var id int64
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateAttestation
		}
		return fmt.Errorf("failed to append attestation: %w", err)
	}
	att.ID = uint64(id)
	return nil
}

// ListByRound retrieves all submissions for a custodian round.
func (r *AttestationRepo) ListByRound(ctx context.Context, custodianID string, round uint64) ([]*domain.Attestation, error) {
	var rows []attestationRow
	query := `SELECT id, custodian_id, round, attester, balance, submitted_at
	          FROM attestations WHERE custodian_id = $1 AND round = $2 ORDER BY id`
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, custodianID, int64(round)); err != nil {
		return nil, fmt.Errorf("failed to list attestations: %w", err)
	}

	atts := make([]*domain.Attestation, 0, len(rows))
	for _, row := range rows {
		atts = append(atts, row.toDomain())
	}
	return atts, nil
}

// CurrentRound retrieves the open round, creating round 1 if absent.
func (r *AttestationRepo) CurrentRound(ctx context.Context, custodianID string) (*domain.OracleRound, error) {
	insert := `INSERT INTO oracle_rounds (custodian_id, round, opened_at)
	           VALUES ($1, 1, now()) ON CONFLICT (custodian_id) DO NOTHING`
	if _, err := r.q.ExecContext(ctx, insert, custodianID); err != nil {
		return nil, fmt.Errorf("failed to open round: %w", err)
	}

	var row struct {
		CustodianID string    `db:"custodian_id"`
		Round       int64     `db:"round"`
		OpenedAt    time.Time `db:"opened_at"`
	}
	query := `SELECT custodian_id, round, opened_at FROM oracle_rounds WHERE custodian_id = $1`
	if err := sqlx.GetContext(ctx, r.q, &row, query, custodianID); err != nil {
		return nil, fmt.Errorf("failed to get current round: %w", err)
	}
	return &domain.OracleRound{
		CustodianID: row.CustodianID,
		Round:       uint64(row.Round),
		OpenedAt:    row.OpenedAt,
	}, nil
}

// AdvanceRound closes the current round and opens the next.
func (r *AttestationRepo) AdvanceRound(ctx context.Context, custodianID string, from uint64) error {
	query := `UPDATE oracle_rounds SET round = round + 1, opened_at = now()
	          WHERE custodian_id = $1 AND round = $2`
	res, err := r.q.ExecContext(ctx, query, custodianID, int64(from))
	if err != nil {
		return fmt.Errorf("failed to advance round: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrConditionFailed
	}
	return nil
}
