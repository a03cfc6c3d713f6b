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

// ParamsRepo implements storage.ParamsRepository using PostgreSQL. The table
// holds a single row.
type ParamsRepo struct {
	q sqlx.ExtContext
}

type paramsRow struct {
	MintingPaused               bool      `db:"minting_paused"`
	RedemptionPaused            bool      `db:"redemption_paused"`
	MinMintAmount               int64     `db:"min_mint_amount"`
	MaxMintAmount               int64     `db:"max_mint_amount"`
	RedemptionTimeoutSecs       int64     `db:"redemption_timeout_secs"`
	MinCollateralRatio          int64     `db:"min_collateral_ratio"`
	ReserveStalenessSecs        int64     `db:"reserve_staleness_secs"`
	ConsensusMode               string    `db:"consensus_mode"`
	Quorum                      int       `db:"quorum"`
	MinAttesters                int       `db:"min_attesters"`
	BlockFulfillmentUnderReview bool      `db:"block_fulfillment_under_review"`
	UpdatedAt                   time.Time `db:"updated_at"`
}

// Get retrieves the record, ErrParamsNotFound if never seeded.
func (r *ParamsRepo) Get(ctx context.Context) (*domain.SystemParams, error) {
	var row paramsRow
	query := `SELECT minting_paused, redemption_paused, min_mint_amount, max_mint_amount,
	                 redemption_timeout_secs, min_collateral_ratio, reserve_staleness_secs,
	                 consensus_mode, quorum, min_attesters, block_fulfillment_under_review, updated_at
	          FROM system_params WHERE id = 1`
	err := sqlx.GetContext(ctx, r.q, &row, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrParamsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get system params: %w", err)
	}

	return &domain.SystemParams{
		MintingPaused:               row.MintingPaused,
		RedemptionPaused:            row.RedemptionPaused,
		MinMintAmount:               uint64(row.MinMintAmount),
		MaxMintAmount:               uint64(row.MaxMintAmount),
		RedemptionTimeout:           time.Duration(row.RedemptionTimeoutSecs) * time.Second,
		MinCollateralRatio:          uint64(row.MinCollateralRatio),
		ReserveStaleness:            time.Duration(row.ReserveStalenessSecs) * time.Second,
		ConsensusMode:               domain.ConsensusMode(row.ConsensusMode),
		Quorum:                      row.Quorum,
		MinAttesters:                row.MinAttesters,
		BlockFulfillmentUnderReview: row.BlockFulfillmentUnderReview,
		UpdatedAt:                   row.UpdatedAt,
	}, nil
}

// Put inserts or replaces the record.
func (r *ParamsRepo) Put(ctx context.Context, params *domain.SystemParams) error {
	query := `INSERT INTO system_params (id, minting_paused, redemption_paused, min_mint_amount,
	              max_mint_amount, redemption_timeout_secs, min_collateral_ratio,
	              reserve_staleness_secs, consensus_mode, quorum, min_attesters,
	              block_fulfillment_under_review, updated_at)
	          VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
	          ON CONFLICT (id) DO UPDATE SET
	              minting_paused = EXCLUDED.minting_paused,
	              redemption_paused = EXCLUDED.redemption_paused,
	              min_mint_amount = EXCLUDED.min_mint_amount,
	              max_mint_amount = EXCLUDED.max_mint_amount,
	              redemption_timeout_secs = EXCLUDED.redemption_timeout_secs,
	              min_collateral_ratio = EXCLUDED.min_collateral_ratio,
	              reserve_staleness_secs = EXCLUDED.reserve_staleness_secs,
	              consensus_mode = EXCLUDED.consensus_mode,
	              quorum = EXCLUDED.quorum,
	              min_attesters = EXCLUDED.min_attesters,
	              block_fulfillment_under_review = EXCLUDED.block_fulfillment_under_review,
	              updated_at = now()`
	_, err := r.q.ExecContext(ctx, query,
		params.MintingPaused, params.RedemptionPaused,
		int64(params.MinMintAmount), int64(params.MaxMintAmount),
		int64(params.RedemptionTimeout/time.Second), int64(params.MinCollateralRatio),
		int64(params.ReserveStaleness/time.Second), string(params.ConsensusMode),
		params.Quorum, params.MinAttesters, params.BlockFulfillmentUnderReview)
	if err != nil {
		return fmt.Errorf("failed to put system params: %w", err)
	}
	return nil
}
