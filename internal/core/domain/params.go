package domain

import (
	"time"
)

// SystemParams is the singleton operating-parameter record. Every gateway
// check reads a snapshot of it at the top of the operation.
type SystemParams struct {
	MintingPaused    bool `json:"minting_paused"`
	RedemptionPaused bool `json:"redemption_paused"`

	MinMintAmount uint64 `json:"min_mint_amount"`
	MaxMintAmount uint64 `json:"max_mint_amount"`

	RedemptionTimeout time.Duration `json:"redemption_timeout"`

	// MinCollateralRatio is a percentage: 150 means attested reserves must
	// cover at least 150% of minted supply.
	MinCollateralRatio uint64 `json:"min_collateral_ratio"`

	// ReserveStaleness is the maximum attestation age a solvency-sensitive
	// operation will accept. Older reserves fail closed.
	ReserveStaleness time.Duration `json:"reserve_staleness"`

	ConsensusMode ConsensusMode `json:"consensus_mode"`
	Quorum        int           `json:"quorum"`
	MinAttesters  int           `json:"min_attesters"`

	// BlockFulfillmentUnderReview suspends redemption fulfillment for
	// custodians under review when set. Defaults off: obligations to
	// holders keep settling while a custodian is investigated.
	BlockFulfillmentUnderReview bool `json:"block_fulfillment_under_review"`

	UpdatedAt time.Time `json:"updated_at"`
}

type ConsensusMode string

const (
	// ConsensusExact finalizes a round when Quorum submissions report the
	// same balance.
	ConsensusExact ConsensusMode = "exact"
	// ConsensusMedian finalizes a round once MinAttesters submissions exist
	// and takes the median.
	ConsensusMedian ConsensusMode = "median"
)
