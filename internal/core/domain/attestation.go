package domain

import (
	"time"
)

// Attestation is a single attester's reserve balance report for one
// oracle round.
type Attestation struct {
	ID          uint64    `json:"id"`
	CustodianID string    `json:"custodian_id"`
	Round       uint64    `json:"round"`
	Attester    string    `json:"attester"`
	Balance     uint64    `json:"balance"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ReserveSnapshot is the attested reserve balance a round (or a direct
// attestation) settled on. At most one snapshot exists per custodian; newer
// consensus overwrites older.
type ReserveSnapshot struct {
	CustodianID string        `json:"custodian_id"`
	Balance     uint64        `json:"balance"`
	Round       uint64        `json:"round"`
	Source      ReserveSource `json:"source"`
	AttestedAt  time.Time     `json:"attested_at"`
}

type ReserveSource string

const (
	ReserveFromConsensus ReserveSource = "consensus"
	ReserveFromDirect    ReserveSource = "direct"
)

// Age returns how old the snapshot is at the given instant.
func (s *ReserveSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.AttestedAt)
}

// OracleRound tracks the open attestation round for a custodian.
type OracleRound struct {
	CustodianID string    `json:"custodian_id"`
	Round       uint64    `json:"round"`
	OpenedAt    time.Time `json:"opened_at"`
}
