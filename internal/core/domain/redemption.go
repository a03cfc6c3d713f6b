package domain

import (
	"time"
)

// Redemption represents a holder's claim to withdraw backing funds from a
// custodian. The settlement address is bound at initiation and never changes.
type Redemption struct {
	ID                string           `json:"id"`
	CustodianID       string           `json:"custodian_id"`
	Requester         string           `json:"requester"`
	Amount            uint64           `json:"amount"`
	SettlementAddress string           `json:"settlement_address"`
	Status            RedemptionStatus `json:"status"`
	TxID              string           `json:"tx_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	FinalizedAt       *time.Time       `json:"finalized_at,omitempty"`
}

type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionFulfilled RedemptionStatus = "fulfilled"
	RedemptionDefaulted RedemptionStatus = "defaulted"
)

// Finalized reports whether the redemption reached a terminal status.
func (r *Redemption) Finalized() bool {
	return r.Status != RedemptionPending
}

// Deadline returns the instant after which an arbiter may flag default.
func (r *Redemption) Deadline(timeout time.Duration) time.Time {
	return r.CreatedAt.Add(timeout)
}
