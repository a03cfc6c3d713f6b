package domain

import (
	"time"
)

// MintReceipt is the auditable record written for every completed mint.
type MintReceipt struct {
	ID          string    `json:"id"`
	CustodianID string    `json:"custodian_id"`
	Beneficiary string    `json:"beneficiary"`
	Amount      uint64    `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
}
