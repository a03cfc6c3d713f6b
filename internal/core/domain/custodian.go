package domain

import (
	"time"
)

// Custodian represents a regulated custodian authorized to back bridged assets
type Custodian struct {
	ID          string          `json:"id"`
	Status      CustodianStatus `json:"status"`
	MaxCapacity uint64          `json:"max_capacity"`
	Minted      uint64          `json:"minted"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type CustodianStatus string

const (
	CustodianActive      CustodianStatus = "active"
	CustodianUnderReview CustodianStatus = "under_review"
	CustodianRevoked     CustodianStatus = "revoked"
)

// Remaining returns the unused mint capacity.
func (c *Custodian) Remaining() uint64 {
	if c.Minted >= c.MaxCapacity {
		return 0
	}
	return c.MaxCapacity - c.Minted
}
