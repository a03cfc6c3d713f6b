package domain

import (
	"time"
)

// Wallet represents a reserve wallet registered to a custodian
type Wallet struct {
	Address     string       `json:"address"`
	CustodianID string       `json:"custodian_id"`
	Status      WalletStatus `json:"status"`
	Challenge   string       `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type WalletStatus string

const (
	WalletInactive     WalletStatus = "inactive"
	WalletActive       WalletStatus = "active"
	WalletPendingDereg WalletStatus = "pending_deregistration"
	WalletDeregistered WalletStatus = "deregistered"
)
