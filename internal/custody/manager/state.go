package manager

import (
	"errors"

	"github.com/qcnet/warden/internal/core/domain"
)

var (
	// ErrInvalidTransition is returned when a custodian status change is
	// not allowed from the current status
	ErrInvalidTransition = errors.New("invalid custodian status transition")
	// ErrInvalidWalletTransition is returned when a wallet status change
	// is not allowed from the current status
	ErrInvalidWalletTransition = errors.New("invalid wallet status transition")
)

// ValidTransitions defines allowed custodian status transitions.
// Key is the current status, value is the list of valid next statuses.
// Revoked is terminal.
var ValidTransitions = map[domain.CustodianStatus][]domain.CustodianStatus{
	domain.CustodianActive:      {domain.CustodianUnderReview, domain.CustodianRevoked},
	domain.CustodianUnderReview: {domain.CustodianActive, domain.CustodianRevoked},
	domain.CustodianRevoked:     {},
}

// ValidWalletTransitions defines allowed wallet status transitions.
// Deregistered is terminal.
var ValidWalletTransitions = map[domain.WalletStatus][]domain.WalletStatus{
	domain.WalletInactive:     {domain.WalletActive},
	domain.WalletActive:       {domain.WalletPendingDereg},
	domain.WalletPendingDereg: {domain.WalletDeregistered},
	domain.WalletDeregistered: {},
}

// CanTransition checks if a custodian status transition is valid.
func CanTransition(from, to domain.CustodianStatus) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// CanTransitionWallet checks if a wallet status transition is valid.
func CanTransitionWallet(from, to domain.WalletStatus) bool {
	for _, target := range ValidWalletTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}
