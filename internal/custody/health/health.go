// Package health provides system health monitoring and status reporting.
package health

import (
	"github.com/qcnet/warden/internal/core/domain"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// CustodianHealth contains solvency-visibility metrics for one custodian.
type CustodianHealth struct {
	CustodianID        string                 `json:"custodian_id"`
	Lifecycle          domain.CustodianStatus `json:"lifecycle"`
	Status             SystemStatus           `json:"status"`
	Minted             uint64                 `json:"minted"`
	Reserve            uint64                 `json:"reserve"`
	ReserveAgeSeconds  uint64                 `json:"reserve_age_seconds"`
	CollateralPct      float64                `json:"collateral_pct"`
	PendingRedemptions int                    `json:"pending_redemptions"`
}

// DependencyHealth is the probe result for one infrastructure dependency.
type DependencyHealth struct {
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus                `json:"system_status"`
	Dependencies map[string]DependencyHealth `json:"dependencies"`
	Custodians   map[string]CustodianHealth  `json:"custodians"`
}

func worse(a, b SystemStatus) SystemStatus {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func rank(s SystemStatus) int {
	switch s {
	case StatusCritical:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}
