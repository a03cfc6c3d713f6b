package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/custody/watchdog"
	"github.com/qcnet/warden/internal/infra/storage"
)

// Pinger is a liveness probe for an infrastructure dependency.
type Pinger interface {
	Health(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Health(ctx context.Context) error { return f(ctx) }

const (
	checkInterval = 10 * time.Second
	pingTimeout   = 5 * time.Second
)

// Monitor aggregates health status from storage state and dependency probes.
type Monitor struct {
	store      storage.Store
	deps       map[string]Pinger
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. deps maps a dependency name
// (redis, ledger, relay) to its probe; storage is probed directly.
func NewMonitor(store storage.Store, deps map[string]Pinger) *Monitor {
	return &Monitor{
		store: store,
		deps:  deps,
	}
}

// CheckHealth builds the full health report.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid spamming storage and dependency probes.
	if time.Since(m.lastCheck) < checkInterval && m.lastReport != nil {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Dependencies: make(map[string]DependencyHealth),
		Custodians:   make(map[string]CustodianHealth),
	}

	for name, dep := range m.deps {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := dep.Health(pingCtx)
		cancel()
		if err != nil {
			report.Dependencies[name] = DependencyHealth{Status: StatusDegraded, Error: err.Error()}
			report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
			continue
		}
		report.Dependencies[name] = DependencyHealth{Status: StatusHealthy}
	}

	// The params read doubles as the storage probe.
	params, err := m.store.Params().Get(ctx)
	if err != nil {
		report.Dependencies["storage"] = DependencyHealth{Status: StatusCritical, Error: err.Error()}
		report.SystemStatus = StatusCritical
		m.cache(report)
		return report
	}
	report.Dependencies["storage"] = DependencyHealth{Status: StatusHealthy}

	custodians, err := m.store.Custodians().List(ctx)
	if err != nil {
		report.Dependencies["storage"] = DependencyHealth{Status: StatusCritical, Error: err.Error()}
		report.SystemStatus = StatusCritical
		m.cache(report)
		return report
	}

	pending := make(map[string]int)
	if open, err := m.store.Redemptions().ListPending(ctx); err == nil {
		for _, r := range open {
			pending[r.CustodianID]++
		}
	}

	now := time.Now().UTC()
	for _, custodian := range custodians {
		snapshot, err := m.store.Reserves().Get(ctx, custodian.ID)
		if err != nil && !errors.Is(err, storage.ErrNoReserve) {
			report.Dependencies["storage"] = DependencyHealth{Status: StatusCritical, Error: err.Error()}
			report.SystemStatus = StatusCritical
			m.cache(report)
			return report
		}

		ch := evaluateCustodian(custodian, snapshot, params, now)
		ch.PendingRedemptions = pending[custodian.ID]
		report.Custodians[custodian.ID] = ch
		report.SystemStatus = worse(report.SystemStatus, ch.Status)
	}

	m.cache(report)
	return report
}

func (m *Monitor) cache(report *HealthReport) {
	m.lastCheck = time.Now()
	m.lastReport = report
}

// evaluateCustodian classifies one custodian's solvency visibility. A
// custodian whose obligations cannot be checked against fresh evidence is
// never reported healthy.
func evaluateCustodian(
	custodian *domain.Custodian,
	snapshot *domain.ReserveSnapshot,
	params *domain.SystemParams,
	now time.Time,
) CustodianHealth {
	h := CustodianHealth{
		CustodianID: custodian.ID,
		Lifecycle:   custodian.Status,
		Status:      StatusHealthy,
		Minted:      custodian.Minted,
	}

	if custodian.Status == domain.CustodianRevoked {
		// Terminal state. Obligations still on the books need arbiter
		// attention; a fully unwound custodian is just history.
		if custodian.Minted > 0 {
			h.Status = StatusCritical
		}
		return h
	}

	if snapshot == nil {
		if custodian.Minted > 0 {
			h.Status = StatusCritical
		} else {
			h.Status = StatusDegraded
		}
		return h
	}

	h.Reserve = snapshot.Balance
	age := snapshot.Age(now)
	if age < 0 {
		age = 0
	}
	h.ReserveAgeSeconds = uint64(age.Seconds())
	if custodian.Minted > 0 {
		h.CollateralPct = float64(snapshot.Balance) / float64(custodian.Minted) * 100
	}

	switch {
	case watchdog.Undercollateralized(snapshot.Balance, custodian.Minted, params.MinCollateralRatio):
		h.Status = StatusCritical
	case age > params.ReserveStaleness:
		h.Status = StatusDegraded
	case custodian.Status == domain.CustodianUnderReview:
		h.Status = StatusDegraded
	}
	return h
}
