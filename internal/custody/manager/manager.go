// Package manager runs the custodian and wallet lifecycles: registration,
// review flagging, revocation, capacity changes and the two-phase wallet
// deregistration flow.
package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/custody/auth"
	"github.com/qcnet/warden/internal/custody/events"
	"github.com/qcnet/warden/internal/custody/registry"
	"github.com/qcnet/warden/internal/infra/storage"
)

var (
	// ErrInvalidArgument is returned for malformed registration input
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInsolvent is returned when a deregistration would leave minted
	// supply above the attested balance
	ErrInsolvent = errors.New("custodian minted exceeds attested balance")
	// ErrProofInvalid is returned when a proof-of-control signature does
	// not verify
	ErrProofInvalid = errors.New("proof of control verification failed")
)

// ControlVerifier verifies proof-of-control challenge signatures.
type ControlVerifier interface {
	VerifyAddressControl(ctx context.Context, address, challenge, signature string) error
}

// Manager owns custodian and wallet state transitions.
type Manager struct {
	store     storage.Store
	authority auth.Authority
	verifier  ControlVerifier
}

// New creates a manager over store.
func New(store storage.Store, authority auth.Authority, verifier ControlVerifier) *Manager {
	return &Manager{store: store, authority: authority, verifier: verifier}
}

// Custodian retrieves a custodian record.
func (m *Manager) Custodian(ctx context.Context, id string) (*domain.Custodian, error) {
	return registry.New(m.store).Custodian(ctx, id)
}

// Custodians retrieves all custodian records.
func (m *Manager) Custodians(ctx context.Context) ([]*domain.Custodian, error) {
	return registry.New(m.store).ListCustodians(ctx)
}

// RegisterCustodian creates a new custodian in Active status with no minted
// supply.
func (m *Manager) RegisterCustodian(ctx context.Context, caller, id string, maxCapacity uint64) (*domain.Custodian, error) {
	if err := auth.Require(m.authority, caller, auth.RoleGovernance); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: custodian id required", ErrInvalidArgument)
	}
	if maxCapacity == 0 {
		return nil, fmt.Errorf("%w: max capacity must be positive", ErrInvalidArgument)
	}

	custodian := &domain.Custodian{
		ID:          id,
		Status:      domain.CustodianActive,
		MaxCapacity: maxCapacity,
	}
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := registry.New(tx).AddCustodian(ctx, custodian); err != nil {
			return err
		}
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventCustodianRegistered,
			CustodianID: id,
			Actor:       caller,
			Details:     map[string]any{"max_capacity": maxCapacity},
		})
	})
	if err != nil {
		return nil, err
	}
	return custodian, nil
}

// SetMaxCapacity replaces a custodian's mint capacity ceiling. Lowering it
// below the current minted supply is allowed; it only blocks further mints.
func (m *Manager) SetMaxCapacity(ctx context.Context, caller, id string, maxCapacity uint64) error {
	if err := auth.Require(m.authority, caller, auth.RoleGovernance); err != nil {
		return err
	}
	if maxCapacity == 0 {
		return fmt.Errorf("%w: max capacity must be positive", ErrInvalidArgument)
	}
	return m.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := registry.New(tx).UpdateCapacity(ctx, id, maxCapacity); err != nil {
			return err
		}
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventCapacityUpdated,
			CustodianID: id,
			Actor:       caller,
			Details:     map[string]any{"max_capacity": maxCapacity},
		})
	})
}

// MarkUnderReview moves an active custodian under review, suspending mint
// issuance until governance restores it or an arbiter revokes it.
func (m *Manager) MarkUnderReview(ctx context.Context, caller, id, reason string) error {
	if err := auth.Require(m.authority, caller, auth.RoleArbiter); err != nil {
		return err
	}
	return m.transition(ctx, caller, id, domain.CustodianUnderReview, reason)
}

// RestoreActive returns a custodian under review to active service.
func (m *Manager) RestoreActive(ctx context.Context, caller, id string) error {
	if err := auth.Require(m.authority, caller, auth.RoleGovernance); err != nil {
		return err
	}
	return m.transition(ctx, caller, id, domain.CustodianActive, "review cleared")
}

// Revoke permanently removes a custodian from service. Revoked is terminal;
// outstanding redemptions still track to completion.
func (m *Manager) Revoke(ctx context.Context, caller, id, reason string) error {
	if err := auth.Require(m.authority, caller, auth.RoleArbiter); err != nil {
		return err
	}
	return m.transition(ctx, caller, id, domain.CustodianRevoked, reason)
}

func (m *Manager) transition(ctx context.Context, caller, id string, to domain.CustodianStatus, reason string) error {
	return m.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		reg := registry.New(tx)
		custodian, err := reg.Custodian(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(custodian.Status, to) {
			return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, custodian.Status, to)
		}
		if err := reg.TransitionCustodian(ctx, id, custodian.Status, to); err != nil {
			return err
		}
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventCustodianStatusChanged,
			CustodianID: id,
			Actor:       caller,
			Details:     map[string]any{"from": string(custodian.Status), "to": string(to), "reason": reason},
		})
	})
}

// ForceUnderReview is the enforcement entry point. It runs on the supplied
// store so the watchdog can fold it into its own transaction, skips
// custodians that already left Active, and attributes the change to the
// system actor. Returns whether a transition happened.
func (m *Manager) ForceUnderReview(ctx context.Context, s storage.Store, custodianID, reason string) (bool, error) {
	forced := false
	err := s.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		reg := registry.New(tx)
		custodian, err := reg.Custodian(ctx, custodianID)
		if err != nil {
			return err
		}
		if custodian.Status != domain.CustodianActive {
			return nil
		}
		if err := reg.TransitionCustodian(ctx, custodianID, domain.CustodianActive, domain.CustodianUnderReview); err != nil {
			return err
		}
		forced = true
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventCustodianStatusChanged,
			CustodianID: custodianID,
			Actor:       domain.SystemActor,
			Details:     map[string]any{"from": string(domain.CustodianActive), "to": string(domain.CustodianUnderReview), "reason": reason},
		})
	})
	if err != nil {
		return false, err
	}
	return forced, nil
}

// RevokeForDefault revokes a custodian as the consequence of a defaulted
// redemption. It runs on the supplied store so the redemption gateway can
// fold it into the defaulting transaction. Already-revoked custodians are
// left alone.
func (m *Manager) RevokeForDefault(ctx context.Context, s storage.Store, custodianID, redemptionID string) error {
	return s.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		reg := registry.New(tx)
		custodian, err := reg.Custodian(ctx, custodianID)
		if err != nil {
			return err
		}
		if custodian.Status == domain.CustodianRevoked {
			return nil
		}
		if err := reg.TransitionCustodian(ctx, custodianID, custodian.Status, domain.CustodianRevoked); err != nil {
			return err
		}
		return events.Record(ctx, tx.Events(), &domain.Event{
			EventType:   domain.EventCustodianStatusChanged,
			CustodianID: custodianID,
			Actor:       domain.SystemActor,
			Details:     map[string]any{"from": string(custodian.Status), "to": string(domain.CustodianRevoked), "reason": "redemption defaulted", "redemption_id": redemptionID},
		})
	})
}

// requireSelf gates custodian-self operations: the caller must be the
// custodian account itself.
func requireSelf(caller, custodianID string) error {
	if caller == "" || caller != custodianID {
		return auth.ErrUnauthorized
	}
	return nil
}
