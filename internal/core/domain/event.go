package domain

import (
	"time"
)

// Event is an append-only audit record emitted for every state transition
type Event struct {
	ID          uint64         `json:"id"`
	EventType   EventType      `json:"event_type"`
	CustodianID string         `json:"custodian_id,omitempty"`
	Actor       string         `json:"actor"`
	Details     map[string]any `json:"details,omitempty"`
	EmittedAt   time.Time      `json:"emitted_at"`
}

type EventType string

const (
	EventCustodianRegistered    EventType = "custodian_registered"
	EventCustodianStatusChanged EventType = "custodian_status_changed"
	EventCapacityUpdated        EventType = "capacity_updated"

	EventWalletRegistrationRequested EventType = "wallet_registration_requested"
	EventWalletActivated             EventType = "wallet_activated"
	EventWalletDeregRequested        EventType = "wallet_deregistration_requested"
	EventWalletDeregistered          EventType = "wallet_deregistered"

	EventAttestationRecorded EventType = "attestation_recorded"
	EventReserveConsensus    EventType = "reserve_consensus"
	EventConsensusFailed     EventType = "consensus_failed"
	EventReserveOverridden   EventType = "reserve_overridden"

	EventMintExecuted EventType = "mint_executed"

	EventRedemptionInitiated EventType = "redemption_initiated"
	EventRedemptionFulfilled EventType = "redemption_fulfilled"
	EventRedemptionDefaulted EventType = "redemption_defaulted"

	EventEnforcementTriggered EventType = "enforcement_triggered"

	EventMintingPaused     EventType = "minting_paused"
	EventMintingResumed    EventType = "minting_resumed"
	EventRedemptionPaused  EventType = "redemption_paused"
	EventRedemptionResumed EventType = "redemption_resumed"
	EventParamsUpdated     EventType = "params_updated"
)

// SystemActor is recorded when a transition is triggered by the system
// itself rather than an external caller (watchdog enforcement, default
// consequences).
const SystemActor = "system"
