package storage

import (
	"context"
	"errors"

	"github.com/qcnet/warden/internal/core/domain"
)

var (
	// ErrCustodianNotFound is returned when a custodian doesn't exist
	ErrCustodianNotFound = errors.New("custodian not found")
	// ErrCustodianExists is returned on duplicate custodian registration
	ErrCustodianExists = errors.New("custodian already exists")
	// ErrWalletNotFound is returned when a wallet doesn't exist
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrWalletExists is returned when a wallet address is already registered
	ErrWalletExists = errors.New("wallet already exists")
	// ErrRedemptionNotFound is returned when a redemption doesn't exist
	ErrRedemptionNotFound = errors.New("redemption not found")
	// ErrNoReserve is returned when no attested reserve exists for a custodian
	ErrNoReserve = errors.New("no attested reserve")
	// ErrParamsNotFound is returned before the system params record is seeded
	ErrParamsNotFound = errors.New("system params not found")
	// ErrDuplicateAttestation is returned when an attester resubmits in a round
	ErrDuplicateAttestation = errors.New("duplicate attestation for round")
	// ErrTxIDUsed is returned when a settlement txid already fulfilled a redemption
	ErrTxIDUsed = errors.New("settlement txid already used")
	// ErrConditionFailed is returned when a conditional update matched no row
	ErrConditionFailed = errors.New("conditional update failed")
)

// CustodianRepository handles custodian record storage
type CustodianRepository interface {
	// Create inserts a new custodian record
	Create(ctx context.Context, custodian *domain.Custodian) error

	// Get retrieves a custodian by ID
	Get(ctx context.Context, id string) (*domain.Custodian, error)

	// List retrieves all custodians
	List(ctx context.Context) ([]*domain.Custodian, error)

	// SetStatus updates status only when the current status matches from
	SetStatus(ctx context.Context, id string, from, to domain.CustodianStatus) error

	// SetMaxCapacity updates the mint capacity ceiling
	SetMaxCapacity(ctx context.Context, id string, maxCapacity uint64) error

	// IncrementMinted atomically adds amount to the minted counter, guarded
	// by active status, capacity and the supplied reserve ceiling
	IncrementMinted(ctx context.Context, id string, amount, reserveCeiling uint64) error

	// DecrementMinted atomically subtracts amount, guarded by minted >= amount
	DecrementMinted(ctx context.Context, id string, amount uint64) error
}

// WalletRepository handles custodian reserve wallet storage
type WalletRepository interface {
	// Create inserts a new wallet record
	Create(ctx context.Context, wallet *domain.Wallet) error

	// Get retrieves a wallet by address
	Get(ctx context.Context, address string) (*domain.Wallet, error)

	// ListByCustodian retrieves all wallets registered to a custodian
	ListByCustodian(ctx context.Context, custodianID string) ([]*domain.Wallet, error)

	// SetStatus updates status only when the current status matches from
	SetStatus(ctx context.Context, address string, from, to domain.WalletStatus) error
}

// AttestationRepository handles oracle round bookkeeping
type AttestationRepository interface {
	// Append records a submission; a second submission by the same attester
	// in the same round fails with ErrDuplicateAttestation
	Append(ctx context.Context, att *domain.Attestation) error

	// ListByRound retrieves all submissions for a custodian round
	ListByRound(ctx context.Context, custodianID string, round uint64) ([]*domain.Attestation, error)

	// CurrentRound retrieves the open round, creating round 1 if absent
	CurrentRound(ctx context.Context, custodianID string) (*domain.OracleRound, error)

	// AdvanceRound closes the current round and opens the next
	AdvanceRound(ctx context.Context, custodianID string, from uint64) error
}

// ReserveRepository stores the latest attested reserve per custodian
type ReserveRepository interface {
	// Get retrieves the latest snapshot, ErrNoReserve if none
	Get(ctx context.Context, custodianID string) (*domain.ReserveSnapshot, error)

	// Put inserts or replaces the snapshot
	Put(ctx context.Context, snapshot *domain.ReserveSnapshot) error
}

// RedemptionRepository handles redemption record storage
type RedemptionRepository interface {
	// Create inserts a new redemption record
	Create(ctx context.Context, redemption *domain.Redemption) error

	// Get retrieves a redemption by ID
	Get(ctx context.Context, id string) (*domain.Redemption, error)

	// ListByCustodian retrieves redemptions for a custodian, newest first
	ListByCustodian(ctx context.Context, custodianID string) ([]*domain.Redemption, error)

	// ListPending retrieves all pending redemptions
	ListPending(ctx context.Context) ([]*domain.Redemption, error)

	// Finalize sets a terminal status, guarded by current status pending.
	// txID is recorded for fulfillments; a txID that already fulfilled
	// another redemption fails with ErrTxIDUsed.
	Finalize(ctx context.Context, id string, status domain.RedemptionStatus, txID string) error
}

// ReceiptRepository stores auditable mint receipts
type ReceiptRepository interface {
	// Create inserts a receipt
	Create(ctx context.Context, receipt *domain.MintReceipt) error

	// ListByCustodian retrieves receipts for a custodian, newest first
	ListByCustodian(ctx context.Context, custodianID string, limit int) ([]*domain.MintReceipt, error)
}

// ParamsRepository stores the singleton system parameter record
type ParamsRepository interface {
	// Get retrieves the record, ErrParamsNotFound if never seeded
	Get(ctx context.Context) (*domain.SystemParams, error)

	// Put inserts or replaces the record
	Put(ctx context.Context, params *domain.SystemParams) error
}

// EventRepository stores append-only audit events
type EventRepository interface {
	// Append records an event
	Append(ctx context.Context, event *domain.Event) error

	// List retrieves recent events, newest first
	List(ctx context.Context, custodianID string, limit int) ([]*domain.Event, error)
}

// Store aggregates the repositories behind a single transactional boundary.
type Store interface {
	Custodians() CustodianRepository
	Wallets() WalletRepository
	Attestations() AttestationRepository
	Reserves() ReserveRepository
	Redemptions() RedemptionRepository
	Receipts() ReceiptRepository
	Params() ParamsRepository
	Events() EventRepository

	// WithinTx runs fn against a transactional view of the store. All writes
	// commit together or not at all. Implementations serialize conflicting
	// writers, so fn observes a stable snapshot of every record it touches.
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}
