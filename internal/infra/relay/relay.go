// Package relay verifies settlement-chain facts: address validity,
// proof-of-control signatures and settlement payments. The production
// implementation talks to a Bitcoin-style node over JSON-RPC; the memory
// implementation backs dev mode and tests.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidAddress is returned for a malformed settlement address
	ErrInvalidAddress = errors.New("invalid settlement address")
	// ErrBadSignature is returned when a challenge signature does not
	// verify against the address
	ErrBadSignature = errors.New("challenge signature verification failed")
	// ErrProofNotFound is returned when the settlement transaction is
	// unknown to the relay
	ErrProofNotFound = errors.New("settlement transaction not found")
	// ErrUnconfirmed is returned when the settlement transaction lacks
	// confirmations
	ErrUnconfirmed = errors.New("settlement transaction lacks confirmations")
)

// Output is one payment output of a settlement transaction.
type Output struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// Payment is a settlement transaction the relay has verified on chain.
type Payment struct {
	TxID          string   `json:"txid"`
	Confirmations uint64   `json:"confirmations"`
	Outputs       []Output `json:"outputs"`
}

// PaidTo sums the outputs paying the given address.
func (p *Payment) PaidTo(address string) uint64 {
	var total uint64
	for _, out := range p.Outputs {
		if out.Address == address {
			total += out.Amount
		}
	}
	return total
}

// ProofVerifier answers settlement-chain questions.
type ProofVerifier interface {
	// ValidateAddress checks that address is well-formed on the
	// settlement chain.
	ValidateAddress(ctx context.Context, address string) error

	// VerifyAddressControl checks that signature signs challenge with the
	// key behind address.
	VerifyAddressControl(ctx context.Context, address, challenge, signature string) error

	// VerifyPayment retrieves and confirms the settlement transaction
	// behind txID.
	VerifyPayment(ctx context.Context, txID string) (*Payment, error)

	// Health checks connectivity.
	Health(ctx context.Context) error
}

// MemoryVerifier is a relay stand-in for dev mode and tests. Addresses pass
// a shape check, any non-empty signature verifies, and payments must be
// seeded through RecordPayment.
type MemoryVerifier struct {
	mu               sync.Mutex
	payments         map[string]*Payment
	minConfirmations uint64
}

// NewMemoryVerifier creates an empty memory verifier.
func NewMemoryVerifier(minConfirmations uint64) *MemoryVerifier {
	return &MemoryVerifier{
		payments:         make(map[string]*Payment),
		minConfirmations: minConfirmations,
	}
}

// RecordPayment seeds a settlement transaction.
func (v *MemoryVerifier) RecordPayment(txID string, confirmations uint64, outputs ...Output) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.payments[txID] = &Payment{TxID: txID, Confirmations: confirmations, Outputs: outputs}
}

// ValidateAddress checks basic address shape.
func (v *MemoryVerifier) ValidateAddress(ctx context.Context, address string) error {
	if len(address) < 26 || len(address) > 90 {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	for _, r := range address {
		alnum := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !alnum {
			return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
	}
	return nil
}

// VerifyAddressControl accepts any non-empty signature.
func (v *MemoryVerifier) VerifyAddressControl(ctx context.Context, address, challenge, signature string) error {
	if signature == "" {
		return ErrBadSignature
	}
	return nil
}

// VerifyPayment retrieves a seeded payment.
func (v *MemoryVerifier) VerifyPayment(ctx context.Context, txID string) (*Payment, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	payment, ok := v.payments[txID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProofNotFound, txID)
	}
	if payment.Confirmations < v.minConfirmations {
		return nil, fmt.Errorf("%w: %d of %d", ErrUnconfirmed, payment.Confirmations, v.minConfirmations)
	}
	cp := *payment
	cp.Outputs = append([]Output(nil), payment.Outputs...)
	return &cp, nil
}

// Health always reports healthy.
func (v *MemoryVerifier) Health(ctx context.Context) error {
	return nil
}
