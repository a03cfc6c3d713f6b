// Package auth provides the capability checks gating custody operations.
package auth

import (
	"errors"
	"sort"
)

// Role is a capability granted to an account.
type Role string

const (
	// RoleGovernance may register custodians, tune parameters and resume
	// paused flows.
	RoleGovernance Role = "governance"
	// RoleArbiter may flag defaults, revoke custodians and pause flows.
	RoleArbiter Role = "arbiter"
	// RoleAttester may submit reserve attestations.
	RoleAttester Role = "attester"
)

var (
	// ErrUnauthorized is returned when the caller lacks every required role
	ErrUnauthorized = errors.New("caller not authorized")
)

// Authority answers capability checks. Identity establishment is the
// transport's concern; this only answers whether a known account holds a
// role.
type Authority interface {
	// Allow reports whether caller holds role.
	Allow(caller string, role Role) bool

	// Accounts returns the accounts holding role, sorted.
	Accounts(role Role) []string
}

// Require returns ErrUnauthorized unless caller holds at least one of the
// given roles. Every mutating custody entry point calls this first.
func Require(authority Authority, caller string, roles ...Role) error {
	if caller == "" {
		return ErrUnauthorized
	}
	for _, role := range roles {
		if authority.Allow(caller, role) {
			return nil
		}
	}
	return ErrUnauthorized
}

// StaticAuthority is an Authority with fixed role grants, built from
// configuration at startup.
type StaticAuthority struct {
	grants map[Role]map[string]struct{}
}

var _ Authority = (*StaticAuthority)(nil)

// NewStaticAuthority builds an authority from per-role account lists.
func NewStaticAuthority(governance, arbiters, attesters []string) *StaticAuthority {
	a := &StaticAuthority{grants: make(map[Role]map[string]struct{})}
	a.grant(RoleGovernance, governance)
	a.grant(RoleArbiter, arbiters)
	a.grant(RoleAttester, attesters)
	return a
}

func (a *StaticAuthority) grant(role Role, accounts []string) {
	set := make(map[string]struct{}, len(accounts))
	for _, acc := range accounts {
		if acc != "" {
			set[acc] = struct{}{}
		}
	}
	a.grants[role] = set
}

// Allow reports whether caller holds role.
func (a *StaticAuthority) Allow(caller string, role Role) bool {
	_, ok := a.grants[role][caller]
	return ok
}

// Accounts returns the accounts holding role, sorted.
func (a *StaticAuthority) Accounts(role Role) []string {
	out := make([]string, 0, len(a.grants[role]))
	for acc := range a.grants[role] {
		out = append(out, acc)
	}
	sort.Strings(out)
	return out
}
