// Package invite implements the capability-invite lifecycle: issuance of
// signed invite tokens, lookup by token hash with lazy expiry, and explicit
// activation checks. Invites are never deleted; they only move between
// statuses so the audit trail keeps its referential integrity.
package invite

import (
	"errors"
	"time"
)

// Type fixes which action class an invite's token authorizes.
type Type string

const (
	TypeRegister Type = "register_invite"
	TypeView     Type = "view_invite"
)

// Valid reports whether the type is one of the two known classes.
func (t Type) Valid() bool {
	return t == TypeRegister || t == TypeView
}

// Status is the invite lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
)

// Invite is one capability grant. The signed token is the portable proof of
// the grant; the invite row is its revocable, inspectable shadow. Identity,
// type, issuer, scopes, and filters are immutable once issued.
type Invite struct {
	ID             string     `json:"id"`
	Type           Type       `json:"type"`
	CreatedByID    string     `json:"created_by_id"`
	InviteeName    string     `json:"invitee_name,omitempty"`
	ScopeList      []string   `json:"scope_list"`
	FilterSnapshot []string   `json:"filter_snapshot,omitempty"`
	Status         Status     `json:"status"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	TokenHash      string     `json:"token_hash"`
	RawJWT         string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Expired reports whether the invite's absolute expiry has passed. Invites
// without an expiry never expire.
func (i *Invite) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && i.ExpiresAt.Before(now)
}

// IssuedToken is one row of the issuance counter ledger: an independent,
// append-only record of what each signing actually embedded, kept to detect
// drift between invite rows and signed claims. Audit-only; Invite.Status
// stays authoritative.
type IssuedToken struct {
	ID             string     `json:"id"`
	InviteID       string     `json:"invite_id"`
	JTI            string     `json:"jti"`
	Scopes         []string   `json:"scopes"`
	FilterSnapshot []string   `json:"filter_snapshot,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

var (
	// ErrInvalidInput marks malformed or out-of-range issuance input.
	ErrInvalidInput = errors.New("invite: invalid input")
	// ErrNotFound marks an unknown invite.
	ErrNotFound = errors.New("invite: not found")
	// ErrAlreadyUsed marks an invite that is no longer pending.
	ErrAlreadyUsed = errors.New("invite: already used")
	// ErrExpired marks an invite whose expiry has passed. Distinct from
	// ErrNotFound: the resource once existed and the bearer should request a
	// fresh invite.
	ErrExpired = errors.New("invite: expired")
)
