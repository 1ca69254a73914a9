package invite

import "context"

// Store describes persistence operations required by the invite subsystem.
type Store interface {
	Create(ctx context.Context, inv *Invite) error
	FindByID(ctx context.Context, id string) (*Invite, error)
	FindByTokenHash(ctx context.Context, hash string) (*Invite, error)
	// AttachToken overwrites the placeholder token hash with the digest of
	// the signed token and stores the raw token alongside it.
	AttachToken(ctx context.Context, id, tokenHash, rawJWT string) error
	// UpdateStatus transitions id from one status to another. The write is
	// conditional on the current status matching from, which makes
	// concurrent lazy-expiry flips idempotent: losing writers are no-ops
	// converging on the same target state. Unknown ids return ErrNotFound.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
}

// LedgerStore appends issuance ledger rows. Create-only.
type LedgerStore interface {
	AppendIssuedToken(ctx context.Context, tok *IssuedToken) error
}
