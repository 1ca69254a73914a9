package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"invitegate.dev/internal/audit"
	"invitegate.dev/internal/ids"
	"invitegate.dev/internal/obs"
	"invitegate.dev/internal/token"
)

const (
	// Expiry bounds for expires_in_minutes, reference policy: 5 minutes to 14 days.
	minExpiryMinutes = 5
	maxExpiryMinutes = 14 * 24 * 60
)

// Service implements invite issuance, lookup, and activation over a Store.
type Service struct {
	store  Store
	ledger LedgerStore
	codec  *token.Codec
	audits *audit.Recorder
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the invite lifecycle over its collaborators. A nil ledger
// is allowed when the issuance counter is not deployed.
func NewService(store Store, ledger LedgerStore, codec *token.Codec, audits *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		ledger: ledger,
		codec:  codec,
		audits: audits,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueParams is the issuance request.
type IssueParams struct {
	Type             Type
	Scopes           []string
	Filters          []string
	ExpiresInMinutes int // zero means the invite never expires
	InviteeName      string
	Sectors          []string
	CreatedByID      string
}

// Issued bundles the created invite with its signed token.
type Issued struct {
	Invite *Invite
	Token  string
}

// Issue validates the request, reserves an invite identity, signs a claim
// set naming that identity, and stores the token digest as the invite's
// permanent lookup key. Each attempt mints a fresh id, so a failed issuance
// is safe to retry whole.
func (s *Service) Issue(ctx context.Context, p IssueParams) (*Issued, error) {
	if err := validateIssue(p); err != nil {
		s.record(ctx, audit.Event{
			Action:     audit.ActionInviteCreate,
			TargetType: "invites",
			Outcome:    audit.OutcomeError,
			ActorID:    p.CreatedByID,
			Metadata:   map[string]any{"reason": "VALIDATION", "error": err.Error()},
		})
		return nil, err
	}

	now := s.now().UTC()
	var expiresAt *time.Time
	var ttl time.Duration
	if p.ExpiresInMinutes > 0 {
		ttl = time.Duration(p.ExpiresInMinutes) * time.Minute
		t := now.Add(ttl)
		expiresAt = &t
	}

	// The identity must exist before a token naming it can be signed; the
	// placeholder hash is overwritten once the real digest is known.
	inv := &Invite{
		ID:             uuid.NewString(),
		Type:           p.Type,
		CreatedByID:    p.CreatedByID,
		InviteeName:    p.InviteeName,
		ScopeList:      append([]string(nil), p.Scopes...),
		FilterSnapshot: append([]string(nil), p.Filters...),
		Status:         StatusPending,
		ExpiresAt:      expiresAt,
		TokenHash:      uuid.NewString(),
		CreatedAt:      now,
	}
	if err := s.store.Create(ctx, inv); err != nil {
		s.recordIssueError(ctx, p, inv.ID, "STORE_CREATE", err)
		return nil, fmt.Errorf("create invite: %w", err)
	}

	signed, err := s.codec.Sign(token.Claims{
		Name:       p.InviteeName,
		Scope:      inv.ScopeList,
		FilterList: inv.FilterSnapshot,
		Sectors:    p.Sectors,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: inv.ID,
		},
	}, ttl)
	if err != nil {
		s.recordIssueError(ctx, p, inv.ID, "TOKEN_SIGN", err)
		return nil, fmt.Errorf("sign invite token: %w", err)
	}

	digest := token.Hash(signed)
	if err := s.store.AttachToken(ctx, inv.ID, digest, signed); err != nil {
		s.recordIssueError(ctx, p, inv.ID, "STORE_ATTACH", err)
		return nil, fmt.Errorf("attach invite token: %w", err)
	}
	inv.TokenHash = digest
	inv.RawJWT = signed

	if s.ledger != nil {
		if err := s.ledger.AppendIssuedToken(ctx, &IssuedToken{
			ID:             ids.New(),
			InviteID:       inv.ID,
			JTI:            uuid.NewString(),
			Scopes:         inv.ScopeList,
			FilterSnapshot: inv.FilterSnapshot,
			ExpiresAt:      expiresAt,
			CreatedAt:      now,
		}); err != nil {
			s.recordIssueError(ctx, p, inv.ID, "LEDGER_APPEND", err)
			return nil, fmt.Errorf("append issuance ledger: %w", err)
		}
	}

	obs.IncInviteIssued(string(inv.Type))
	s.record(ctx, audit.Event{
		Action:         audit.ActionInviteCreate,
		TargetType:     "invites",
		TargetID:       inv.ID,
		Outcome:        audit.OutcomeSuccess,
		ActorID:        p.CreatedByID,
		ScopeSnapshot:  inv.ScopeList,
		FilterSnapshot: inv.FilterSnapshot,
		Metadata: map[string]any{
			"type":         string(inv.Type),
			"invitee_name": p.InviteeName,
		},
	})

	return &Issued{Invite: inv, Token: signed}, nil
}

// LookupByHash resolves an invite by its token digest. Expiry is corrected
// lazily here: the first lookup after expires_at flips the status, and
// concurrent flips converge on the same state. The raw token is returned
// only while the invite is pending and unexpired.
func (s *Service) LookupByHash(ctx context.Context, hash string) (*Invite, error) {
	inv, err := s.store.FindByTokenHash(ctx, hash)
	if err != nil {
		s.recordLookup(ctx, audit.ActionInviteLookup, hash, nil, err)
		return nil, err
	}
	if err := s.checkUsable(ctx, audit.ActionInviteLookup, inv); err != nil {
		return nil, err
	}
	s.record(ctx, audit.Event{
		Action:        audit.ActionInviteLookup,
		TargetType:    "invites",
		TargetID:      inv.ID,
		Outcome:       audit.OutcomeSuccess,
		ScopeSnapshot: inv.ScopeList,
	})
	return inv, nil
}

// Activate answers "is this invite still good" for an explicit invite id.
// Outcomes are deliberately distinct: unknown id, no longer pending, expired,
// and usable each carry different retry semantics for the bearer.
func (s *Service) Activate(ctx context.Context, inviteID string) (*Invite, error) {
	inv, err := s.store.FindByID(ctx, inviteID)
	if err != nil {
		s.recordLookup(ctx, audit.ActionInviteInit, inviteID, nil, err)
		return nil, err
	}
	if err := s.checkUsable(ctx, audit.ActionInviteInit, inv); err != nil {
		return nil, err
	}
	s.record(ctx, audit.Event{
		Action:        audit.ActionInviteInit,
		TargetType:    "invites",
		TargetID:      inv.ID,
		Outcome:       audit.OutcomeSuccess,
		ScopeSnapshot: inv.ScopeList,
	})
	return inv, nil
}

// MarkUsed flips a pending invite to used after its single intended effect
// has happened. Called by the resource layer; already-terminal invites are
// left untouched.
func (s *Service) MarkUsed(ctx context.Context, inviteID string) error {
	return s.store.UpdateStatus(ctx, inviteID, StatusPending, StatusUsed)
}

// checkUsable enforces the status and lazy-expiry rules shared by lookup and
// activation. It audits every denial before returning.
func (s *Service) checkUsable(ctx context.Context, action string, inv *Invite) error {
	switch inv.Status {
	case StatusExpired:
		s.recordLookup(ctx, action, inv.ID, inv, ErrExpired)
		return ErrExpired
	case StatusUsed:
		s.recordLookup(ctx, action, inv.ID, inv, ErrAlreadyUsed)
		return ErrAlreadyUsed
	}
	if inv.Expired(s.now()) {
		if err := s.store.UpdateStatus(ctx, inv.ID, StatusPending, StatusExpired); err != nil {
			return fmt.Errorf("expire invite: %w", err)
		}
		inv.Status = StatusExpired
		s.recordLookup(ctx, action, inv.ID, inv, ErrExpired)
		return ErrExpired
	}
	return nil
}

func (s *Service) recordLookup(ctx context.Context, action, targetID string, inv *Invite, cause error) {
	reason, outcome := "NOT_FOUND", audit.OutcomeDenied
	switch {
	case errors.Is(cause, ErrExpired):
		reason = "EXPIRED"
	case errors.Is(cause, ErrAlreadyUsed):
		reason = "ALREADY_USED"
	case !errors.Is(cause, ErrNotFound):
		reason, outcome = "STORE", audit.OutcomeError
	}
	event := audit.Event{
		Action:     action,
		TargetType: "invites",
		TargetID:   targetID,
		Outcome:    outcome,
		Metadata:   map[string]any{"reason": reason},
	}
	if inv != nil {
		event.ScopeSnapshot = inv.ScopeList
	}
	s.record(ctx, event)
}

func (s *Service) recordIssueError(ctx context.Context, p IssueParams, inviteID, stage string, cause error) {
	s.record(ctx, audit.Event{
		Action:     audit.ActionInviteCreate,
		TargetType: "invites",
		TargetID:   inviteID,
		Outcome:    audit.OutcomeError,
		ActorID:    p.CreatedByID,
		Metadata:   map[string]any{"reason": stage, "error": cause.Error()},
	})
}

func (s *Service) record(ctx context.Context, event audit.Event) {
	if s.audits == nil {
		return
	}
	// Best effort: a failed audit write is reported by the recorder itself
	// and must not change the outcome of the audited operation.
	_ = s.audits.Record(ctx, event)
}

func validateIssue(p IssueParams) error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: type must be register_invite or view_invite", ErrInvalidInput)
	}
	if len(p.Scopes) == 0 {
		return fmt.Errorf("%w: scopes must not be empty", ErrInvalidInput)
	}
	for _, sc := range p.Scopes {
		if strings.TrimSpace(sc) == "" {
			return fmt.Errorf("%w: scopes must not contain blank entries", ErrInvalidInput)
		}
	}
	if p.ExpiresInMinutes != 0 && (p.ExpiresInMinutes < minExpiryMinutes || p.ExpiresInMinutes > maxExpiryMinutes) {
		return fmt.Errorf("%w: expires_in_minutes must be between %d and %d", ErrInvalidInput, minExpiryMinutes, maxExpiryMinutes)
	}
	if len(strings.TrimSpace(p.InviteeName)) < 3 {
		return fmt.Errorf("%w: invitee name must be at least 3 characters", ErrInvalidInput)
	}
	if strings.TrimSpace(p.CreatedByID) == "" {
		return fmt.Errorf("%w: issuer identity is required", ErrInvalidInput)
	}
	return nil
}
