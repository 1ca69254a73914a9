package invite

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store and LedgerStore with in-process concurrency
// safety. It backs tests and deployments without a database.
type InMemory struct {
	mu     sync.RWMutex
	byID   map[string]*Invite
	byHash map[string]string // token hash -> invite id
	ledger []IssuedToken
}

var (
	_ Store       = (*InMemory)(nil)
	_ LedgerStore = (*InMemory)(nil)
)

// NewInMemory creates an empty invite store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[string]*Invite),
		byHash: make(map[string]string),
	}
}

func (s *InMemory) Create(_ context.Context, inv *Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	cp := cloneInvite(inv)
	s.byID[inv.ID] = cp
	if inv.TokenHash != "" {
		s.byHash[inv.TokenHash] = inv.ID
	}
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id string) (*Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInvite(inv), nil
}

func (s *InMemory) FindByTokenHash(_ context.Context, hash string) (*Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInvite(s.byID[id]), nil
}

func (s *InMemory) AttachToken(_ context.Context, id, tokenHash, rawJWT string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if inv.TokenHash != "" {
		delete(s.byHash, inv.TokenHash)
	}
	inv.TokenHash = tokenHash
	inv.RawJWT = rawJWT
	inv.UpdatedAt = time.Now().UTC()
	s.byHash[tokenHash] = id
	return nil
}

func (s *InMemory) UpdateStatus(_ context.Context, id string, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status != from {
		// Conditional write: a concurrent transition already happened.
		return nil
	}
	inv.Status = to
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) AppendIssuedToken(_ context.Context, tok *IssuedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	s.ledger = append(s.ledger, *tok)
	return nil
}

// IssuedTokens returns a snapshot of the issuance ledger.
func (s *InMemory) IssuedTokens() []IssuedToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]IssuedToken, len(s.ledger))
	copy(out, s.ledger)
	return out
}

func cloneInvite(inv *Invite) *Invite {
	cp := *inv
	cp.ScopeList = append([]string(nil), inv.ScopeList...)
	cp.FilterSnapshot = append([]string(nil), inv.FilterSnapshot...)
	if inv.ExpiresAt != nil {
		t := *inv.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}
