package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"invitegate.dev/internal/invite"
)

// InviteStore implements invite.Store and invite.LedgerStore.
type InviteStore struct {
	db *sql.DB
}

var (
	_ invite.Store       = (*InviteStore)(nil)
	_ invite.LedgerStore = (*InviteStore)(nil)
)

func (s *InviteStore) Create(ctx context.Context, inv *invite.Invite) error {
	scopes, err := marshalStrings(inv.ScopeList)
	if err != nil {
		return err
	}
	filters, err := marshalStrings(inv.FilterSnapshot)
	if err != nil {
		return err
	}

	row := s.db.QueryRowContext(ctx, `
		insert into invites (id, type, created_by_id, invitee_name, scope_list, filter_snapshot, status, expires_at, token_hash, raw_jwt)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning created_at, updated_at
	`, inv.ID, string(inv.Type), inv.CreatedByID, inv.InviteeName, scopes, filters,
		string(inv.Status), inv.ExpiresAt, inv.TokenHash, inv.RawJWT)
	if err := row.Scan(&inv.CreatedAt, &inv.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: duplicate invite", invite.ErrInvalidInput)
		}
		return err
	}
	return nil
}

func (s *InviteStore) FindByID(ctx context.Context, id string) (*invite.Invite, error) {
	return s.findOne(ctx, `where id = $1`, id)
}

func (s *InviteStore) FindByTokenHash(ctx context.Context, hash string) (*invite.Invite, error) {
	return s.findOne(ctx, `where token_hash = $1`, hash)
}

func (s *InviteStore) findOne(ctx context.Context, where string, arg any) (*invite.Invite, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, type, created_by_id, invitee_name, scope_list, filter_snapshot, status, expires_at, token_hash, raw_jwt, created_at, updated_at
		from invites `+where, arg)

	var (
		inv      invite.Invite
		typ      string
		status   string
		scopes   []byte
		filters  []byte
		expires  sql.NullTime
		inviteeN sql.NullString
		rawJWT   sql.NullString
	)
	err := row.Scan(&inv.ID, &typ, &inv.CreatedByID, &inviteeN, &scopes, &filters,
		&status, &expires, &inv.TokenHash, &rawJWT, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, invite.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	inv.Type = invite.Type(typ)
	inv.Status = invite.Status(status)
	inv.InviteeName = inviteeN.String
	inv.RawJWT = rawJWT.String
	if expires.Valid {
		t := expires.Time
		inv.ExpiresAt = &t
	}
	if inv.ScopeList, err = unmarshalStrings(scopes); err != nil {
		return nil, err
	}
	if inv.FilterSnapshot, err = unmarshalStrings(filters); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *InviteStore) AttachToken(ctx context.Context, id, tokenHash, rawJWT string) error {
	res, err := s.db.ExecContext(ctx, `
		update invites set token_hash = $2, raw_jwt = $3, updated_at = now()
		where id = $1
	`, id, tokenHash, rawJWT)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return invite.ErrNotFound
	}
	return nil
}

// UpdateStatus performs the conditional transition. Zero rows affected means
// either a concurrent transition already happened (fine, converged) or the
// id is unknown; the follow-up select distinguishes the two.
func (s *InviteStore) UpdateStatus(ctx context.Context, id string, from, to invite.Status) error {
	res, err := s.db.ExecContext(ctx, `
		update invites set status = $3, updated_at = now()
		where id = $1 and status = $2
	`, id, string(from), string(to))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from invites where id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return invite.ErrNotFound
	}
	return nil
}

func (s *InviteStore) AppendIssuedToken(ctx context.Context, tok *invite.IssuedToken) error {
	scopes, err := marshalStrings(tok.Scopes)
	if err != nil {
		return err
	}
	filters, err := marshalStrings(tok.FilterSnapshot)
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into issued_tokens (id, invite_id, jti, scopes, filter_snapshot, expires_at)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, tok.ID, tok.InviteID, tok.JTI, scopes, filters, tok.ExpiresAt)
	return row.Scan(&tok.CreatedAt)
}
