package httpapi

import (
	"net/http"
	"strings"
	"time"

	"invitegate.dev/internal/audit"
	"invitegate.dev/internal/invite"
	"invitegate.dev/internal/scope"
)

type createInviteRequest struct {
	Type             string   `json:"type"`
	Scopes           []string `json:"scopes"`
	Filters          []string `json:"filters,omitempty"`
	ExpiresInMinutes int      `json:"expires_in_minutes,omitempty"`
	InviteeName      string   `json:"invitee_name"`
	Sectors          []string `json:"sectors,omitempty"`
}

type initInviteRequest struct {
	InviteID string `json:"invite_id"`
}

type inviteResponse struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	ScopeList      []string   `json:"scope_list"`
	FilterSnapshot []string   `json:"filter_snapshot,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	TokenHash      string     `json:"token_hash"`
	Token          string     `json:"token,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func inviteToResponse(inv *invite.Invite, includeToken bool) inviteResponse {
	resp := inviteResponse{
		ID:             inv.ID,
		Type:           string(inv.Type),
		Status:         string(inv.Status),
		ScopeList:      inv.ScopeList,
		FilterSnapshot: inv.FilterSnapshot,
		ExpiresAt:      inv.ExpiresAt,
		TokenHash:      inv.TokenHash,
		CreatedAt:      inv.CreatedAt,
	}
	if includeToken {
		resp.Token = inv.RawJWT
	}
	return resp
}

func (a *API) handleInvitesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createInvite(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleInviteResource(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/v1/invites/")
	if hash == "" || strings.Contains(hash, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.lookupInvite(w, r, hash)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleInviteInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req initInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.InviteID) == "" {
		writeError(w, r, http.StatusBadRequest, "invite_id is required")
		return
	}

	inv, err := a.deps.Invites.Activate(r.Context(), req.InviteID)
	if err != nil {
		handleInviteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inviteToResponse(inv, true))
}

// createInvite requires a verified issuer token. The issuer's subject becomes
// the invite's created_by_id; a token without a subject cannot issue.
func (a *API) createInvite(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.verifyBearer(w, r)
	if !ok {
		return
	}
	issuerID := strings.TrimSpace(claims.Subject)
	if issuerID == "" {
		a.audit(r.Context(), audit.Event{
			Action:     audit.ActionInviteCreate,
			TargetType: "invites",
			Outcome:    audit.OutcomeDenied,
			Metadata:   map[string]any{"reason": "NO_ISSUER_SUBJECT"},
		})
		writeError(w, r, http.StatusForbidden, "issuer identity required")
		return
	}
	// Invite tokens also carry subjects, so subject alone does not make an
	// issuer. Issuance is gated on the privileged scope.
	if !scope.Has(claims.Scope, scope.UserList) {
		a.audit(r.Context(), audit.Event{
			Action:        audit.ActionInviteCreate,
			TargetType:    "invites",
			Outcome:       audit.OutcomeDenied,
			ActorID:       issuerID,
			ScopeSnapshot: claims.Scope,
			Metadata:      map[string]any{"reason": "SCOPE_MISSING"},
		})
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req createInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	issued, err := a.deps.Invites.Issue(r.Context(), invite.IssueParams{
		Type:             invite.Type(req.Type),
		Scopes:           req.Scopes,
		Filters:          req.Filters,
		ExpiresInMinutes: req.ExpiresInMinutes,
		InviteeName:      req.InviteeName,
		Sectors:          req.Sectors,
		CreatedByID:      issuerID,
	})
	if err != nil {
		handleInviteError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/invites/"+issued.Invite.TokenHash)
	writeJSON(w, http.StatusCreated, inviteToResponse(issued.Invite, true))
}

func (a *API) lookupInvite(w http.ResponseWriter, r *http.Request, hash string) {
	inv, err := a.deps.Invites.LookupByHash(r.Context(), hash)
	if err != nil {
		handleInviteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inviteToResponse(inv, true))
}
