package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"invitegate.dev/internal/application"
	"invitegate.dev/internal/audit"
	"invitegate.dev/internal/scope"
	"invitegate.dev/internal/token"
)

type createApplicationRequest struct {
	ApplicantName string                 `json:"applicant_name"`
	Sectors       []string               `json:"sectors,omitempty"`
	PersonalInfo  map[string]any         `json:"personal_info,omitempty"`
	Documents     []application.Document `json:"documents,omitempty"`
}

func (a *API) handleApplicationsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createApplication(w, r)
	case http.MethodGet:
		a.listApplications(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleApplicationResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/applications/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.viewApplication(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

// createApplication is the write action of a register invite: scope check,
// filter intersection against the targeted sectors, persist with the token's
// filter snapshot frozen onto the record, then consume the invite.
func (a *API) createApplication(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.verifyBearer(w, r)
	if !ok {
		a.audit(r.Context(), audit.Event{
			Action:     audit.ActionApplicationCreate,
			TargetType: "applications",
			Outcome:    audit.OutcomeDenied,
			Metadata:   map[string]any{"reason": "TOKEN_INVALID"},
		})
		return
	}
	if !scope.Has(claims.Scope, scope.RegisterInvite) {
		a.denyApplication(w, r, audit.ActionApplicationCreate, "", claims, "SCOPE_MISSING")
		return
	}

	// A register invite grants exactly one submission; a consumed or expired
	// invite is rejected even while its token signature is still valid.
	if _, err := a.deps.Invites.Activate(r.Context(), claims.InviteID()); err != nil {
		handleInviteError(w, r, err)
		return
	}

	var req createApplicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ApplicantName) == "" {
		writeError(w, r, http.StatusBadRequest, "applicant_name is required")
		return
	}
	if len(req.Sectors) > 0 && !scope.FilterIntersects(claims.FilterList, req.Sectors) {
		a.denyApplication(w, r, audit.ActionApplicationCreate, "", claims, "FILTER_MISMATCH")
		return
	}

	app := &application.Application{
		ID:             uuid.NewString(),
		InviteID:       claims.InviteID(),
		ApplicantName:  req.ApplicantName,
		Sectors:        req.Sectors,
		FilterSnapshot: claims.FilterList,
		PersonalInfo:   req.PersonalInfo,
		Documents:      req.Documents,
		Status:         application.StatusSubmitted,
	}
	if err := a.deps.Applications.Create(r.Context(), app); err != nil {
		a.audit(r.Context(), audit.Event{
			Action:     audit.ActionApplicationCreate,
			TargetType: "applications",
			Outcome:    audit.OutcomeError,
			Metadata:   map[string]any{"reason": "STORE_CREATE", "error": err.Error()},
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	// The record is durable at this point; a failed consume is logged and
	// corrected on the invite's next lookup rather than failing the submit.
	if err := a.deps.Invites.MarkUsed(r.Context(), claims.InviteID()); err != nil {
		log.Printf("mark invite %s used: %v", claims.InviteID(), err)
	}

	a.audit(r.Context(), audit.Event{
		Action:         audit.ActionApplicationCreate,
		TargetType:     "applications",
		TargetID:       app.ID,
		Outcome:        audit.OutcomeSuccess,
		ActorID:        claims.InviteID(),
		ScopeSnapshot:  claims.Scope,
		FilterSnapshot: claims.FilterList,
		Metadata:       map[string]any{"invite_id": claims.InviteID()},
	})

	w.Header().Set("Location", "/v1/applications/"+app.ID)
	writeJSON(w, http.StatusCreated, app)
}

// listApplications returns only records the token's filters allow. Filtering
// happens per record with the same rule as single-record view, so a list can
// never leak what a direct read would deny.
func (a *API) listApplications(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.verifyBearer(w, r)
	if !ok {
		a.audit(r.Context(), audit.Event{
			Action:     audit.ActionApplicationList,
			TargetType: "applications",
			Outcome:    audit.OutcomeDenied,
			Metadata:   map[string]any{"reason": "TOKEN_INVALID"},
		})
		return
	}
	if !scope.Has(claims.Scope, scope.ViewInvite) {
		a.denyApplication(w, r, audit.ActionApplicationList, "", claims, "SCOPE_MISSING")
		return
	}

	all, err := a.deps.Applications.List(r.Context())
	if err != nil {
		a.audit(r.Context(), audit.Event{
			Action:     audit.ActionApplicationList,
			TargetType: "applications",
			Outcome:    audit.OutcomeError,
			Metadata:   map[string]any{"reason": "STORE_LIST", "error": err.Error()},
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	visible := make([]*application.Application, 0, len(all))
	for _, app := range all {
		if scope.CanViewRecord(claims.FilterList, app.FilterSnapshot) {
			visible = append(visible, app)
		}
	}

	a.audit(r.Context(), audit.Event{
		Action:         audit.ActionApplicationList,
		TargetType:     "applications",
		Outcome:        audit.OutcomeSuccess,
		ActorID:        claims.InviteID(),
		ScopeSnapshot:  claims.Scope,
		FilterSnapshot: claims.FilterList,
		Metadata:       map[string]any{"returned": len(visible), "total": len(all)},
	})
	writeJSON(w, http.StatusOK, map[string]any{"items": visible})
}

func (a *API) viewApplication(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := a.verifyBearer(w, r)
	if !ok {
		a.audit(r.Context(), audit.Event{
			Action:     audit.ActionApplicationView,
			TargetType: "applications",
			TargetID:   id,
			Outcome:    audit.OutcomeDenied,
			Metadata:   map[string]any{"reason": "TOKEN_INVALID"},
		})
		return
	}
	if !scope.Has(claims.Scope, scope.ViewInvite) {
		a.denyApplication(w, r, audit.ActionApplicationView, id, claims, "SCOPE_MISSING")
		return
	}

	app, err := a.deps.Applications.FindByID(r.Context(), id)
	if errors.Is(err, application.ErrNotFound) {
		a.audit(r.Context(), audit.Event{
			Action:     audit.ActionApplicationView,
			TargetType: "applications",
			TargetID:   id,
			Outcome:    audit.OutcomeDenied,
			ActorID:    claims.InviteID(),
			Metadata:   map[string]any{"reason": "NOT_FOUND"},
		})
		writeError(w, r, http.StatusNotFound, "application not found")
		return
	}
	if err != nil {
		a.audit(r.Context(), audit.Event{
			Action:     audit.ActionApplicationView,
			TargetType: "applications",
			TargetID:   id,
			Outcome:    audit.OutcomeError,
			Metadata:   map[string]any{"reason": "STORE_FIND", "error": err.Error()},
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	// Asymmetric rule: a record created under a filter restriction is never
	// visible to a token that carries no filters at all.
	if !scope.CanViewRecord(claims.FilterList, app.FilterSnapshot) {
		a.denyApplication(w, r, audit.ActionApplicationView, id, claims, "FILTER_MISMATCH")
		return
	}

	a.audit(r.Context(), audit.Event{
		Action:         audit.ActionApplicationView,
		TargetType:     "applications",
		TargetID:       id,
		Outcome:        audit.OutcomeSuccess,
		ActorID:        claims.InviteID(),
		ScopeSnapshot:  claims.Scope,
		FilterSnapshot: claims.FilterList,
	})
	writeJSON(w, http.StatusOK, app)
}

func (a *API) denyApplication(w http.ResponseWriter, r *http.Request, action, targetID string, claims *token.Claims, reason string) {
	a.audit(r.Context(), audit.Event{
		Action:         action,
		TargetType:     "applications",
		TargetID:       targetID,
		Outcome:        audit.OutcomeDenied,
		ActorID:        claims.InviteID(),
		ScopeSnapshot:  claims.Scope,
		FilterSnapshot: claims.FilterList,
		Metadata:       map[string]any{"reason": reason},
	})
	writeError(w, r, http.StatusForbidden, "forbidden")
}
