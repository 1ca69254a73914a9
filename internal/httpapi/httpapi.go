// Package httpapi is the HTTP/JSON surface of the invite service.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"invitegate.dev/api/spec"
	"invitegate.dev/internal/application"
	"invitegate.dev/internal/audit"
	"invitegate.dev/internal/invite"
	"invitegate.dev/internal/obs"
	"invitegate.dev/internal/token"
)

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Invites      *invite.Service
	Applications application.Store
	Codec        *token.Codec
	Audit        *audit.Recorder
	Ready        ReadyProbe
	Version      string

	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	deps Deps
}

func New(deps Deps) *API {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:  http.NewServeMux(),
		deps: deps,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// invites
	a.mux.HandleFunc("/v1/invites", a.handleInvitesCollection)
	a.mux.HandleFunc("/v1/invites/init", a.handleInviteInit)
	a.mux.HandleFunc("/v1/invites/", a.handleInviteResource)

	// applications
	a.mux.HandleFunc("/v1/applications", a.handleApplicationsCollection)
	a.mux.HandleFunc("/v1/applications/", a.handleApplicationResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.deps.MaxBodyBytes)
	if a.deps.RateLimitRPS > 0 && a.deps.RateLimitBurst > 0 {
		h = RateLimit(h, a.deps.RateLimitBurst, a.deps.RateLimitRPS)
	}
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "invitegate-api",
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "invitegate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.deps.Version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleInviteError maps domain sentinels to their response classes. The
// classes are deliberately distinct: 404 and 400 mean the token is dead, 410
// means ask the issuer for a new invite.
func handleInviteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, invite.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, invite.ErrAlreadyUsed):
		writeError(w, r, http.StatusBadRequest, "invite already used")
	case errors.Is(err, invite.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "invite not found")
	case errors.Is(err, invite.ErrExpired):
		writeError(w, r, http.StatusGone, "invite expired")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// verifyBearer extracts and verifies the Authorization token. All failure
// modes collapse into one 401 so the bearer learns nothing about why.
func (a *API) verifyBearer(w http.ResponseWriter, r *http.Request) (*token.Claims, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(raw, "Bearer ") {
		obs.IncTokenVerification("missing")
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return nil, false
	}
	claims, err := a.deps.Codec.Verify(strings.TrimSpace(strings.TrimPrefix(raw, "Bearer ")))
	if err != nil {
		obs.IncTokenVerification("invalid")
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return nil, false
	}
	obs.IncTokenVerification("ok")
	return claims, true
}

func (a *API) audit(ctx context.Context, event audit.Event) {
	if a.deps.Audit == nil {
		return
	}
	_ = a.deps.Audit.Record(ctx, event)
}
