package httpapi

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"invitegate.dev/internal/application"
	"invitegate.dev/internal/audit"
	"invitegate.dev/internal/invite"
	"invitegate.dev/internal/keys"
	"invitegate.dev/internal/token"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	clock *fakeClock
	codec *token.Codec
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	codec := token.NewCodec(keys.NewProvider(string(privPEM), string(pubPEM)),
		token.WithIssuer("invitegate-test"), token.WithClock(clock.Now))

	inviteStore := invite.NewInMemory()
	recorder := audit.NewRecorder(audit.NewMemoryStore(), audit.WithClock(clock.Now))
	invites := invite.NewService(inviteStore, inviteStore, codec, recorder, invite.WithClock(clock.Now))

	api := New(Deps{
		Invites:        invites,
		Applications:   application.NewInMemory(),
		Codec:          codec,
		Audit:          recorder,
		Version:        "test",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		clock:   clock,
		codec:   codec,
	}
}

func (c *apiClient) issuerToken(subject string) string {
	c.t.Helper()
	signed, err := c.codec.Sign(token.Claims{
		Scope:            []string{"user-list"},
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}, time.Hour)
	if err != nil {
		c.t.Fatalf("sign issuer token: %v", err)
	}
	return signed
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func (c *apiClient) createInvite(body map[string]any) inviteResponse {
	c.t.Helper()
	resp := c.post("/v1/invites", body, bearer(c.issuerToken("admin-1")))
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create invite: status %d", resp.StatusCode)
	}
	var out inviteResponse
	decodeBody(c.t, resp, &out)
	if out.Token == "" {
		c.t.Fatal("create invite: token missing from response")
	}
	return out
}

func registerInviteBody() map[string]any {
	return map[string]any{
		"type":               "register_invite",
		"scopes":             []string{"register-invite"},
		"expires_in_minutes": 60,
		"invitee_name":       "Aruzhan",
	}
}

func TestHealthEndpoints(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := c.get(path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := c.get("/openapi.yaml", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/openapi.yaml: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/yaml; charset=utf-8" {
		t.Fatalf("/openapi.yaml content type: %s", ct)
	}
	resp.Body.Close()
}

func TestCreateInviteRequiresIssuer(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/invites", registerInviteBody(), nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/invites", registerInviteBody(), bearer("garbage.token.here"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	// A bearer's own invite token has a subject but not the issuer scope.
	inv := c.createInvite(registerInviteBody())
	resp = c.post("/v1/invites", registerInviteBody(), bearer(inv.Token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("invite token issuing: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateInviteValidation(t *testing.T) {
	c := newTestAPI(t)

	body := registerInviteBody()
	body["invitee_name"] = "Al"
	resp := c.post("/v1/invites", body, bearer(c.issuerToken("admin-1")))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short name: status %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestInviteLifecycleOverHTTP(t *testing.T) {
	c := newTestAPI(t)

	inv := c.createInvite(registerInviteBody())
	if inv.Status != "pending" {
		t.Fatalf("status = %q, want pending", inv.Status)
	}

	// Lookup by hash while usable.
	resp := c.get("/v1/invites/"+inv.TokenHash, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lookup: status %d", resp.StatusCode)
	}
	var looked inviteResponse
	decodeBody(t, resp, &looked)
	if looked.ID != inv.ID || looked.Token == "" {
		t.Fatalf("lookup returned %+v", looked)
	}

	// Init by id.
	resp = c.post("/v1/invites/init", map[string]any{"invite_id": inv.ID}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("init: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown hash and unknown id.
	resp = c.get("/v1/invites/not-a-digest", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown hash: status %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
	resp = c.post("/v1/invites/init", map[string]any{"invite_id": "ghost"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown id: status %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestInviteExpiryOverHTTP(t *testing.T) {
	c := newTestAPI(t)

	body := registerInviteBody()
	body["expires_in_minutes"] = 5
	inv := c.createInvite(body)

	c.clock.Advance(6 * time.Minute)

	resp := c.get("/v1/invites/"+inv.TokenHash, nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expired lookup: status %d, want 410", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/invites/init", map[string]any{"invite_id": inv.ID}, nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expired init: status %d, want 410", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestApplicationSubmitConsumesInvite(t *testing.T) {
	c := newTestAPI(t)

	body := registerInviteBody()
	body["filters"] = []string{"sector-1"}
	inv := c.createInvite(body)

	appBody := map[string]any{
		"applicant_name": "Dana",
		"sectors":        []string{"sector-1"},
		"personal_info":  map[string]any{"city": "Almaty"},
	}
	resp := c.post("/v1/applications", appBody, bearer(inv.Token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit: status %d", resp.StatusCode)
	}
	var created application.Application
	decodeBody(t, resp, &created)
	if created.InviteID != inv.ID {
		t.Fatalf("invite id on record = %q, want %q", created.InviteID, inv.ID)
	}
	if len(created.FilterSnapshot) != 1 || created.FilterSnapshot[0] != "sector-1" {
		t.Fatalf("filter snapshot not frozen onto record: %v", created.FilterSnapshot)
	}

	// The invite is consumed: lookup now reports already used, and the same
	// token cannot submit twice even though its signature is still valid.
	resp = c.get("/v1/invites/"+inv.TokenHash, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("lookup after use: status %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/applications", appBody, bearer(inv.Token))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second submit: status %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestApplicationSubmitFilterMismatch(t *testing.T) {
	c := newTestAPI(t)

	body := registerInviteBody()
	body["filters"] = []string{"sector-1"}
	inv := c.createInvite(body)

	resp := c.post("/v1/applications", map[string]any{
		"applicant_name": "Dana",
		"sectors":        []string{"sector-9"},
	}, bearer(inv.Token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("mismatched sectors: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestApplicationSubmitRequiresScope(t *testing.T) {
	c := newTestAPI(t)

	inv := c.createInvite(map[string]any{
		"type":         "view_invite",
		"scopes":       []string{"view-invite"},
		"invitee_name": "Viewer",
	})

	resp := c.post("/v1/applications", map[string]any{"applicant_name": "Dana"}, bearer(inv.Token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("view token submitting: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAsymmetricViewRule(t *testing.T) {
	c := newTestAPI(t)

	// Record created under a filter restriction.
	regBody := registerInviteBody()
	regBody["filters"] = []string{"sector-5"}
	reg := c.createInvite(regBody)
	resp := c.post("/v1/applications", map[string]any{
		"applicant_name": "Dana",
		"sectors":        []string{"sector-5"},
	}, bearer(reg.Token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit: status %d", resp.StatusCode)
	}
	var created application.Application
	decodeBody(t, resp, &created)

	// Unfiltered viewer token: scope passes, the asymmetric rule denies.
	unfiltered := c.createInvite(map[string]any{
		"type":         "view_invite",
		"scopes":       []string{"view-invite"},
		"invitee_name": "Viewer",
	})
	resp = c.get("/v1/applications/"+created.ID, bearer(unfiltered.Token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unfiltered view: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/applications", bearer(unfiltered.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unfiltered list: status %d", resp.StatusCode)
	}
	var listed struct {
		Items []application.Application `json:"items"`
	}
	decodeBody(t, resp, &listed)
	if len(listed.Items) != 0 {
		t.Fatalf("unfiltered list leaked %d filtered records", len(listed.Items))
	}

	// Matching filtered viewer token sees the record.
	matching := c.createInvite(map[string]any{
		"type":         "view_invite",
		"scopes":       []string{"view-invite"},
		"filters":      []string{"sector-5", "sector-6"},
		"invitee_name": "Viewer",
	})
	resp = c.get("/v1/applications/"+created.ID, bearer(matching.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("matching view: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/applications", bearer(matching.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("matching list: status %d", resp.StatusCode)
	}
	decodeBody(t, resp, &listed)
	if len(listed.Items) != 1 || listed.Items[0].ID != created.ID {
		t.Fatalf("matching list = %+v", listed.Items)
	}

	// Non-overlapping filtered viewer token is denied.
	other := c.createInvite(map[string]any{
		"type":         "view_invite",
		"scopes":       []string{"view-invite"},
		"filters":      []string{"sector-9"},
		"invitee_name": "Viewer",
	})
	resp = c.get("/v1/applications/"+created.ID, bearer(other.Token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-overlapping view: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestApplicationEndpointsRejectBadTokens(t *testing.T) {
	c := newTestAPI(t)

	for _, tc := range []struct {
		name string
		do   func() *http.Response
	}{
		{"list without token", func() *http.Response { return c.get("/v1/applications", nil) }},
		{"view with garbage", func() *http.Response { return c.get("/v1/applications/some-id", bearer("nope")) }},
		{"submit without token", func() *http.Response {
			return c.post("/v1/applications", map[string]any{"applicant_name": "Dana"}, nil)
		}},
	} {
		resp := tc.do()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: status %d, want 401", tc.name, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestRequestIDPropagation(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", map[string]string{"X-Request-ID": "req-42"})
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID = %q, want req-42", got)
	}
	resp.Body.Close()

	resp = c.get("/healthz", nil)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID not generated")
	}
	resp.Body.Close()
}
