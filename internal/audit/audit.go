// Package audit is the append-only trail of authorization decisions. Every
// decision point records exactly one event; events are never updated or
// deleted.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"invitegate.dev/internal/ids"
	"invitegate.dev/internal/obs"
)

// Actions recorded by the service.
const (
	ActionInviteCreate      = "INVITE_CREATE"
	ActionInviteLookup      = "INVITE_LOOKUP"
	ActionInviteInit        = "INVITE_INIT"
	ActionApplicationCreate = "APPLICATION_CREATE"
	ActionApplicationView   = "APPLICATION_VIEW"
	ActionApplicationList   = "APPLICATION_LIST"
)

// Outcomes of an audited decision.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Event captures one authorization-relevant decision.
type Event struct {
	ID             string         `json:"id"`
	Action         string         `json:"action"`
	TargetType     string         `json:"target_type"`
	TargetID       string         `json:"target_id,omitempty"`
	Outcome        string         `json:"outcome"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ScopeSnapshot  []string       `json:"scope_snapshot,omitempty"`
	FilterSnapshot []string       `json:"filter_snapshot,omitempty"`
	ActorID        string         `json:"actor_id,omitempty"`
	ActorIP        string         `json:"actor_ip,omitempty"`
	ActorUserAgent string         `json:"actor_user_agent,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Store appends immutable events.
type Store interface {
	Append(ctx context.Context, event *Event) error
}

// Recorder enriches events with request context and appends them to a store.
// Writes are best effort: a failed append is reported on the process
// diagnostics logger and never rolls back the audited action.
type Recorder struct {
	store Store
	now   func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder builds a Recorder over the given store. A nil store falls back
// to the diagnostics log store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	if store == nil {
		store = LogStore{}
	}
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one event. Missing identity, timestamp, and request origin
// fields are filled from the context before the write.
func (r *Recorder) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}
	if origin, ok := OriginFromContext(ctx); ok {
		if event.ActorIP == "" {
			event.ActorIP = origin.IP
		}
		if event.ActorUserAgent == "" {
			event.ActorUserAgent = origin.UserAgent
		}
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}

	obs.IncAccessDecision(event.Action, event.Outcome)

	if err := r.store.Append(ctx, &event); err != nil {
		logFallback(&event, err)
		return err
	}
	return nil
}

func logFallback(event *Event, cause error) {
	data, merr := json.Marshal(event)
	if merr != nil {
		obs.Logger().Printf(`{"type":"audit_fallback","error":%q}`, cause.Error())
		return
	}
	obs.LogRequest(map[string]any{
		"type":  "audit_fallback",
		"error": cause.Error(),
		"event": json.RawMessage(data),
	})
}

// LogStore writes audit events as JSON lines on the shared service logger.
// It backs deployments without a database and the fallback path.
type LogStore struct{}

// Append implements Store.
func (LogStore) Append(_ context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	obs.LogRequest(map[string]any{
		"type":  "audit",
		"event": json.RawMessage(data),
	})
	return nil
}

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	originKey    ctxKey = "audit_origin"
)

// Origin carries request provenance captured by the HTTP layer.
type Origin struct {
	IP        string
	UserAgent string
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithOrigin attaches the request origin to the context for audit logging.
func WithOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, originKey, origin)
}

// OriginFromContext extracts the request origin if the HTTP layer stored one.
func OriginFromContext(ctx context.Context) (Origin, bool) {
	if ctx == nil {
		return Origin{}, false
	}
	v, ok := ctx.Value(originKey).(Origin)
	return v, ok
}
