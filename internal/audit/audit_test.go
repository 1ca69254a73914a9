package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecorderFillsEventFields(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	recorder := NewRecorder(store, WithClock(func() time.Time { return fixed }))

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithOrigin(ctx, Origin{IP: "203.0.113.9", UserAgent: "curl/8.0"})

	err := recorder.Record(ctx, Event{
		Action:        ActionInviteLookup,
		TargetType:    "invites",
		TargetID:      "inv-1",
		Outcome:       OutcomeDenied,
		Metadata:      map[string]any{"reason": "NOT_FOUND"},
		ScopeSnapshot: []string{"view-invite"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.ID == "" {
		t.Fatal("expected generated event id")
	}
	if !got.OccurredAt.Equal(fixed) {
		t.Fatalf("unexpected timestamp: %v", got.OccurredAt)
	}
	if got.RequestID != "req-123" {
		t.Fatalf("unexpected request id: %s", got.RequestID)
	}
	if got.ActorIP != "203.0.113.9" || got.ActorUserAgent != "curl/8.0" {
		t.Fatalf("origin not captured: %s / %s", got.ActorIP, got.ActorUserAgent)
	}
	if got.Metadata["reason"] != "NOT_FOUND" {
		t.Fatalf("metadata not preserved: %v", got.Metadata)
	}
}

type failingStore struct{ err error }

func (s failingStore) Append(context.Context, *Event) error { return s.err }

func TestRecorderSurfacesStoreFailure(t *testing.T) {
	boom := errors.New("disk on fire")
	recorder := NewRecorder(failingStore{err: boom})

	err := recorder.Record(context.Background(), Event{
		Action:     ActionInviteCreate,
		TargetType: "invites",
		Outcome:    OutcomeSuccess,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
}

func TestRecorderKeepsExplicitFields(t *testing.T) {
	store := NewMemoryStore()
	recorder := NewRecorder(store)

	ctx := WithOrigin(context.Background(), Origin{IP: "198.51.100.1"})
	explicit := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := recorder.Record(ctx, Event{
		ID:         "evt-1",
		Action:     ActionApplicationView,
		TargetType: "applications",
		Outcome:    OutcomeSuccess,
		ActorIP:    "192.0.2.7",
		OccurredAt: explicit,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got := store.Events()[0]
	if got.ID != "evt-1" {
		t.Fatalf("explicit id overwritten: %s", got.ID)
	}
	if got.ActorIP != "192.0.2.7" {
		t.Fatalf("explicit actor ip overwritten: %s", got.ActorIP)
	}
	if !got.OccurredAt.Equal(explicit) {
		t.Fatalf("explicit timestamp overwritten: %v", got.OccurredAt)
	}
}
