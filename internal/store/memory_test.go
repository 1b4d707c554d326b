package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemorySessionStoreRoundTrip(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	session := &Session{
		ID:          "sess-1",
		UserID:      "user-1",
		AssistantID: "asst-1",
		ThreadID:    "thread-1",
		Credential:  "token",
		CreatedAt:   time.Now(),
	}
	if err := s.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ThreadID != "thread-1" || got.UserID != "user-1" {
		t.Fatalf("unexpected session: %+v", got)
	}

	// Returned value is a copy; mutating it must not affect the store.
	got.ThreadID = "mutated"
	again, _ := s.Get(ctx, "sess-1")
	if again.ThreadID != "thread-1" {
		t.Fatal("store leaked a mutable reference")
	}
}

func TestMemorySessionStoreNotFound(t *testing.T) {
	s := NewMemorySessionStore()
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryAssistantStoreUpsert(t *testing.T) {
	s := NewMemoryAssistantStore()
	ctx := context.Background()

	if _, err := s.GetByUser(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	record := &AssistantRecord{ID: "rec-1", UserID: "user-1", AssistantID: "asst-1"}
	if err := s.Put(ctx, record); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Backfill the vector store id in place; still one record per user.
	record.VectorStoreID = "vs-1"
	if err := s.Put(ctx, record); err != nil {
		t.Fatalf("Put update: %v", err)
	}

	got, err := s.GetByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if got.VectorStoreID != "vs-1" || got.AssistantID != "asst-1" {
		t.Fatalf("unexpected record: %+v", got)
	}
}
