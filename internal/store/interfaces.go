// Package store persists chat sessions and per-user knowledge index records.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist. It is
// surfaced to callers as-is; missing records are never substituted with
// defaults.
var ErrNotFound = errors.New("not found")

// Session maps an opaque session id to the conversation state needed to run a
// chat stream. Sessions are immutable after creation.
type Session struct {
	ID          string    `dynamodbav:"Id"`
	UserID      string    `dynamodbav:"UserId"`
	AssistantID string    `dynamodbav:"AssistantId"`
	ThreadID    string    `dynamodbav:"ThreadId"`
	Credential  string    `dynamodbav:"Credential"`
	CreatedAt   time.Time `dynamodbav:"CreatedAt,unixtime"`
}

// AssistantRecord maps a user to their knowledge index: the assistant and its
// backing vector store. Exactly one logical record exists per user; the lock
// service guards writers. VectorStoreID may be empty on records that predate
// vector stores and is backfilled on the next ingestion.
type AssistantRecord struct {
	ID            string    `dynamodbav:"Id"`
	UserID        string    `dynamodbav:"UserId"`
	AssistantID   string    `dynamodbav:"AssistantId"`
	VectorStoreID string    `dynamodbav:"VectorStoreId"`
	CreatedAt     time.Time `dynamodbav:"CreatedAt,unixtime"`
	UpdatedAt     time.Time `dynamodbav:"UpdatedAt,unixtime"`
}

// SessionStore persists chat sessions.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
}

// AssistantStore persists per-user knowledge index records.
type AssistantStore interface {
	// GetByUser returns the user's record, or ErrNotFound.
	GetByUser(ctx context.Context, userID string) (*AssistantRecord, error)
	// Put creates or replaces the user's record.
	Put(ctx context.Context, record *AssistantRecord) error
}
