// Package events defines the ingestion and completion event contracts and the
// bus publisher used to emit them.
//
// Delivery is at-least-once end to end: consumers must tolerate duplicate
// envelopes, and every producer-side mutation they trigger is an idempotent
// upsert.
package events

import "encoding/json"

// Ingestion detail types consumed by the indexing pipeline.
const (
	TypeFileCreated        = "file.created"
	TypeFileDeleted        = "file.deleted"
	TypeEpisodeTranscribed = "episode.transcribed"
)

// Completion detail types produced by the indexing pipeline.
const (
	TypeIndexUpdated = "index.updated"
	TypeIndexError   = "index.error"
)

// Envelope is the bus envelope shared by all events.
type Envelope struct {
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	Detail     json.RawMessage `json:"detail"`
}

// DocumentDetail is the detail payload of file.created and
// episode.transcribed events: a source document to index for a user.
type DocumentDetail struct {
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
	URL        string `json:"url"`
}

// RemovalDetail is the detail payload of file.deleted events. It carries the
// full document reference so the consumer can detach before deleting.
type RemovalDetail struct {
	UserID            string `json:"user_id"`
	DocumentID        string `json:"document_id"`
	StorageFileID     string `json:"storage_file_id"`
	VectorStoreID     string `json:"vector_store_id"`
	VectorStoreFileID string `json:"vector_store_file_id"`
}

// IndexUpdated is the detail payload of index.updated events.
type IndexUpdated struct {
	UserID            string `json:"user_id"`
	DocumentID        string `json:"document_id"`
	AssistantID       string `json:"assistant_id"`
	VectorStoreID     string `json:"vector_store_id"`
	StorageFileID     string `json:"storage_file_id"`
	VectorStoreFileID string `json:"vector_store_file_id"`
}

// IndexError is the detail payload of index.error events.
type IndexError struct {
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}
