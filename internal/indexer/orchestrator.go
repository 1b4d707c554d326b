// Package indexer serializes knowledge-index mutations: it drives the
// per-document ingestion pipeline under the per-user lock and reports
// completion back to the event bus.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/canonhq/canon/internal/events"
	"github.com/canonhq/canon/internal/lock"
	"github.com/canonhq/canon/internal/observability"
	"github.com/canonhq/canon/internal/store"
)

// ErrLocked means another worker holds the user's index lock. The event is
// not failed; it is left for redelivery.
var ErrLocked = errors.New("index locked, retry later")

// IndexClient is the knowledge-index surface the orchestrator mutates.
type IndexClient interface {
	CreateIndex(ctx context.Context) (assistantID, vectorStoreID string, err error)
	RefreshIndex(ctx context.Context, assistantID string) (vectorStoreID string, err error)
	UploadDocument(ctx context.Context, name string, data []byte) (fileID string, err error)
	DeleteDocument(ctx context.Context, fileID string) error
	AttachDocument(ctx context.Context, vectorStoreID, fileID string) (membershipID string, err error)
	DetachDocument(ctx context.Context, vectorStoreID, membershipID string) error
}

// Orchestrator applies one ingestion event to a user's knowledge index.
type Orchestrator struct {
	locks   lock.Service
	index   IndexClient
	records store.AssistantStore
	bus     events.Publisher
	fetch   Fetcher

	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
	newID   func() string
}

// NewOrchestrator wires the indexing pipeline.
func NewOrchestrator(locks lock.Service, index IndexClient, records store.AssistantStore, bus events.Publisher, fetch Fetcher, logger *observability.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		locks:   locks,
		index:   index,
		records: records,
		bus:     bus,
		fetch:   fetch,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// HandleEvent dispatches one envelope. Unknown detail types are logged and
// dropped; the bus routes broadly and consumers pick what they own.
func (o *Orchestrator) HandleEvent(ctx context.Context, envelope events.Envelope) error {
	start := o.now()
	var err error

	switch envelope.DetailType {
	case events.TypeFileCreated, events.TypeEpisodeTranscribed:
		var detail events.DocumentDetail
		if err = json.Unmarshal(envelope.Detail, &detail); err != nil {
			err = fmt.Errorf("decode %s detail: %w", envelope.DetailType, err)
			break
		}
		err = o.indexDocument(ctx, detail)

	case events.TypeFileDeleted:
		var detail events.RemovalDetail
		if err = json.Unmarshal(envelope.Detail, &detail); err != nil {
			err = fmt.Errorf("decode %s detail: %w", envelope.DetailType, err)
			break
		}
		err = o.removeDocument(ctx, detail)

	default:
		o.logger.Debug(ctx, "ignoring event", "detail_type", envelope.DetailType)
		return nil
	}

	o.metrics.IngestionDuration.WithLabelValues(envelope.DetailType).Observe(o.now().Sub(start).Seconds())
	o.metrics.IngestionEventCounter.WithLabelValues(envelope.DetailType, ingestionStatus(err)).Inc()
	return err
}

func ingestionStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrLocked):
		return "locked"
	default:
		return "error"
	}
}

// indexDocument fetches a source document and adds it to the user's index.
// The per-user lock covers only the index upsert; the fetch, upload and
// attach run after release, against ids the upsert fixed.
func (o *Orchestrator) indexDocument(ctx context.Context, detail events.DocumentDetail) error {
	ctx = observability.WithUser(ctx, detail.UserID)
	ctx = observability.WithDocument(ctx, detail.DocumentID)

	record, err := o.ensureIndex(ctx, detail.UserID)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return err
		}
		return o.reportError(ctx, detail.UserID, detail.DocumentID, err)
	}

	data, err := o.fetch.Fetch(ctx, detail.URL)
	if err != nil {
		return o.reportError(ctx, detail.UserID, detail.DocumentID, err)
	}

	fileID, err := o.index.UploadDocument(ctx, documentName(detail), data)
	if err != nil {
		return o.reportError(ctx, detail.UserID, detail.DocumentID, err)
	}

	membershipID, err := o.index.AttachDocument(ctx, record.VectorStoreID, fileID)
	if err != nil {
		return o.reportError(ctx, detail.UserID, detail.DocumentID, err)
	}

	o.logger.Info(ctx, "document indexed",
		"assistant_id", record.AssistantID,
		"vector_store_id", record.VectorStoreID,
		"file_id", fileID)

	return o.publish(ctx, events.TypeIndexUpdated, events.IndexUpdated{
		UserID:            detail.UserID,
		DocumentID:        detail.DocumentID,
		AssistantID:       record.AssistantID,
		VectorStoreID:     record.VectorStoreID,
		StorageFileID:     fileID,
		VectorStoreFileID: membershipID,
	})
}

// ensureIndex upserts the user's knowledge index under the user's lock and
// returns the current record. Existing assistants get their instructions and
// tool manifest refreshed; records missing a vector store id are backfilled.
func (o *Orchestrator) ensureIndex(ctx context.Context, userID string) (*store.AssistantRecord, error) {
	acquired, err := o.locks.Acquire(ctx, userID)
	if err != nil {
		o.metrics.LockAcquisitionCounter.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("acquire index lock: %w", err)
	}
	if !acquired {
		o.metrics.LockAcquisitionCounter.WithLabelValues("busy").Inc()
		o.logger.Info(ctx, "index lock busy")
		return nil, ErrLocked
	}
	o.metrics.LockAcquisitionCounter.WithLabelValues("acquired").Inc()
	defer func() {
		if releaseErr := o.locks.Release(ctx, userID); releaseErr != nil {
			o.logger.Error(ctx, "release index lock", "error", releaseErr)
		}
	}()

	record, err := o.records.GetByUser(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		assistantID, vectorStoreID, createErr := o.index.CreateIndex(ctx)
		if createErr != nil {
			return nil, fmt.Errorf("create index: %w", createErr)
		}
		record = &store.AssistantRecord{
			ID:            o.newID(),
			UserID:        userID,
			AssistantID:   assistantID,
			VectorStoreID: vectorStoreID,
			CreatedAt:     o.now(),
			UpdatedAt:     o.now(),
		}
		o.logger.Info(ctx, "knowledge index created", "assistant_id", assistantID, "vector_store_id", vectorStoreID)

	case err != nil:
		return nil, fmt.Errorf("load index record: %w", err)

	default:
		vectorStoreID, refreshErr := o.index.RefreshIndex(ctx, record.AssistantID)
		if refreshErr != nil {
			return nil, fmt.Errorf("refresh index: %w", refreshErr)
		}
		record.VectorStoreID = vectorStoreID
		record.UpdatedAt = o.now()
	}

	if err := o.records.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("persist index record: %w", err)
	}
	return record, nil
}

// removeDocument detaches a document from the vector store, then deletes the
// underlying file. Delete is never attempted after a failed detach; a
// dangling file is recoverable, a vector store entry pointing at a deleted
// file is not.
func (o *Orchestrator) removeDocument(ctx context.Context, detail events.RemovalDetail) error {
	ctx = observability.WithUser(ctx, detail.UserID)
	ctx = observability.WithDocument(ctx, detail.DocumentID)

	if detail.VectorStoreID != "" && detail.VectorStoreFileID != "" {
		if err := o.index.DetachDocument(ctx, detail.VectorStoreID, detail.VectorStoreFileID); err != nil {
			return o.reportError(ctx, detail.UserID, detail.DocumentID, err)
		}
	}
	if detail.StorageFileID != "" {
		if err := o.index.DeleteDocument(ctx, detail.StorageFileID); err != nil {
			return o.reportError(ctx, detail.UserID, detail.DocumentID, err)
		}
	}

	o.logger.Info(ctx, "document removed from index", "file_id", detail.StorageFileID)

	return o.publish(ctx, events.TypeIndexUpdated, events.IndexUpdated{
		UserID:        detail.UserID,
		DocumentID:    detail.DocumentID,
		VectorStoreID: detail.VectorStoreID,
	})
}

// reportError publishes index.error and returns the original cause.
func (o *Orchestrator) reportError(ctx context.Context, userID, documentID string, cause error) error {
	o.logger.Error(ctx, "indexing failed", "error", cause)
	if err := o.bus.Publish(ctx, events.TypeIndexError, events.IndexError{
		UserID:     userID,
		DocumentID: documentID,
		Error:      cause.Error(),
	}); err != nil {
		o.logger.Error(ctx, "publish index.error", "error", err)
	}
	return cause
}

func (o *Orchestrator) publish(ctx context.Context, detailType string, detail any) error {
	if err := o.bus.Publish(ctx, detailType, detail); err != nil {
		return fmt.Errorf("publish %s: %w", detailType, err)
	}
	return nil
}

// documentName derives the uploaded file name from the source URL, falling
// back to the document id.
func documentName(detail events.DocumentDetail) string {
	if parsed, err := url.Parse(detail.URL); err == nil {
		if base := path.Base(parsed.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return detail.DocumentID
}
