package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonhq/canon/internal/events"
	"github.com/canonhq/canon/internal/lock"
	"github.com/canonhq/canon/internal/observability"
	"github.com/canonhq/canon/internal/store"
)

// fakeIndex scripts the knowledge-index surface and records every call.
type fakeIndex struct {
	calls []string

	createErr  error
	refreshErr error
	uploadErr  error
	attachErr  error
	detachErr  error
	deleteErr  error

	refreshVectorStoreID string
	nextAssistant        int
}

func (f *fakeIndex) CreateIndex(context.Context) (string, string, error) {
	f.calls = append(f.calls, "create")
	if f.createErr != nil {
		return "", "", f.createErr
	}
	f.nextAssistant++
	return fmt.Sprintf("asst_%d", f.nextAssistant), fmt.Sprintf("vs_%d", f.nextAssistant), nil
}

func (f *fakeIndex) RefreshIndex(_ context.Context, assistantID string) (string, error) {
	f.calls = append(f.calls, "refresh:"+assistantID)
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	if f.refreshVectorStoreID != "" {
		return f.refreshVectorStoreID, nil
	}
	return "vs_1", nil
}

func (f *fakeIndex) UploadDocument(_ context.Context, name string, _ []byte) (string, error) {
	f.calls = append(f.calls, "upload:"+name)
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "file_" + name, nil
}

func (f *fakeIndex) DeleteDocument(_ context.Context, fileID string) error {
	f.calls = append(f.calls, "delete:"+fileID)
	return f.deleteErr
}

func (f *fakeIndex) AttachDocument(_ context.Context, vectorStoreID, fileID string) (string, error) {
	f.calls = append(f.calls, "attach:"+vectorStoreID+":"+fileID)
	if f.attachErr != nil {
		return "", f.attachErr
	}
	return "vsf_" + fileID, nil
}

func (f *fakeIndex) DetachDocument(_ context.Context, vectorStoreID, membershipID string) error {
	f.calls = append(f.calls, "detach:"+vectorStoreID+":"+membershipID)
	return f.detachErr
}

// fakeFetcher serves canned document bytes.
type fakeFetcher struct {
	data map[string][]byte
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.data[rawURL]
	if !ok {
		return nil, fmt.Errorf("no document at %s", rawURL)
	}
	return data, nil
}

type fixture struct {
	orchestrator *Orchestrator
	index        *fakeIndex
	records      *store.MemoryAssistantStore
	locks        *lock.MemoryLocker
	bus          *events.MemoryPublisher
	fetcher      *fakeFetcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	metrics := observability.NewMetricsWithRegistry(prometheus.NewRegistry())

	f := &fixture{
		index:   &fakeIndex{},
		records: store.NewMemoryAssistantStore(),
		locks:   lock.NewMemoryLocker(time.Minute),
		bus:     events.NewMemoryPublisher(),
		fetcher: &fakeFetcher{data: map[string][]byte{
			"https://origin.example/d1.txt": []byte("transcript one"),
			"https://origin.example/d2.txt": []byte("transcript two"),
		}},
	}
	f.orchestrator = NewOrchestrator(f.locks, f.index, f.records, f.bus, f.fetcher, logger, metrics)
	f.orchestrator.newID = func() string { return "rec_1" }
	return f
}

func documentEnvelope(detailType, userID, documentID, url string) events.Envelope {
	detail, _ := json.Marshal(events.DocumentDetail{UserID: userID, DocumentID: documentID, URL: url})
	return events.Envelope{DetailType: detailType, Source: "canon.files", Detail: detail}
}

func TestHandleEventCreatesIndexOnFirstDocument(t *testing.T) {
	f := newFixture(t)

	err := f.orchestrator.HandleEvent(context.Background(),
		documentEnvelope(events.TypeFileCreated, "user_a", "doc_1", "https://origin.example/d1.txt"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	record, err := f.records.GetByUser(context.Background(), "user_a")
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if record.AssistantID != "asst_1" || record.VectorStoreID != "vs_1" {
		t.Fatalf("unexpected record %+v", record)
	}

	wantCalls := []string{"create", "upload:d1.txt", "attach:vs_1:file_d1.txt"}
	if got := strings.Join(f.index.calls, ","); got != strings.Join(wantCalls, ",") {
		t.Fatalf("call order %q, want %q", got, strings.Join(wantCalls, ","))
	}

	published := f.bus.Events()
	if len(published) != 1 || published[0].DetailType != events.TypeIndexUpdated {
		t.Fatalf("expected one index.updated event, got %+v", published)
	}
	updated := published[0].Detail.(events.IndexUpdated)
	if updated.StorageFileID != "file_d1.txt" || updated.VectorStoreFileID != "vsf_file_d1.txt" {
		t.Fatalf("unexpected completion detail %+v", updated)
	}
}

func TestHandleEventSecondDocumentRefreshesNotRecreates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.orchestrator.HandleEvent(ctx,
		documentEnvelope(events.TypeFileCreated, "user_a", "doc_1", "https://origin.example/d1.txt")); err != nil {
		t.Fatalf("first document: %v", err)
	}
	if err := f.orchestrator.HandleEvent(ctx,
		documentEnvelope(events.TypeEpisodeTranscribed, "user_a", "doc_2", "https://origin.example/d2.txt")); err != nil {
		t.Fatalf("second document: %v", err)
	}

	var creates, refreshes int
	for _, call := range f.index.calls {
		if call == "create" {
			creates++
		}
		if strings.HasPrefix(call, "refresh:") {
			refreshes++
		}
	}
	if creates != 1 || refreshes != 1 {
		t.Fatalf("expected 1 create and 1 refresh, got calls %v", f.index.calls)
	}
}

func TestHandleEventBackfillsMissingVectorStoreID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A record that predates vector stores.
	if err := f.records.Put(ctx, &store.AssistantRecord{
		ID: "rec_old", UserID: "user_a", AssistantID: "asst_legacy",
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	f.index.refreshVectorStoreID = "vs_backfilled"

	if err := f.orchestrator.HandleEvent(ctx,
		documentEnvelope(events.TypeFileCreated, "user_a", "doc_1", "https://origin.example/d1.txt")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	record, _ := f.records.GetByUser(ctx, "user_a")
	if record.VectorStoreID != "vs_backfilled" {
		t.Fatalf("vector store id not backfilled: %+v", record)
	}
}

func TestHandleEventLockBusyDefersWithoutErrorEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if acquired, err := f.locks.Acquire(ctx, "user_a"); err != nil || !acquired {
		t.Fatalf("pre-acquire lock: acquired=%v err=%v", acquired, err)
	}

	err := f.orchestrator.HandleEvent(ctx,
		documentEnvelope(events.TypeFileCreated, "user_a", "doc_1", "https://origin.example/d1.txt"))
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if len(f.index.calls) != 0 {
		t.Fatalf("no index calls expected while locked, got %v", f.index.calls)
	}
	if published := f.bus.Events(); len(published) != 0 {
		t.Fatalf("locked handling must not publish, got %+v", published)
	}
}

func TestHandleEventDifferentUsersProceedIndependently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if acquired, err := f.locks.Acquire(ctx, "user_a"); err != nil || !acquired {
		t.Fatalf("pre-acquire lock: acquired=%v err=%v", acquired, err)
	}

	if err := f.orchestrator.HandleEvent(ctx,
		documentEnvelope(events.TypeFileCreated, "user_b", "doc_1", "https://origin.example/d1.txt")); err != nil {
		t.Fatalf("other user's ingestion must proceed: %v", err)
	}
}

func TestHandleEventFailurePublishesIndexErrorAndReleasesLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.index.createErr = errors.New("assistant quota exceeded")

	err := f.orchestrator.HandleEvent(ctx,
		documentEnvelope(events.TypeFileCreated, "user_a", "doc_1", "https://origin.example/d1.txt"))
	if err == nil || errors.Is(err, ErrLocked) {
		t.Fatalf("expected propagated failure, got %v", err)
	}

	published := f.bus.Events()
	if len(published) != 1 || published[0].DetailType != events.TypeIndexError {
		t.Fatalf("expected one index.error event, got %+v", published)
	}
	detail := published[0].Detail.(events.IndexError)
	if detail.UserID != "user_a" || detail.DocumentID != "doc_1" || !strings.Contains(detail.Error, "quota") {
		t.Fatalf("unexpected error detail %+v", detail)
	}

	// The lock must have been released despite the failure.
	if acquired, err := f.locks.Acquire(ctx, "user_a"); err != nil || !acquired {
		t.Fatalf("lock not released after failure: acquired=%v err=%v", acquired, err)
	}
}

func TestHandleEventFetchFailureHappensAfterLockRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fetcher.err = errors.New("origin unreachable")

	err := f.orchestrator.HandleEvent(ctx,
		documentEnvelope(events.TypeFileCreated, "user_a", "doc_1", "https://origin.example/d1.txt"))
	if err == nil {
		t.Fatal("expected fetch failure to propagate")
	}

	// The index upsert succeeded before the fetch, so the record exists and a
	// redelivery will refresh rather than recreate.
	if _, err := f.records.GetByUser(ctx, "user_a"); err != nil {
		t.Fatalf("record should persist across fetch failure: %v", err)
	}
	if published := f.bus.Events(); len(published) != 1 || published[0].DetailType != events.TypeIndexError {
		t.Fatalf("expected index.error, got %+v", published)
	}
}

func removalEnvelope(detail events.RemovalDetail) events.Envelope {
	payload, _ := json.Marshal(detail)
	return events.Envelope{DetailType: events.TypeFileDeleted, Source: "canon.files", Detail: payload}
}

func TestHandleEventRemovalDetachesBeforeDelete(t *testing.T) {
	f := newFixture(t)

	err := f.orchestrator.HandleEvent(context.Background(), removalEnvelope(events.RemovalDetail{
		UserID: "user_a", DocumentID: "doc_1",
		StorageFileID: "file_1", VectorStoreID: "vs_1", VectorStoreFileID: "vsf_1",
	}))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	want := []string{"detach:vs_1:vsf_1", "delete:file_1"}
	if got := strings.Join(f.index.calls, ","); got != strings.Join(want, ",") {
		t.Fatalf("call order %q, want %q", got, strings.Join(want, ","))
	}
}

func TestHandleEventRemovalSkipsDeleteWhenDetachFails(t *testing.T) {
	f := newFixture(t)
	f.index.detachErr = errors.New("vector store unavailable")

	err := f.orchestrator.HandleEvent(context.Background(), removalEnvelope(events.RemovalDetail{
		UserID: "user_a", DocumentID: "doc_1",
		StorageFileID: "file_1", VectorStoreID: "vs_1", VectorStoreFileID: "vsf_1",
	}))
	if err == nil {
		t.Fatal("expected detach failure to propagate")
	}

	for _, call := range f.index.calls {
		if strings.HasPrefix(call, "delete:") {
			t.Fatalf("delete must not run after failed detach: %v", f.index.calls)
		}
	}
	if published := f.bus.Events(); len(published) != 1 || published[0].DetailType != events.TypeIndexError {
		t.Fatalf("expected index.error, got %+v", published)
	}
}

func TestHandleEventIgnoresUnknownDetailTypes(t *testing.T) {
	f := newFixture(t)

	err := f.orchestrator.HandleEvent(context.Background(), events.Envelope{
		DetailType: "billing.invoice.paid",
		Detail:     json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("unknown detail types must be dropped silently, got %v", err)
	}
	if len(f.index.calls) != 0 {
		t.Fatalf("no index calls expected, got %v", f.index.calls)
	}
}
