package indexer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/canonhq/canon/internal/events"
	"github.com/canonhq/canon/internal/observability"
)

// fakeQueue serves one scripted batch, then cancels the consumer.
type fakeQueue struct {
	cancel   context.CancelFunc
	messages []types.Message
	served   bool
	deleted  []string
}

func (q *fakeQueue) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if q.served {
		q.cancel()
		return &sqs.ReceiveMessageOutput{}, nil
	}
	q.served = true
	return &sqs.ReceiveMessageOutput{Messages: q.messages}, nil
}

func (q *fakeQueue) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.deleted = append(q.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

// scriptedHandler returns a fixed error per detail type.
type scriptedHandler struct {
	results map[string]error
	handled []string
}

func (h *scriptedHandler) HandleEvent(_ context.Context, envelope events.Envelope) error {
	h.handled = append(h.handled, envelope.DetailType)
	return h.results[envelope.DetailType]
}

func runConsumer(t *testing.T, queue *fakeQueue, handler EventHandler) {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	consumer, err := NewConsumer(queue, handler, ConsumerConfig{
		QueueURL: "https://sqs.test/ingest",
		WaitTime: time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	queue.cancel = cancel

	if err := consumer.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func message(receipt, body string) types.Message {
	return types.Message{ReceiptHandle: aws.String(receipt), Body: aws.String(body)}
}

func TestConsumerDeletesOnlyHandledMessages(t *testing.T) {
	queue := &fakeQueue{messages: []types.Message{
		message("r1", `{"detail-type":"file.created","source":"canon.files","detail":{"user_id":"u1","document_id":"d1","url":"https://x/d1"}}`),
		message("r2", `{"detail-type":"file.deleted","source":"canon.files","detail":{"user_id":"u1","document_id":"d2"}}`),
		message("r3", `{"detail-type":"episode.transcribed","source":"canon.podcasts","detail":{"user_id":"u2","document_id":"d3","url":"https://x/d3"}}`),
	}}
	handler := &scriptedHandler{results: map[string]error{
		events.TypeFileDeleted:        errors.New("vector store unavailable"),
		events.TypeEpisodeTranscribed: ErrLocked,
	}}

	runConsumer(t, queue, handler)

	if len(handler.handled) != 3 {
		t.Fatalf("expected 3 handled envelopes, got %v", handler.handled)
	}
	// Only the successful message is deleted; the failed and locked ones stay
	// for redelivery.
	if len(queue.deleted) != 1 || queue.deleted[0] != "r1" {
		t.Fatalf("unexpected deletions %v", queue.deleted)
	}
}

func TestConsumerDropsMalformedMessages(t *testing.T) {
	queue := &fakeQueue{messages: []types.Message{
		message("r1", `not json at all`),
	}}
	handler := &scriptedHandler{}

	runConsumer(t, queue, handler)

	if len(handler.handled) != 0 {
		t.Fatalf("malformed message must not reach the handler, got %v", handler.handled)
	}
	if len(queue.deleted) != 1 || queue.deleted[0] != "r1" {
		t.Fatalf("malformed message must be deleted, got %v", queue.deleted)
	}
}
