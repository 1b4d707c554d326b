package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/canonhq/canon/internal/events"
	"github.com/canonhq/canon/internal/observability"
)

// SQSAPI is the subset of the SQS client the consumer uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// EventHandler applies one ingestion envelope.
type EventHandler interface {
	HandleEvent(ctx context.Context, envelope events.Envelope) error
}

// ConsumerConfig configures the ingestion queue consumer.
type ConsumerConfig struct {
	QueueURL string

	// MaxMessages per receive. Default 5.
	MaxMessages int32

	// WaitTime for long polling. Default 20s.
	WaitTime time.Duration
}

// Consumer long-polls the ingestion queue and feeds envelopes to the handler.
//
// Delivery is at-least-once: a message is deleted only after the handler
// succeeds. ErrLocked and handler failures leave the message in place, so the
// queue's visibility timeout redelivers it.
type Consumer struct {
	client  SQSAPI
	handler EventHandler
	config  ConsumerConfig
	logger  *observability.Logger
}

// NewConsumer creates an ingestion consumer.
func NewConsumer(client SQSAPI, handler EventHandler, config ConsumerConfig, logger *observability.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}
	if handler == nil {
		return nil, errors.New("event handler is required")
	}
	if config.QueueURL == "" {
		return nil, errors.New("queue url is required")
	}
	if config.MaxMessages <= 0 {
		config.MaxMessages = 5
	}
	if config.WaitTime <= 0 {
		config.WaitTime = 20 * time.Second
	}
	return &Consumer{client: client, handler: handler, config: config, logger: logger}, nil
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info(ctx, "ingestion consumer started", "queue", c.config.QueueURL)

	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info(ctx, "ingestion consumer stopping")
			return nil
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.config.QueueURL),
			MaxNumberOfMessages: c.config.MaxMessages,
			WaitTimeSeconds:     int32(c.config.WaitTime / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error(ctx, "receive messages", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, message := range out.Messages {
			c.process(ctx, message.Body, message.ReceiptHandle)
		}
	}
}

// process handles one queue message and deletes it only on success.
func (c *Consumer) process(ctx context.Context, body, receiptHandle *string) {
	if body == nil {
		c.delete(ctx, receiptHandle)
		return
	}

	var envelope events.Envelope
	if err := json.Unmarshal([]byte(*body), &envelope); err != nil {
		// Malformed messages never become valid; drop them.
		c.logger.Error(ctx, "malformed event envelope, dropping", "error", err)
		c.delete(ctx, receiptHandle)
		return
	}

	err := c.handler.HandleEvent(ctx, envelope)
	switch {
	case err == nil:
		c.delete(ctx, receiptHandle)
	case errors.Is(err, ErrLocked):
		c.logger.Info(ctx, "event deferred for redelivery", "detail_type", envelope.DetailType)
	default:
		c.logger.Error(ctx, "event handling failed, leaving for redelivery", "detail_type", envelope.DetailType, "error", err)
	}
}

func (c *Consumer) delete(ctx context.Context, receiptHandle *string) {
	if receiptHandle == nil {
		return
	}
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.config.QueueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		c.logger.Error(ctx, "delete message", "error", err)
	}
}
