package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

// Publisher emits completion events onto the bus.
type Publisher interface {
	Publish(ctx context.Context, detailType string, detail any) error
}

// EventBridgeAPI is the subset of the EventBridge client the publisher uses.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// BusPublisher publishes events to an EventBridge bus.
type BusPublisher struct {
	client EventBridgeAPI
	bus    string
	source string
}

// NewBusPublisher creates a publisher for the given bus and source.
func NewBusPublisher(client EventBridgeAPI, bus, source string) (*BusPublisher, error) {
	if client == nil {
		return nil, errors.New("eventbridge client is required")
	}
	if bus == "" {
		return nil, errors.New("bus name is required")
	}
	if source == "" {
		return nil, errors.New("event source is required")
	}
	return &BusPublisher{client: client, bus: bus, source: source}, nil
}

// Publish marshals detail and puts a single entry on the bus. Entries the bus
// rejected individually are reported as errors; PutEvents does not fail the
// whole call for them.
func (p *BusPublisher) Publish(ctx context.Context, detailType string, detail any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal %s detail: %w", detailType, err)
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			EventBusName: aws.String(p.bus),
			Source:       aws.String(p.source),
			DetailType:   aws.String(detailType),
			Detail:       aws.String(string(payload)),
		}},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", detailType, err)
	}
	if out.FailedEntryCount > 0 {
		for _, entry := range out.Entries {
			if entry.ErrorCode != nil {
				return fmt.Errorf("publish %s: entry rejected: %s", detailType, aws.ToString(entry.ErrorMessage))
			}
		}
		return fmt.Errorf("publish %s: %d entries rejected", detailType, out.FailedEntryCount)
	}
	return nil
}

// PublishedEvent is one event captured by MemoryPublisher.
type PublishedEvent struct {
	DetailType string
	Detail     any
}

// MemoryPublisher records published events in memory. Test double.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent

	// Err, when set, is returned from Publish.
	Err error
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records the event.
func (p *MemoryPublisher) Publish(_ context.Context, detailType string, detail any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, PublishedEvent{DetailType: detailType, Detail: detail})
	return nil
}

// Events returns a snapshot of everything published so far.
func (p *MemoryPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishedEvent, len(p.events))
	copy(out, p.events)
	return out
}
