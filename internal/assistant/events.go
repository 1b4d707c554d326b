package assistant

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

// EventType discriminates run stream events into the variants the run
// handler's transition table operates on.
type EventType int

const (
	// EventOther covers run lifecycle noise (queued, in_progress, step
	// events) that is neither forwarded nor acted on.
	EventOther EventType = iota

	// EventContentDelta is an incremental message content chunk.
	EventContentDelta

	// EventContentComplete marks a message created or completed.
	EventContentComplete

	// EventToolCallsRequired means the run is paused awaiting tool outputs.
	EventToolCallsRequired

	// EventRunCompleted is the successful terminal event.
	EventRunCompleted

	// EventRunFailed is the failed/cancelled/expired terminal event.
	EventRunFailed

	// EventStreamError is an error frame emitted by the reasoning service.
	EventStreamError
)

// Wire event names emitted by the reasoning service.
const (
	eventMessageDelta     = "thread.message.delta"
	eventMessageCreated   = "thread.message.created"
	eventMessageCompleted = "thread.message.completed"
	eventRunRequiresAct   = "thread.run.requires_action"
	eventRunCompleted     = "thread.run.completed"
	eventRunFailed        = "thread.run.failed"
	eventRunCancelled     = "thread.run.cancelled"
	eventRunExpired       = "thread.run.expired"
	eventRunStepFailed    = "thread.run.step.failed"
	eventError            = "error"
	eventDone             = "done"
)

// Event is one element of a run stream. Data carries the raw payload so
// content events can be forwarded to clients verbatim; Run is decoded for the
// run-level events the handler has to act on.
type Event struct {
	Type EventType
	Name string
	Data json.RawMessage
	Run  *openai.Run
}

// classifyEvent maps a wire event to its typed variant, decoding the run
// payload where the handler needs it.
func classifyEvent(name string, data json.RawMessage) Event {
	event := Event{Name: name, Data: data}
	switch name {
	case eventMessageDelta:
		event.Type = EventContentDelta
	case eventMessageCreated, eventMessageCompleted:
		event.Type = EventContentComplete
	case eventRunRequiresAct:
		event.Type = EventToolCallsRequired
		event.Run = decodeRun(data)
	case eventRunCompleted:
		event.Type = EventRunCompleted
		event.Run = decodeRun(data)
	case eventRunFailed, eventRunCancelled, eventRunExpired:
		event.Type = EventRunFailed
		event.Run = decodeRun(data)
	case eventRunStepFailed, eventError:
		event.Type = EventStreamError
	default:
		event.Type = EventOther
	}
	return event
}

func decodeRun(data json.RawMessage) *openai.Run {
	var run openai.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil
	}
	return &run
}

// ToolCalls extracts the requested tool calls from a tool-invocation-required
// event. Returns nil when the payload carries none.
func (e Event) ToolCalls() []openai.ToolCall {
	if e.Run == nil || e.Run.RequiredAction == nil || e.Run.RequiredAction.SubmitToolOutputs == nil {
		return nil
	}
	return e.Run.RequiredAction.SubmitToolOutputs.ToolCalls
}
