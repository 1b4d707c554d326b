package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/canonhq/canon/internal/assistant"
	"github.com/canonhq/canon/internal/observability"
)

// State is the run handler's position in its lifecycle.
type State int

const (
	// StateStreaming relays content events to the output stream.
	StateStreaming State = iota

	// StateAwaitingTools executes requested tool calls before resuming.
	StateAwaitingTools

	// StateDone is the successful terminal state.
	StateDone

	// StateFailed is the failed terminal state.
	StateFailed
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateAwaitingTools:
		return "awaiting_tools"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrRunFailed is returned when a run reaches the failed terminal state. The
// handler does not retry; the client starts a new run if it wants one.
var ErrRunFailed = errors.New("run failed")

// Resumer submits a tool-output batch and returns the resumed run's stream.
type Resumer interface {
	StreamToolOutputs(ctx context.Context, threadID, runID string, outputs []openai.ToolOutput) (assistant.EventStream, error)
}

// ToolRunner executes a batch of tool calls, one output per call id.
type ToolRunner interface {
	ExecuteAll(ctx context.Context, calls []openai.ToolCall, credential string) []openai.ToolOutput
}

// Handler drains one run's event stream, relaying content to the client and
// servicing tool-invocation pauses. One handler instance serves exactly one
// run and is not reused.
type Handler struct {
	resumer    Resumer
	tools      ToolRunner
	out        io.Writer
	credential string

	state   State
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewHandler creates a handler writing newline-delimited JSON records to out.
// credential is the caller credential captured at session creation, threaded
// into every tool invocation.
func NewHandler(resumer Resumer, tools ToolRunner, out io.Writer, credential string, logger *observability.Logger, metrics *observability.Metrics) *Handler {
	return &Handler{
		resumer:    resumer,
		tools:      tools,
		out:        out,
		credential: credential,
		state:      StateStreaming,
		logger:     logger,
		metrics:    metrics,
	}
}

// State reports the handler's current state.
func (h *Handler) State() State {
	return h.state
}

// Drain consumes the stream until a terminal transition. On failure it
// writes exactly one {"error"} record and returns ErrRunFailed (wrapped); the
// output stream receives no further records either way. A write failure on
// the output stream means the client went away: that is a normal terminal
// condition, logged and absorbed, not escalated.
func (h *Handler) Drain(ctx context.Context, stream assistant.EventStream) error {
	defer func() {
		// The active stream may have been swapped by a resume; this closes
		// whichever one is live at exit.
		stream.Close()
	}()

	for {
		event, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				// The segment ended without a terminal run event.
				return h.fail(ctx, errors.New("run stream ended unexpectedly"))
			}
			return h.fail(ctx, err)
		}

		h.metrics.RunEventCounter.WithLabelValues(event.Name).Inc()

		switch event.Type {
		case assistant.EventContentDelta, assistant.EventContentComplete:
			if err := h.forward(event); err != nil {
				h.logger.Info(ctx, "client disconnected, stopping run relay", "error", err, "state", h.state.String())
				h.state = StateDone
				h.metrics.RunCounter.WithLabelValues("done").Inc()
				return nil
			}

		case assistant.EventToolCallsRequired:
			next, err := h.resume(ctx, event)
			if err != nil {
				return h.fail(ctx, err)
			}
			stream.Close()
			stream = next

		case assistant.EventRunCompleted:
			h.state = StateDone
			h.metrics.RunCounter.WithLabelValues("done").Inc()
			h.logger.Info(ctx, "run completed")
			return nil

		case assistant.EventRunFailed:
			return h.fail(ctx, runError(event))

		case assistant.EventStreamError:
			return h.fail(ctx, fmt.Errorf("reasoning service error: %s", string(event.Data)))

		case assistant.EventOther:
			// Lifecycle noise; not forwarded.
		}
	}
}

// resume executes the requested tool calls and submits the full batch as one
// resume operation, yielding the continuation stream.
func (h *Handler) resume(ctx context.Context, event assistant.Event) (assistant.EventStream, error) {
	if event.Run == nil {
		return nil, errors.New("tool invocation event without run payload")
	}
	h.state = StateAwaitingTools
	h.logger.Info(ctx, "run requires tool outputs", "run_id", event.Run.ID, "calls", len(event.ToolCalls()))

	outputs := h.tools.ExecuteAll(ctx, event.ToolCalls(), h.credential)

	next, err := h.resumer.StreamToolOutputs(ctx, event.Run.ThreadID, event.Run.ID, outputs)
	if err != nil {
		return nil, fmt.Errorf("submit tool outputs: %w", err)
	}
	h.state = StateStreaming
	return next, nil
}

// forward writes one event verbatim as a newline-delimited JSON record.
func (h *Handler) forward(event assistant.Event) error {
	if _, err := h.out.Write(append(event.Data, '\n')); err != nil {
		return err
	}
	if flusher, ok := h.out.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// fail performs the failed terminal transition: one error record, then stop.
func (h *Handler) fail(ctx context.Context, cause error) error {
	h.state = StateFailed
	h.metrics.RunCounter.WithLabelValues("failed").Inc()
	h.logger.Error(ctx, "run failed", "error", cause)

	record, err := json.Marshal(map[string]string{"error": cause.Error()})
	if err == nil {
		if _, writeErr := h.out.Write(append(record, '\n')); writeErr == nil {
			if flusher, ok := h.out.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrRunFailed, cause)
}

// runError extracts the failure detail from a run-failed event.
func runError(event assistant.Event) error {
	if event.Run != nil && event.Run.LastError != nil && event.Run.LastError.Message != "" {
		return fmt.Errorf("run failed: %s", event.Run.LastError.Message)
	}
	return fmt.Errorf("run failed: %s", event.Name)
}
