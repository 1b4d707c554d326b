// Package run drives one streaming conversation run: the event state machine
// that relays content to the client and the tool executor that services
// tool-invocation pauses.
package run

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"

	"github.com/canonhq/canon/internal/observability"
)

// Tool is one named external-data capability the reasoning service may
// invoke mid-run. The caller credential is threaded through so tools can
// authorize their own downstream calls.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON-schema-shaped argument spec advertised in
	// the assistant's tool manifest.
	Parameters() map[string]any
	Execute(ctx context.Context, args json.RawMessage, credential string) (any, error)
}

// ExecutorConfig configures tool execution.
type ExecutorConfig struct {
	// PerToolTimeout bounds each tool invocation. Default 30s.
	PerToolTimeout time.Duration
}

// Executor dispatches tool calls against a fixed registry populated at
// construction time. The registry is closed: tools cannot be added or
// removed after startup, which keeps the advertised manifest and the
// dispatch table the same set by construction.
type Executor struct {
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	order   []string

	config  ExecutorConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewExecutor builds the registry and compiles each tool's argument schema.
func NewExecutor(logger *observability.Logger, metrics *observability.Metrics, config ExecutorConfig, tools ...Tool) (*Executor, error) {
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}

	executor := &Executor{
		tools:   make(map[string]Tool, len(tools)),
		schemas: make(map[string]*jsonschema.Schema, len(tools)),
		config:  config,
		logger:  logger,
		metrics: metrics,
	}

	for _, tool := range tools {
		name := tool.Name()
		if _, exists := executor.tools[name]; exists {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		executor.tools[name] = tool
		executor.order = append(executor.order, name)

		params := tool.Parameters()
		if params == nil {
			continue
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %q parameter schema: %w", name, err)
		}
		compiler := jsonschema.NewCompiler()
		resource := name + ".schema.json"
		if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add %q parameter schema: %w", name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("compile %q parameter schema: %w", name, err)
		}
		executor.schemas[name] = schema
	}

	sort.Strings(executor.order)
	return executor, nil
}

// Manifest returns the function-tool definitions to advertise at assistant
// creation/update time. Built from the same registry Execute dispatches
// against, so the two cannot drift.
func (e *Executor) Manifest() []openai.AssistantTool {
	manifest := make([]openai.AssistantTool, 0, len(e.order))
	for _, name := range e.order {
		tool := e.tools[name]
		manifest = append(manifest, openai.AssistantTool{
			Type: openai.AssistantToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return manifest
}

// ExecuteAll runs every requested call concurrently and returns exactly one
// output per call id, in the input order. A failing call contributes an
// error payload instead of aborting the batch; an unrecognized name
// contributes an empty placeholder, since the resume protocol requires an
// output for every call id.
func (e *Executor) ExecuteAll(ctx context.Context, calls []openai.ToolCall, credential string) []openai.ToolOutput {
	outputs := make([]openai.ToolOutput, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call openai.ToolCall) {
			defer wg.Done()
			outputs[idx] = openai.ToolOutput{
				ToolCallID: call.ID,
				Output:     e.executeOne(ctx, call, credential),
			}
		}(i, call)
	}
	wg.Wait()

	return outputs
}

// executeOne produces the output payload for a single call. Never panics the
// batch: all failure modes collapse into an error payload.
func (e *Executor) executeOne(ctx context.Context, call openai.ToolCall, credential string) string {
	name := call.Function.Name
	start := time.Now()

	tool, ok := e.tools[name]
	if !ok {
		e.logger.Warn(ctx, "unknown tool requested", "tool", name, "call_id", call.ID)
		e.metrics.ToolExecutionCounter.WithLabelValues(name, "error").Inc()
		return ""
	}

	args := json.RawMessage(call.Function.Arguments)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	if schema := e.schemas[name]; schema != nil {
		var decoded any
		if err := json.Unmarshal(args, &decoded); err != nil {
			return e.failure(ctx, name, call.ID, start, fmt.Errorf("invalid arguments: %w", err))
		}
		if err := schema.Validate(decoded); err != nil {
			return e.failure(ctx, name, call.ID, start, fmt.Errorf("arguments do not match schema: %w", err))
		}
	}

	toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()

	result, err := tool.Execute(toolCtx, args, credential)
	if err != nil {
		return e.failure(ctx, name, call.ID, start, err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return e.failure(ctx, name, call.ID, start, fmt.Errorf("marshal result: %w", err))
	}

	e.metrics.ToolExecutionCounter.WithLabelValues(name, "success").Inc()
	e.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	e.logger.Debug(ctx, "tool executed", "tool", name, "call_id", call.ID)
	return string(payload)
}

// failure logs the error and returns it as the call's output payload.
func (e *Executor) failure(ctx context.Context, name, callID string, start time.Time, err error) string {
	e.logger.Error(ctx, "tool execution failed", "tool", name, "call_id", callID, "error", err)
	e.metrics.ToolExecutionCounter.WithLabelValues(name, "error").Inc()
	e.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return `{"error":"tool execution failed"}`
	}
	return string(payload)
}
