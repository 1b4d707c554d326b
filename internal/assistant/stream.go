package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// The SDK used for the rest of the reasoning-service surface has no
// assistants streaming support, so the run stream is consumed over SSE
// directly against the same API.

const defaultBaseURL = "https://api.openai.com/v1"

// EventStream is a live sequence of run events. Recv returns io.EOF when the
// current stream segment ends.
type EventStream interface {
	Recv() (Event, error)
	Close() error
}

// StreamerConfig configures the SSE run streamer.
type StreamerConfig struct {
	// APIKey authenticates against the reasoning service.
	APIKey string

	// BaseURL overrides the API base URL (tests, proxies).
	BaseURL string

	// HTTPClient overrides the transport. The default has no overall timeout;
	// run streams are long-lived and bounded by the request context instead.
	HTTPClient *http.Client
}

// Streamer opens streaming runs and streaming tool-output resumptions.
type Streamer struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewStreamer creates an SSE run streamer.
func NewStreamer(cfg StreamerConfig) *Streamer {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 60 * time.Second}}
	}
	return &Streamer{apiKey: cfg.APIKey, baseURL: baseURL, client: client}
}

type runStreamRequest struct {
	openai.RunRequest
	Stream bool `json:"stream"`
}

type toolOutputsStreamRequest struct {
	ToolOutputs []openai.ToolOutput `json:"tool_outputs"`
	Stream      bool                `json:"stream"`
}

// StreamRun starts a run on the thread and returns its event stream.
func (s *Streamer) StreamRun(ctx context.Context, threadID string, req openai.RunRequest) (EventStream, error) {
	path := fmt.Sprintf("/threads/%s/runs", threadID)
	return s.post(ctx, path, runStreamRequest{RunRequest: req, Stream: true})
}

// StreamToolOutputs submits one batch of tool outputs for a paused run and
// returns the resumed run's event stream.
func (s *Streamer) StreamToolOutputs(ctx context.Context, threadID, runID string, outputs []openai.ToolOutput) (EventStream, error) {
	path := fmt.Sprintf("/threads/%s/runs/%s/submit_tool_outputs", threadID, runID)
	return s.post(ctx, path, toolOutputsStreamRequest{ToolOutputs: outputs, Stream: true})
}

func (s *Streamer) post(ctx context.Context, path string, body any) (EventStream, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open run stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("open run stream: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return &runStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// runStream reads SSE frames off one HTTP response body.
type runStream struct {
	body      io.ReadCloser
	reader    *bufio.Reader
	eventName string
}

// Recv returns the next event. The service emits frames as an "event:" line
// followed by a "data:" line; a "done" frame or body EOF ends the segment.
func (s *runStream) Recv() (Event, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("read run stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if name, ok := bytes.CutPrefix(line, []byte("event: ")); ok {
			s.eventName = string(name)
			continue
		}

		data, ok := bytes.CutPrefix(line, []byte("data: "))
		if !ok {
			continue
		}
		if s.eventName == eventDone || bytes.Equal(data, []byte("[DONE]")) {
			return Event{}, io.EOF
		}

		// Copy out of the reader's buffer before the next read reuses it.
		payload := make(json.RawMessage, len(data))
		copy(payload, data)
		return classifyEvent(s.eventName, payload), nil
	}
}

// Close releases the underlying response body.
func (s *runStream) Close() error {
	return s.body.Close()
}
