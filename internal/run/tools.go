package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// PodcastAPI issues read-only queries against the podcast service on behalf
// of the caller, passing the caller's bearer credential through.
type PodcastAPI struct {
	baseURL string
	client  *http.Client
}

// NewPodcastAPI creates a client for the podcast service.
func NewPodcastAPI(baseURL string, client *http.Client) (*PodcastAPI, error) {
	if baseURL == "" {
		return nil, errors.New("podcast API base URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &PodcastAPI{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}, nil
}

// get performs an authorized GET and returns the raw JSON body.
func (p *PodcastAPI) get(ctx context.Context, path, credential string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("podcast API %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read podcast API response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("podcast API %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.RawMessage(body), nil
}

// PodcastFeedsTool lists the caller's podcast feeds.
type PodcastFeedsTool struct {
	api *PodcastAPI
}

// NewPodcastFeedsTool creates the feed-listing tool.
func NewPodcastFeedsTool(api *PodcastAPI) *PodcastFeedsTool {
	return &PodcastFeedsTool{api: api}
}

func (t *PodcastFeedsTool) Name() string { return "get_podcast_feeds" }

func (t *PodcastFeedsTool) Description() string {
	return "Gets the list of the user's podcast feeds."
}

func (t *PodcastFeedsTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *PodcastFeedsTool) Execute(ctx context.Context, _ json.RawMessage, credential string) (any, error) {
	return t.api.get(ctx, "/feeds", credential)
}

// PodcastEpisodesTool lists the episodes of one feed.
type PodcastEpisodesTool struct {
	api *PodcastAPI
}

// NewPodcastEpisodesTool creates the episode-listing tool.
func NewPodcastEpisodesTool(api *PodcastAPI) *PodcastEpisodesTool {
	return &PodcastEpisodesTool{api: api}
}

func (t *PodcastEpisodesTool) Name() string { return "get_podcast_episodes" }

func (t *PodcastEpisodesTool) Description() string {
	return "Gets the list of podcast episodes for a feed."
}

func (t *PodcastEpisodesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"feed_id": map[string]any{
				"type":        "string",
				"description": "The id of the podcast feed, as returned by get_podcast_feeds.",
			},
		},
		"required": []any{"feed_id"},
	}
}

func (t *PodcastEpisodesTool) Execute(ctx context.Context, args json.RawMessage, credential string) (any, error) {
	var params struct {
		FeedID string `json:"feed_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if params.FeedID == "" {
		return nil, errors.New("feed_id is required")
	}
	return t.api.get(ctx, "/feeds/"+params.FeedID+"/episodes", credential)
}
