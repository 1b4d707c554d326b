package run

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newPodcastServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		switch {
		case r.URL.Path == "/feeds":
			w.Write([]byte(`{"feeds":[{"id":"feed_1","title":"Daily"}]}`))
		case strings.HasSuffix(r.URL.Path, "/episodes"):
			w.Write([]byte(`{"episodes":[{"id":"ep_1"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	return server, &paths
}

func TestPodcastFeedsToolPassesCredential(t *testing.T) {
	server, paths := newPodcastServer(t)
	defer server.Close()

	api, err := NewPodcastAPI(server.URL, nil)
	if err != nil {
		t.Fatalf("NewPodcastAPI: %v", err)
	}
	tool := NewPodcastFeedsTool(api)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`), "user-token")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	raw, _ := result.(json.RawMessage)
	if !strings.Contains(string(raw), "feed_1") {
		t.Fatalf("unexpected response %s", raw)
	}
	if len(*paths) != 1 || (*paths)[0] != "/feeds" {
		t.Fatalf("unexpected request paths %v", *paths)
	}
}

func TestPodcastEpisodesToolRequiresFeedID(t *testing.T) {
	server, _ := newPodcastServer(t)
	defer server.Close()

	api, err := NewPodcastAPI(server.URL, nil)
	if err != nil {
		t.Fatalf("NewPodcastAPI: %v", err)
	}
	tool := NewPodcastEpisodesTool(api)

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`), "user-token"); err == nil {
		t.Fatal("expected missing feed_id to fail")
	}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"feed_id":"feed_1"}`), "user-token")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	raw, _ := result.(json.RawMessage)
	if !strings.Contains(string(raw), "ep_1") {
		t.Fatalf("unexpected response %s", raw)
	}
}

func TestPodcastAPISurfacesUpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"expired token"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	api, err := NewPodcastAPI(server.URL, nil)
	if err != nil {
		t.Fatalf("NewPodcastAPI: %v", err)
	}
	tool := NewPodcastFeedsTool(api)

	_, err = tool.Execute(context.Background(), json.RawMessage(`{}`), "user-token")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status error, got %v", err)
	}
}
