// Package assistant wraps the reasoning service: per-user knowledge indexes
// (assistant + vector store), document attachment, conversation threads, and
// streaming runs.
package assistant

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/canonhq/canon/internal/retry"
)

// Defaults for newly created knowledge indexes.
const (
	DefaultModel        = "gpt-4-turbo"
	DefaultName         = "Author Assistant"
	DefaultInstructions = "You are an authors assistant. You have access to the authors podcast transcripts and files, and tools to look up their podcast feeds and episodes."
	vectorStoreName     = "Documents"
)

// ClientConfig configures the knowledge index client.
type ClientConfig struct {
	// APIKey authenticates against the reasoning service.
	APIKey string

	// BaseURL overrides the API base URL (tests, proxies).
	BaseURL string

	// Model is the reasoning model backing new assistants.
	Model string

	// Name and Instructions define the assistant profile. Instructions are
	// reapplied on every index refresh so existing assistants pick up the
	// current version.
	Name         string
	Instructions string

	// Tools is the function-tool manifest advertised to the reasoning
	// service. It must be built from the tool executor's registry so names
	// never drift from what the executor can dispatch.
	Tools []openai.AssistantTool

	// Retry controls retries of transient upstream failures.
	Retry retry.Config
}

// Client is the knowledge index client. One logical index (assistant +
// vector store) exists per user; callers serialize index mutations through
// the lock service.
type Client struct {
	api *openai.Client
	cfg ClientConfig
}

// NewClient creates a knowledge index client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	cfg.Retry.Retryable = retry.IsUpstreamTransient

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = cfg.BaseURL
	}

	return &Client{api: openai.NewClientWithConfig(apiConfig), cfg: cfg}
}

// assistantTools is the full tool manifest: retrieval over the vector store
// plus the function tools.
func (c *Client) assistantTools() []openai.AssistantTool {
	tools := []openai.AssistantTool{{Type: openai.AssistantToolTypeFileSearch}}
	return append(tools, c.cfg.Tools...)
}

// CreateIndex creates a new assistant with its backing vector store and binds
// the two. Returns both ids.
func (c *Client) CreateIndex(ctx context.Context) (assistantID, vectorStoreID string, err error) {
	name := c.cfg.Name
	instructions := c.cfg.Instructions

	created, err := c.api.CreateAssistant(ctx, openai.AssistantRequest{
		Model:        c.cfg.Model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        c.assistantTools(),
	})
	if err != nil {
		return "", "", fmt.Errorf("create assistant: %w", err)
	}

	vectorStore, err := c.api.CreateVectorStore(ctx, openai.VectorStoreRequest{Name: vectorStoreName})
	if err != nil {
		return "", "", fmt.Errorf("create vector store: %w", err)
	}

	if err := c.bindVectorStore(ctx, created.ID, vectorStore.ID); err != nil {
		return "", "", err
	}
	return created.ID, vectorStore.ID, nil
}

// RefreshIndex brings an existing assistant up to the current instructions
// and tool manifest, and returns its vector store id — creating and binding
// one if the assistant predates vector stores.
func (c *Client) RefreshIndex(ctx context.Context, assistantID string) (vectorStoreID string, err error) {
	name := c.cfg.Name
	instructions := c.cfg.Instructions

	if _, err := c.api.ModifyAssistant(ctx, assistantID, openai.AssistantRequest{
		Model:        c.cfg.Model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        c.assistantTools(),
	}); err != nil {
		return "", fmt.Errorf("update assistant %q: %w", assistantID, err)
	}

	vectorStoreID, err = c.vectorStoreID(ctx, assistantID)
	if err != nil {
		return "", err
	}
	if vectorStoreID != "" {
		return vectorStoreID, nil
	}

	vectorStore, err := c.api.CreateVectorStore(ctx, openai.VectorStoreRequest{Name: vectorStoreName})
	if err != nil {
		return "", fmt.Errorf("create vector store: %w", err)
	}
	if err := c.bindVectorStore(ctx, assistantID, vectorStore.ID); err != nil {
		return "", err
	}
	return vectorStore.ID, nil
}

func (c *Client) bindVectorStore(ctx context.Context, assistantID, vectorStoreID string) error {
	_, err := c.api.ModifyAssistant(ctx, assistantID, openai.AssistantRequest{
		Model: c.cfg.Model,
		ToolResources: &openai.AssistantToolResource{
			FileSearch: &openai.AssistantToolFileSearch{
				VectorStoreIDs: []string{vectorStoreID},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("bind vector store %q to assistant %q: %w", vectorStoreID, assistantID, err)
	}
	return nil
}

func (c *Client) vectorStoreID(ctx context.Context, assistantID string) (string, error) {
	asst, err := c.api.RetrieveAssistant(ctx, assistantID)
	if err != nil {
		return "", fmt.Errorf("retrieve assistant %q: %w", assistantID, err)
	}
	if asst.ToolResources == nil || asst.ToolResources.FileSearch == nil {
		return "", nil
	}
	ids := asst.ToolResources.FileSearch.VectorStoreIDs
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// UploadDocument uploads document bytes to the reasoning service's file
// store. Transient upstream failures are retried.
func (c *Client) UploadDocument(ctx context.Context, name string, data []byte) (fileID string, err error) {
	var file openai.File
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		var opErr error
		file, opErr = c.api.CreateFileBytes(ctx, openai.FileBytesRequest{
			Name:    name,
			Bytes:   data,
			Purpose: openai.PurposeAssistants,
		})
		return opErr
	})
	if err != nil {
		return "", fmt.Errorf("upload document %q: %w", name, err)
	}
	return file.ID, nil
}

// DeleteDocument removes a document from the file store.
func (c *Client) DeleteDocument(ctx context.Context, fileID string) error {
	if err := c.api.DeleteFile(ctx, fileID); err != nil {
		return fmt.Errorf("delete file %q: %w", fileID, err)
	}
	return nil
}

// AttachDocument adds an uploaded file to the vector store and returns the
// membership id.
func (c *Client) AttachDocument(ctx context.Context, vectorStoreID, fileID string) (membershipID string, err error) {
	vsFile, err := c.api.CreateVectorStoreFile(ctx, vectorStoreID, openai.VectorStoreFileRequest{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("attach file %q to vector store %q: %w", fileID, vectorStoreID, err)
	}
	return vsFile.ID, nil
}

// DetachDocument removes a vector store membership. Callers must detach
// before deleting the underlying file, never the other way around.
func (c *Client) DetachDocument(ctx context.Context, vectorStoreID, membershipID string) error {
	if err := c.api.DeleteVectorStoreFile(ctx, vectorStoreID, membershipID); err != nil {
		return fmt.Errorf("detach file %q from vector store %q: %w", membershipID, vectorStoreID, err)
	}
	return nil
}

// CreateThread opens a new conversation thread.
func (c *Client) CreateThread(ctx context.Context) (threadID string, err error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// AddUserMessage appends a user message to a thread.
func (c *Client) AddUserMessage(ctx context.Context, threadID, text string) error {
	if text == "" {
		return errors.New("message text is required")
	}
	_, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return fmt.Errorf("add message to thread %q: %w", threadID, err)
	}
	return nil
}
