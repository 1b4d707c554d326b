package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxDocumentBytes bounds a single fetched document. The reasoning service
// rejects larger uploads anyway.
const maxDocumentBytes = 64 << 20

// Fetcher retrieves a source document by its origin URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// S3API is the subset of the S3 client the fetcher uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// DocumentFetcher fetches documents from https origins or s3:// object URLs.
type DocumentFetcher struct {
	client *http.Client
	s3     S3API
}

// NewDocumentFetcher creates a fetcher. s3Client may be nil when no s3://
// origins are configured.
func NewDocumentFetcher(client *http.Client, s3Client S3API) *DocumentFetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &DocumentFetcher{client: client, s3: s3Client}
}

// Fetch downloads the document at rawURL.
func (f *DocumentFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse document url %q: %w", rawURL, err)
	}

	switch parsed.Scheme {
	case "s3":
		return f.fetchS3(ctx, parsed)
	case "http", "https":
		return f.fetchHTTP(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unsupported document url scheme %q", parsed.Scheme)
	}
}

func (f *DocumentFetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build document request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch document: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read document body: %w", err)
	}
	return data, nil
}

func (f *DocumentFetcher) fetchS3(ctx context.Context, parsed *url.URL) ([]byte, error) {
	if f.s3 == nil {
		return nil, errors.New("s3 origin configured without an s3 client")
	}
	bucket := parsed.Host
	key := strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("malformed s3 url %q", parsed.String())
	}

	out, err := f.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}
