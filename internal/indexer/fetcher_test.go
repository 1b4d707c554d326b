package indexer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	bucket string
	key    string
	body   []byte
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket = aws.ToString(params.Bucket)
	f.key = aws.ToString(params.Key)
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

func TestFetchHTTPOrigin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("transcript body"))
	}))
	defer server.Close()

	fetcher := NewDocumentFetcher(nil, nil)
	data, err := fetcher.Fetch(context.Background(), server.URL+"/docs/d1.txt")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "transcript body" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestFetchHTTPOriginErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	fetcher := NewDocumentFetcher(nil, nil)
	if _, err := fetcher.Fetch(context.Background(), server.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404 origin response")
	}
}

func TestFetchS3Origin(t *testing.T) {
	s3Client := &fakeS3{body: []byte("object body")}
	fetcher := NewDocumentFetcher(nil, s3Client)

	data, err := fetcher.Fetch(context.Background(), "s3://media-bucket/uploads/d1.txt")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "object body" {
		t.Fatalf("unexpected body %q", data)
	}
	if s3Client.bucket != "media-bucket" || s3Client.key != "uploads/d1.txt" {
		t.Fatalf("unexpected object reference %s/%s", s3Client.bucket, s3Client.key)
	}
}

func TestFetchRejectsUnknownScheme(t *testing.T) {
	fetcher := NewDocumentFetcher(nil, nil)
	if _, err := fetcher.Fetch(context.Background(), "ftp://host/file"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestFetchS3WithoutClient(t *testing.T) {
	fetcher := NewDocumentFetcher(nil, nil)
	if _, err := fetcher.Fetch(context.Background(), "s3://bucket/key"); err == nil {
		t.Fatal("expected error when no s3 client is configured")
	}
}
