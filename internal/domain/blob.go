package domain

import (
	"context"
	"io"
)

// BlobWriter stores archive objects (JSONL batches of quotes and trades).
// path is relative to the writer's configured bucket prefix.
type BlobWriter interface {
	// Put stores small objects in a single request.
	Put(ctx context.Context, path string, body io.Reader, contentType string) error
	// PutMultipart streams large archives in parts of at least partSize bytes.
	PutMultipart(ctx context.Context, path string, body io.Reader, partSize int64) error
}
