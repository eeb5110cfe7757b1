package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// minPartSize is the minimum allowed part size for S3 multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// defaultContentType is used for archive objects when the caller passes none.
const defaultContentType = "application/x-ndjson"

// Writer implements domain.BlobWriter using an S3-compatible backend. Every
// object is tagged with the writing engine in its metadata.
type Writer struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewWriter creates a Writer for the client's bucket and key prefix.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
		prefix: c.Prefix(),
	}
}

// objectKey joins the configured prefix and path. Leading slashes in path
// are dropped so keys never contain an empty segment.
func (w *Writer) objectKey(path string) (string, error) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return "", errors.New("s3blob: empty object path")
	}
	return w.prefix + path, nil
}

// Put uploads data as a single PutObject request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	key, err := w.objectKey(path)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	_, err = w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
		Metadata:    objectMetadata(),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

// PutMultipart uploads data with the multipart upload manager. partSize is
// clamped to the S3 minimum of 5 MiB.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	key, err := w.objectKey(path)
	if err != nil {
		return err
	}
	if partSize < minPartSize {
		partSize = minPartSize
	}

	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(defaultContentType),
		Metadata:    objectMetadata(),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

func objectMetadata() map[string]string {
	return map[string]string{"writer": "arbengine"}
}

var _ domain.BlobWriter = (*Writer)(nil)
