package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// multipartThreshold switches uploads to the multipart path. Monthly trade
// archives rarely cross it, but a long backlog flush can.
const multipartThreshold = 8 * 1024 * 1024

// Writer uploads archive objects into the client's bucket.
type Writer struct {
	c *Client
}

// NewWriter creates a Writer on the given client.
func NewWriter(c *Client) *Writer {
	return &Writer{c: c}
}

// Put uploads body under key. Payloads past multipartThreshold go through the
// concurrent multipart uploader, everything else is a single PutObject.
func (w *Writer) Put(ctx context.Context, key, contentType string, body []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	}

	if len(body) >= multipartThreshold {
		uploader := manager.NewUploader(w.c.s3)
		if _, err := uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
		}
		return nil
	}

	if _, err := w.c.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}
