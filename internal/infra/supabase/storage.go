package supabase

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Upload stores an object in a storage bucket (implements port.BlobStorage).
func (c *Client) Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) error {
	ctx, span := tracer.Start(ctx, "Supabase.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("storage.bucket", bucket))

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read upload body: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	objectPath := fmt.Sprintf("storage/v1/object/%s/%s", bucket, strings.TrimLeft(path, "/"))
	err = c.call(ctx, "supabase/storage", func() error {
		_, err := c.doRequest(ctx, http.MethodPost, objectPath, data, map[string]string{
			"Content-Type": contentType,
			"x-upsert":     "false",
		})
		return err
	})
	if err != nil {
		return err
	}

	c.logger.Info("object uploaded",
		zap.String("bucket", bucket),
		zap.String("path", path),
		zap.Int("bytes", len(data)),
	)
	return nil
}
