// Package evidence captures visual proof for serious findings: the page a
// finding points at is revisited and screenshotted, and the image is stored
// in a blob store whose URI lands on the finding row.
package evidence

import (
	"context"
	"io"
)

// BlobStore persists captured artifacts and returns a stable URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
