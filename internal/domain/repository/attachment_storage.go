package repository

import (
	"context"
	"io"
)

type AttachmentStorage interface {
	// Upload stores the object at path and returns its public URL.
	Upload(ctx context.Context, path, contentType string, content io.Reader) (string, error)
	Delete(ctx context.Context, url string) error
}
