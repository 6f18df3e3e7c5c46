package bootstrap

import (
	"context"
	"io"
	"net/http"

	"fixmate/pkg/errors"
)

// disabledStorage rejects uploads when no bucket is configured.
type disabledStorage struct{}

func (disabledStorage) Upload(ctx context.Context, path, contentType string, content io.Reader) (string, error) {
	return "", errors.New("STORAGE_DISABLED", "Attachments are not enabled on this server", http.StatusServiceUnavailable, nil)
}

func (disabledStorage) Delete(ctx context.Context, url string) error {
	return nil
}
