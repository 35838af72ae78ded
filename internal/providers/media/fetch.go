// Package media downloads inbound attachments for transcription and
// archiving.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBytes bounds every download.
const MaxBytes = 10 << 20

var ErrTooLarge = errors.New("media: file exceeds size limit")

// Fetch downloads url and returns its body and content type. Bodies larger
// than limit fail with ErrTooLarge.
func Fetch(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if limit <= 0 {
		limit = MaxBytes
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("media: http %d", resp.StatusCode)
	}
	if resp.ContentLength > limit {
		return nil, "", ErrTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(b)) > limit {
		return nil, "", ErrTooLarge
	}
	return b, resp.Header.Get("Content-Type"), nil
}
