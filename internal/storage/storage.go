package storage

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"
	"time"
)

type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

// MediaObjectName builds the archive key of an inbound attachment:
// media/<yyyy>/<mm>/<conversation>/<message><ext>.
func MediaObjectName(at time.Time, conversationID, messageID, contentType string) string {
	ext := ""
	if ct := strings.TrimSpace(strings.Split(contentType, ";")[0]); ct != "" {
		if exts, err := mime.ExtensionsByType(ct); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return path.Join("media", at.UTC().Format("2006/01"), conversationID, messageID+ext)
}
