package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMediaObjectName(t *testing.T) {
	at := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)

	name := MediaObjectName(at, "conv-1", "mid-7", "")
	assert.Equal(t, "media/2025/03/conv-1/mid-7", name)

	name = MediaObjectName(at, "conv-1", "mid-7", "image/png")
	assert.True(t, strings.HasPrefix(name, "media/2025/03/conv-1/mid-7."))
}
