package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/voice.ogg":
			w.Header().Set("Content-Type", "audio/ogg")
			_, _ = w.Write([]byte("OggS-data"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b, ct, err := Fetch(context.Background(), srv.Client(), srv.URL+"/voice.ogg", 0)
	require.NoError(t, err)
	assert.Equal(t, "OggS-data", string(b))
	assert.Equal(t, "audio/ogg", ct)

	_, _, err = Fetch(context.Background(), srv.Client(), srv.URL+"/big", 16)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, _, err = Fetch(context.Background(), srv.Client(), srv.URL+"/missing", 0)
	assert.Error(t, err)
}
