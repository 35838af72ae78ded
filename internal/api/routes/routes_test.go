package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/dmcommerce/internal/api/handlers"
	"github.com/yoockh/dmcommerce/internal/api/middleware"
	"github.com/yoockh/dmcommerce/internal/logger"
	"github.com/yoockh/dmcommerce/internal/services"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPayload = `{"sender":"u1","receiver":"page-1","message_type":"text","text":"سلام","message_id":"m1"}`

type fakeQueue struct {
	mu  sync.Mutex
	got []string
	err error
}

func (f *fakeQueue) Enqueue(_ context.Context, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, string(raw))
	return nil
}

type fakeCatalog struct {
	calls int
	err   error
}

func (f *fakeCatalog) Invalidate(context.Context) error {
	f.calls++
	return f.err
}

type fakeProcessor struct {
	done chan string
}

func (f *fakeProcessor) Handle(_ context.Context, raw []byte) services.Outcome {
	f.done <- string(raw)
	return services.Outcome{Status: services.OutcomeReplied}
}

func newRouter(q handlers.Queue, p handlers.Processor, ping handlers.Pinger, secret string) *gin.Engine {
	return newRouterWithCatalog(q, p, ping, secret, &fakeCatalog{})
}

func newRouterWithCatalog(q handlers.Queue, p handlers.Processor, ping handlers.Pinger, secret string, catalog *fakeCatalog) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestLogger(logger.Discard(), "/healthz"))
	RegisterRoutes(r, Deps{
		Health:        handlers.NewHealthHandler(ping),
		Webhook:       handlers.NewWebhookHandler(q, p, handlers.WebhookConfig{MaxInline: 1}, logger.Discard()),
		Catalog:       handlers.NewCatalogHandler(catalog),
		Metrics:       http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		WebhookSecret: secret,
	})
	return r
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookQueuesPayload(t *testing.T) {
	q := &fakeQueue{}
	r := newRouter(q, &fakeProcessor{done: make(chan string, 1)}, nil, "")

	w := do(r, http.MethodPost, "/webhook", validPayload, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "queued")
	assert.Equal(t, []string{validPayload}, q.got)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestWebhookFallsBackInline(t *testing.T) {
	proc := &fakeProcessor{done: make(chan string, 1)}
	r := newRouter(&fakeQueue{err: errors.New("redis down")}, proc, nil, "")

	w := do(r, http.MethodPost, "/webhook", validPayload, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "accepted")

	select {
	case got := <-proc.done:
		assert.Equal(t, validPayload, got)
	case <-time.After(time.Second):
		t.Fatal("payload was not processed inline")
	}
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	r := newRouter(&fakeQueue{}, &fakeProcessor{done: make(chan string, 1)}, nil, "")

	w := do(r, http.MethodPost, "/webhook", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/webhook", `{"sender":"u1","message_type":"text"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookServiceKey(t *testing.T) {
	q := &fakeQueue{}
	r := newRouter(q, &fakeProcessor{done: make(chan string, 1)}, nil, "s3cret")

	w := do(r, http.MethodPost, "/webhook", validPayload, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/webhook", validPayload, map[string]string{middleware.ServiceKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/webhook", validPayload, map[string]string{middleware.ServiceKeyHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, q.got, 1)
}

func TestHealthAndMetrics(t *testing.T) {
	ok := func(context.Context) map[string]string {
		return map[string]string{"postgres": "ok", "redis": "disabled"}
	}
	bad := func(context.Context) map[string]string {
		return map[string]string{"postgres": "ok", "mongo": "error: timeout"}
	}

	r := newRouter(nil, &fakeProcessor{done: make(chan string, 1)}, ok, "")
	w := do(r, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = do(r, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, "# metrics", w.Body.String())

	r = newRouter(nil, &fakeProcessor{done: make(chan string, 1)}, bad, "")
	w = do(r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestCatalogInvalidate(t *testing.T) {
	catalog := &fakeCatalog{}
	r := newRouterWithCatalog(nil, &fakeProcessor{done: make(chan string, 1)}, nil, "s3cret", catalog)

	w := do(r, http.MethodPost, "/catalog/invalidate", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, catalog.calls)

	w = do(r, http.MethodPost, "/catalog/invalidate", "", map[string]string{middleware.ServiceKeyHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, catalog.calls)

	catalog.err = utils.E(utils.CodeUnavailable, "CatalogService.Invalidate", "cache unavailable", nil)
	w = do(r, http.MethodPost, "/catalog/invalidate", "", map[string]string{middleware.ServiceKeyHeader: "s3cret"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
