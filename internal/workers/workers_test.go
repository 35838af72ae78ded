package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yoockh/dmcommerce/internal/logger"
	"github.com/yoockh/dmcommerce/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeHandler struct {
	mu   sync.Mutex
	seen []string
}

func (f *fakeHandler) Handle(_ context.Context, raw []byte) services.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, string(raw))
	return services.Outcome{Status: services.OutcomeReplied}
}

type fakeDue struct {
	calls atomic.Int32
	err   error
}

func (f *fakeDue) ProcessDue(context.Context) (int, error) {
	f.calls.Add(1)
	return 1, f.err
}

func TestInboundWorkerHandleMsg(t *testing.T) {
	h := &fakeHandler{}
	p := &InboundWorkerPool{Pipeline: h, Logger: logger.Discard()}
	ctx := context.Background()

	p.handleMsg(ctx, redis.XMessage{ID: "1-0", Values: map[string]any{payloadField: `{"sender":"u1"}`}})
	p.handleMsg(ctx, redis.XMessage{ID: "2-0", Values: map[string]any{payloadField: []byte(`{"sender":"u2"}`)}})
	p.handleMsg(ctx, redis.XMessage{ID: "3-0", Values: map[string]any{"other": "x"}})

	assert.Equal(t, []string{`{"sender":"u1"}`, `{"sender":"u2"}`}, h.seen)
}

func TestInboundWorkerRequiresDeps(t *testing.T) {
	p := &InboundWorkerPool{Pipeline: &fakeHandler{}}
	assert.Error(t, p.Start(context.Background()))

	q := &StreamQueue{Stream: "s"}
	assert.Error(t, q.Enqueue(context.Background(), []byte("{}")))
}

func TestFollowupWorkerStopsOnCancel(t *testing.T) {
	due := &fakeDue{}
	w := &FollowupWorker{Followups: due, Interval: 5 * time.Millisecond, Logger: logger.Discard()}
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool { return due.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	w.Wait()

	n := due.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, due.calls.Load())
}

func TestFollowupWorkerKeepsPollingAfterError(t *testing.T) {
	due := &fakeDue{err: errors.New("db down")}
	w := &FollowupWorker{Followups: due, Interval: 5 * time.Millisecond, Logger: logger.Discard()}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		w.Wait()
	}()

	require.NoError(t, w.Start(ctx))
	assert.Eventually(t, func() bool { return due.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestFollowupWorkerRequiresProcessor(t *testing.T) {
	w := &FollowupWorker{}
	assert.Error(t, w.Start(context.Background()))
}
