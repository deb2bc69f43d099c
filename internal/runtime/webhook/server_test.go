package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/runwatch/internal/runtime/dispatch"
	errspkg "github.com/drblury/runwatch/internal/runtime/errors"
	jsoncodec "github.com/drblury/runwatch/internal/runtime/jsoncodec"
	"github.com/drblury/runwatch/internal/runtime/outcome"
	"github.com/drblury/runwatch/internal/runtime/watcher"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeDispatcher records jobs and optionally answers them like a worker would.
type fakeDispatcher struct {
	mu    sync.Mutex
	jobs  []dispatch.Job
	err   error
	reply func(job dispatch.Job)
}

func (d *fakeDispatcher) Dispatch(_ context.Context, job dispatch.Job) error {
	d.mu.Lock()
	d.jobs = append(d.jobs, job)
	d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.reply != nil {
		go d.reply(job)
	}
	return nil
}

func (d *fakeDispatcher) Jobs() []dispatch.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatch.Job(nil), d.jobs...)
}

func newFlows(t *testing.T, opts ...watcher.Option) *watcher.Watcher[outcome.Outcome] {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })

	flows, err := watcher.NewFlowWatcher(ps, ps, opts...)
	require.NoError(t, err)
	require.NoError(t, flows.Init(context.Background()))
	t.Cleanup(func() { _ = flows.Shutdown(context.Background()) })
	return flows
}

func newRouter(t *testing.T, d Dispatcher, flows *watcher.Watcher[outcome.Outcome]) *gin.Engine {
	t.Helper()
	srv, err := NewServer(d, flows, WithIDGenerator(func() string { return "req-1" }))
	require.NoError(t, err)
	return srv.SetupRoutes()
}

func TestAsyncWebhookDispatchesAndReturnsImmediately(t *testing.T) {
	flows := newFlows(t)
	d := &fakeDispatcher{}
	router := newRouter(t, d, flows)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/flow-1?source=test", strings.NewReader(`{"name":"ada"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())

	jobs := d.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "flow-1", jobs[0].FlowID)
	assert.Equal(t, "req-1", jobs[0].CorrelationID)
	assert.Empty(t, jobs[0].HandlerID)
	assert.Equal(t, http.MethodPost, jobs[0].Method)
	assert.Equal(t, map[string]any{"name": "ada"}, jobs[0].Body)
	assert.Equal(t, "test", jobs[0].Query["source"])
	assert.Equal(t, "application/json", jobs[0].Headers["content-type"])
}

func TestSyncWebhookWritesFlowResponse(t *testing.T) {
	flows := newFlows(t)
	d := &fakeDispatcher{}
	d.reply = func(job dispatch.Job) {
		_ = flows.Publish(context.Background(), job.CorrelationID, job.HandlerID, outcome.Outcome{
			Status: outcome.StatusStopped,
			StopResponse: &outcome.StopResponse{
				Status:  http.StatusCreated,
				Body:    map[string]any{"id": "x"},
				Headers: map[string]string{"X-Test": "1"},
			},
		})
	}
	router := newRouter(t, d, flows)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/flow-2/sync", strings.NewReader("plain"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"x"}`, w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Test"))
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))

	jobs := d.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, flows.HandlerID(), jobs[0].HandlerID)
	assert.Equal(t, "plain", jobs[0].Body)
	assert.Equal(t, 0, flows.PendingCount())
}

func newResponseWatchers(t *testing.T, opts ...watcher.Option) (*watcher.Watcher[outcome.Outcome], *watcher.Watcher[outcome.Response]) {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })

	opts = append([]watcher.Option{watcher.WithHandlerID("proc-A")}, opts...)
	flows, err := watcher.NewFlowWatcher(ps, ps, opts...)
	require.NoError(t, err)
	responses, err := watcher.NewWebhookWatcher(ps, ps, opts...)
	require.NoError(t, err)
	for _, start := range []func(context.Context) error{flows.Init, responses.Init} {
		require.NoError(t, start(context.Background()))
	}
	t.Cleanup(func() {
		_ = flows.Shutdown(context.Background())
		_ = responses.Shutdown(context.Background())
	})
	return flows, responses
}

func TestSyncWebhookEarlyResponseWins(t *testing.T) {
	flows, responses := newResponseWatchers(t)
	d := &fakeDispatcher{}
	d.reply = func(job dispatch.Job) {
		_ = responses.Publish(context.Background(), job.CorrelationID, job.HandlerID, outcome.Response{
			Status:  http.StatusAccepted,
			Body:    map[string]any{"state": "accepted"},
			Headers: map[string]string{"X-Early": "yes"},
		})
	}
	srv, err := NewServer(d, flows, WithResponses(responses), WithIDGenerator(func() string { return "req-1" }))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	srv.SetupRoutes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/webhooks/flow-8/sync", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "yes", w.Header().Get("X-Early"))
	assert.JSONEq(t, `{"state":"accepted"}`, w.Body.String())
	assert.Equal(t, 0, flows.PendingCount())
	assert.Equal(t, 0, responses.PendingCount())
}

func TestSyncWebhookFlowOutcomeReleasesEarlyListener(t *testing.T) {
	flows, responses := newResponseWatchers(t)
	d := &fakeDispatcher{}
	d.reply = func(job dispatch.Job) {
		_ = flows.Publish(context.Background(), job.CorrelationID, job.HandlerID, outcome.Outcome{Status: outcome.StatusFailed})
	}
	srv, err := NewServer(d, flows, WithResponses(responses), WithIDGenerator(func() string { return "req-1" }))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	srv.SetupRoutes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/webhooks/flow-9/sync", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, responses.Pending("req-1"))
}

func TestSyncWebhookTimeoutReleasesEarlyListener(t *testing.T) {
	flows, responses := newResponseWatchers(t, watcher.WithTimeout(30*time.Millisecond))
	srv, err := NewServer(&fakeDispatcher{}, flows, WithResponses(responses), WithIDGenerator(func() string { return "req-1" }))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	srv.SetupRoutes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/webhooks/flow-10/sync", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, responses.PendingCount())
}

func TestSyncWebhookTimesOutWithNoContent(t *testing.T) {
	flows := newFlows(t, watcher.WithTimeout(50*time.Millisecond))
	router := newRouter(t, &fakeDispatcher{}, flows)

	req := httptest.NewRequest(http.MethodGet, "/v1/webhooks/flow-3/sync", nil)
	w := httptest.NewRecorder()
	start := time.Now()
	router.ServeHTTP(w, req)

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, 0, flows.PendingCount())
}

func TestSyncWebhookDispatchFailure(t *testing.T) {
	flows := newFlows(t)
	router := newRouter(t, &fakeDispatcher{err: errors.New("broker down")}, flows)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/flow-4/sync", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"message":"An internal error has occurred"}`, w.Body.String())
	assert.False(t, flows.Pending("req-1"))
}

func TestAsyncWebhookDispatchFailure(t *testing.T) {
	flows := newFlows(t)
	router := newRouter(t, &fakeDispatcher{err: errors.New("broker down")}, flows)

	req := httptest.NewRequest(http.MethodDelete, "/v1/webhooks/flow-5", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSyncWebhookCallerGone(t *testing.T) {
	flows := newFlows(t)
	router := newRouter(t, &fakeDispatcher{}, flows)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/flow-6/sync", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(w, req)
		close(done)
	}()
	require.Eventually(t, func() bool { return flows.Pending("req-1") }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler kept waiting after the caller left")
	}
	assert.False(t, flows.Pending("req-1"))
}

func TestBodyTooLarge(t *testing.T) {
	flows := newFlows(t)
	srv, err := NewServer(&fakeDispatcher{}, flows, WithMaxBodyBytes(4))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/flow-7", strings.NewReader("too long"))
	w := httptest.NewRecorder()
	srv.SetupRoutes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHealth(t *testing.T) {
	flows := newFlows(t, watcher.WithHandlerID("proc-A"))
	router := newRouter(t, &fakeDispatcher{}, flows)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, jsoncodec.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "proc-A", body["handlerId"])
	assert.EqualValues(t, 0, body["pending"])
}

func TestNewServerValidates(t *testing.T) {
	_, err := NewServer(nil, newFlows(t))
	assert.ErrorIs(t, err, errspkg.ErrDispatcherRequired)
	_, err = NewServer(&fakeDispatcher{}, nil)
	assert.ErrorIs(t, err, errspkg.ErrWatcherRequired)
}
