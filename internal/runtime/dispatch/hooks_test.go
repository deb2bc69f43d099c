package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	loggingpkg "github.com/drblury/runwatch/internal/runtime/logging"
	"github.com/drblury/runwatch/internal/runtime/outcome"
)

type hookEvents struct {
	mu     sync.Mutex
	events []string
	errs   []error
	done   []outcome.Status
}

func (h *hookEvents) add(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *hookEvents) hooks(prefix string) JobHooks {
	return JobHooks{
		OnJobStart: func(info JobInfo) { h.add(prefix + "start:" + info.Job.CorrelationID) },
		OnJobDone: func(info JobInfo, result outcome.Outcome) {
			h.mu.Lock()
			h.done = append(h.done, result.Status)
			h.mu.Unlock()
			h.add(prefix + "done")
		},
		OnJobError: func(info JobInfo, err error) {
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
			h.add(prefix + "error")
		},
	}
}

func (h *hookEvents) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func TestJobHooksMergeRunsBothInOrder(t *testing.T) {
	events := &hookEvents{}
	merged := events.hooks("a:").Merge(events.hooks("b:"))

	info := JobInfo{Job: Job{CorrelationID: "req-1"}}
	merged.start(info)
	merged.fail(info, errors.New("boom"))
	merged.done(info, outcome.Outcome{Status: outcome.StatusInternalError})

	assert.Equal(t, []string{
		"a:start:req-1", "b:start:req-1",
		"a:error", "b:error",
		"a:done", "b:done",
	}, events.Events())
}

func TestJobHooksMergeKeepsNilSides(t *testing.T) {
	events := &hookEvents{}
	merged := JobHooks{}.Merge(events.hooks(""))
	merged.start(JobInfo{Job: Job{CorrelationID: "x"}})
	assert.Equal(t, []string{"start:x"}, events.Events())

	// zero hooks must be safe to call
	JobHooks{}.start(JobInfo{})
	JobHooks{}.done(JobInfo{}, outcome.Outcome{})
	JobHooks{}.fail(JobInfo{}, errors.New("ignored"))
}

func TestWorkerCallsHooks(t *testing.T) {
	ps := newPubSub(t)
	replier := &recordingReplier{}
	events := &hookEvents{}
	startWorker(t, WorkerConfig{
		Topic:      "jobs",
		Subscriber: ps,
		Replier:    replier,
		Hooks:      events.hooks(""),
		Executor: ExecutorFunc(func(_ context.Context, job Job) (outcome.Outcome, error) {
			if job.FlowID == "broken" {
				return outcome.Outcome{}, errors.New("engine crashed")
			}
			return outcome.Outcome{Status: outcome.StatusSucceeded}, nil
		}),
	})

	d, err := NewDispatcher(ps, "jobs", nil)
	require.NoError(t, err)
	require.NoError(t, d.Dispatch(context.Background(), Job{FlowID: "ok", CorrelationID: "req-1", HandlerID: "proc-A"}))
	require.Eventually(t, func() bool { return len(events.Events()) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, d.Dispatch(context.Background(), Job{FlowID: "broken", CorrelationID: "req-2", HandlerID: "proc-A"}))
	require.Eventually(t, func() bool { return len(events.Events()) == 5 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"start:req-1", "done", "start:req-2", "error", "done"}, events.Events())
	events.mu.Lock()
	defer events.mu.Unlock()
	assert.Equal(t, []outcome.Status{outcome.StatusSucceeded, outcome.StatusInternalError}, events.done)
	require.Len(t, events.errs, 1)
	assert.EqualError(t, events.errs[0], "engine crashed")
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := loggingpkg.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	hooks := LoggingHooks(logger)

	info := JobInfo{Job: Job{FlowID: "flow-1", CorrelationID: "req-1"}, MessageUUID: "msg-1", Duration: 12 * time.Millisecond}
	hooks.start(info)
	hooks.done(info, outcome.Outcome{Status: outcome.StatusStopped})
	hooks.fail(info, errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"msg":"Job started"`)
	assert.Contains(t, out, `"msg":"Job completed"`)
	assert.Contains(t, out, `"status":"STOPPED"`)
	assert.Contains(t, out, `"msg":"Job failed"`)
	assert.Contains(t, out, `"correlation_id":"req-1"`)
	assert.Contains(t, out, `"duration_ms":12`)
}
