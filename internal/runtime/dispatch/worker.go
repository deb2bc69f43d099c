package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/runwatch/internal/runtime/errors"
	loggingpkg "github.com/drblury/runwatch/internal/runtime/logging"
	"github.com/drblury/runwatch/internal/runtime/outcome"
)

const defaultHandlerName = "runwatch-jobs"

// Executor runs a flow job. It stands in for the flow engine.
type Executor interface {
	Execute(ctx context.Context, job Job) (outcome.Outcome, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job Job) (outcome.Outcome, error)

func (f ExecutorFunc) Execute(ctx context.Context, job Job) (outcome.Outcome, error) {
	return f(ctx, job)
}

// Replier sends an outcome to the watcher identified by handlerID.
// *watcher.Watcher[outcome.Outcome] satisfies it.
type Replier interface {
	Publish(ctx context.Context, correlationID, handlerID string, o outcome.Outcome) error
}

// WorkerConfig wires a Worker. Leave MetricsRegisterer nil to skip router metrics.
type WorkerConfig struct {
	HandlerName string
	Topic       string
	Subscriber  message.Subscriber
	Executor    Executor
	Replier     Replier
	Logger      loggingpkg.ServiceLogger
	Tracer      trace.Tracer
	Retry       RetryConfig
	Hooks       JobHooks

	// Responder carries early responses from Respond. Nil disables them.
	Responder Responder

	MetricsRegisterer prometheus.Registerer
	MetricsSubsystem  string

	CloseTimeout time.Duration
}

// Worker consumes jobs, executes them and publishes their outcome.
type Worker struct {
	router   *message.Router
	executor Executor
	replier  Replier
	respond  Responder
	logger   loggingpkg.ServiceLogger
	retry    message.HandlerMiddleware
	hooks    JobHooks
	topic    string
	now      func() time.Time
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if cfg.Executor == nil {
		return nil, errspkg.ErrExecutorRequired
	}
	if cfg.Replier == nil {
		return nil, errspkg.ErrWatcherRequired
	}
	if cfg.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if cfg.HandlerName == "" {
		cfg.HandlerName = defaultHandlerName
	}
	if cfg.Logger == nil {
		cfg.Logger = loggingpkg.NewNopServiceLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/drblury/runwatch/dispatch")
	}

	wmLogger := loggingpkg.NewWatermillAdapter(cfg.Logger)
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	w := &Worker{
		router:   router,
		executor: cfg.Executor,
		replier:  cfg.Replier,
		respond:  cfg.Responder,
		logger:   cfg.Logger.With(loggingpkg.LogFields{"topic": cfg.Topic}),
		retry:    cfg.Retry.middleware(wmLogger),
		hooks:    cfg.Hooks,
		topic:    cfg.Topic,
		now:      time.Now,
	}

	router.AddMiddleware(
		logMessagesMiddleware(w.logger),
		tracerMiddleware(cfg.Tracer),
		middleware.Recoverer,
	)

	if cfg.MetricsRegisterer != nil {
		subsystem := cfg.MetricsSubsystem
		if subsystem == "" {
			subsystem = "worker"
		}
		metrics.NewPrometheusMetricsBuilder(cfg.MetricsRegisterer, "runwatch", subsystem).
			AddPrometheusRouterMetrics(router)
	}

	router.AddNoPublisherHandler(cfg.HandlerName, cfg.Topic, cfg.Subscriber, w.handle)
	return w, nil
}

// Run blocks until ctx is cancelled or Close is called.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker starting", nil)
	return w.router.Run(ctx)
}

// Running is closed once the worker consumes jobs.
func (w *Worker) Running() chan struct{} {
	return w.router.Running()
}

func (w *Worker) Topic() string { return w.topic }

func (w *Worker) Close() error {
	return w.router.Close()
}

// handle never nacks a decoded job: a redelivery would execute the flow twice.
func (w *Worker) handle(msg *message.Message) error {
	job, err := decodeJob(msg)
	if err != nil {
		w.logger.Error("Dropping undecodable job", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
		return nil
	}

	fields := loggingpkg.LogFields{
		"correlation_id": job.CorrelationID,
		"flow_id":        job.FlowID,
		"handler_id":     job.HandlerID,
	}

	ctx := msg.Context()
	var early *earlyReply
	if job.Sync() && w.respond != nil {
		early = &earlyReply{responder: w.respond, correlationID: job.CorrelationID, handlerID: job.HandlerID}
		ctx = withEarlyReply(ctx, early)
	}
	info := JobInfo{Job: job, MessageUUID: msg.UUID, Context: ctx, StartedAt: w.now()}
	w.hooks.start(info)

	result, execErr := w.execute(ctx, job)
	info.Duration = w.now().Sub(info.StartedAt)
	if execErr != nil {
		w.logger.Error("Executor failed", execErr, fields)
		w.hooks.fail(info, execErr)
	}
	w.hooks.done(info, result)

	if !job.Sync() {
		w.logger.Debug("Job finished without a waiting caller", withStatus(fields, result.Status))
		return nil
	}
	if early != nil && early.responded() {
		w.logger.Debug("Job answered its caller early, skipping outcome", withStatus(fields, result.Status))
		return nil
	}

	reply := func(*message.Message) ([]*message.Message, error) {
		return nil, w.replier.Publish(ctx, job.CorrelationID, job.HandlerID, result)
	}
	if _, err := w.retry(reply)(msg); err != nil {
		w.logger.Error("Failed to publish job outcome", err, fields)
		return nil
	}

	w.logger.Debug("Job outcome published", withStatus(fields, result.Status))
	return nil
}

// execute runs the executor. Errors, panics and unknown statuses become an
// internal error outcome so the waiting caller is answered with 500.
func (w *Worker) execute(ctx context.Context, job Job) (result outcome.Outcome, err error) {
	internal := outcome.Outcome{Status: outcome.StatusInternalError}
	defer func() {
		if r := recover(); r != nil {
			result, err = internal, fmt.Errorf("executor panicked: %v", r)
		}
	}()

	out, err := w.executor.Execute(ctx, job)
	if err != nil {
		return internal, err
	}
	if !out.Status.Valid() {
		return internal, fmt.Errorf("%w: %q", errspkg.ErrUnmappedStatus, out.Status)
	}
	return out, nil
}

func withStatus(fields loggingpkg.LogFields, status outcome.Status) loggingpkg.LogFields {
	out := make(loggingpkg.LogFields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["status"] = string(status)
	return out
}
