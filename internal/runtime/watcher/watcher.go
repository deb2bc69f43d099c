// Package watcher lets a caller block on the result of work that finishes in
// another goroutine or process. Each watcher owns a handler id and a reply
// channel on the shared transport; replies published for a correlation id
// resolve the matching pending Listen call.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/runwatch/internal/runtime/errors"
	idspkg "github.com/drblury/runwatch/internal/runtime/ids"
	loggingpkg "github.com/drblury/runwatch/internal/runtime/logging"
	metricspkg "github.com/drblury/runwatch/internal/runtime/metrics"
	"github.com/drblury/runwatch/internal/runtime/outcome"
	"github.com/drblury/runwatch/transport"
)

const (
	FlowNamespace    = "flow-response"
	WebhookNamespace = "webhook-response"

	DefaultTimeout = 30 * time.Second

	tracerName = "github.com/drblury/runwatch/watcher"
)

// Adapter turns the payload handed to Publish into the reply a listener receives.
type Adapter[O any] func(O) outcome.Response

// Options configure a watcher. Zero values fall back to defaults.
type Options struct {
	HandlerID    string
	Timeout      time.Duration
	MaxWait      time.Duration
	Capabilities transport.Capabilities
	Logger       loggingpkg.ServiceLogger
	Metrics      *metricspkg.WatcherMetrics
	Tracer       trace.Tracer
}

// Option mutates Options.
type Option func(*Options)

// WithHandlerID pins the handler id instead of generating a ULID.
func WithHandlerID(id string) Option { return func(o *Options) { o.HandlerID = id } }

// WithTimeout sets how long a timed Listen waits before answering 204.
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

// WithMaxWait bounds untimed Listen calls. Zero waits forever.
func WithMaxWait(d time.Duration) Option { return func(o *Options) { o.MaxWait = d } }

// WithCapabilities selects the channel separator of the transport in use.
func WithCapabilities(caps transport.Capabilities) Option {
	return func(o *Options) { o.Capabilities = caps }
}

// WithLogger sets the logger for lifecycle and drop events.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics records listens and resolutions. Nil disables metrics.
func WithMetrics(m *metricspkg.WatcherMetrics) Option { return func(o *Options) { o.Metrics = m } }

// WithTracer sets the tracer for listen, publish and deliver spans.
func WithTracer(t trace.Tracer) Option { return func(o *Options) { o.Tracer = t } }

// Watcher correlates replies with pending listeners for one namespace.
type Watcher[O any] struct {
	namespace  string
	handlerID  string
	adapt      Adapter[O]
	publisher  message.Publisher
	subscriber message.Subscriber

	timeout time.Duration
	maxWait time.Duration
	caps    transport.Capabilities

	logger  loggingpkg.ServiceLogger
	metrics *metricspkg.WatcherMetrics
	tracer  trace.Tracer

	registry *registry

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a watcher for namespace. Replies passed to Publish go through adapt.
func New[O any](namespace string, adapt Adapter[O], pub message.Publisher, sub message.Subscriber, opts ...Option) (*Watcher[O], error) {
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if sub == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if namespace == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if adapt == nil {
		return nil, fmt.Errorf("runwatch: adapter is required for namespace %s", namespace)
	}

	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.HandlerID == "" {
		options.HandlerID = idspkg.CreateULID()
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.MaxWait < 0 {
		options.MaxWait = 0
	}
	if options.Logger == nil {
		options.Logger = loggingpkg.NewNopServiceLogger()
	}
	if options.Tracer == nil {
		options.Tracer = otel.Tracer(tracerName)
	}

	return &Watcher[O]{
		namespace:  namespace,
		handlerID:  options.HandlerID,
		adapt:      adapt,
		publisher:  pub,
		subscriber: sub,
		timeout:    options.Timeout,
		maxWait:    options.MaxWait,
		caps:       options.Capabilities,
		logger: options.Logger.With(loggingpkg.LogFields{
			"namespace":  namespace,
			"handler_id": options.HandlerID,
		}),
		metrics:  options.Metrics,
		tracer:   options.Tracer,
		registry: newRegistry(),
	}, nil
}

// NewFlowWatcher returns a watcher whose publishers report flow outcomes.
func NewFlowWatcher(pub message.Publisher, sub message.Subscriber, opts ...Option) (*Watcher[outcome.Outcome], error) {
	return New(FlowNamespace, outcome.ToResponse, pub, sub, opts...)
}

// NewWebhookWatcher returns a watcher whose publishers send ready responses.
func NewWebhookWatcher(pub message.Publisher, sub message.Subscriber, opts ...Option) (*Watcher[outcome.Response], error) {
	return New(WebhookNamespace, outcome.Identity, pub, sub, opts...)
}

func (w *Watcher[O]) HandlerID() string { return w.handlerID }

func (w *Watcher[O]) Namespace() string { return w.namespace }

// ChannelName is the reply channel of the process owning handlerID.
func (w *Watcher[O]) ChannelName(handlerID string) string {
	return w.caps.JoinChannel(w.namespace, handlerID)
}

// Init subscribes to this watcher's reply channel and starts consuming it.
// The subscription lives until ctx is cancelled or Shutdown is called.
func (w *Watcher[O]) Init(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return errspkg.ErrAlreadyInitialized
	}

	channel := w.ChannelName(w.handlerID)
	subCtx, cancel := context.WithCancel(ctx)
	messages, err := w.subscriber.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	w.started = true
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.consume(messages, w.done)

	w.logger.Info("Watcher subscribed", loggingpkg.LogFields{"channel": channel})
	return nil
}

// Shutdown cancels the subscription and waits for the consumer to stop.
// Pending listeners stay registered and are not resolved.
func (w *Watcher[O]) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.done
	w.started = false
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	cancel()
	select {
	case <-done:
		w.logger.Info("Watcher unsubscribed", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher[O]) initialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Listen blocks until a reply for correlationID arrives. With shouldTimeout
// it gives up after the configured timeout and returns 204 {}. Otherwise it
// waits until MaxWait (504) or forever when MaxWait is zero. Cancelling ctx
// removes the listener and returns ctx.Err().
func (w *Watcher[O]) Listen(ctx context.Context, correlationID string, shouldTimeout bool) (outcome.Response, error) {
	ticket, err := w.Expect(ctx, correlationID, shouldTimeout)
	if err != nil {
		return outcome.Response{}, err
	}
	return ticket.Wait(ctx)
}

// Ticket is a registered listener. Exactly one of Wait or Cancel must be
// called on it.
type Ticket[O any] struct {
	w             *Watcher[O]
	correlationID string
	l             *listener
	span          trace.Span
}

// Expect registers the listener Listen would, without blocking. Use it when
// the work producing the reply can only be started after registration.
func (w *Watcher[O]) Expect(ctx context.Context, correlationID string, shouldTimeout bool) (*Ticket[O], error) {
	if correlationID == "" {
		return nil, errspkg.ErrCorrelationIDRequired
	}
	if !w.initialized() {
		return nil, errspkg.ErrNotInitialized
	}

	_, span := w.tracer.Start(ctx, "runwatch.listen", trace.WithAttributes(
		attribute.String("runwatch.namespace", w.namespace),
		attribute.String("runwatch.correlation_id", correlationID),
		attribute.Bool("runwatch.timed", shouldTimeout),
	))

	after, fallback := w.deadline(shouldTimeout)
	l, err := w.registry.add(correlationID, after, func(l *listener) {
		if w.registry.takeIf(correlationID, l) {
			l.resolve(fallback)
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, fmt.Errorf("listen %s: %w", correlationID, err)
	}
	w.metrics.RecordListen(w.namespace, shouldTimeout)

	return &Ticket[O]{w: w, correlationID: correlationID, l: l, span: span}, nil
}

func (t *Ticket[O]) CorrelationID() string { return t.correlationID }

// Wait blocks until the ticket resolves or ctx is done.
func (t *Ticket[O]) Wait(ctx context.Context) (outcome.Response, error) {
	defer t.span.End()

	select {
	case res := <-t.l.ch:
		return t.finish(res), nil
	case <-ctx.Done():
		if t.remove(ctx.Err()) {
			return outcome.Response{}, ctx.Err()
		}
		// Another path removed the entry first and is delivering.
		return t.finish(<-t.l.ch), nil
	}
}

// Cancel drops the listener without waiting, e.g. when the work it waits
// for could not be started.
func (t *Ticket[O]) Cancel() {
	defer t.span.End()
	if !t.remove(context.Canceled) {
		// A timer or reply took the entry first; its send is already owed.
		t.finish(<-t.l.ch)
	}
}

func (t *Ticket[O]) remove(cause error) bool {
	if !t.w.registry.takeIf(t.correlationID, t.l) {
		return false
	}
	t.w.metrics.RecordResolved(t.w.namespace, metricspkg.PathCancelled, time.Since(t.l.registeredAt))
	t.span.SetStatus(codes.Error, cause.Error())
	return true
}

func (t *Ticket[O]) finish(res resolution) outcome.Response {
	w := t.w
	waited := time.Since(t.l.registeredAt)
	w.metrics.RecordResolved(w.namespace, res.path, waited)
	t.span.SetAttributes(
		attribute.String("runwatch.resolution", res.path),
		attribute.Int("http.response.status_code", res.response.Status),
	)
	if res.path != metricspkg.PathPublish {
		w.logger.Info("Listener resolved without reply", loggingpkg.LogFields{
			"correlation_id": t.correlationID,
			"path":           res.path,
			"waited":         waited.String(),
		})
	}
	return res.response
}

func (w *Watcher[O]) deadline(shouldTimeout bool) (time.Duration, resolution) {
	if shouldTimeout {
		return w.timeout, resolution{response: outcome.NoContent(), path: metricspkg.PathTimeout}
	}
	if w.maxWait > 0 {
		return w.maxWait, resolution{
			response: outcome.ToResponse(outcome.Outcome{Status: outcome.StatusTimeout}),
			path:     metricspkg.PathMaxWait,
		}
	}
	return 0, resolution{}
}

// Publish adapts o and sends it to the reply channel of handlerID.
func (w *Watcher[O]) Publish(ctx context.Context, correlationID, handlerID string, o O) error {
	if correlationID == "" {
		return errspkg.ErrCorrelationIDRequired
	}
	if handlerID == "" {
		return errspkg.ErrHandlerIDRequired
	}

	channel := w.ChannelName(handlerID)
	ctx, span := w.tracer.Start(ctx, "runwatch.publish", trace.WithAttributes(
		attribute.String("runwatch.namespace", w.namespace),
		attribute.String("runwatch.correlation_id", correlationID),
		attribute.String("runwatch.channel", channel),
	))
	defer span.End()

	res := w.adapt(o)
	msg, err := newReplyMessage(correlationID, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	msg.SetContext(ctx)

	err = w.publisher.Publish(channel, msg)
	w.metrics.RecordPublished(w.namespace, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publish reply to %s: %w", channel, err)
	}
	w.logger.Debug("Reply published", loggingpkg.LogFields{
		"correlation_id": correlationID,
		"channel":        channel,
		"status":         res.Status,
	})
	return nil
}

// Pending reports whether a listener is waiting for correlationID.
func (w *Watcher[O]) Pending(correlationID string) bool {
	return w.registry.has(correlationID)
}

func (w *Watcher[O]) PendingCount() int {
	return w.registry.len()
}

func (w *Watcher[O]) consume(messages <-chan *message.Message, done chan struct{}) {
	defer close(done)
	for msg := range messages {
		w.deliver(msg)
		msg.Ack()
	}
}

func (w *Watcher[O]) deliver(msg *message.Message) {
	_, span := w.tracer.Start(msg.Context(), "runwatch.deliver", trace.WithAttributes(
		attribute.String("runwatch.namespace", w.namespace),
		attribute.String("message.uuid", msg.UUID),
	))
	defer span.End()

	env, err := decodeEnvelope(msg.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.metrics.RecordDropped(w.namespace, metricspkg.DropUndecodable)
		w.logger.Error("Dropping undecodable reply", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
		return
	}
	span.SetAttributes(attribute.String("runwatch.correlation_id", env.CorrelationID))

	l := w.registry.take(env.CorrelationID)
	if l == nil {
		w.metrics.RecordDropped(w.namespace, metricspkg.DropUnmatched)
		w.logger.Info("No listener for reply, dropping", loggingpkg.LogFields{
			"correlation_id": env.CorrelationID,
			"message_uuid":   msg.UUID,
		})
		return
	}
	l.resolve(resolution{response: env.Response, path: metricspkg.PathPublish})
}
