// Package webhook exposes flow runs over HTTP. Async calls return as soon as
// the run is dispatched; sync calls hold the request open until the run
// replies or the watcher timeout answers for it.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/drblury/runwatch/internal/runtime/dispatch"
	errspkg "github.com/drblury/runwatch/internal/runtime/errors"
	idspkg "github.com/drblury/runwatch/internal/runtime/ids"
	jsoncodec "github.com/drblury/runwatch/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/runwatch/internal/runtime/logging"
	"github.com/drblury/runwatch/internal/runtime/outcome"
	"github.com/drblury/runwatch/internal/runtime/watcher"
)

const (
	// RequestIDHeader carries the correlation id of a sync run back to the caller.
	RequestIDHeader = "X-Runwatch-Request-Id"

	defaultMaxBodyBytes = 4 << 20
)

var webhookMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// Dispatcher starts flow runs. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job dispatch.Job) error
}

// Server serves the webhook endpoints.
type Server struct {
	dispatcher    Dispatcher
	flows         *watcher.Watcher[outcome.Outcome]
	responses     *watcher.Watcher[outcome.Response]
	logger        loggingpkg.ServiceLogger
	requestLogger *slog.Logger
	newID         func() string
	maxBodyBytes  int64
}

type Option func(*Server)

func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRequestLogger enables per-request access logs.
func WithRequestLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.requestLogger = logger }
}

// WithResponses lets a running flow answer a sync call before it finishes.
// The call resolves with whichever of the two watchers replies first.
func WithResponses(responses *watcher.Watcher[outcome.Response]) Option {
	return func(s *Server) { s.responses = responses }
}

// WithIDGenerator replaces the ULID generator used for sync request ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

func NewServer(d Dispatcher, flows *watcher.Watcher[outcome.Outcome], opts ...Option) (*Server, error) {
	if d == nil {
		return nil, errspkg.ErrDispatcherRequired
	}
	if flows == nil {
		return nil, errspkg.ErrWatcherRequired
	}
	s := &Server{
		dispatcher:   d,
		flows:        flows,
		logger:       loggingpkg.NewNopServiceLogger(),
		newID:        idspkg.CreateULID,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetupRoutes returns a gin engine serving the webhook and health endpoints.
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if s.requestLogger != nil {
		logger := s.requestLogger
		router.Use(glog.SetLogger(
			glog.WithLogger(func(_ *gin.Context, _ *slog.Logger) *slog.Logger {
				return logger
			}),
		))
	}

	router.GET("/health", s.handleHealth)
	s.RegisterRoutes(router)
	return router
}

// RegisterRoutes mounts the webhook endpoints on r.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	hooks := r.Group("/v1/webhooks")
	for _, method := range webhookMethods {
		hooks.Handle(method, "/:flowID", s.handleAsync)
		hooks.Handle(method, "/:flowID/sync", s.handleSync)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"handlerId": s.flows.HandlerID(),
		"pending":   s.flows.PendingCount(),
	})
}

func (s *Server) handleAsync(c *gin.Context) {
	job, ok := s.buildJob(c, s.newID(), "")
	if !ok {
		return
	}

	if err := s.dispatcher.Dispatch(c.Request.Context(), job); err != nil {
		s.logger.Error("Failed to dispatch flow run", err, loggingpkg.LogFields{"flow_id": job.FlowID})
		writeMessage(c, http.StatusInternalServerError, outcome.MessageInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) handleSync(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := s.newID()
	fields := loggingpkg.LogFields{"flow_id": c.Param("flowID"), "correlation_id": requestID}

	job, ok := s.buildJob(c, requestID, s.flows.HandlerID())
	if !ok {
		return
	}

	// Register before dispatching so a fast reply cannot miss the listener.
	ticket, err := s.flows.Expect(ctx, requestID, true)
	if err != nil {
		s.logger.Error("Failed to register listener", err, fields)
		writeMessage(c, http.StatusInternalServerError, outcome.MessageInternalError)
		return
	}
	var early *watcher.Ticket[outcome.Response]
	if s.responses != nil {
		// Untimed: the flow ticket's timeout ends the wait for both.
		if early, err = s.responses.Expect(ctx, requestID, false); err != nil {
			ticket.Cancel()
			s.logger.Error("Failed to register listener", err, fields)
			writeMessage(c, http.StatusInternalServerError, outcome.MessageInternalError)
			return
		}
	}

	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		ticket.Cancel()
		if early != nil {
			early.Cancel()
		}
		s.logger.Error("Failed to dispatch flow run", err, fields)
		writeMessage(c, http.StatusInternalServerError, outcome.MessageInternalError)
		return
	}

	res, err := waitFirst(ctx, ticket, early)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Debug("Caller went away before the run replied", fields)
			c.Abort()
			return
		}
		s.logger.Error("Waiting for flow run failed", err, fields)
		writeMessage(c, http.StatusInternalServerError, outcome.MessageInternalError)
		return
	}

	c.Header(RequestIDHeader, requestID)
	WriteResponse(c, res)
}

type waitResult struct {
	res outcome.Response
	err error
}

// waitFirst returns the first of the flow outcome and the early response.
// The losing ticket is released once the winner is known.
func waitFirst(ctx context.Context, flow *watcher.Ticket[outcome.Outcome], early *watcher.Ticket[outcome.Response]) (outcome.Response, error) {
	if early == nil {
		return flow.Wait(ctx)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan waitResult, 2)
	go func() {
		res, err := flow.Wait(waitCtx)
		results <- waitResult{res, err}
	}()
	go func() {
		res, err := early.Wait(waitCtx)
		results <- waitResult{res, err}
	}()

	first := <-results
	cancel()
	<-results
	return first.res, first.err
}

func (s *Server) buildJob(c *gin.Context, requestID, handlerID string) (dispatch.Job, bool) {
	body, err := s.readBody(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(c, http.StatusRequestEntityTooLarge, "The request body is too large")
			return dispatch.Job{}, false
		}
		writeMessage(c, http.StatusBadRequest, "The request body could not be read")
		return dispatch.Job{}, false
	}

	return dispatch.Job{
		FlowID:        c.Param("flowID"),
		CorrelationID: requestID,
		HandlerID:     handlerID,
		Method:        c.Request.Method,
		Headers:       firstValues(c.Request.Header),
		Query:         firstValues(c.Request.URL.Query()),
		Body:          body,
	}, true
}

// readBody decodes JSON bodies and passes everything else through as text.
func (s *Server) readBody(c *gin.Context) (any, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	if strings.Contains(c.ContentType(), "json") && jsoncodec.Valid(data) {
		var decoded any
		if err := jsoncodec.Unmarshal(data, &decoded); err == nil {
			return decoded, nil
		}
	}
	return string(data), nil
}

func firstValues(values map[string][]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}
