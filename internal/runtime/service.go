package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	configpkg "github.com/drblury/runwatch/internal/runtime/config"
	"github.com/drblury/runwatch/internal/runtime/dispatch"
	errspkg "github.com/drblury/runwatch/internal/runtime/errors"
	idspkg "github.com/drblury/runwatch/internal/runtime/ids"
	loggingpkg "github.com/drblury/runwatch/internal/runtime/logging"
	metricspkg "github.com/drblury/runwatch/internal/runtime/metrics"
	"github.com/drblury/runwatch/internal/runtime/outcome"
	"github.com/drblury/runwatch/internal/runtime/watcher"
	"github.com/drblury/runwatch/internal/runtime/webhook"
	"github.com/drblury/runwatch/transport"
)

// ServiceDependencies holds the collaborators a Service cannot build from
// config. Leave fields nil to use the defaults.
type ServiceDependencies struct {
	// Executor runs flow jobs. Required when the worker is enabled.
	Executor dispatch.Executor
	// Transports resolves Config.PubSubSystem. Defaults to transport.DefaultRegistry.
	Transports *transport.Registry
	// Hooks observe every job the worker executes.
	Hooks dispatch.JobHooks
	// RequestLogger enables webhook access logs.
	RequestLogger *slog.Logger
}

// Service wires the transport, the flow and webhook watchers, the job
// dispatcher, the optional worker and the HTTP surfaces of one process.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport  transport.Transport
	flows      *watcher.Watcher[outcome.Outcome]
	webhooks   *watcher.Watcher[outcome.Response]
	dispatcher *dispatch.Dispatcher
	worker     *dispatch.Worker
	api        *webhook.Server

	metrics  *metricspkg.WatcherMetrics
	registry *prometheus.Registry

	mu          sync.Mutex
	initialized bool
	closed      bool
	workerDone  chan error
	httpServers []*http.Server
	addrs       map[string]string
}

// NewService builds every component for conf. Call Init or Start before use.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = loggingpkg.NewNopServiceLogger()
	}
	if conf.WorkerEnabled && deps.Executor == nil {
		return nil, errspkg.ErrExecutorRequired
	}
	registry := deps.Transports
	if registry == nil {
		registry = transport.DefaultRegistry
	}

	handlerID := conf.HandlerID
	if handlerID == "" {
		handlerID = idspkg.CreateULID()
	}

	log.Info("Creating runwatch service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"handler_id":    handlerID,
		"config":        conf.String(),
	})

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	tr, err := registry.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport %q: %w", conf.PubSubSystem, err)
	}

	s := &Service{
		Conf:      conf,
		Logger:    log,
		transport: tr,
		addrs:     make(map[string]string),
	}

	if err := s.build(handlerID, registry.GetCapabilities(conf.PubSubSystem), deps); err != nil {
		_ = tr.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(handlerID string, caps transport.Capabilities, deps ServiceDependencies) error {
	conf := s.Conf

	if conf.MetricsEnabled {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = metricspkg.NewWatcherMetrics(s.registry)
		if err := s.metrics.Register(); err != nil {
			return fmt.Errorf("register watcher metrics: %w", err)
		}
	}

	opts := []watcher.Option{
		watcher.WithHandlerID(handlerID),
		watcher.WithTimeout(conf.WebhookTimeout()),
		watcher.WithMaxWait(conf.MaxWait()),
		watcher.WithCapabilities(caps),
		watcher.WithLogger(s.Logger),
		watcher.WithMetrics(s.metrics),
	}

	var err error
	if s.flows, err = watcher.NewFlowWatcher(s.transport.Publisher, s.transport.Subscriber, opts...); err != nil {
		return fmt.Errorf("create flow watcher: %w", err)
	}
	if s.webhooks, err = watcher.NewWebhookWatcher(s.transport.Publisher, s.transport.Subscriber, opts...); err != nil {
		return fmt.Errorf("create webhook watcher: %w", err)
	}
	if s.dispatcher, err = dispatch.NewDispatcher(s.transport.Publisher, conf.JobsTopic, s.Logger); err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	if conf.WorkerEnabled {
		workerCfg := dispatch.WorkerConfig{
			Topic:        conf.JobsTopic,
			Subscriber:   s.transport.Subscriber,
			Executor:     deps.Executor,
			Replier:      s.flows,
			Responder:    s.webhooks,
			Logger:       s.Logger,
			Hooks:        deps.Hooks,
			CloseTimeout: conf.ShutdownTimeout,
		}
		if s.registry != nil {
			workerCfg.MetricsRegisterer = s.registry
		}
		if s.worker, err = dispatch.NewWorker(workerCfg); err != nil {
			return fmt.Errorf("create worker: %w", err)
		}
	}

	apiOpts := []webhook.Option{webhook.WithLogger(s.Logger), webhook.WithResponses(s.webhooks)}
	if deps.RequestLogger != nil {
		apiOpts = append(apiOpts, webhook.WithRequestLogger(deps.RequestLogger))
	}
	if s.api, err = webhook.NewServer(s.dispatcher, s.flows, apiOpts...); err != nil {
		return fmt.Errorf("create webhook server: %w", err)
	}
	return nil
}

func (s *Service) HandlerID() string { return s.flows.HandlerID() }

// Flows is the watcher answering sync webhooks with flow outcomes.
func (s *Service) Flows() *watcher.Watcher[outcome.Outcome] { return s.flows }

// Webhooks carries responses a running flow sends with dispatch.Respond
// before it finishes.
func (s *Service) Webhooks() *watcher.Watcher[outcome.Response] { return s.webhooks }

func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Metrics returns nil when metrics are disabled.
func (s *Service) Metrics() *metricspkg.WatcherMetrics { return s.metrics }

// Handler serves the webhook and health endpoints.
func (s *Service) Handler() http.Handler { return s.api.SetupRoutes() }

// Init subscribes both watchers and starts the worker. It returns once the
// worker consumes jobs.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return errspkg.ErrAlreadyInitialized
	}
	s.initialized = true
	s.mu.Unlock()

	if err := s.flows.Init(ctx); err != nil {
		return err
	}
	if err := s.webhooks.Init(ctx); err != nil {
		_ = s.flows.Shutdown(ctx)
		return err
	}
	if s.worker == nil {
		return nil
	}

	done := make(chan error, 1)
	s.workerDone = done
	go func() { done <- s.worker.Run(context.WithoutCancel(ctx)) }()

	select {
	case <-s.worker.Running():
		return nil
	case err := <-done:
		done <- err
		return fmt.Errorf("start worker: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start initializes the service, serves HTTP until ctx is cancelled and then
// shuts down within Conf.ShutdownTimeout.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	if err := s.startHTTPServers(); err != nil {
		s.shutdownWithTimeout()
		return err
	}

	<-ctx.Done()
	return s.shutdownWithTimeout()
}

func (s *Service) shutdownWithTimeout() error {
	ctx := context.Background()
	if s.Conf.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Conf.ShutdownTimeout)
		defer cancel()
	}
	return s.Shutdown(ctx)
}

// Addr returns the bound address of a started HTTP server ("api" or
// "metrics"), or "" if it is not running.
func (s *Service) Addr(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrs[name]
}

func (s *Service) startHTTPServers() error {
	if err := s.serve("api", s.Conf.APIAddress, s.Handler()); err != nil {
		return err
	}
	if s.registry != nil {
		if err := s.serve("metrics", s.Conf.MetricsAddress(), s.metricsMux()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) serve(name, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s on %s: %w", name, addr, err)
	}
	srv := &http.Server{Addr: ln.Addr().String(), Handler: handler}

	s.mu.Lock()
	s.httpServers = append(s.httpServers, srv)
	s.addrs[name] = srv.Addr
	s.mu.Unlock()

	fields := loggingpkg.LogFields{"server": name, "address": srv.Addr}
	s.Logger.Info("Starting HTTP server", fields)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("HTTP server stopped", err, fields)
		}
	}()
	return nil
}

// Shutdown stops the HTTP servers, the worker and both watchers, then closes
// the transport. Later calls are no-ops.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	servers := s.httpServers
	s.mu.Unlock()

	s.Logger.Info("Shutting down", nil)
	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server %s: %w", srv.Addr, err))
		}
	}

	if s.worker != nil && s.workerDone != nil {
		if err := s.worker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close worker: %w", err))
		}
		select {
		case err := <-s.workerDone:
			if err != nil {
				errs = append(errs, fmt.Errorf("worker: %w", err))
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait for worker: %w", ctx.Err()))
		}
	}

	errs = append(errs, s.flows.Shutdown(ctx), s.webhooks.Shutdown(ctx))
	if err := s.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	return errors.Join(errs...)
}
