package runwatch

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	runtimepkg "github.com/drblury/runwatch/internal/runtime"
	configpkg "github.com/drblury/runwatch/internal/runtime/config"
	"github.com/drblury/runwatch/internal/runtime/dispatch"
	errspkg "github.com/drblury/runwatch/internal/runtime/errors"
	idspkg "github.com/drblury/runwatch/internal/runtime/ids"
	jsoncodec "github.com/drblury/runwatch/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/runwatch/internal/runtime/logging"
	metadatapkg "github.com/drblury/runwatch/internal/runtime/metadata"
	metricspkg "github.com/drblury/runwatch/internal/runtime/metrics"
	"github.com/drblury/runwatch/internal/runtime/outcome"
	"github.com/drblury/runwatch/internal/runtime/watcher"
	"github.com/drblury/runwatch/internal/runtime/webhook"
	newtransport "github.com/drblury/runwatch/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	WatcherStats        = runtimepkg.WatcherStats

	// Outcomes and responses
	Status        = outcome.Status
	PauseType     = outcome.PauseType
	PauseMetadata = outcome.PauseMetadata
	StopResponse  = outcome.StopResponse
	Outcome       = outcome.Outcome
	Response      = outcome.Response

	// Watchers
	Watcher[O any]  = watcher.Watcher[O]
	Ticket[O any]   = watcher.Ticket[O]
	Adapter[O any]  = watcher.Adapter[O]
	WatcherOption   = watcher.Option
	WatcherOptions  = watcher.Options
	FlowWatcher     = watcher.Watcher[outcome.Outcome]
	WebhookWatcher  = watcher.Watcher[outcome.Response]
	WatcherMetrics  = metricspkg.WatcherMetrics
	NamespaceStats  = metricspkg.NamespaceStats
	WebhookServer   = webhook.Server
	WebhookOption   = webhook.Option
	WebhookDispatch = webhook.Dispatcher

	// Jobs
	Job          = dispatch.Job
	Dispatcher   = dispatch.Dispatcher
	Executor     = dispatch.Executor
	ExecutorFunc = dispatch.ExecutorFunc
	Responder    = dispatch.Responder
	Worker       = dispatch.Worker
	WorkerConfig = dispatch.WorkerConfig
	RetryConfig  = dispatch.RetryConfig
	JobHooks     = dispatch.JobHooks
	JobInfo      = dispatch.JobInfo

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Modular transport types
	Transport             = newtransport.Transport
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

const (
	StatusRunning       = outcome.StatusRunning
	StatusPaused        = outcome.StatusPaused
	StatusStopped       = outcome.StatusStopped
	StatusSucceeded     = outcome.StatusSucceeded
	StatusFailed        = outcome.StatusFailed
	StatusTimeout       = outcome.StatusTimeout
	StatusInternalError = outcome.StatusInternalError
	StatusQuotaExceeded = outcome.StatusQuotaExceeded

	PauseWebhook = outcome.PauseWebhook
	PauseDelay   = outcome.PauseDelay

	FlowNamespace    = watcher.FlowNamespace
	WebhookNamespace = watcher.WebhookNamespace
	DefaultTimeout   = watcher.DefaultTimeout

	DefaultJobsTopic = dispatch.DefaultJobsTopic
	RequestIDHeader  = webhook.RequestIDHeader
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	ToResponse  = outcome.ToResponse
	NoContent   = outcome.NoContent
	ParseStatus = outcome.ParseStatus
	Statuses    = outcome.Statuses

	NewFlowWatcher    = watcher.NewFlowWatcher
	NewWebhookWatcher = watcher.NewWebhookWatcher
	WithHandlerID     = watcher.WithHandlerID
	WithTimeout       = watcher.WithTimeout
	WithMaxWait       = watcher.WithMaxWait
	WithCapabilities  = watcher.WithCapabilities
	WithLogger        = watcher.WithLogger
	WithMetrics       = watcher.WithMetrics
	WithTracer        = watcher.WithTracer
	NewWatcherMetrics = metricspkg.NewWatcherMetrics

	NewDispatcher    = dispatch.NewDispatcher
	NewWorker        = dispatch.NewWorker
	LoggingHooks     = dispatch.LoggingHooks
	Respond          = dispatch.Respond
	NewWebhookServer = webhook.NewServer
	WriteResponse    = webhook.WriteResponse

	NewTransportRegistry = newtransport.NewRegistry
	RegisterTransport    = newtransport.RegisterWithCapabilities
	BuildTransport       = newtransport.Build

	CreateULID = idspkg.CreateULID

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger
	ParseLogLevel             = loggingpkg.ParseLevel
)

// Sentinel errors.
var (
	ErrCorrelationIDRequired = errspkg.ErrCorrelationIDRequired
	ErrHandlerIDRequired     = errspkg.ErrHandlerIDRequired
	ErrListenerExists        = errspkg.ErrListenerExists
	ErrAlreadyInitialized    = errspkg.ErrAlreadyInitialized
	ErrNotInitialized        = errspkg.ErrNotInitialized
	ErrPublisherRequired     = errspkg.ErrPublisherRequired
	ErrSubscriberRequired    = errspkg.ErrSubscriberRequired
	ErrUnmappedStatus        = errspkg.ErrUnmappedStatus
	ErrExecutorRequired      = errspkg.ErrExecutorRequired
	ErrWatcherRequired       = errspkg.ErrWatcherRequired
	ErrDispatcherRequired    = errspkg.ErrDispatcherRequired
	ErrTopicRequired         = errspkg.ErrTopicRequired
	ErrConfigRequired        = errspkg.ErrConfigRequired
	ErrUnknownTransport      = errspkg.ErrUnknownTransport
	ErrNoWaitingCaller       = errspkg.ErrNoWaitingCaller
	ErrAlreadyResponded      = errspkg.ErrAlreadyResponded
)

// NewMetadata builds metadata from key/value pairs.
func NewMetadata(pairs ...string) Metadata {
	return metadatapkg.New(pairs...)
}

// MetadataFromMessage copies the metadata of a Watermill message.
func MetadataFromMessage(msg *message.Message) Metadata {
	if msg == nil {
		return Metadata{}
	}
	return metadatapkg.FromWatermill(msg.Metadata)
}

// NewLogger builds the JSON slog ServiceLogger used by the runwatch binary.
func NewLogger(level slog.Level, service, handlerID string) ServiceLogger {
	return loggingpkg.New(nil, level, service, handlerID)
}
