package errors

import sterrors "errors"

var (
	ErrCorrelationIDRequired = sterrors.New("runwatch: correlation id is required")
	ErrHandlerIDRequired     = sterrors.New("runwatch: handler id is required")
	ErrListenerExists        = sterrors.New("runwatch: a listener is already registered for this correlation id")
	ErrAlreadyInitialized    = sterrors.New("runwatch: watcher is already subscribed")
	ErrNotInitialized        = sterrors.New("runwatch: watcher is not subscribed")
	ErrPublisherRequired     = sterrors.New("runwatch: publisher is required")
	ErrSubscriberRequired    = sterrors.New("runwatch: subscriber is required")
	ErrUnmappedStatus        = sterrors.New("runwatch: execution status has no response mapping")
	ErrExecutorRequired      = sterrors.New("runwatch: executor is required")
	ErrWatcherRequired       = sterrors.New("runwatch: watcher is required")
	ErrDispatcherRequired    = sterrors.New("runwatch: dispatcher is required")
	ErrTopicRequired         = sterrors.New("runwatch: topic is required")
	ErrConfigRequired        = sterrors.New("runwatch: configuration is required")
	ErrUnknownTransport      = sterrors.New("runwatch: unknown transport")
	ErrNoWaitingCaller       = sterrors.New("runwatch: no caller is waiting for this job")
	ErrAlreadyResponded      = sterrors.New("runwatch: the caller was already answered")
)
