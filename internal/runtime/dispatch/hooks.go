package dispatch

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/runwatch/internal/runtime/logging"
	"github.com/drblury/runwatch/internal/runtime/outcome"
)

// JobInfo describes one job execution to hooks.
type JobInfo struct {
	Job         Job
	MessageUUID string
	Context     context.Context
	StartedAt   time.Time
	// Duration is set for OnJobDone and OnJobError only.
	Duration time.Duration
}

// JobHooks are optional callbacks around executor runs. Nil hooks are skipped.
type JobHooks struct {
	OnJobStart func(info JobInfo)
	// OnJobDone receives the outcome that will be replied, after errors
	// and panics were converted.
	OnJobDone func(info JobInfo, result outcome.Outcome)
	// OnJobError receives executor errors and recovered panics.
	OnJobError func(info JobInfo, err error)
}

// Merge returns hooks that call h first and then other.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainStart(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainDone(h.OnJobDone, other.OnJobDone),
		OnJobError: chainError(h.OnJobError, other.OnJobError),
	}
}

func chainStart(a, b func(JobInfo)) func(JobInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info JobInfo) {
		a(info)
		b(info)
	}
}

func chainDone(a, b func(JobInfo, outcome.Outcome)) func(JobInfo, outcome.Outcome) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info JobInfo, result outcome.Outcome) {
		a(info, result)
		b(info, result)
	}
}

func chainError(a, b func(JobInfo, error)) func(JobInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info JobInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

func (h JobHooks) start(info JobInfo) {
	if h.OnJobStart != nil {
		h.OnJobStart(info)
	}
}

func (h JobHooks) done(info JobInfo, result outcome.Outcome) {
	if h.OnJobDone != nil {
		h.OnJobDone(info, result)
	}
}

func (h JobHooks) fail(info JobInfo, err error) {
	if h.OnJobError != nil {
		h.OnJobError(info, err)
	}
}

// LoggingHooks logs job lifecycle events at info and error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	fields := func(info JobInfo) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"flow_id":        info.Job.FlowID,
			"correlation_id": info.Job.CorrelationID,
			"message_uuid":   info.MessageUUID,
		}
	}
	return JobHooks{
		OnJobStart: func(info JobInfo) {
			logger.Info("Job started", fields(info))
		},
		OnJobDone: func(info JobInfo, result outcome.Outcome) {
			f := fields(info)
			f["status"] = string(result.Status)
			f["duration_ms"] = info.Duration.Milliseconds()
			logger.Info("Job completed", f)
		},
		OnJobError: func(info JobInfo, err error) {
			f := fields(info)
			f["duration_ms"] = info.Duration.Milliseconds()
			logger.Error("Job failed", err, f)
		},
	}
}
