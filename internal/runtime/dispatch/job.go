// Package dispatch moves flow run jobs from the process that accepted a
// request to the workers that execute them, and routes each outcome back to
// the watcher waiting for it.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/runwatch/internal/runtime/errors"
	idspkg "github.com/drblury/runwatch/internal/runtime/ids"
	jsoncodec "github.com/drblury/runwatch/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/runwatch/internal/runtime/logging"
	metadatapkg "github.com/drblury/runwatch/internal/runtime/metadata"
)

const DefaultJobsTopic = "flow-jobs"

// Job is one flow run request. HandlerID is empty for fire-and-forget runs
// whose outcome nobody waits for.
type Job struct {
	FlowID        string            `json:"flowId"`
	CorrelationID string            `json:"correlationId"`
	HandlerID     string            `json:"handlerId,omitempty"`
	Method        string            `json:"method,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Query         map[string]string `json:"query,omitempty"`
	Body          any               `json:"body,omitempty"`
	EnqueuedAt    time.Time         `json:"enqueuedAt"`
}

// Sync reports whether a watcher awaits the outcome of the job.
func (j Job) Sync() bool { return j.HandlerID != "" }

// Dispatcher publishes jobs on the jobs topic.
type Dispatcher struct {
	publisher message.Publisher
	topic     string
	logger    loggingpkg.ServiceLogger
	now       func() time.Time
}

func NewDispatcher(pub message.Publisher, topic string, logger loggingpkg.ServiceLogger) (*Dispatcher, error) {
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return &Dispatcher{publisher: pub, topic: topic, logger: logger, now: time.Now}, nil
}

func (d *Dispatcher) Topic() string { return d.topic }

// Dispatch publishes job. The correlation, handler and flow ids are copied
// into message metadata so middlewares can see them without decoding.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	if job.CorrelationID == "" {
		return errspkg.ErrCorrelationIDRequired
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = d.now().UTC()
	}

	payload, err := jsoncodec.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.CorrelationID, err)
	}

	md := metadatapkg.Metadata{}.
		With(metadatapkg.KeyCorrelationID, job.CorrelationID).
		With(metadatapkg.KeyHandlerID, job.HandlerID).
		With(metadatapkg.KeyFlowID, job.FlowID).
		With(metadatapkg.KeyEnqueuedAt, job.EnqueuedAt.Format(time.RFC3339Nano))

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	msg.SetContext(ctx)

	if err := d.publisher.Publish(d.topic, msg); err != nil {
		return fmt.Errorf("dispatch job %s to %s: %w", job.CorrelationID, d.topic, err)
	}

	d.logger.Debug("Job dispatched", loggingpkg.LogFields{
		"correlation_id": job.CorrelationID,
		"flow_id":        job.FlowID,
		"sync":           job.Sync(),
	})
	return nil
}

func decodeJob(msg *message.Message) (Job, error) {
	var job Job
	if err := jsoncodec.Unmarshal(msg.Payload, &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", msg.UUID, err)
	}

	md := metadatapkg.FromWatermill(msg.Metadata)
	if job.CorrelationID == "" {
		job.CorrelationID = md.CorrelationID()
	}
	if job.HandlerID == "" {
		job.HandlerID = md.HandlerID()
	}
	if job.FlowID == "" {
		job.FlowID = md.FlowID()
	}
	if job.CorrelationID == "" {
		return Job{}, fmt.Errorf("decode job %s: %w", msg.UUID, errspkg.ErrCorrelationIDRequired)
	}
	return job, nil
}
