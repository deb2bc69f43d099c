package dispatch

import (
	"context"
	"sync"

	errspkg "github.com/drblury/runwatch/internal/runtime/errors"
	"github.com/drblury/runwatch/internal/runtime/outcome"
)

// Responder sends a ready HTTP response to the watcher identified by
// handlerID. *watcher.Watcher[outcome.Response] satisfies it.
type Responder interface {
	Publish(ctx context.Context, correlationID, handlerID string, res outcome.Response) error
}

type responderKey struct{}

// earlyReply lets a running job answer its caller once, before the job ends.
type earlyReply struct {
	responder     Responder
	correlationID string
	handlerID     string

	mu   sync.Mutex
	sent bool
}

func (r *earlyReply) send(ctx context.Context, res outcome.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent {
		return errspkg.ErrAlreadyResponded
	}
	if err := r.responder.Publish(ctx, r.correlationID, r.handlerID, res); err != nil {
		return err
	}
	r.sent = true
	return nil
}

func (r *earlyReply) responded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

// Respond answers the caller waiting on the job running under ctx without
// waiting for the job to finish. Once it succeeds the worker publishes no
// outcome for the job. Async jobs have nobody to answer and get
// ErrNoWaitingCaller.
func Respond(ctx context.Context, res outcome.Response) error {
	r, ok := ctx.Value(responderKey{}).(*earlyReply)
	if !ok {
		return errspkg.ErrNoWaitingCaller
	}
	return r.send(ctx, res)
}

func withEarlyReply(ctx context.Context, r *earlyReply) context.Context {
	return context.WithValue(ctx, responderKey{}, r)
}
