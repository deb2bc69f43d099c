/*
Package runtime wires the runwatch components into one process.

# Architecture Overview

A sync webhook call holds its HTTP request open while a flow runs somewhere
else. The webhook handler registers a listener under a fresh request id,
publishes a job that carries the request id and this process's handler id,
and waits. A worker, possibly in another process, executes the job and
publishes the outcome to the reply channel of that handler id. The watcher
consuming that channel resolves the listener and the handler writes the
response. A timeout answers the caller with 204 when no reply arrives.

# Package Structure

## Core Service (service.go)

The Service struct builds and owns:
  - The transport selected by Config.PubSubSystem
  - The flow watcher and the webhook watcher
  - The job dispatcher and, when enabled, the worker
  - The gin webhook server and the metrics server

## Watcher stats (webui.go)

/metrics serves the Prometheus registry and /api/watchers a JSON snapshot of
both watchers.

# Sub-packages

  - config/: environment configuration with validation
  - dispatch/: jobs, the dispatcher and the worker router
  - errors/: sentinel errors
  - ids/: ULID generation for handler ids, request ids and message ids
  - jsoncodec/: JSON marshaling backed by sonic
  - logging/: logger interface and Watermill adapters
  - metadata/: message metadata utilities
  - metrics/: Prometheus collectors for watchers
  - outcome/: flow outcomes and their HTTP responses
  - watcher/: the listener registry and the reply channel consumer
  - webhook/: the HTTP endpoints

# Usage Example

	cfg, _ := config.Load(".env")
	svc, err := runtime.NewService(ctx, cfg, logger, runtime.ServiceDependencies{
		Executor: engine,
	})
	if err != nil {
		return err
	}
	return svc.Start(ctx)
*/
package runtime
