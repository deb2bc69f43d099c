// Package runwatch lets a synchronous HTTP request wait for the result of a
// flow run that executes asynchronously, possibly in another process.
//
// Each process owns a Watcher with a unique handler id and subscribes to its
// own reply channel ("flow-response:<handlerID>"). A request handler calls
// Listen (or Expect and Wait) with a correlation id and blocks. Whoever
// finishes the run calls Publish with the correlation id and the handler id of
// the waiting process; the reply travels over the configured transport and
// resolves exactly one listener. A timed listen that gets no reply resolves
// with 204 and an empty JSON body.
//
// ToResponse maps a flow Outcome onto the HTTP response the caller receives:
// webhook pauses answer with their own response, stops with their stop
// response, failures with 500 and timeouts with 504.
//
// # Transports
//
// runwatch reads the transport from Config.PubSubSystem:
//   - channel: in-memory Go channels for a single process and for tests
//   - redis: Redis pub/sub, the default multi-process setup
//   - nats: NATS core subjects
//   - kafka: Kafka topics
//   - rabbitmq: AMQP with non-durable reply queues
//   - aws: AWS SNS/SQS with LocalStack support
//   - http: Watermill HTTP publisher and subscriber
//
// Each transport declares the separator it uses in channel names so reply
// channels stay legal topic names on every broker.
//
// # Service
//
// NewService wires a transport, the flow and webhook watchers, a job
// Dispatcher, an optional Worker running an Executor, the gin webhook server
// and the Prometheus endpoint. The runwatch binary in cmd/runwatch runs one.
//
// # Job Hooks
//
// JobHooks provide OnJobStart, OnJobDone and OnJobError callbacks around every
// executor run; LoggingHooks logs them.
package runwatch
