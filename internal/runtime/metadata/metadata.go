package metadata

// Metadata key constants used throughout runwatch.
// These keys are reserved and should not be used for custom metadata.
const (
	// KeyCorrelationID identifies the awaited execution. It matches the key
	// Watermill's CorrelationID middleware propagates.
	KeyCorrelationID = "correlation_id"

	// KeyHandlerID names the process whose watcher awaits the reply.
	KeyHandlerID = "runwatch_handler_id"

	// KeyFlowID names the flow a job runs.
	KeyFlowID = "runwatch_flow_id"

	// KeyEnqueuedAt records when a job was dispatched, RFC 3339 with nanoseconds.
	KeyEnqueuedAt = "runwatch_enqueued_at"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
// Empty values are skipped.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// CorrelationID returns the correlation id, if any.
func (m Metadata) CorrelationID() string { return m[KeyCorrelationID] }

// HandlerID returns the id of the process awaiting the reply, if any.
func (m Metadata) HandlerID() string { return m[KeyHandlerID] }

// FlowID returns the flow id, if any.
func (m Metadata) FlowID() string { return m[KeyFlowID] }

// New constructs a Metadata map from alternating key/value pairs. A trailing
// key without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
