package transport

import "strings"

// DefaultSeparator joins channel name segments when a transport does not
// declare its own.
const DefaultSeparator = ":"

// Capabilities describes the features supported by a transport backend.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// Separator joins the segments of a channel name. Brokers restrict the
	// characters allowed in topic names, so each transport picks one that is
	// legal for it.
	Separator string

	// SupportsOrdering indicates the transport delivers messages on one
	// channel in publish order.
	SupportsOrdering bool

	// SupportsFanout indicates every current subscriber of a channel receives
	// each message.
	SupportsFanout bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// Persistent indicates messages survive without a live subscriber. Reply
	// channels do not need it; a reply nobody listens for is useless.
	Persistent bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// ChannelSeparator returns the declared separator or DefaultSeparator.
func (c Capabilities) ChannelSeparator() string {
	if c.Separator == "" {
		return DefaultSeparator
	}
	return c.Separator
}

// JoinChannel builds a channel name from its segments using the transport's
// separator. Empty segments are skipped.
func (c Capabilities) JoinChannel(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, c.ChannelSeparator())
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		Separator:        ":",
		SupportsOrdering: true,
		SupportsFanout:   true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// RedisCapabilities for Redis PUBLISH/SUBSCRIBE.
	RedisCapabilities = Capabilities{
		Name:             "redis",
		Separator:        ":",
		SupportsOrdering: true,
		SupportsFanout:   true,
		SupportsAck:      true,
		MaxMessageSize:   536870912, // 512MB bulk string limit
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		Separator:        ".",
		SupportsOrdering: true,
		SupportsFanout:   true,
		SupportsTracing:  true,
		SupportsAck:      true,
		Persistent:       true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		Separator:        ":",
		SupportsOrdering: true,
		SupportsFanout:   true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		Separator:       ".",
		SupportsFanout:  true,
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		Separator:        "-",
		SupportsOrdering: true,
		SupportsFanout:   true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
		Persistent:       true,
		MaxMessageSize:   262144, // 256KB
	}

	// HTTPCapabilities for HTTP-based transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		Separator:       "/",
		SupportsTracing: true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a Capabilities value carrying only the name if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
