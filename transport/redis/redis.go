// Package redis provides a Redis PUBLISH/SUBSCRIBE transport for runwatch.
//
// Delivery is fire-and-forget: a message published while nobody is subscribed
// to the channel is lost, which is what reply channels want.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	goredis "github.com/redis/go-redis/v9"

	"github.com/drblury/runwatch/internal/runtime/jsoncodec"
	"github.com/drblury/runwatch/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "redis"

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("runwatch: redis transport is closed")

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *goredis.Options) *goredis.Client {
	return goredis.NewClient(opts)
}

func init() {
	Register()
}

// Register registers the Redis transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RedisCapabilities)
}

// Build creates a new Redis transport. The returned Transport uses the same
// value for publisher and subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(ctx, Config{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.GetRedisPassword(),
		DB:       cfg.GetRedisDB(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}

// Config holds Redis-specific configuration.
type Config struct {
	// Addr is host:port of the Redis server. Defaults to localhost:6379.
	Addr     string
	Password string
	DB       int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	return c
}

// wireMessage is how a Watermill message travels inside a Redis payload.
type wireMessage struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

// Transport implements message.Publisher and message.Subscriber on top of
// Redis pub/sub.
type Transport struct {
	client     *goredis.Client
	ownsClient bool
	logger     watermill.LoggerAdapter

	subscriptions map[*goredis.PubSub]string
	subMu         sync.Mutex
	wg            sync.WaitGroup

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	client := ClientFactory(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	t := NewWithClient(client, logger)
	t.ownsClient = true
	return t, nil
}

// NewWithClient wraps an existing client. Close leaves the client open.
func NewWithClient(client *goredis.Client, logger watermill.LoggerAdapter) *Transport {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Transport{
		client:        client,
		logger:        logger,
		subscriptions: make(map[*goredis.PubSub]string),
		closedChan:    make(chan struct{}),
	}
}

func (t *Transport) isClosed() bool {
	t.closedMu.RLock()
	defer t.closedMu.RUnlock()
	return t.closed
}

// Publish publishes each message to the Redis channel named topic.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}

	for _, msg := range messages {
		data, err := jsoncodec.Marshal(wireMessage{
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
		})
		if err != nil {
			return fmt.Errorf("failed to encode message %s: %w", msg.UUID, err)
		}
		if err := t.client.Publish(msg.Context(), topic, data).Err(); err != nil {
			return fmt.Errorf("failed to publish to redis channel %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe subscribes to the Redis channel named topic. The subscription is
// confirmed before Subscribe returns, so messages published afterwards are
// delivered. The output channel closes when ctx is done or the transport is
// closed.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	ps := t.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to redis channel %s: %w", topic, err)
	}

	t.subMu.Lock()
	t.subscriptions[ps] = topic
	t.subMu.Unlock()

	output := make(chan *message.Message)
	t.wg.Add(1)
	go t.consume(ctx, ps, topic, output)

	return output, nil
}

func (t *Transport) consume(ctx context.Context, ps *goredis.PubSub, topic string, output chan<- *message.Message) {
	defer t.wg.Done()
	defer close(output)
	defer t.release(ps)

	incoming := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closedChan:
			return
		case redisMsg, ok := <-incoming:
			if !ok {
				return
			}
			msg, err := t.toWatermill(redisMsg.Payload)
			if err != nil {
				t.logger.Error("Dropping undecodable redis message", err, watermill.LogFields{
					"topic": topic,
				})
				continue
			}
			msg.SetContext(ctx)
			if !t.deliver(ctx, msg, output, topic) {
				return
			}
		}
	}
}

// deliver hands msg to the subscriber and waits for its ack. Redis pub/sub
// cannot redeliver, so a nack only gets logged.
func (t *Transport) deliver(ctx context.Context, msg *message.Message, output chan<- *message.Message, topic string) bool {
	select {
	case output <- msg:
	case <-ctx.Done():
		return false
	case <-t.closedChan:
		return false
	}

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		t.logger.Info("Message nacked; redis pub/sub does not redeliver", watermill.LogFields{
			"topic":        topic,
			"message_uuid": msg.UUID,
		})
	case <-ctx.Done():
		return false
	case <-t.closedChan:
		return false
	}
	return true
}

func (t *Transport) toWatermill(payload string) (*message.Message, error) {
	var wire wireMessage
	if err := jsoncodec.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, err
	}
	if wire.UUID == "" {
		return nil, errors.New("message uuid is empty")
	}
	msg := message.NewMessage(wire.UUID, wire.Payload)
	for k, v := range wire.Metadata {
		msg.Metadata.Set(k, v)
	}
	return msg, nil
}

func (t *Transport) release(ps *goredis.PubSub) {
	t.subMu.Lock()
	delete(t.subscriptions, ps)
	t.subMu.Unlock()
	if err := ps.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		t.logger.Error("Failed to close redis subscription", err, nil)
	}
}

// Close stops every subscription and waits for the consumers to exit. The
// client is closed only if New created it.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.wg.Wait()

	if t.ownsClient {
		return t.client.Close()
	}
	return nil
}

// SubscriptionCount reports the number of live subscriptions.
func (t *Transport) SubscriptionCount() int {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	return len(t.subscriptions)
}

// GetCapabilities returns the Redis transport capabilities.
func (t *Transport) GetCapabilities() transport.Capabilities {
	return transport.RedisCapabilities
}
