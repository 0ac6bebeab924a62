package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// FailureAction decides what the completion handler does with a delivery
// whose pipeline processing failed.
type FailureAction int

const (
	// Requeue rejects the delivery and puts it back on the queue.
	Requeue FailureAction = iota
	// DeadLetter rejects the delivery without requeueing, handing it to a
	// dead-letter exchange when one is configured on the queue.
	DeadLetter
	// Drop acknowledges the delivery, discarding it.
	Drop
)

// Config describes the broker topology and delivery behavior shared by a
// producer/consumer pair. It is immutable once built and safe to share.
type Config struct {
	// Exchange is the exchange to publish to and bind against. Empty means
	// queue-direct mode: messages go straight to Queue via the default
	// exchange.
	Exchange string

	// ExchangeType is passed through to the broker (direct, topic, fanout,
	// headers).
	ExchangeType string

	// Queue is the named queue declared in queue-direct mode.
	Queue string

	// Durable applies to the named queue declaration.
	Durable bool

	// BindingKeys bind the server-generated queue to Exchange, in order.
	// Empty means a single binding with the empty key.
	BindingKeys []string

	// RoutingKey is the default outbound routing key.
	RoutingKey string

	// ConcurrentConsumers is the number of worker loops the consumer runs.
	ConcurrentConsumers int

	// Prefetch is applied as channel QoS when > 0. Zero means unlimited.
	Prefetch int

	// AutoAck subscribes without manual acknowledgment.
	AutoAck bool

	// RPC makes Producer.Send wait for a correlated reply.
	RPC bool

	// ReplyTimeout bounds the RPC reply wait when the caller's context
	// carries no deadline.
	ReplyTimeout time.Duration

	// OnFailure selects the completion action for failed deliveries.
	OnFailure FailureAction

	// Properties holds default publish properties. Per-message fields such
	// as the message id are overridden at send time.
	Properties amqp.Publishing
}

// ConfigOption configures a Config under construction.
type ConfigOption func(*Config)

// WithExchange sets the exchange name and type.
func WithExchange(name, kind string) ConfigOption {
	return func(c *Config) {
		c.Exchange = name
		c.ExchangeType = kind
	}
}

// WithQueue sets the named queue and its durability.
func WithQueue(name string, durable bool) ConfigOption {
	return func(c *Config) {
		c.Queue = name
		c.Durable = durable
	}
}

// WithBindingKeys sets the binding keys used in exchange mode.
func WithBindingKeys(keys ...string) ConfigOption {
	return func(c *Config) {
		c.BindingKeys = keys
	}
}

// WithRoutingKey sets the default outbound routing key.
func WithRoutingKey(key string) ConfigOption {
	return func(c *Config) {
		c.RoutingKey = key
	}
}

// WithConcurrentConsumers sets the consumer worker count.
func WithConcurrentConsumers(n int) ConfigOption {
	return func(c *Config) {
		c.ConcurrentConsumers = n
	}
}

// WithPrefetch sets the per-channel QoS prefetch count.
func WithPrefetch(n int) ConfigOption {
	return func(c *Config) {
		c.Prefetch = n
	}
}

// WithAutoAck enables broker-side automatic acknowledgment.
func WithAutoAck(autoAck bool) ConfigOption {
	return func(c *Config) {
		c.AutoAck = autoAck
	}
}

// WithRPC enables request/reply mode on the producer.
func WithRPC(rpc bool) ConfigOption {
	return func(c *Config) {
		c.RPC = rpc
	}
}

// WithReplyTimeout sets the fallback RPC reply deadline.
func WithReplyTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.ReplyTimeout = d
	}
}

// WithFailureAction sets the completion action for failed deliveries.
func WithFailureAction(action FailureAction) ConfigOption {
	return func(c *Config) {
		c.OnFailure = action
	}
}

// WithProperties sets default publish properties.
func WithProperties(props amqp.Publishing) ConfigOption {
	return func(c *Config) {
		c.Properties = props
	}
}

// NewConfig builds and validates a Config.
func NewConfig(options ...ConfigOption) (Config, error) {
	c := Config{
		ExchangeType:        "direct",
		ConcurrentConsumers: 1,
		ReplyTimeout:        30 * time.Second,
		OnFailure:           Requeue,
	}

	for _, opt := range options {
		opt(&c)
	}

	if c.Exchange == "" && c.Queue == "" {
		return Config{}, fmt.Errorf("rabbitmq: config needs an exchange or a queue")
	}
	if c.ConcurrentConsumers < 1 {
		return Config{}, fmt.Errorf("rabbitmq: concurrent consumers must be positive, got %d", c.ConcurrentConsumers)
	}
	if c.Prefetch < 0 {
		return Config{}, fmt.Errorf("rabbitmq: prefetch must not be negative, got %d", c.Prefetch)
	}
	if c.ReplyTimeout <= 0 {
		return Config{}, fmt.Errorf("rabbitmq: reply timeout must be positive, got %v", c.ReplyTimeout)
	}

	return c, nil
}

// queueBound reports whether outbound messages target a named queue through
// a routing key, in which case the target is known to exist and topology
// does not need re-declaring on send.
func (c Config) queueBound(routingKey string) bool {
	return routingKey != "" && c.Queue != ""
}
