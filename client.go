package rabbitmq

import (
	"context"
	"log/slog"

	"github.com/smee/rabbitmq-bridge/pipeline"
)

// Client is the entry point for the bridge. It owns the shared broker
// connection and hands out producers and consumers for one configuration.
type Client struct {
	cfg     Config
	conn    *ConnectionManager
	logger  *slog.Logger
	connOpt []ConnectionOption
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger used by the client and, unless
// overridden, by the components it creates.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithConnectionOptions passes options through to the connection manager.
func WithConnectionOptions(options ...ConnectionOption) ClientOption {
	return func(c *Client) {
		c.connOpt = append(c.connOpt, options...)
	}
}

// NewClient creates a client for the given AMQP URL and configuration. No
// connection is made until Connect.
func NewClient(url string, cfg Config, options ...ClientOption) *Client {
	c := &Client{
		cfg:    cfg,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	c.conn = NewConnectionManager(url, append([]ConnectionOption{WithLogger(c.logger)}, c.connOpt...)...)
	return c
}

// Connect establishes the shared broker connection.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Producer creates a producer publishing over the shared connection.
func (c *Client) Producer(options ...ProducerOption) *Producer {
	return NewProducer(c.conn, c.cfg,
		append([]ProducerOption{WithProducerLogger(c.logger)}, options...)...)
}

// Consumer creates a consumer dispatching into processor over the shared
// connection.
func (c *Client) Consumer(processor pipeline.Processor, options ...ConsumerOption) *Consumer {
	return NewConsumer(c.conn, c.cfg, processor,
		append([]ConsumerOption{WithConsumerLogger(c.logger)}, options...)...)
}

// Connection exposes the connection manager, for callers that need to spawn
// channels of their own.
func (c *Client) Connection() *ConnectionManager {
	return c.conn
}

// Close closes the shared connection. Stop consumers first so in-flight
// deliveries can settle.
func (c *Client) Close() error {
	return c.conn.Close()
}
