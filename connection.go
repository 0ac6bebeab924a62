package rabbitmq

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

const dialTimeout = 30 * time.Second

// ConnectionManager owns the shared broker connection. Producers and
// consumer workers only use it to spawn their own channels; the connection
// itself is never used for channel operations directly. Lost connections are
// re-established with exponential backoff.
type ConnectionManager struct {
	url            string
	reconnectDelay time.Duration
	maxRetries     int
	logger         *slog.Logger

	mu          sync.RWMutex
	conn        *amqp.Connection
	isConnected bool
	notifyClose chan *amqp.Error
	done        chan struct{}
}

// ConnectionOption configures the ConnectionManager.
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the initial reconnection delay.
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithMaxRetries caps reconnection attempts. Negative means unlimited.
func WithMaxRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxRetries = retries
	}
}

// NewConnectionManager creates a connection manager for the given AMQP URL.
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		reconnectDelay: 5 * time.Second,
		maxRetries:     -1,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the initial connection and starts the close monitor.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.isConnected {
		return nil
	}

	conn, err := cm.dial(ctx)
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	cm.conn = conn
	cm.isConnected = true
	cm.notifyClose = make(chan *amqp.Error, 1)
	cm.conn.NotifyClose(cm.notifyClose)
	cm.done = make(chan struct{})

	cm.logger.Info("connected to RabbitMQ", "url", sanitizeURL(cm.url))

	go cm.handleReconnect(cm.notifyClose, cm.done)

	return nil
}

// OpenChannel spawns a new channel from the shared connection. It implements
// ChannelOpener.
func (cm *ConnectionManager) OpenChannel() (Channel, error) {
	cm.mu.RLock()
	conn := cm.conn
	connected := cm.isConnected
	cm.mu.RUnlock()

	if !connected || conn == nil || conn.IsClosed() {
		return nil, ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// IsConnected returns the connection status.
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected && cm.conn != nil && !cm.conn.IsClosed()
}

// Close shuts down the monitor and closes the connection.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.isConnected {
		return nil
	}

	if cm.done != nil {
		close(cm.done)
		cm.done = nil
	}
	cm.isConnected = false

	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		return err
	}
	return nil
}

func (cm *ConnectionManager) dial(ctx context.Context) (*amqp.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	connChan := make(chan *amqp.Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := amqp.Dial(cm.url)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case conn := <-connChan:
		return conn, nil
	case err := <-errChan:
		return nil, err
	case <-dialCtx.Done():
		return nil, dialCtx.Err()
	}
}

// handleReconnect monitors one connection's lifetime and reconnects when it
// drops. The notify and done channels are passed in so a manager reconnected
// after Close never leaves a stale monitor watching replaced channels.
func (cm *ConnectionManager) handleReconnect(notify chan *amqp.Error, done chan struct{}) {
	for {
		select {
		case amqpErr := <-notify:
			if amqpErr != nil {
				cm.logger.Error("connection closed", "error", amqpErr)
			}

			cm.mu.Lock()
			cm.isConnected = false
			cm.conn = nil
			cm.mu.Unlock()

			next, ok := cm.reconnect(done)
			if !ok {
				return
			}
			notify = next

		case <-done:
			cm.logger.Info("connection manager shutting down")
			return
		}
	}
}

// reconnect attempts to restore the connection, returning the new close
// notification channel. ok is false when the manager is shutting down or
// retries are exhausted.
func (cm *ConnectionManager) reconnect(done chan struct{}) (notify chan *amqp.Error, ok bool) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cm.reconnectDelay
	policy.MaxInterval = 5 * time.Minute
	policy.MaxElapsedTime = 0

	retries := 0
	for {
		select {
		case <-done:
			return nil, false
		default:
		}

		if cm.maxRetries >= 0 && retries >= cm.maxRetries {
			cm.logger.Error("max reconnection attempts reached",
				"attempts", retries,
				"error", ErrMaxRetriesExceeded)
			return nil, false
		}

		if retries > 0 {
			select {
			case <-time.After(policy.NextBackOff()):
			case <-done:
				return nil, false
			}
		}

		cm.logger.Info("attempting to reconnect", "attempt", retries+1)

		conn, err := cm.dial(context.Background())
		if err != nil {
			cm.logger.Error("reconnection failed", "error", err, "attempt", retries+1)
			retries++
			continue
		}

		notify = make(chan *amqp.Error, 1)
		conn.NotifyClose(notify)

		cm.mu.Lock()
		cm.conn = conn
		cm.isConnected = true
		cm.notifyClose = notify
		cm.mu.Unlock()

		cm.logger.Info("reconnected to RabbitMQ", "attempts", retries+1)
		return notify, true
	}
}

// sanitizeURL strips credentials before logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
