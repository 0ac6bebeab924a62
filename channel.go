package rabbitmq

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of the broker channel API the bridge uses.
// *amqp091.Channel satisfies it; tests substitute doubles. A Channel is not
// safe for concurrent use and belongs to exactly one owner.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	IsClosed() bool
	Close() error
}

// ChannelOpener spawns broker channels from a shared connection.
type ChannelOpener interface {
	OpenChannel() (Channel, error)
}

// ChannelProvisioner lazily opens and caches a single channel for one owner
// (the producer, one consumer worker, or a reply path), applying QoS on
// creation. Provisioning is idempotent: repeated Get calls return the same
// channel until Reset or Close.
type ChannelProvisioner struct {
	opener   ChannelOpener
	prefetch int

	mu sync.Mutex
	ch Channel
}

// NewChannelProvisioner creates a provisioner. prefetch > 0 is applied as
// channel QoS when the channel is opened.
func NewChannelProvisioner(opener ChannelOpener, prefetch int) *ChannelProvisioner {
	return &ChannelProvisioner{opener: opener, prefetch: prefetch}
}

// Get returns the cached channel, opening one on first use. A channel found
// closed is replaced.
func (p *ChannelProvisioner) Get() (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.opener.OpenChannel()
	if err != nil {
		return nil, &TransportError{Op: "open channel", Err: err}
	}

	if p.prefetch > 0 {
		if err := ch.Qos(p.prefetch, 0, false); err != nil {
			ch.Close()
			return nil, &TransportError{Op: "set qos", Err: err}
		}
	}

	p.ch = ch
	return ch, nil
}

// Reset drops the cached channel so the next Get opens a fresh one. Used
// after an unrecoverable channel error; a stale handle is never reused.
func (p *ChannelProvisioner) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		if !p.ch.IsClosed() {
			p.ch.Close()
		}
		p.ch = nil
	}
}

// Close releases the cached channel.
func (p *ChannelProvisioner) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return nil
	}
	ch := p.ch
	p.ch = nil
	if ch.IsClosed() {
		return nil
	}
	return ch.Close()
}
