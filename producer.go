package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/smee/rabbitmq-bridge/pipeline"
)

// Producer sends pipeline envelopes to the broker. It owns one lazily
// provisioned channel; the mutex serializes all operations on it so Send may
// be called concurrently.
type Producer struct {
	cfg         Config
	provisioner *ChannelProvisioner
	logger      *slog.Logger

	mu         sync.Mutex
	declaredOn Channel // channel the topology was last declared on
}

// ProducerOption configures the Producer.
type ProducerOption func(*Producer)

// WithProducerLogger sets the logger.
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) {
		p.logger = logger
	}
}

// NewProducer creates a producer publishing through channels spawned from
// opener.
func NewProducer(opener ChannelOpener, cfg Config, options ...ProducerOption) *Producer {
	p := &Producer{
		cfg:         cfg,
		provisioner: NewChannelProvisioner(opener, 0),
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Send publishes the envelope body. In fire-and-forget mode it returns as
// soon as the publish call is handed to the transport; in RPC mode it blocks
// until a correlated reply arrives and copies the reply body into the
// envelope response. Failures are recorded on the envelope and returned.
func (p *Producer) Send(ctx context.Context, ex *pipeline.Exchange) error {
	body := ex.Body()
	if p.cfg.RPC {
		if body == nil {
			ex.SetError(ErrEmptyBody)
			return ErrEmptyBody
		}
	} else if len(body) == 0 {
		ex.SetError(ErrEmptyBody)
		return ErrEmptyBody
	}

	routingKey := p.resolveRoutingKey(ex)

	ch, err := p.ensureChannel(routingKey)
	if err != nil {
		ex.SetError(err)
		return err
	}

	if p.cfg.RPC {
		err = p.sendRPC(ctx, ex, ch, routingKey, body)
	} else {
		err = p.publish(ctx, ch, routingKey, p.buildProperties(ex, body))
	}
	if err != nil {
		ex.SetError(err)
		p.resetIfBroken(ch)
		return err
	}
	return nil
}

// Close releases the producer channel.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.declaredOn = nil
	return p.provisioner.Close()
}

// resolveRoutingKey applies the configured default, the queue-name override
// in queue-direct mode, and finally the per-message header override. The
// header is ignored with a warning when neither an exchange nor a queue is
// configured, so a stray header cannot route a message nowhere.
func (p *Producer) resolveRoutingKey(ex *pipeline.Exchange) string {
	key := p.cfg.RoutingKey
	if p.cfg.Exchange == "" {
		key = p.cfg.Queue
	}

	if header := ex.StringHeader(pipeline.HeaderRoutingKey); header != "" {
		if p.cfg.Exchange != "" || p.cfg.Queue != "" {
			key = header
		} else {
			p.logger.Warn("no exchange or queue configured, ignoring routing key header",
				"routingKey", header)
		}
	}
	return key
}

// ensureChannel returns the producer channel with topology declared. The
// full topology is declared once per channel; sends that are not bound to a
// named queue additionally refresh the exchange declaration, since in pure
// exchange mode the endpoint may have been deleted since the last send.
func (p *Producer) ensureChannel(routingKey string) (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.provisioner.Get()
	if err != nil {
		return nil, err
	}

	if ch != p.declaredOn {
		if _, err := declareTopology(ch, p.cfg); err != nil {
			return nil, err
		}
		p.declaredOn = ch
	} else if !p.cfg.queueBound(routingKey) {
		if err := refreshTopology(ch, p.cfg); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

// buildProperties merges the configured default properties with the
// per-message body and id.
func (p *Producer) buildProperties(ex *pipeline.Exchange, body []byte) amqp.Publishing {
	props := p.cfg.Properties
	props.MessageId = ex.ID()
	props.Body = body
	return props
}

func (p *Producer) publish(ctx context.Context, ch Channel, routingKey string, props amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ch.PublishWithContext(ctx, p.cfg.Exchange, routingKey, false, false, props); err != nil {
		return &TransportError{Op: "publish", Err: err}
	}
	return nil
}

// sendRPC publishes with a per-call private reply queue and blocks until a
// delivery with the matching correlation id arrives. Non-matching deliveries
// are discarded without ending the wait. The wait is bounded by the caller's
// deadline, or by the configured ReplyTimeout when the context has none; the
// temporary consumer is cancelled on every exit path.
func (p *Producer) sendRPC(ctx context.Context, ex *pipeline.Exchange, ch Channel, routingKey string, body []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ReplyTimeout)
		defer cancel()
	}

	correlationID := uuid.New().String()
	consumerTag := "rpc-" + correlationID

	p.mu.Lock()
	replyQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		p.mu.Unlock()
		return topologyErr("queue", "", "declare reply queue", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, replyQueue.Name, consumerTag, true, true, false, false, nil)
	if err != nil {
		p.mu.Unlock()
		return &TransportError{Op: "consume reply queue", Err: err}
	}

	err = ch.PublishWithContext(ctx, p.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		CorrelationId: correlationID,
		ReplyTo:       replyQueue.Name,
		Body:          body,
	})
	p.mu.Unlock()
	if err != nil {
		p.cancelReplyConsumer(ch, consumerTag)
		return &TransportError{Op: "publish request", Err: err}
	}

	defer p.cancelReplyConsumer(ch, consumerTag)

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				return &TransportError{Op: "await reply", Err: ErrNotConnected}
			}
			if delivery.CorrelationId != correlationID {
				p.logger.Debug("discarding reply with unknown correlation id",
					"correlationId", delivery.CorrelationId)
				continue
			}
			ex.SetResponse(delivery.Body)
			ex.SetHeader(pipeline.HeaderCorrelationID, correlationID)
			return nil

		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrReplyTimeout
			}
			return ctx.Err()
		}
	}
}

func (p *Producer) cancelReplyConsumer(ch Channel, consumerTag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch.IsClosed() {
		return
	}
	if err := ch.Cancel(consumerTag, false); err != nil {
		p.logger.Warn("failed to cancel reply consumer", "consumerTag", consumerTag, "error", err)
	}
}

// resetIfBroken drops the cached channel after a failure that closed it, so
// the next send provisions a fresh one instead of reusing a stale handle.
func (p *Producer) resetIfBroken(ch Channel) {
	if ch.IsClosed() {
		p.mu.Lock()
		p.declaredOn = nil
		p.mu.Unlock()
		p.provisioner.Reset()
	}
}
