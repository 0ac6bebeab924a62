package rabbitmq

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/smee/rabbitmq-bridge/pipeline"
)

// completionHandler finishes a single delivery after the pipeline is done
// with it: acknowledgment on the consuming channel, an optional reply on the
// reply channel, and the configured reject action on failure.
//
// Channel ownership is explicit: the handler holds the worker channel the
// delivery arrived on (ack/nack must happen there) and a provisioner for the
// worker's reply channel, so replying can overlap continued consumption
// without two goroutines touching one channel.
type completionHandler struct {
	cfg      Config
	ch       Channel
	replies  *ChannelProvisioner
	delivery amqp.Delivery
	logger   *slog.Logger
}

func newCompletionHandler(cfg Config, ch Channel, replies *ChannelProvisioner, delivery amqp.Delivery, logger *slog.Logger) *completionHandler {
	return &completionHandler{
		cfg:      cfg,
		ch:       ch,
		replies:  replies,
		delivery: delivery,
		logger:   logger,
	}
}

// complete is registered as the envelope's completion hook. It runs exactly
// once per delivery, whatever the processing outcome.
func (h *completionHandler) complete(ctx context.Context, ex *pipeline.Exchange, procErr error) {
	if procErr != nil {
		h.failed(ex, procErr)
		return
	}

	if !h.cfg.AutoAck {
		h.ack(ex)
	}

	if h.delivery.ReplyTo != "" {
		h.reply(ctx, ex)
	}
}

// ack acknowledges the single delivery on the consuming channel. An ack
// failure is recorded on the envelope, not propagated: the pipeline already
// ran and must not run again.
func (h *completionHandler) ack(ex *pipeline.Exchange) {
	if err := h.ch.Ack(h.delivery.DeliveryTag, false); err != nil {
		ackErr := &AckFailure{DeliveryTag: h.delivery.DeliveryTag, Err: err}
		ex.SetError(ackErr)
		h.logger.Error("failed to ack delivery",
			"deliveryTag", h.delivery.DeliveryTag,
			"error", err)
	}
}

// reply publishes the envelope response to the default exchange, routed by
// the delivery's reply-to address and carrying its correlation id.
func (h *completionHandler) reply(ctx context.Context, ex *pipeline.Exchange) {
	ch, err := h.replies.Get()
	if err != nil {
		ex.SetError(err)
		h.logger.Error("failed to provision reply channel",
			"replyTo", h.delivery.ReplyTo,
			"error", err)
		return
	}

	props := amqp.Publishing{
		CorrelationId: h.delivery.CorrelationId,
		Body:          ex.Response(),
	}
	if err := ch.PublishWithContext(ctx, "", h.delivery.ReplyTo, false, false, props); err != nil {
		ex.SetError(&TransportError{Op: "publish reply", Err: err})
		h.logger.Error("failed to publish reply",
			"replyTo", h.delivery.ReplyTo,
			"correlationId", h.delivery.CorrelationId,
			"error", err)
		h.replies.Reset()
	}
}

// failed settles a delivery whose processing failed: the failure is reported
// and the delivery is explicitly rejected or discarded per configuration,
// never left unacknowledged by omission.
func (h *completionHandler) failed(ex *pipeline.Exchange, procErr error) {
	h.logger.Error("pipeline processing failed",
		"messageId", ex.ID(),
		"deliveryTag", h.delivery.DeliveryTag,
		"action", h.cfg.OnFailure,
		"error", procErr)

	if h.cfg.AutoAck {
		return
	}

	var err error
	switch h.cfg.OnFailure {
	case Requeue:
		err = h.ch.Nack(h.delivery.DeliveryTag, false, true)
	case DeadLetter:
		err = h.ch.Nack(h.delivery.DeliveryTag, false, false)
	case Drop:
		err = h.ch.Ack(h.delivery.DeliveryTag, false)
	}
	if err != nil {
		ex.SetError(&AckFailure{DeliveryTag: h.delivery.DeliveryTag, Err: err})
		h.logger.Error("failed to settle failed delivery",
			"deliveryTag", h.delivery.DeliveryTag,
			"error", err)
	}
}

// String makes FailureAction readable in logs.
func (a FailureAction) String() string {
	switch a {
	case Requeue:
		return "requeue"
	case DeadLetter:
		return "dead-letter"
	case Drop:
		return "drop"
	}
	return "unknown"
}
