package rabbitmq

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// declareTopology declares the exchange/queue/bindings described by cfg on
// the given channel and returns the queue to consume from.
//
// Exchange mode declares the exchange, then a server-named exclusive queue
// bound once per binding key, or once with the empty key when no binding
// keys are configured. Queue mode declares the named queue directly.
// Declarations are idempotent on the broker side; a mismatched redeclare
// surfaces as *TopologyConflict. The same function runs on the producer and
// consumer paths so topology is consistent regardless of which side starts
// first.
func declareTopology(ch Channel, cfg Config) (string, error) {
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, cfg.ExchangeType, false, false, false, false, nil); err != nil {
			return "", topologyErr("exchange", cfg.Exchange, "declare exchange", err)
		}

		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return "", topologyErr("queue", "", "declare server-named queue", err)
		}

		keys := cfg.BindingKeys
		if len(keys) == 0 {
			keys = []string{""}
		}
		for _, key := range keys {
			if err := ch.QueueBind(q.Name, key, cfg.Exchange, false, nil); err != nil {
				return "", topologyErr("queue", q.Name, "bind queue", err)
			}
		}
		return q.Name, nil
	}

	q, err := ch.QueueDeclare(cfg.Queue, cfg.Durable, false, false, false, nil)
	if err != nil {
		return "", topologyErr("queue", cfg.Queue, "declare queue", err)
	}
	return q.Name, nil
}

// refreshTopology re-runs the endpoint declaration on an already provisioned
// channel: only the exchange, or the named queue in queue mode. Creating and
// binding the server-named queue is a once-per-channel concern handled by
// declareTopology; repeating it would leave one more bound queue behind on
// every send.
func refreshTopology(ch Channel, cfg Config) error {
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, cfg.ExchangeType, false, false, false, false, nil); err != nil {
			return topologyErr("exchange", cfg.Exchange, "declare exchange", err)
		}
		return nil
	}

	if _, err := ch.QueueDeclare(cfg.Queue, cfg.Durable, false, false, false, nil); err != nil {
		return topologyErr("queue", cfg.Queue, "declare queue", err)
	}
	return nil
}

// topologyErr maps a broker declare failure to the bridge taxonomy: AMQP
// precondition failures become TopologyConflict, everything else is a
// TransportError.
func topologyErr(component, name, op string, err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		return &TopologyConflict{Component: component, Name: name, Err: err}
	}
	return &TransportError{Op: op, Err: err}
}
