package rabbitmq

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs the broker
	// connection before Connect has succeeded or after it was lost.
	ErrNotConnected = errors.New("rabbitmq: not connected")

	// ErrEmptyBody is returned by Producer.Send when the envelope carries
	// no body and the producer is not in RPC mode.
	ErrEmptyBody = errors.New("rabbitmq: message body is empty")

	// ErrReplyTimeout is returned by an RPC send when no reply with the
	// matching correlation id arrived before the deadline.
	ErrReplyTimeout = errors.New("rabbitmq: timed out waiting for reply")

	// ErrConsumerStopped is returned when Start is called on a consumer
	// that has already been stopped.
	ErrConsumerStopped = errors.New("rabbitmq: consumer is stopped")

	// ErrConsumerRunning is returned when Start is called twice.
	ErrConsumerRunning = errors.New("rabbitmq: consumer already running")

	// ErrMaxRetriesExceeded is reported when reconnection gives up.
	ErrMaxRetriesExceeded = errors.New("rabbitmq: maximum reconnection attempts exceeded")
)

// TransportError wraps connection and channel level failures. It is not
// retried by the bridge; callers decide the policy.
type TransportError struct {
	Op  string // operation that failed
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rabbitmq transport error: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TopologyConflict reports a declare-time mismatch with existing broker
// topology. Fatal for the channel it occurred on.
type TopologyConflict struct {
	Component string // "exchange" or "queue"
	Name      string
	Err       error
}

func (e *TopologyConflict) Error() string {
	return fmt.Sprintf("rabbitmq topology conflict: %s %q does not match existing declaration: %v",
		e.Component, e.Name, e.Err)
}

func (e *TopologyConflict) Unwrap() error { return e.Err }

// AckFailure reports a failed acknowledgment after processing finished. It
// is recorded on the envelope, never returned up the dispatch path.
type AckFailure struct {
	DeliveryTag uint64
	Err         error
}

func (e *AckFailure) Error() string {
	return fmt.Sprintf("rabbitmq ack failure: delivery tag %d: %v", e.DeliveryTag, e.Err)
}

func (e *AckFailure) Unwrap() error { return e.Err }
