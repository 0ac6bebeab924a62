// Package pipeline defines the boundary between the RabbitMQ bridge and the
// host message-processing pipeline.
//
// The central type is Exchange, the envelope handed between the bridge and
// application code. The consumer side populates it from a broker delivery,
// the producer side reads it to build a publish, and completion hooks run
// once after processing to drive acknowledgment and replies.
package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Header keys set by the consumer on every inbound Exchange and read by the
// producer as per-call overrides. The values are part of the wire-adjacent
// contract and must not change.
const (
	HeaderRoutingKey    = "rabbitmq.ROUTING_KEY"
	HeaderDeliveryTag   = "rabbitmq.DELIVERY_TAG"
	HeaderReplyTo       = "rabbitmq.REPLY_TO"
	HeaderCorrelationID = "rabbitmq.CORRELATION_ID"
)

// CompletionFunc runs exactly once after the pipeline has finished with an
// Exchange. err is nil on success and carries the processing failure
// otherwise.
type CompletionFunc func(ctx context.Context, ex *Exchange, err error)

// Exchange is the message envelope shared between the bridge and the
// pipeline. An Exchange is owned by a single worker/pipeline pair until its
// completions have run; the mutex only protects the late error-recording
// path used by acknowledgment bookkeeping.
type Exchange struct {
	id          string
	body        []byte
	response    []byte
	headers     map[string]interface{}
	completions []CompletionFunc
	completed   bool

	mu  sync.Mutex
	err error
}

// NewExchange creates an Exchange with a generated message id and the given
// inbound body.
func NewExchange(body []byte) *Exchange {
	return &Exchange{
		id:      uuid.New().String(),
		body:    body,
		headers: make(map[string]interface{}),
	}
}

// ID returns the message id.
func (ex *Exchange) ID() string { return ex.id }

// SetID overrides the generated message id.
func (ex *Exchange) SetID(id string) { ex.id = id }

// Body returns the inbound body.
func (ex *Exchange) Body() []byte { return ex.body }

// SetBody replaces the inbound body.
func (ex *Exchange) SetBody(body []byte) { ex.body = body }

// Response returns the outbound (reply) body, nil if none was produced.
func (ex *Exchange) Response() []byte { return ex.response }

// SetResponse sets the outbound (reply) body.
func (ex *Exchange) SetResponse(body []byte) { ex.response = body }

// Header returns the value for key and whether it was set.
func (ex *Exchange) Header(key string) (interface{}, bool) {
	v, ok := ex.headers[key]
	return v, ok
}

// StringHeader returns the header value for key if it is a string.
func (ex *Exchange) StringHeader(key string) string {
	if v, ok := ex.headers[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// SetHeader sets a header. Keys are unique; setting an existing key
// replaces its value.
func (ex *Exchange) SetHeader(key string, value interface{}) {
	ex.headers[key] = value
}

// Headers returns a copy of all headers.
func (ex *Exchange) Headers() map[string]interface{} {
	out := make(map[string]interface{}, len(ex.headers))
	for k, v := range ex.headers {
		out[k] = v
	}
	return out
}

// SetError records a processing or acknowledgment error on the envelope.
// Later errors do not overwrite an earlier one.
func (ex *Exchange) SetError(err error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.err == nil {
		ex.err = err
	}
}

// Error returns the recorded error state, nil if none.
func (ex *Exchange) Error() error {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.err
}

// OnCompletion registers a hook to run when processing finishes. Hooks run
// in registration order.
func (ex *Exchange) OnCompletion(fn CompletionFunc) {
	ex.completions = append(ex.completions, fn)
}

// Complete runs the registered completion hooks with the processing outcome.
// It is a no-op after the first call: every delivery completes exactly once.
func (ex *Exchange) Complete(ctx context.Context, err error) {
	if ex.completed {
		return
	}
	ex.completed = true
	if err != nil {
		ex.SetError(err)
	}
	for _, fn := range ex.completions {
		fn(ctx, ex, err)
	}
}

// Processor is the pipeline entry point the consumer dispatches into. The
// returned error is the processing outcome handed to completion hooks.
type Processor interface {
	Process(ctx context.Context, ex *Exchange) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, ex *Exchange) error

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, ex *Exchange) error {
	return f(ctx, ex)
}
