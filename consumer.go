package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/smee/rabbitmq-bridge/pipeline"
)

// Consumer runs a pool of worker loops delivering messages into the
// pipeline. Each worker owns its channel exclusively; workers share only the
// queue, the immutable config, and the connection they spawn channels from.
type Consumer struct {
	cfg       Config
	opener    ChannelOpener
	processor pipeline.Processor
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	workers []*consumerWorker
	wg      sync.WaitGroup
}

// ConsumerOption configures the Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer dispatching deliveries into processor.
func NewConsumer(opener ChannelOpener, cfg Config, processor pipeline.Processor, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		cfg:       cfg,
		opener:    opener,
		processor: processor,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Start declares the topology once and launches ConcurrentConsumers worker
// loops against the resolved queue. It returns once all workers are
// subscribed or with the first startup error.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrConsumerStopped
	}
	if c.running {
		return ErrConsumerRunning
	}

	queue, err := c.declareQueue()
	if err != nil {
		return err
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	workers := make([]*consumerWorker, 0, c.cfg.ConcurrentConsumers)
	for i := 0; i < c.cfg.ConcurrentConsumers; i++ {
		w := &consumerWorker{
			tag:         fmt.Sprintf("worker-%d-%s", i, uuid.New().String()[:8]),
			queue:       queue,
			cfg:         c.cfg,
			processor:   c.processor,
			logger:      c.logger.With("worker", i),
			provisioner: NewChannelProvisioner(c.opener, c.cfg.Prefetch),
			replies:     NewChannelProvisioner(c.opener, 0),
		}
		if err := w.subscribe(workerCtx); err != nil {
			cancel()
			for _, started := range workers {
				started.close()
			}
			w.close()
			return err
		}
		workers = append(workers, w)
	}

	for _, w := range workers {
		c.wg.Add(1)
		go func(w *consumerWorker) {
			defer c.wg.Done()
			w.run(workerCtx)
		}(w)
	}

	c.workers = workers
	c.running = true

	c.logger.Info("consumer started",
		"queue", queue,
		"workers", len(workers),
		"autoAck", c.cfg.AutoAck,
		"prefetch", c.cfg.Prefetch)

	return nil
}

// Stop interrupts the workers' blocking receives, waits for in-flight
// dispatches and their completions to finish, then tears the channels down.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.stopped = true
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.stopped = true
	cancel := c.cancel
	workers := c.workers
	c.workers = nil
	c.mu.Unlock()

	cancel()
	c.wg.Wait()

	var errs *multierror.Error
	for _, w := range workers {
		if err := w.close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	c.logger.Info("consumer stopped")
	return errs.ErrorOrNil()
}

// declareQueue runs the shared topology declaration on a short-lived setup
// channel and returns the queue all workers consume from. In exchange mode
// this is where the server-named queue is created, so every worker sees the
// same name.
func (c *Consumer) declareQueue() (string, error) {
	ch, err := c.opener.OpenChannel()
	if err != nil {
		return "", &TransportError{Op: "open setup channel", Err: err}
	}
	defer ch.Close()

	return declareTopology(ch, c.cfg)
}

// consumerWorker is one receive-dispatch loop. It owns its consuming channel
// and a lazily provisioned reply channel; neither is touched by any other
// goroutine.
type consumerWorker struct {
	tag         string
	queue       string
	cfg         Config
	processor   pipeline.Processor
	logger      *slog.Logger
	provisioner *ChannelProvisioner
	replies     *ChannelProvisioner

	ch         Channel
	deliveries <-chan amqp.Delivery
}

// subscribe provisions the worker channel and opens the delivery stream.
func (w *consumerWorker) subscribe(ctx context.Context) error {
	ch, err := w.provisioner.Get()
	if err != nil {
		return err
	}

	deliveries, err := ch.ConsumeWithContext(ctx, w.queue, w.tag, w.cfg.AutoAck, false, false, false, nil)
	if err != nil {
		return &TransportError{Op: "consume", Err: err}
	}

	w.ch = ch
	w.deliveries = deliveries

	w.logger.Debug("subscribed", "queue", w.queue, "consumerTag", w.tag)
	return nil
}

// run blocks on the delivery stream until the context is cancelled or the
// channel dies. A failed dispatch is reported and the loop moves on; a dead
// channel ends the worker, it never resumes on a stale handle.
func (w *consumerWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("worker stopping", "reason", ctx.Err())
			return

		case delivery, ok := <-w.deliveries:
			if !ok {
				if ctx.Err() == nil {
					w.logger.Error("delivery stream closed, stopping worker",
						"queue", w.queue,
						"consumerTag", w.tag)
				}
				return
			}
			w.dispatch(ctx, delivery)
		}
	}
}

// dispatch builds the envelope for one delivery, binds the completion
// handler to this worker's channels, and hands it to the pipeline. The
// processing outcome, panics included, flows through the completion hook;
// nothing is swallowed.
func (w *consumerWorker) dispatch(ctx context.Context, delivery amqp.Delivery) {
	ex := pipeline.NewExchange(delivery.Body)
	if delivery.MessageId != "" {
		ex.SetID(delivery.MessageId)
	}
	ex.SetHeader(pipeline.HeaderRoutingKey, delivery.RoutingKey)
	ex.SetHeader(pipeline.HeaderDeliveryTag, delivery.DeliveryTag)
	ex.SetHeader(pipeline.HeaderReplyTo, delivery.ReplyTo)
	ex.SetHeader(pipeline.HeaderCorrelationID, delivery.CorrelationId)

	handler := newCompletionHandler(w.cfg, w.ch, w.replies, delivery, w.logger)
	ex.OnCompletion(handler.complete)

	err := w.process(ctx, ex)
	ex.Complete(ctx, err)
}

func (w *consumerWorker) process(ctx context.Context, ex *pipeline.Exchange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rabbitmq: panic in pipeline processor: %v", r)
		}
	}()
	return w.processor.Process(ctx, ex)
}

func (w *consumerWorker) close() error {
	var errs *multierror.Error
	if err := w.provisioner.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := w.replies.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
