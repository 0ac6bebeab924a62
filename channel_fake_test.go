package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeChannel records broker channel calls for assertions and feeds
// deliveries to consumers through an in-memory stream.
type fakeChannel struct {
	mu sync.Mutex

	serverQueue string // name handed out for server-named declares

	exchangeDeclares []exchangeDeclareCall
	queueDeclares    []queueDeclareCall
	binds            []bindCall
	qosCalls         []qosCall
	publishes        []publishCall
	consumes         []consumeCall
	acks             []settleCall
	nacks            []settleCall
	cancels          []string
	closed           bool

	deliveries chan amqp.Delivery
	onPublish  func(publishCall) // invoked synchronously on every publish

	exchangeDeclareErr error
	queueDeclareErr    error
	bindErr            error
	qosErr             error
	publishErr         error
	consumeErr         error
	ackErr             error
	nackErr            error
}

type exchangeDeclareCall struct {
	name, kind string
	durable    bool
}

type queueDeclareCall struct {
	name                      string
	durable, autoDelete, excl bool
}

type bindCall struct {
	queue, key, exchange string
}

type qosCall struct {
	prefetchCount, prefetchSize int
	global                      bool
}

type publishCall struct {
	exchange, key string
	props         amqp.Publishing
}

type consumeCall struct {
	queue, tag string
	autoAck    bool
}

type settleCall struct {
	tag      uint64
	multiple bool
	requeue  bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		serverQueue: "amq.gen-fake",
		deliveries:  make(chan amqp.Delivery, 16),
	}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exchangeDeclareErr != nil {
		return f.exchangeDeclareErr
	}
	f.exchangeDeclares = append(f.exchangeDeclares, exchangeDeclareCall{name: name, kind: kind, durable: durable})
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queueDeclareErr != nil {
		return amqp.Queue{}, f.queueDeclareErr
	}
	declared := name
	if declared == "" {
		declared = f.serverQueue
	}
	f.queueDeclares = append(f.queueDeclares, queueDeclareCall{name: name, durable: durable, autoDelete: autoDelete, excl: exclusive})
	return amqp.Queue{Name: declared}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bindErr != nil {
		return f.bindErr
	}
	f.binds = append(f.binds, bindCall{queue: name, key: key, exchange: exchange})
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.qosErr != nil {
		return f.qosErr
	}
	f.qosCalls = append(f.qosCalls, qosCall{prefetchCount: prefetchCount, prefetchSize: prefetchSize, global: global})
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	if f.publishErr != nil {
		f.mu.Unlock()
		return f.publishErr
	}
	call := publishCall{exchange: exchange, key: key, props: msg}
	f.publishes = append(f.publishes, call)
	hook := f.onPublish
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return nil
}

func (f *fakeChannel) ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	f.consumes = append(f.consumes, consumeCall{queue: queue, tag: consumer, autoAck: autoAck})
	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, consumer)
	return nil
}

func (f *fakeChannel) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acks = append(f.acks, settleCall{tag: tag, multiple: multiple})
	return nil
}

func (f *fakeChannel) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nackErr != nil {
		return f.nackErr
	}
	f.nacks = append(f.nacks, settleCall{tag: tag, multiple: multiple, requeue: requeue})
	return nil
}

func (f *fakeChannel) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.publishes)
}

func (f *fakeChannel) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acks)
}

func (f *fakeChannel) nackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nacks)
}

// fakeOpener hands out a fresh fakeChannel per call, so every owner gets a
// distinct handle identity.
type fakeOpener struct {
	mu       sync.Mutex
	channels []*fakeChannel
	openErr  error
}

func (o *fakeOpener) OpenChannel() (Channel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	ch := newFakeChannel()
	ch.serverQueue = fmt.Sprintf("amq.gen-%d", len(o.channels))
	o.channels = append(o.channels, ch)
	return ch, nil
}

func (o *fakeOpener) opened() []*fakeChannel {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeChannel(nil), o.channels...)
}

// singleOpener always returns the same channel, for producer tests that
// need to inspect the one channel the producer caches.
type singleOpener struct {
	ch *fakeChannel
}

func (o *singleOpener) OpenChannel() (Channel, error) {
	return o.ch, nil
}
