package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Publisher emits an event and never reports failure to the caller: the
// decision the event describes has already been committed.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any)
}

type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Sink is a broker connection able to write messages.
type Sink interface {
	Write(ctx context.Context, msgs ...Message) error
	Close() error
}

// OutboxStore keeps messages the sink could not take so they can be relayed later.
type OutboxStore interface {
	Save(ctx context.Context, msg Message, cause error) error
}

var (
	errQueueFull        = errors.New("publish queue full")
	errDispatcherClosed = errors.New("dispatcher closed")
)

type DispatcherOptions struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// Dispatcher is the asynchronous Publisher. Publish only encodes and
// enqueues; a small worker pool writes to the sink. Messages that cannot
// be written (broker down, queue full) are handed to the outbox.
type Dispatcher struct {
	sink   Sink
	outbox OutboxStore
	opts   DispatcherOptions
	log    *logrus.Entry

	queue  chan Message
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, outbox OutboxStore, opts DispatcherOptions, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	opts = opts.withDefaults()

	d := &Dispatcher{
		sink:   sink,
		outbox: outbox,
		opts:   opts,
		log:    log.WithField("component", "event_dispatcher"),
		queue:  make(chan Message, opts.QueueSize),
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

func (d *Dispatcher) Publish(ctx context.Context, topic, key string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		d.log.WithError(err).WithField("topic", topic).Error("failed to marshal event payload")
		return
	}
	msg := Message{Topic: topic, Key: key, Value: body}

	var cause error
	d.mu.RLock()
	if d.closed {
		cause = errDispatcherClosed
	} else {
		select {
		case d.queue <- msg:
		default:
			cause = errQueueFull
		}
	}
	d.mu.RUnlock()

	if cause != nil {
		d.park(ctx, msg, cause)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.WriteTimeout)
	defer cancel()

	if err := d.sink.Write(ctx, msg); err != nil {
		d.park(context.Background(), msg, err)
		return
	}
	d.log.WithFields(logrus.Fields{"topic": msg.Topic, "key": msg.Key}).Debug("event published")
}

// park saves msg to the outbox, bounded by WriteTimeout so a slow store
// cannot stall the caller.
func (d *Dispatcher) park(ctx context.Context, msg Message, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.WriteTimeout)
	defer cancel()

	fields := logrus.Fields{"topic": msg.Topic, "key": msg.Key}
	d.log.WithError(cause).WithFields(fields).Warn("event not published, parking in outbox")

	if d.outbox == nil {
		d.log.WithFields(fields).Error("no outbox configured, event dropped")
		return
	}
	if err := d.outbox.Save(ctx, msg, cause); err != nil {
		d.log.WithError(err).WithFields(fields).Error("failed to save event to outbox, event dropped")
	}
}

// Close stops accepting new work, drains the queue and closes the sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.sink.Close()
}

type SinkConfig struct {
	Broker       string // kafka or rabbitmq
	KafkaBrokers []string
	AMQPURL      string
}

// OpenSink connects to the configured broker. For Kafka the outcome topics
// are created if missing; failing that is logged, since the cluster may
// auto-create or already have them.
func OpenSink(ctx context.Context, cfg SinkConfig, log *logrus.Entry) (Sink, error) {
	switch cfg.Broker {
	case "rabbitmq":
		return DialAMQP(cfg.AMQPURL, log)
	case "kafka", "":
		if err := EnsureTopics(ctx, cfg.KafkaBrokers, 3, 1, AllTopics...); err != nil {
			log.WithError(err).Warn("could not ensure kafka topics")
		}
		return NewKafkaSink(cfg.KafkaBrokers), nil
	default:
		return nil, fmt.Errorf("unknown event broker %q", cfg.Broker)
	}
}
