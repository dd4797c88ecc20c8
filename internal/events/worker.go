package events

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Delivery[T any] struct {
	Topic   string
	Key     string
	Headers map[string]string
	Value   T
}

type Handler[T any] func(ctx context.Context, d Delivery[T]) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const laneBuffer = 16

// Worker consumes a topic group, decoding JSON values into T. Each partition
// is pinned to one lane and handled strictly in offset order. A failing
// message is retried with backoff until it succeeds, so an offset is never
// committed past a message that was not handled.
type Worker[T any] struct {
	r      messageReader
	lanes  int
	handle Handler[T]
	log    *logrus.Entry

	retryBase time.Duration
	retryMax  time.Duration
}

// NewWorker builds a group consumer. lanes bounds how many partitions are
// handled at once.
func NewWorker[T any](brokers []string, group string, topics []string, lanes int, handler Handler[T], log *logrus.Entry) *Worker[T] {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     group,
		GroupTopics: topics,
		MinBytes:    1e3,
		MaxBytes:    10e6,
	})
	return newWorker(r, lanes, handler, log)
}

func newWorker[T any](r messageReader, lanes int, handler Handler[T], log *logrus.Entry) *Worker[T] {
	if lanes <= 0 {
		lanes = 1
	}
	return &Worker[T]{
		r:         r,
		lanes:     lanes,
		handle:    handler,
		log:       log.WithField("component", "kafka_worker"),
		retryBase: 200 * time.Millisecond,
		retryMax:  10 * time.Second,
	}
}

// Run blocks until ctx is cancelled or the reader fails. Lanes are stopped
// and waited for before it returns; unfinished messages stay uncommitted.
func (w *Worker[T]) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	lanes := make([]chan kafka.Message, w.lanes)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, laneBuffer)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if !w.process(ctx, m) {
					return
				}
			}
		}(lanes[i])
	}
	defer func() {
		cancel()
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}()

	assigned := make(map[string]int)
	for {
		m, err := w.r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		key := m.Topic + "/" + strconv.Itoa(m.Partition)
		lane, ok := assigned[key]
		if !ok {
			lane = len(assigned) % w.lanes
			assigned[key] = lane
		}

		select {
		case lanes[lane] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// process reports false when ctx ended before the message was handled.
func (w *Worker[T]) process(ctx context.Context, m kafka.Message) bool {
	fields := logrus.Fields{"topic": m.Topic, "partition": m.Partition, "offset": m.Offset}

	var val T
	if err := json.Unmarshal(m.Value, &val); err != nil {
		// A message that can never decode is committed so it does not block the partition.
		w.log.WithError(err).WithFields(fields).Error("dropping undecodable message")
		w.commit(ctx, m, fields)
		return true
	}

	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	d := Delivery[T]{Topic: m.Topic, Key: string(m.Key), Headers: headers, Value: val}

	delay := w.retryBase
	for attempt := 1; ; attempt++ {
		err := w.handle(ctx, d)
		if err == nil {
			w.commit(ctx, m, fields)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		w.log.WithError(err).WithFields(fields).WithField("attempt", attempt).Error("handle kafka message failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
		delay = min(delay*2, w.retryMax)
	}
}

func (w *Worker[T]) commit(ctx context.Context, m kafka.Message, fields logrus.Fields) {
	if err := w.r.CommitMessages(ctx, m); err != nil {
		w.log.WithError(err).WithFields(fields).Warn("commit failed")
	}
}

func (w *Worker[T]) Close() error { return w.r.Close() }
