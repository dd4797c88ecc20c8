package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const (
	OutboxPending   = "pending"
	OutboxProcessed = "processed"
	OutboxFailed    = "failed"
)

type OutboxEvent struct {
	ID          uuid.UUID
	Topic       string
	Key         string
	Payload     []byte
	Status      string
	RetryCount  int
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}

func (e OutboxEvent) Message() Message {
	return Message{Topic: e.Topic, Key: e.Key, Value: e.Payload}
}

// RelayStore is what the relay needs from the outbox table.
type RelayStore interface {
	FetchDue(ctx context.Context, limit, maxRetries int, baseDelay time.Duration) ([]OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, status string, cause error) error
}

type PgOutbox struct {
	pool *pgxpool.Pool
}

func NewPgOutbox(pool *pgxpool.Pool) *PgOutbox {
	return &PgOutbox{pool: pool}
}

func (o *PgOutbox) Save(ctx context.Context, msg Message, cause error) error {
	var lastErr *string
	if cause != nil {
		s := cause.Error()
		lastErr = &s
	}

	_, err := o.pool.Exec(ctx, `
		INSERT INTO outbox_events (id, topic, event_key, payload, status, retry_count, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, now(), now())
	`, uuid.New(), msg.Topic, msg.Key, msg.Value, lastErr)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// FetchDue returns pending rows whose backoff has elapsed. A row that has
// failed n times waits baseDelay * 2^(n-1) after its last attempt.
func (o *PgOutbox) FetchDue(ctx context.Context, limit, maxRetries int, baseDelay time.Duration) ([]OutboxEvent, error) {
	rows, err := o.pool.Query(ctx, `
		SELECT id, topic, event_key, payload, status, retry_count, last_error, created_at, updated_at, processed_at
		FROM outbox_events
		WHERE status = 'pending'
		  AND retry_count < $1
		  AND (retry_count = 0 OR now() >= updated_at + power(2, retry_count - 1) * $2 * interval '1 second')
		ORDER BY created_at
		LIMIT $3
	`, maxRetries, baseDelay.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutboxEvent, error) {
		var e OutboxEvent
		err := row.Scan(&e.ID, &e.Topic, &e.Key, &e.Payload, &e.Status, &e.RetryCount,
			&e.LastError, &e.CreatedAt, &e.UpdatedAt, &e.ProcessedAt)
		return e, err
	})
}

func (o *PgOutbox) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := o.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'processed', processed_at = now(), updated_at = now(), last_error = NULL
		WHERE id = $1
	`, id)
	return err
}

func (o *PgOutbox) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, status string, cause error) error {
	_, err := o.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, retry_count = $3, last_error = $4, updated_at = now()
		WHERE id = $1
	`, id, status, retryCount, cause.Error())
	return err
}

type RelayOptions struct {
	BatchSize      int
	MaxRetries     int
	BaseRetryDelay time.Duration
}

// Relay re-sends parked events. Rows that keep failing are retried with
// exponential backoff and eventually marked failed.
type Relay struct {
	store RelayStore
	sink  Sink
	opts  RelayOptions
	log   *logrus.Entry
}

func NewRelay(store RelayStore, sink Sink, opts RelayOptions, log *logrus.Entry) *Relay {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.BaseRetryDelay <= 0 {
		opts.BaseRetryDelay = 500 * time.Millisecond
	}
	return &Relay{store: store, sink: sink, opts: opts, log: log.WithField("component", "outbox_relay")}
}

// RunOnce processes one batch and reports how many rows were delivered.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	due, err := r.store.FetchDue(ctx, r.opts.BatchSize, r.opts.MaxRetries, r.opts.BaseRetryDelay)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, ev := range due {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		if err := r.sink.Write(ctx, ev.Message()); err != nil {
			r.fail(ctx, ev, err)
			continue
		}
		if err := r.store.MarkProcessed(ctx, ev.ID); err != nil {
			r.log.WithError(err).WithField("outbox_id", ev.ID).Error("failed to mark outbox event processed")
			continue
		}
		delivered++
	}

	if delivered > 0 {
		r.log.WithField("count", delivered).Info("relayed outbox events")
	}
	return delivered, nil
}

func (r *Relay) fail(ctx context.Context, ev OutboxEvent, cause error) {
	retries := ev.RetryCount + 1
	status := OutboxPending
	fields := logrus.Fields{"outbox_id": ev.ID, "topic": ev.Topic, "retry_count": retries}

	if retries >= r.opts.MaxRetries {
		status = OutboxFailed
		r.log.WithError(cause).WithFields(fields).Error("outbox event failed permanently")
	} else {
		r.log.WithError(cause).WithFields(fields).Warn("outbox event relay failed, will retry")
	}

	if err := r.store.MarkFailed(ctx, ev.ID, retries, status, cause); err != nil {
		r.log.WithError(err).WithFields(fields).Error("failed to update outbox retry state")
	}
}
