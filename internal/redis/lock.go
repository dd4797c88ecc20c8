package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

var (
	ErrLockNotAcquired = apperr.New(apperr.Conflict, "appointment is being modified, please retry")
)

// AppointmentLocker guards cancel, reschedule and complete so that two
// requests for the same appointment do not interleave their ledger calls.
type AppointmentLocker struct {
	client   *redis.Client
	ttl      time.Duration
	log      *logrus.Entry
	newToken func() string
}

func NewAppointmentLocker(client *redis.Client, ttl time.Duration, log *logrus.Entry) *AppointmentLocker {
	return &AppointmentLocker{
		client:   client,
		ttl:      ttl,
		log:      log.WithField("component", "appointment_lock"),
		newToken: uuid.NewString,
	}
}

func lockKey(id uuid.UUID) string {
	return fmt.Sprintf("lock:appointment:%s", id.String())
}

func (l *AppointmentLocker) WithAppointmentLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(id)
	token := l.newToken()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, err, "acquire appointment lock")
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		if err := l.release(context.WithoutCancel(ctx), key, token); err != nil {
			l.log.WithError(err).WithField("appointment_id", id).Warn("lock release failed, it will expire")
		}
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *AppointmentLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release appointment lock: %w", err)
	}
	return nil
}
