package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

// DoctorCache is a cache-aside DoctorDirectory. Concurrent misses for the
// same doctor collapse into one upstream call. Redis errors degrade to a
// direct upstream lookup.
type DoctorCache struct {
	client   *redis.Client
	upstream appointment.DoctorDirectory
	ttl      time.Duration
	group    singleflight.Group
	log      *logrus.Entry
}

func NewDoctorCache(client *redis.Client, upstream appointment.DoctorDirectory, ttl time.Duration, log *logrus.Entry) *DoctorCache {
	return &DoctorCache{
		client:   client,
		upstream: upstream,
		ttl:      ttl,
		log:      log.WithField("component", "doctor_cache"),
	}
}

func doctorKey(id uuid.UUID) string {
	return "doctor:" + id.String()
}

func (c *DoctorCache) GetDoctor(ctx context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	if d, ok := c.cached(ctx, id); ok {
		return d, nil
	}

	v, err, _ := c.group.Do(id.String(), func() (any, error) {
		if d, ok := c.cached(ctx, id); ok {
			return d, nil
		}
		d, err := c.upstream.GetDoctor(ctx, id)
		if err != nil {
			return nil, err
		}
		c.store(ctx, d)
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*appointment.Doctor), nil
}

func (c *DoctorCache) cached(ctx context.Context, id uuid.UUID) (*appointment.Doctor, bool) {
	raw, err := c.client.Get(ctx, doctorKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).Warn("doctor cache read failed")
		}
		return nil, false
	}

	var d appointment.Doctor
	if err := json.Unmarshal(raw, &d); err != nil {
		c.log.WithError(err).WithField("doctor_id", id).Warn("corrupt doctor cache entry")
		return nil, false
	}
	return &d, true
}

func (c *DoctorCache) store(ctx context.Context, d *appointment.Doctor) {
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, doctorKey(d.ID), raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("doctor cache write failed")
	}
}
