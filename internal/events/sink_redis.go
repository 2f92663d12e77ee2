package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events as JSON on a Redis channel so out-of-process
// consumers (dashboards, recorders) can follow the stream live.
//
// Publishing is best-effort: a down Redis must not stall call processing.
type RedisSink struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
	timeout time.Duration
}

func NewRedisSink(rdb *redis.Client, channel string, log *slog.Logger) *RedisSink {
	return &RedisSink{rdb: rdb, channel: channel, log: log, timeout: 2 * time.Second}
}

func (s *RedisSink) Deliver(e Event) {
	if s.rdb == nil || s.channel == "" {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		s.warn("event marshal failed", e, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.warn("event publish failed", e, err)
	}
}

func (s *RedisSink) warn(msg string, e Event, err error) {
	if s.log != nil {
		s.log.Warn(msg, "event_type", string(e.Type), "call_id", e.CallID, "err", err)
	}
}
