package proc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

const (
	EventsChannel  = "mai:player"
	publishTimeout = 2 * time.Second
)

// RedisEvents publishes player events as JSON on a Redis channel.
type RedisEvents struct {
	rdb     *redis.Client
	channel string
}

type eventEnvelope struct {
	ID string `json:"eventId"`
	music.Event
}

// NewRedisEvents connects to the server at redisURL (redis://host:port/db).
func NewRedisEvents(ctx context.Context, redisURL string) (*RedisEvents, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	sys.LogEvents(sys.MsgEventsConnected, EventsChannel)
	return NewRedisEventsClient(rdb, EventsChannel), nil
}

func NewRedisEventsClient(rdb *redis.Client, channel string) *RedisEvents {
	return &RedisEvents{rdb: rdb, channel: channel}
}

func (e *RedisEvents) Publish(ctx context.Context, ev music.Event) {
	if e == nil || e.rdb == nil {
		return
	}
	data, err := json.Marshal(eventEnvelope{ID: uuid.NewString(), Event: ev})
	if err != nil {
		sys.LogEvents(sys.MsgEventsPublishFail, ev.Kind, err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := e.rdb.Publish(ctx, e.channel, data).Err(); err != nil {
		sys.LogEvents(sys.MsgEventsPublishFail, ev.Kind, err)
	}
}

func (e *RedisEvents) Close() error {
	if e == nil || e.rdb == nil {
		return nil
	}
	return e.rdb.Close()
}

var _ music.Events = (*RedisEvents)(nil)
