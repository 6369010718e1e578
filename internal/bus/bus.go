// Package bus publishes ingestion events on Redis pub/sub. Publication is
// fire-and-forget: there is no delivery acknowledgment and a bus outage
// never stalls ingestion; the persisted store is the durable record.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"tradeflow/config"
	"tradeflow/logger"
)

// Bus wraps the Redis client used for both publishing and the inbound
// control-command subscription. Safe for concurrent use by all pipelines.
type Bus struct {
	client   *redis.Client
	Subjects Subjects
	log      *logger.Log
}

func New(cfg config.BusConfig) *Bus {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	b := &Bus{
		client:   client,
		Subjects: Subjects{Root: cfg.SubjectRoot},
		log:      logger.GetLogger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// Best-effort telemetry: start anyway and let publishes fail quietly.
		b.log.WithComponent("bus").WithError(err).Warn("redis unreachable at startup")
	}

	return b
}

// Publish marshals payload and publishes it on subject. Failures are logged
// at debug level and swallowed; the publisher never blocks on or retries a
// failed publish.
func (b *Bus) Publish(ctx context.Context, subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.WithComponent("bus").WithError(err).WithFields(logger.Fields{"subject": subject}).Warn("failed to marshal event")
		return
	}
	if err := b.client.Publish(ctx, subject, data).Err(); err != nil {
		b.log.WithComponent("bus").WithError(err).WithFields(logger.Fields{"subject": subject}).Debug("publish failed")
	}
}

// SubscribeControl consumes operator commands until ctx is cancelled. Each
// command invokes handler with the parsed action ("reconnect", "disable",
// "enable") and venue name.
func (b *Bus) SubscribeControl(ctx context.Context, handler func(action, venue string)) {
	sub := b.client.PSubscribe(ctx, b.Subjects.ControlPattern())
	log := b.log.WithComponent("bus_control")

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				action, venue, ok := b.Subjects.ParseControl(msg.Channel)
				if !ok {
					log.WithFields(logger.Fields{"subject": msg.Channel}).Warn("ignoring malformed control subject")
					continue
				}
				log.WithFields(logger.Fields{"action": action, "venue": venue}).Info("control command received")
				handler(action, venue)
			}
		}
	}()
}

// Close shuts the underlying Redis client down.
func (b *Bus) Close() error {
	return b.client.Close()
}
