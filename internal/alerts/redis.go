package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"mmbot/internal/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes alerts as JSON on a pub/sub channel.
type Redis struct {
	client  publisher
	closer  func() error
	channel string
	symbol  string
	now     func() time.Time
	log     *zap.Logger
}

type redisAlert struct {
	Time    time.Time `json:"time"`
	Symbol  string    `json:"symbol"`
	Message string    `json:"message"`
}

func NewRedis(cfg config.RedisConfig, symbol string, log *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	r := newRedis(client, cfg.Channel, symbol, log)
	r.closer = client.Close
	return r
}

func newRedis(client publisher, channel, symbol string, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client:  client,
		channel: strings.TrimSpace(channel),
		symbol:  symbol,
		now:     time.Now,
		log:     log,
	}
}

func (r *Redis) Name() string {
	return "redis"
}

func (r *Redis) Send(ctx context.Context, message string) error {
	if r.channel == "" {
		return errors.New("redis channel is required")
	}
	payload, err := json.Marshal(redisAlert{Time: r.now().UTC(), Symbol: r.symbol, Message: message})
	if err != nil {
		return err
	}
	receivers, err := r.client.Publish(ctx, r.channel, payload).Result()
	if err != nil {
		return err
	}
	r.log.Debug("redis alert published", zap.String("channel", r.channel), zap.Int64("receivers", receivers))
	return nil
}

func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
