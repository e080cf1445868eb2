package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakePublisher struct {
	channel string
	message []byte
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestRedisPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := newRedis(pub, "mmbot:alerts", "BTCUSDT", nil)
	sink.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	if err := sink.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.channel != "mmbot:alerts" {
		t.Fatalf("expected channel mmbot:alerts, got %q", pub.channel)
	}
	var got redisAlert
	if err := json.Unmarshal(pub.message, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Symbol != "BTCUSDT" || got.Message != "hello" || !got.Time.Equal(sink.now()) {
		t.Fatalf("unexpected alert %+v", got)
	}
}

func TestRedisPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	sink := newRedis(pub, "mmbot:alerts", "BTCUSDT", nil)
	if err := sink.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected publish error")
	}
	if err := newRedis(pub, " ", "BTCUSDT", nil).Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for empty channel")
	}
}
