package bus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const topicPrefix = "pulsehub:bus:"

// RedisBus implements Bus on top of a single shared Redis client, the way
// spec.md's REDIS_URL backs both the bus and the presence store.
type RedisBus struct {
	rdb *redis.Client
}

func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.rdb.Publish(ctx, topicPrefix+topic, payload).Err()
}

// Subscribe pattern-subscribes to topicPrefix+pattern and reconnects for as
// long as ctx is live. A broker disconnect surfaces nothing to the caller
// beyond a gap in messages: the dispatcher does not replay what it missed,
// per spec.md §4.3.
func (b *RedisBus) Subscribe(ctx context.Context, pattern string) (<-chan Message, error) {
	out := make(chan Message, 256)

	go func() {
		defer close(out)
		backoff := 100 * time.Millisecond
		const maxBackoff = 5 * time.Second

		for {
			if ctx.Err() != nil {
				return
			}
			if err := b.runSubscription(ctx, pattern, out); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("bus: redis subscription dropped, reconnecting", "pattern", pattern, "error", err)
			}
			if ctx.Err() != nil {
				return
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
		}
	}()

	return out, nil
}

func (b *RedisBus) runSubscription(ctx context.Context, pattern string, out chan<- Message) error {
	pubsub := b.rdb.PSubscribe(ctx, topicPrefix+pattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	slog.Info("bus: subscribed", "pattern", pattern)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return errors.New("bus: subscription channel closed")
			}
			topic := msg.Channel[len(topicPrefix):]
			select {
			case out <- Message{Topic: topic, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
