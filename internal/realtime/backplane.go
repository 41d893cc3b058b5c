package realtime

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"market-rtc/pkg/logger"
)

// Frame is the unit replicated between instances. Origin carries the
// publishing instance's id so subscribers can drop their own echoes.
type Frame struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Exclude string          `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Backplane replicates locally-published events to the other server
// instances. It is a soft dependency: a nil Backplane leaves the node fully
// functional for its own connections.
type Backplane interface {
	Publish(ctx context.Context, frame Frame) error
	Subscribe(ctx context.Context, handler func(Frame)) error
	Close() error
}

const backplaneChannelPrefix = "rtc:rooms:"

// RedisBackplane replicates frames over redis pub/sub, one channel per room
// under a shared prefix.
type RedisBackplane struct {
	client *redis.Client
}

func NewRedisBackplane(ctx context.Context, url string) (*RedisBackplane, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisBackplane{client: client}, nil
}

func (b *RedisBackplane) Publish(ctx context.Context, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, backplaneChannelPrefix+frame.Room, data).Err()
}

// Subscribe consumes frames replicated by other instances until ctx is done.
// Decoding failures are logged and skipped; one bad frame must not stop the
// stream.
func (b *RedisBackplane) Subscribe(ctx context.Context, handler func(Frame)) error {
	pubsub := b.client.PSubscribe(ctx, backplaneChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var frame Frame
				if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
					logger.Errorw("bad backplane frame", "channel", msg.Channel, "err", err)
					continue
				}
				handler(frame)
			}
		}
	}()

	return nil
}

func (b *RedisBackplane) Close() error {
	return b.client.Close()
}
