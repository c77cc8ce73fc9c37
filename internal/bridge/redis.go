package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is one payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Transport moves bridge envelopes between processes.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns once the subscription is confirmed.
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	Close() error
}

// Subscription delivers messages until closed.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// RedisTransport is a Transport over Redis pub/sub.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport connects lazily to the server at addr.
func NewRedisTransport(addr, password string, db int) *RedisTransport {
	return &RedisTransport{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Ping checks that the server is reachable.
func (t *RedisTransport) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Publish implements Transport.
func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements Transport.
func (t *RedisTransport) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := t.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	s := &redisSubscription{
		ps:   ps,
		out:  make(chan Message),
		done: make(chan struct{}),
	}
	go s.forward(ps.Channel())
	return s, nil
}

// Close implements Transport.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan Message
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSubscription) forward(in <-chan *redis.Message) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- Message{Channel: m.Channel, Payload: []byte(m.Payload)}:
			case <-s.done:
				return
			}
		}
	}
}
