package store

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Notifier fans out "something changed" signals per topic. Signals carry no
// payload and are coalesced: a slow subscriber sees at most one pending
// signal, which is enough to trigger a full re-query.
type Notifier interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error)
}

// LocalNotifier delivers signals inside one process.
type LocalNotifier struct {
	mu     sync.Mutex
	topics map[string]map[chan struct{}]struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{topics: make(map[string]map[chan struct{}]struct{})}
}

func (n *LocalNotifier) Publish(_ context.Context, topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.topics[topic] {
		signal(ch)
	}
	return nil
}

func (n *LocalNotifier) Subscribe(_ context.Context, topic string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	if n.topics[topic] == nil {
		n.topics[topic] = make(map[chan struct{}]struct{})
	}
	n.topics[topic][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if set := n.topics[topic]; set != nil {
				delete(set, ch)
				if len(set) == 0 {
					delete(n.topics, topic)
				}
			}
		})
	}
	return ch, cancel, nil
}

// subscribers reports how many subscriptions a topic has.
func (n *LocalNotifier) subscribers(topic string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.topics[topic])
}

// RedisNotifier delivers signals across processes over Redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, topic string) error {
	if err := n.client.Publish(ctx, topic, "changed").Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error) {
	pubsub := n.client.Subscribe(ctx, topic)
	// Wait for the subscription to be confirmed so no change published after
	// this call returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	ch := make(chan struct{}, 1)
	messages := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range messages {
			signal(ch)
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				log.Printf("store: close subscription %s: %v", topic, err)
			}
			<-done
		})
	}
	return ch, cancel, nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
