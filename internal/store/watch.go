package store

import (
	"context"
	"fmt"
	"sync"
)

// watch runs query once immediately and again after every signal on topic,
// handing each full result to deliver. The subscription is made before the
// first query, so a change racing the initial read still produces a
// delivery.
func watch[T any](ctx context.Context, notifier Notifier, topic string, query func(context.Context) ([]T, error), deliver func([]T, error)) (Unsubscribe, error) {
	signals, cancelSignals, err := notifier.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", topic, err)
	}

	// The live query outlives the call that created it; only Unsubscribe
	// ends it.
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancelSignals()
		for {
			items, err := query(watchCtx)
			if watchCtx.Err() != nil {
				return
			}
			deliver(items, err)

			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}
