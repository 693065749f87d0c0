package realtime

import (
	"context"
	"sync"
	"time"
)

type localSub struct {
	scope   Scope
	handler func(ChangeEvent)
}

// LocalBroker is an in-process PubSub for single-node runs and tests.
// Handlers run on the publishing goroutine and must not block.
type LocalBroker struct {
	mu   sync.RWMutex
	next int
	subs map[int]localSub
}

// NewLocalBroker creates an empty broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[int]localSub)}
}

// Publish delivers ev to every matching subscriber.
func (b *LocalBroker) Publish(ctx context.Context, ev ChangeEvent) error {
	if ev.Table == "" {
		ev.Table = TableLiveSessions
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	var targets []func(ChangeEvent)
	for _, s := range b.subs {
		if s.scope.matches(ev) {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()
	for _, h := range targets {
		h(ev)
	}
	return nil
}

// Subscribe registers handler until cancel is called or ctx is done.
func (b *LocalBroker) Subscribe(ctx context.Context, scope Scope, handler func(ChangeEvent)) (cancel func(), err error) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = localSub{scope: scope, handler: handler}
	b.mu.Unlock()

	var once sync.Once
	remove := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, remove)
	return func() {
		stop()
		remove()
	}, nil
}

// Subscribers returns the number of active subscriptions.
func (b *LocalBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
