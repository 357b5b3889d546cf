package memory

import (
	"context"
	"sync"
)

// Feed is an in-process change feed keyed by topic.
type Feed struct {
	mu   sync.RWMutex
	subs map[string]map[chan struct{}]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[chan struct{}]struct{})}
}

// Watch returns a channel that receives a signal after every Publish on topic.
// Signals coalesce: a watcher that has not drained its pending signal will see
// one signal for any number of publishes.
func (f *Feed) Watch(_ context.Context, topic string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[chan struct{}]struct{})
	}
	f.subs[topic][ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[topic], ch)
			if len(f.subs[topic]) == 0 {
				delete(f.subs, topic)
			}
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Publish signals every watcher of the given topics.
func (f *Feed) Publish(topics ...string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, topic := range topics {
		for ch := range f.subs[topic] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}
