package session

import (
	"slices"
	"sync"
)

// notifier delivers events to subscribers one at a time, in the order they
// were enqueued. A subscriber may call back into the Manager; events it
// causes are delivered after the current one.
type notifier struct {
	mu       sync.Mutex
	nextID   uint64
	subs     map[uint64]func(Event)
	queue    []Event
	draining bool
}

func (n *notifier) subscribe(fn func(Event)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		n.subs = make(map[uint64]func(Event))
	}
	n.nextID++
	id := n.nextID
	n.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// enqueue is called with the Manager's mutex held so queue order matches
// transition order.
func (n *notifier) enqueue(ev Event) {
	n.mu.Lock()
	n.queue = append(n.queue, ev)
	n.mu.Unlock()
}

// flush delivers queued events unless another goroutine is already doing so.
func (n *notifier) flush() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true
	n.mu.Unlock()

	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.draining = false
			n.mu.Unlock()
			return
		}
		ev := n.queue[0]
		n.queue = n.queue[1:]

		ids := make([]uint64, 0, len(n.subs))
		for id := range n.subs {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		fns := make([]func(Event), 0, len(ids))
		for _, id := range ids {
			fns = append(fns, n.subs[id])
		}
		n.mu.Unlock()

		for _, fn := range fns {
			fn(ev)
		}
	}
}
