package valuesync

import (
	"context"
	"sync"
)

// hub fans a stream of values out to any number of subscribers; every
// subscriber sees every published value. Publishing blocks on a full
// subscriber channel, so observers are expected to keep draining.
//
// The manager closes the hub only after both sync loops have stopped,
// which is what makes Close safe against concurrent publishes.
type hub[X any] struct {
	lock   sync.Mutex
	subs   []chan X
	closed bool
}

func (h *hub[X]) Subscribe(buf int) <-chan X {
	h.lock.Lock()
	defer h.lock.Unlock()

	ch := make(chan X, buf)
	if h.closed {
		close(ch)
		return ch
	}
	h.subs = append(h.subs, ch)
	return ch
}

func (h *hub[X]) Publish(ctx context.Context, x X) {
	h.lock.Lock()
	if h.closed {
		h.lock.Unlock()
		return
	}
	subs := h.subs
	h.lock.Unlock()

	for _, ch := range subs {
		select {
		case ch <- x:
		case <-ctx.Done():
			return
		}
	}
}

func (h *hub[X]) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}
