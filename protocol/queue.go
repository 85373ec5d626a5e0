package protocol

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("protocol: queue is closed")

// RecordQueue is a bounded blocking hand-off between one or more
// drainers and feeders. Feed returns whatever batches are ready,
// blocking only when the queue is empty. After Close, buffered
// batches still feed out; further drains fail with ErrClosed.
type RecordQueue struct {
	batches chan Records
	done    chan struct{}
	once    sync.Once
}

func NewRecordQueue(limit int) *RecordQueue {
	if limit <= 0 {
		limit = 1
	}
	return &RecordQueue{
		batches: make(chan Records, limit),
		done:    make(chan struct{}),
	}
}

func (q *RecordQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

func (q *RecordQueue) Drain(ctx context.Context, recs Records) error {
	if len(recs) == 0 {
		return nil
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.batches <- recs:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *RecordQueue) Feed(ctx context.Context) (recs Records, err error) {
	select {
	case recs = <-q.batches:
	case <-q.done:
		// flush what was drained before the close
		select {
		case recs = <-q.batches:
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// gather everything else that is ready
	for {
		select {
		case more := <-q.batches:
			recs = append(recs, more...)
		default:
			return recs, nil
		}
	}
}
