package valuesync

import "context"

// EventSource is a lazy, potentially infinite sequence of events,
// pulled in the Feed idiom: it may return `events, io.EOF` or
// `events, nil` followed by `nil, io.EOF`. It is not required to be
// restartable.
type EventSource[E any] interface {
	Feed(ctx context.Context) ([]E, error)
}

// Strategy converts local mutations of a value into events and merges
// remote events back into the value. The manager stays ignorant of
// the algorithm; operational transforms, CRDT merges and plain
// replacement all fit behind this contract.
//
// Contract highlights the manager depends on:
//   - Events is seeded exactly once, with the value as it was at
//     manager construction. Observing mutations from that point on is
//     the source's own business.
//   - Apply mutates the value in place and must not initiate network
//     I/O, re-enter the manager, or enqueue the applied event for
//     rebroadcast. A strategy that rebroadcasts applied events builds
//     itself an infinite feedback loop through the shared value.
type Strategy[T, E any] interface {
	Events(ctx context.Context, from *T) (EventSource[E], error)
	Apply(ctx context.Context, event E, to *T) error
}
