package protocol

import (
	"context"
	"io"
)

// Feeder is the pull side of record flow: a lazy, potentially
// infinite sequence of record batches.
type Feeder interface {
	// Feed reads and returns records.
	// The EoF convention follows that of io.Reader:
	// can either return `records, EoF` or
	// `records, nil` followed by `nil/{}, EoF`
	Feed(ctx context.Context) (recs Records, err error)
}

type FeedCloser interface {
	Feeder
	io.Closer
}

// Drainer is the push side: accepts record batches in order.
type Drainer interface {
	Drain(ctx context.Context, recs Records) error
}

type DrainCloser interface {
	Drainer
	io.Closer
}

type FeedDrainCloser interface {
	Feeder
	Drainer
	io.Closer
}

// Relay performs a single feed-drain hop between a feeder and a drainer.
// Records returned alongside a feed error are still drained.
func Relay(ctx context.Context, feeder Feeder, drainer Drainer) error {
	recs, err := feeder.Feed(ctx)
	if err != nil {
		if len(recs) > 0 {
			_ = drainer.Drain(ctx, recs)
		}
		return err
	}
	return drainer.Drain(ctx, recs)
}

// Pump relays records from feeder to drainer until an error occurs
// or the context is cancelled.
func Pump(ctx context.Context, feeder Feeder, drainer Drainer) (err error) {
	for err == nil && ctx.Err() == nil {
		err = Relay(ctx, feeder, drainer)
	}
	return
}
