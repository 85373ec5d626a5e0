package protocol

import (
	"context"
	"sync/atomic"

	"github.com/dalian-mobile/valuesync/codec"
)

// PipeConn is one end of an in-memory duplex link. Both ends satisfy
// the connection contract the sync manager consumes, which makes the
// pipe the workhorse of tests and same-process wiring.
//
// The link carries raw payloads, one record each, no framing. By
// convention the producing side drains the bootstrap snapshot as the
// very first record; Connect on the consuming side takes it.
type PipeConn struct {
	in, out *RecordQueue
	cdc     codec.Codec
	pending Records
	closed  atomic.Bool
}

// Pipe returns two cross-wired connection ends bound to the codec.
func Pipe(cdc codec.Codec, limit int) (a, b *PipeConn) {
	q1 := NewRecordQueue(limit)
	q2 := NewRecordQueue(limit)
	a = &PipeConn{in: q1, out: q2, cdc: cdc}
	b = &PipeConn{in: q2, out: q1, cdc: cdc}
	return
}

func (p *PipeConn) Feed(ctx context.Context) (Records, error) {
	if len(p.pending) > 0 {
		recs := p.pending
		p.pending = nil
		return recs, nil
	}
	return p.in.Feed(ctx)
}

func (p *PipeConn) Drain(ctx context.Context, recs Records) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.out.Drain(ctx, recs)
}

// Connect performs the bootstrap step: it suspends until the peer has
// sent the initial payload and returns it. Any records that arrived
// in the same batch stay queued for Feed.
func (p *PipeConn) Connect(ctx context.Context) ([]byte, error) {
	recs, err := p.in.Feed(ctx)
	if err != nil {
		return nil, err
	}
	p.pending = append(recs[1:], p.pending...)
	return recs[0], nil
}

func (p *PipeConn) Connected() bool {
	return !p.closed.Load()
}

func (p *PipeConn) Codec() codec.Codec {
	return p.cdc
}

// Close shuts down both directions; the peer end sees ErrClosed.
func (p *PipeConn) Close() error {
	p.closed.Store(true)
	_ = p.in.Close()
	return p.out.Close()
}
