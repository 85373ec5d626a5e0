// Package valuesync keeps one locally held value continuously
// synchronized with a remote peer. The Manager wires a storage cell, a
// pluggable diff/merge strategy and an abstract connection into a
// bidirectional sync loop, and shields callers from transport and
// encoding concerns.
package valuesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"

	"github.com/dalian-mobile/valuesync/protocol"
	"github.com/dalian-mobile/valuesync/utils"
)

type Options struct {
	Logger utils.Logger

	// Per-subscriber channel capacities. Publishing blocks once a
	// subscriber's channel is full, so slow observers throttle the
	// sync loops rather than lose notifications.
	NotifyBuffer int
	ErrorBuffer  int
}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.NotifyBuffer == 0 {
		o.NotifyBuffer = 16
	}
	if o.ErrorBuffer == 0 {
		o.ErrorBuffer = 16
	}
}

// Manager runs two independent sync paths over one connection:
// inbound payloads are decoded and merged into the value by the
// strategy, locally produced events are encoded and sent out. Both
// paths start at construction and stop together on Close.
//
// The manager does not own the connection; closing it is the
// caller's business.
type Manager[T, E any] struct {
	conn  Connection
	strat Strategy[T, E]
	cell  Cell[T]
	log   utils.Logger
	opts  Options

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	notes hub[struct{}]
	errs  hub[error]
	count counters
}

// New starts a retained-producer manager: it takes ownership of the
// value and begins syncing immediately.
func New[T, E any](value *T, conn Connection, strat Strategy[T, E], opts Options) *Manager[T, E] {
	return start[T, E](Retain(value), conn, strat, opts)
}

// NewWeak starts a weak-producer manager over a value owned elsewhere.
// If the value is already gone when the outbound path wires up, that
// path is simply never seeded; inbound applications report
// ErrValueUnavailable from then on.
func NewWeak[T, E any](value *T, conn Connection, strat Strategy[T, E], opts Options) *Manager[T, E] {
	return start[T, E](Observe(value), conn, strat, opts)
}

// Connect bootstraps a consumer: it performs the connection's
// handshake, decodes the initial payload as the value, and proceeds
// as a retained producer with the result.
func Connect[T, E any](ctx context.Context, conn BootstrapConnection, strat Strategy[T, E], opts Options) (*Manager[T, E], error) {
	payload, err := conn.Connect(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "bootstrap connect")
	}
	value := new(T)
	if err = conn.Codec().Decode(payload, value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	return New[T, E](value, conn, strat, opts), nil
}

func start[T, E any](cell Cell[T], conn Connection, strat Strategy[T, E], opts Options) *Manager[T, E] {
	opts.SetDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager[T, E]{
		conn:   conn,
		strat:  strat,
		cell:   cell,
		log:    opts.Logger,
		opts:   opts,
		cancel: cancel,
	}

	m.wg.Add(2)
	go m.pumpInbound(ctx)
	go m.pumpOutbound(ctx)

	return m
}

// Value returns the synchronized value, or ErrValueUnavailable once a
// weakly observed value has been released. Pure read.
func (m *Manager[T, E]) Value() (*T, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	return m.cell.Access()
}

// Snapshot encodes the current value through the connection's codec.
func (m *Manager[T, E]) Snapshot() ([]byte, error) {
	value, err := m.Value()
	if err != nil {
		return nil, err
	}
	data, err := m.conn.Codec().Encode(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}
	return data, nil
}

// Connected reflects the connection's live state at read time.
func (m *Manager[T, E]) Connected() bool {
	return !m.closed.Load() && m.conn.Connected()
}

// Notifications subscribes to the change signal: one tick per
// successfully applied inbound event and one per successfully sent
// outbound event. Failed events never tick; they surface on Errors.
func (m *Manager[T, E]) Notifications() <-chan struct{} {
	return m.notes.Subscribe(m.opts.NotifyBuffer)
}

// Errors subscribes to the out-of-band error stream, one error per
// failed decode, apply, encode, send or value access.
func (m *Manager[T, E]) Errors() <-chan error {
	return m.errs.Subscribe(m.opts.ErrorBuffer)
}

func (m *Manager[T, E]) Stats() Stats {
	return m.count.snapshot()
}

// Close stops both sync paths. No notification or error is delivered
// after Close returns, even if the connection keeps emitting. The
// connection itself stays open.
func (m *Manager[T, E]) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.cancel()
	m.wg.Wait()
	m.notes.Close()
	m.errs.Close()
	return nil
}

func (m *Manager[T, E]) pumpInbound(ctx context.Context) {
	defer m.wg.Done()

	for ctx.Err() == nil {
		recs, err := m.conn.Feed(ctx)
		for _, payload := range recs {
			m.applyPayload(ctx, payload)
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				m.log.Debug("sync: inbound feed ended", "err", err)
			}
			return
		}
	}
}

func (m *Manager[T, E]) applyPayload(ctx context.Context, payload []byte) {
	if ctx.Err() != nil {
		return
	}

	value, err := m.cell.Access()
	if err != nil {
		m.fail(ctx, err)
		return
	}

	var event E
	if err = m.conn.Codec().Decode(payload, &event); err != nil {
		m.fail(ctx, fmt.Errorf("%w: %w", ErrDecodeFailed, err))
		return
	}

	if err = m.strat.Apply(ctx, event, value); err != nil {
		m.fail(ctx, fmt.Errorf("%w: %w", ErrApplyFailed, err))
		return
	}

	m.count.applied.Add(1)
	m.notes.Publish(ctx, struct{}{})
}

func (m *Manager[T, E]) pumpOutbound(ctx context.Context) {
	defer m.wg.Done()

	// seeded exactly once, with the value as of construction
	value, err := m.cell.Access()
	if err != nil {
		m.log.Debug("sync: outbound path not seeded", "err", err)
		return
	}

	source, err := m.strat.Events(ctx, value)
	if err != nil {
		m.log.Warn("sync: outbound source failed", "err", err)
		m.fail(ctx, err)
		return
	}

	for ctx.Err() == nil {
		events, err := source.Feed(ctx)
		for _, event := range events {
			m.sendEvent(ctx, event)
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				m.log.Debug("sync: outbound source ended", "err", err)
			}
			return
		}
	}
}

func (m *Manager[T, E]) sendEvent(ctx context.Context, event E) {
	if ctx.Err() != nil {
		return
	}

	payload, err := m.conn.Codec().Encode(event)
	if err != nil {
		m.fail(ctx, fmt.Errorf("%w: %w", ErrEncodeFailed, err))
		return
	}

	// best-effort hand-off; a failed event is dropped, never retried
	if err = m.conn.Drain(ctx, protocol.Records{payload}); err != nil {
		m.fail(ctx, err)
		return
	}

	m.count.produced.Add(1)
	m.notes.Publish(ctx, struct{}{})
}

func (m *Manager[T, E]) fail(ctx context.Context, err error) {
	switch {
	case errors.Is(err, ErrValueUnavailable):
		m.count.unavailable.Add(1)
	case errors.Is(err, ErrDecodeFailed):
		m.count.decodeFailures.Add(1)
	case errors.Is(err, ErrEncodeFailed):
		m.count.encodeFailures.Add(1)
	case errors.Is(err, ErrApplyFailed):
		m.count.applyFailures.Add(1)
	default:
		m.count.sendFailures.Add(1)
	}
	m.log.Debug("sync: event failed", "err", err)
	m.errs.Publish(ctx, err)
}
