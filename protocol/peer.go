package protocol

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/dalian-mobile/valuesync/codec"
	"github.com/dalian-mobile/valuesync/utils"
)

// Conn is one live TCP peer. Inbound frames are split off the socket
// by a read loop: 'H' records land in the handshake slot, 'E' record
// bodies queue up for Feed. Drain frames payloads as 'E' records and
// writes them out in order.
type Conn struct {
	closed atomic.Bool
	wg     sync.WaitGroup

	name string
	conn net.Conn
	cdc  codec.Codec
	log  utils.Logger

	inbox     *RecordQueue
	handshake chan []byte

	wlock sync.Mutex
}

func newConn(name string, tcp net.Conn, cdc codec.Codec, log utils.Logger) *Conn {
	return &Conn{
		name:      name,
		conn:      tcp,
		cdc:       cdc,
		log:       log,
		inbox:     NewRecordQueue(MaxInboxBatches),
		handshake: make(chan []byte, 1),
	}
}

func (c *Conn) Name() string { return c.name }

func (c *Conn) Codec() codec.Codec { return c.cdc }

func (c *Conn) Connected() bool { return !c.closed.Load() }

// Feed returns the bodies of received event records, in arrival order.
func (c *Conn) Feed(ctx context.Context) (Records, error) {
	return c.inbox.Feed(ctx)
}

// Drain frames each payload as one event record and writes the batch.
// Best effort: there is no acknowledgment beyond the write itself.
func (c *Conn) Drain(ctx context.Context, recs Records) error {
	if c.closed.Load() {
		return ErrClosed
	}
	framed := make(Records, 0, len(recs))
	for _, payload := range recs {
		framed = append(framed, Record('E', payload))
	}

	c.wlock.Lock()
	defer c.wlock.Unlock()
	b := net.Buffers(framed)
	for len(b) > 0 {
		if _, err := b.WriteTo(c.conn); err != nil {
			return err
		}
	}
	return nil
}

// Connect suspends until the peer serves its handshake record and
// returns the snapshot payload. Used only for bootstrap.
func (c *Conn) Connect(ctx context.Context) ([]byte, error) {
	select {
	case body := <-c.handshake:
		return body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) sendHandshake(body []byte) error {
	c.wlock.Lock()
	defer c.wlock.Unlock()
	_, err := c.conn.Write(Record('H', body))
	return err
}

func (c *Conn) keepRead(ctx context.Context) error {
	var buf bytes.Buffer
	for !c.closed.Load() {
		if buf.Available() < TypicalMTU {
			buf.Grow(TypicalMTU)
		}

		idle := buf.AvailableBuffer()[:buf.Available()]
		n, err := c.conn.Read(idle)
		if err != nil {
			if errors.Is(err, io.EOF) {
				time.Sleep(time.Millisecond)
				continue
			}
			return err
		}
		buf.Write(idle[:n])

		recs, err := Split(&buf)
		if err != nil {
			return err
		}

		var events Records
		for _, rec := range recs {
			switch Lit(rec) {
			case 'H':
				body, _ := Take('H', rec)
				select {
				case c.handshake <- body:
				default:
					c.log.Warn("net: duplicate handshake", "name", c.name)
				}
			case 'E':
				body, _ := Take('E', rec)
				c.log.Debug("net: event record", "name", c.name,
					"len", len(body), "hash", xxhash.Sum64(body))
				events = append(events, body)
			default:
				return ErrBadRecord
			}
		}
		if len(events) > 0 {
			if err := c.inbox.Drain(ctx, events); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close shuts the socket down; the read loop exits and Feed starts
// returning ErrClosed once the inbox runs dry.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	err := c.conn.Close()
	_ = c.inbox.Close()
	c.wg.Wait()
	return err
}
