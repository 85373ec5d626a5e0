package protocol

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dalian-mobile/valuesync/codec"
	"github.com/dalian-mobile/valuesync/utils"
)

const (
	TypicalMTU      = 1500
	MaxInboxBatches = 1 << 12

	MaxRetryPeriod = time.Minute
	MinRetryPeriod = time.Second / 2
)

var (
	ErrAddressDuplicated = errors.New("protocol: address already in use")
	ErrAddressUnknown    = errors.New("protocol: address unknown")
	ErrNetClosed         = errors.New("protocol: net is closed")
)

// PeerCallback runs once per accepted connection, after the handshake
// (if any) has been served. The callback owns the Conn from there on.
type PeerCallback func(conn *Conn)

// Net keeps TCP peers for the real-time sync use case: no
// request-response cycle, both sides constantly push tiny event
// records at each other. Dialing retries with capped backoff;
// listeners hand every accepted peer to the install callback.
type Net struct {
	closed atomic.Bool
	wg     sync.WaitGroup

	log utils.Logger
	cdc codec.Codec

	conns   *xsync.MapOf[string, *Conn]
	listens *xsync.MapOf[string, net.Listener]

	// Handshake, when set, produces the snapshot payload served to
	// every accepted peer as the first record on the wire.
	Handshake func() ([]byte, error)
	OnPeer    PeerCallback
}

func NewNet(log utils.Logger, cdc codec.Codec) *Net {
	return &Net{
		log:     log,
		cdc:     cdc,
		conns:   xsync.NewMapOf[string, *Conn](),
		listens: xsync.NewMapOf[string, net.Listener](),
	}
}

func (n *Net) Close() error {
	n.closed.Store(true)

	n.listens.Range(func(_ string, l net.Listener) bool {
		_ = l.Close()
		return true
	})
	n.listens.Clear()

	n.conns.Range(func(_ string, c *Conn) bool {
		if c != nil {
			_ = c.Close()
		}
		return true
	})
	n.conns.Clear()

	n.wg.Wait()
	return nil
}

// Dial connects to addr, retrying with exponential backoff until the
// context is cancelled, and returns the established peer.
func (n *Net) Dial(ctx context.Context, addr string) (*Conn, error) {
	if _, ok := n.conns.LoadOrStore(addr, nil); ok {
		return nil, ErrAddressDuplicated
	}

	backoff := MinRetryPeriod
	d := net.Dialer{Timeout: time.Minute}

	for !n.closed.Load() {
		if err := ctx.Err(); err != nil {
			n.conns.Delete(addr)
			return nil, err
		}

		tcp, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			n.log.Error("net: couldn't connect", "addr", addr, "err", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				n.conns.Delete(addr)
				return nil, ctx.Err()
			}
			backoff = min(MaxRetryPeriod, backoff*2)
			continue
		}

		n.log.Info("net: connected", "addr", addr)
		conn := newConn(fmt.Sprintf("connect:%s", addr), tcp, n.cdc, n.log)
		n.conns.Store(addr, conn)
		n.keep(ctx, addr, conn)
		return conn, nil
	}

	n.conns.Delete(addr)
	return nil, ErrNetClosed
}

func (n *Net) Disconnect(addr string) error {
	conn, ok := n.conns.LoadAndDelete(addr)
	if !ok {
		return ErrAddressUnknown
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Listen accepts peers on addr until the context is cancelled or the
// listener is closed. Each accepted peer gets the handshake snapshot
// (when configured) and is then handed to OnPeer.
func (n *Net) Listen(ctx context.Context, addr string) error {
	if _, ok := n.listens.LoadOrStore(addr, nil); ok {
		return ErrAddressDuplicated
	}

	config := net.ListenConfig{}
	listener, err := config.Listen(ctx, "tcp", addr)
	if err != nil {
		n.listens.Delete(addr)
		return err
	}
	n.listens.Store(addr, listener)

	n.log.Info("net: listening", "addr", addr)

	n.wg.Add(1)
	go func() {
		n.keepListening(ctx, addr)
		n.wg.Done()
	}()

	return nil
}

// ListenAddr reports the bound address of an active listener, which
// is how a ":0" listener's real port is discovered.
func (n *Net) ListenAddr(addr string) net.Addr {
	listener, ok := n.listens.Load(addr)
	if !ok || listener == nil {
		return nil
	}
	return listener.Addr()
}

func (n *Net) Unlisten(addr string) error {
	listener, ok := n.listens.LoadAndDelete(addr)
	if !ok {
		return ErrAddressUnknown
	}
	return listener.Close()
}

func (n *Net) keepListening(ctx context.Context, addr string) {
	for !n.closed.Load() && ctx.Err() == nil {
		listener, ok := n.listens.Load(addr)
		if !ok {
			break
		}

		tcp, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			// reconnects are the client's problem, just continue
			n.log.Error("net: couldn't accept", "addr", addr, "err", err)
			continue
		}

		remote := tcp.RemoteAddr().String()
		name := fmt.Sprintf("listen:%s:%s", uuid.Must(uuid.NewV7()).String(), remote)
		n.log.Info("net: accepted", "addr", addr, "remoteAddr", remote)

		conn := newConn(name, tcp, n.cdc, n.log)
		if n.Handshake != nil {
			snapshot, err := n.Handshake()
			if err != nil {
				n.log.Error("net: handshake snapshot failed", "name", name, "err", err)
				_ = conn.Close()
				continue
			}
			if err = conn.sendHandshake(snapshot); err != nil {
				n.log.Error("net: couldn't send handshake", "name", name, "err", err)
				_ = conn.Close()
				continue
			}
		}

		n.conns.Store(name, conn)
		n.keep(ctx, name, conn)
		if n.OnPeer != nil {
			n.OnPeer(conn)
		}
	}

	if l, ok := n.listens.LoadAndDelete(addr); ok {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			n.log.Error("net: couldn't close listener", "addr", addr, "err", err)
		}
	}
	n.log.Info("net: listener closed", "addr", addr)
}

func (n *Net) keep(ctx context.Context, name string, conn *Conn) {
	n.wg.Add(1)
	conn.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer conn.wg.Done()
		if err := conn.keepRead(ctx); err != nil && !errors.Is(err, net.ErrClosed) {
			n.log.Error("net: read loop failed", "name", name, "err", err)
		}
		_ = conn.inbox.Close()
		n.conns.Delete(name)
	}()
}
