package valuesync

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"
)

// Register is a last-write-wins key/value map, the reference value
// type for the sync manager. Every local Set is stamped with a
// lamport time and the replica's source id; on merge the higher time
// wins, ties break on the higher source.
//
// A register feeds one manager: local ops queue up for exactly one
// outbound event source.
type Register struct {
	lock   sync.Mutex
	src    uint64
	clock  uint64
	slots  map[string]regSlot
	outq   []RegisterOp
	signal chan struct{}
}

type regSlot struct {
	value string
	time  uint64
	src   uint64
}

// RegisterOp is one key write, the register's event type.
type RegisterOp struct {
	Key   string `json:"key"`
	Value string `json:"val"`
	Time  uint64 `json:"t"`
	Src   uint64 `json:"src"`
}

var ErrBadRegisterOp = errors.New("valuesync: register op without a key")

func NewRegister(src uint64) *Register {
	return &Register{
		src:    src,
		slots:  make(map[string]regSlot),
		signal: make(chan struct{}, 1),
	}
}

// SetSource rebinds the replica id, e.g. after bootstrapping the
// register from a peer snapshot that carried the peer's id.
func (r *Register) SetSource(src uint64) {
	r.lock.Lock()
	r.src = src
	r.lock.Unlock()
}

// Set writes a key locally and queues the op for broadcast.
func (r *Register) Set(key, value string) {
	r.lock.Lock()
	r.clock++
	op := RegisterOp{Key: key, Value: value, Time: r.clock, Src: r.src}
	r.merge(op)
	r.outq = append(r.outq, op)
	r.lock.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *Register) Get(key string) (value string, ok bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	slot, ok := r.slots[key]
	return slot.value, ok
}

// Map returns a plain copy of the current state.
func (r *Register) Map() map[string]string {
	r.lock.Lock()
	defer r.lock.Unlock()
	m := make(map[string]string, len(r.slots))
	for key, slot := range r.slots {
		m[key] = slot.value
	}
	return m
}

func (r *Register) merge(op RegisterOp) {
	slot, ok := r.slots[op.Key]
	if !ok || op.Time > slot.time || (op.Time == slot.time && op.Src > slot.src) {
		r.slots[op.Key] = regSlot{value: op.Value, time: op.Time, src: op.Src}
	}
}

// applyRemote merges a peer's op. It advances the lamport clock but
// never re-queues the op for broadcast; that is what keeps the two
// sync paths from feeding each other.
func (r *Register) applyRemote(op RegisterOp) error {
	if op.Key == "" {
		return ErrBadRegisterOp
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if op.Time > r.clock {
		r.clock = op.Time
	}
	r.merge(op)
	return nil
}

func (r *Register) takeOps() []RegisterOp {
	r.lock.Lock()
	defer r.lock.Unlock()
	ops := r.outq
	r.outq = nil
	return ops
}

type registerState struct {
	Src   uint64               `json:"src"`
	Clock uint64               `json:"clock"`
	Slots map[string]slotState `json:"slots"`
}

type slotState struct {
	Value string `json:"val"`
	Time  uint64 `json:"t"`
	Src   uint64 `json:"src"`
}

func (r *Register) MarshalJSON() ([]byte, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	state := registerState{Src: r.src, Clock: r.clock, Slots: make(map[string]slotState, len(r.slots))}
	for key, slot := range r.slots {
		state.Slots[key] = slotState{Value: slot.value, Time: slot.time, Src: slot.src}
	}
	return json.Marshal(state)
}

func (r *Register) UnmarshalJSON(data []byte) error {
	var state registerState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.src = state.Src
	r.clock = state.Clock
	r.slots = make(map[string]regSlot, len(state.Slots))
	for key, slot := range state.Slots {
		r.slots[key] = regSlot{value: slot.Value, time: slot.Time, src: slot.Src}
	}
	if r.signal == nil {
		r.signal = make(chan struct{}, 1)
	}
	return nil
}

// RegisterStrategy wires a Register into a manager.
type RegisterStrategy struct{}

func (RegisterStrategy) Events(ctx context.Context, from *Register) (EventSource[RegisterOp], error) {
	return &registerFeed{reg: from}, nil
}

func (RegisterStrategy) Apply(ctx context.Context, op RegisterOp, to *Register) error {
	return to.applyRemote(op)
}

type registerFeed struct {
	reg *Register
}

func (f *registerFeed) Feed(ctx context.Context) ([]RegisterOp, error) {
	for {
		if ops := f.reg.takeOps(); len(ops) > 0 {
			return ops, nil
		}
		select {
		case <-f.reg.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
