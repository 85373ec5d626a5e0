package valuesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalian-mobile/valuesync/codec"
	"github.com/dalian-mobile/valuesync/protocol"
)

func TestRegisterMerge(t *testing.T) {
	r := NewRegister(1)

	require.NoError(t, r.applyRemote(RegisterOp{Key: "k", Value: "old", Time: 5, Src: 2}))
	v, ok := r.Get("k")
	require.True(t, ok)
	assert.Equal(t, "old", v)

	// newer time wins
	require.NoError(t, r.applyRemote(RegisterOp{Key: "k", Value: "new", Time: 6, Src: 2}))
	v, _ = r.Get("k")
	assert.Equal(t, "new", v)

	// older time loses
	require.NoError(t, r.applyRemote(RegisterOp{Key: "k", Value: "stale", Time: 3, Src: 2}))
	v, _ = r.Get("k")
	assert.Equal(t, "new", v)

	// equal time: higher source wins
	require.NoError(t, r.applyRemote(RegisterOp{Key: "k", Value: "tie-high", Time: 6, Src: 9}))
	v, _ = r.Get("k")
	assert.Equal(t, "tie-high", v)
	require.NoError(t, r.applyRemote(RegisterOp{Key: "k", Value: "tie-low", Time: 6, Src: 4}))
	v, _ = r.Get("k")
	assert.Equal(t, "tie-high", v)
}

func TestRegisterOpValidation(t *testing.T) {
	r := NewRegister(1)
	assert.ErrorIs(t, r.applyRemote(RegisterOp{Value: "no key"}), ErrBadRegisterOp)
}

func TestRegisterClockAdvances(t *testing.T) {
	r := NewRegister(1)
	require.NoError(t, r.applyRemote(RegisterOp{Key: "k", Value: "v", Time: 100, Src: 2}))

	// a local write after the merge must stamp past the remote clock
	r.Set("k", "local")
	ops := r.takeOps()
	require.Len(t, ops, 1)
	assert.Greater(t, ops[0].Time, uint64(100))
}

func TestRegisterFeed(t *testing.T) {
	ctx := context.Background()
	r := NewRegister(7)

	source, err := RegisterStrategy{}.Events(ctx, r)
	require.NoError(t, err)

	r.Set("a", "1")
	r.Set("b", "2")

	ops, err := source.Feed(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "a", ops[0].Key)
	assert.Equal(t, "b", ops[1].Key)
	assert.Equal(t, uint64(7), ops[0].Src)

	// applying a remote op must not requeue it for broadcast
	require.NoError(t, RegisterStrategy{}.Apply(ctx, RegisterOp{Key: "c", Value: "3", Time: 50, Src: 9}, r))
	assert.Empty(t, r.takeOps())

	// a blocked feed wakes up on the next local write
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Set("d", "4")
	}()
	ops, err = source.Feed(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "d", ops[0].Key)
}

func TestRegisterJSON(t *testing.T) {
	cdc := codec.JSON{}
	r := NewRegister(3)
	r.Set("x", "1")
	r.Set("y", "2")

	data, err := cdc.Encode(r)
	require.NoError(t, err)

	out := new(Register)
	require.NoError(t, cdc.Decode(data, out))
	assert.Equal(t, r.Map(), out.Map())

	// the copy keeps merging correctly
	require.NoError(t, out.applyRemote(RegisterOp{Key: "x", Value: "newer", Time: 99, Src: 9}))
	v, _ := out.Get("x")
	assert.Equal(t, "newer", v)
}

func TestRegistersConverge(t *testing.T) {
	a, b := protocol.Pipe(codec.JSON{}, 64)

	ra := NewRegister(1)
	rb := NewRegister(2)

	ma := New[Register, RegisterOp](ra, a, RegisterStrategy{}, quietOpts())
	defer ma.Close()
	mb := New[Register, RegisterOp](rb, b, RegisterStrategy{}, quietOpts())
	defer mb.Close()

	ra.Set("from-a", "1")
	rb.Set("from-b", "2")

	// same key on both sides: time ties at 2, the higher source wins
	ra.Set("disputed", "a-version")
	rb.Set("disputed", "b-version")

	want := map[string]string{"from-a": "1", "from-b": "2", "disputed": "b-version"}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if equalMaps(ra.Map(), want) && equalMaps(rb.Map(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, want, ra.Map())
	assert.Equal(t, want, rb.Map())
}

func equalMaps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
