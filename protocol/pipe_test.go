package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalian-mobile/valuesync/codec"
)

func TestPipeTwoWay(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe(codec.JSON{}, 8)

	require.NoError(t, a.Drain(ctx, Records{[]byte("ping")}))
	recs, err := b.Feed(ctx)
	require.NoError(t, err)
	assert.Equal(t, Records{[]byte("ping")}, recs)

	require.NoError(t, b.Drain(ctx, Records{[]byte("pong")}))
	recs, err = a.Feed(ctx)
	require.NoError(t, err)
	assert.Equal(t, Records{[]byte("pong")}, recs)
}

func TestPipeConnect(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe(codec.JSON{}, 8)

	// the producing side serves the snapshot first, then events
	require.NoError(t, a.Drain(ctx, Records{[]byte("snapshot"), []byte("event1")}))
	require.NoError(t, a.Drain(ctx, Records{[]byte("event2")}))

	snapshot, err := b.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot"), snapshot)

	recs, err := b.Feed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("event1"), recs[0])
}

func TestPipeClose(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe(codec.JSON{}, 8)

	assert.True(t, a.Connected())
	require.NoError(t, a.Close())
	assert.False(t, a.Connected())

	_, err := b.Feed(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Drain(ctx, Records{[]byte("x")}), ErrClosed)
}

func TestPipeCodecBound(t *testing.T) {
	cdc := codec.JSON{}
	a, b := Pipe(cdc, 8)
	assert.Equal(t, cdc, a.Codec())
	assert.Equal(t, cdc, b.Codec())
}
