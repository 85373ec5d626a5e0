package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrder(t *testing.T) {
	ctx := context.Background()
	q := NewRecordQueue(8)

	require.NoError(t, q.Drain(ctx, Records{[]byte("a"), []byte("b")}))
	require.NoError(t, q.Drain(ctx, Records{[]byte("c")}))

	recs, err := q.Feed(ctx)
	require.NoError(t, err)
	assert.Equal(t, Records{[]byte("a"), []byte("b"), []byte("c")}, recs)
}

func TestQueueBlockingFeed(t *testing.T) {
	ctx := context.Background()
	q := NewRecordQueue(8)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Drain(ctx, Records{[]byte("late")})
	}()

	recs, err := q.Feed(ctx)
	require.NoError(t, err)
	assert.Equal(t, Records{[]byte("late")}, recs)
}

func TestQueueFeedCancel(t *testing.T) {
	q := NewRecordQueue(8)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Feed(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueClose(t *testing.T) {
	ctx := context.Background()
	q := NewRecordQueue(8)

	require.NoError(t, q.Drain(ctx, Records{[]byte("buffered")}))
	require.NoError(t, q.Close())

	// buffered batches still feed out after close
	recs, err := q.Feed(ctx)
	require.NoError(t, err)
	assert.Equal(t, Records{[]byte("buffered")}, recs)

	_, err = q.Feed(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, q.Drain(ctx, Records{[]byte("x")}), ErrClosed)
}

func TestQueueEmptyDrain(t *testing.T) {
	q := NewRecordQueue(8)
	assert.NoError(t, q.Drain(context.Background(), nil))
}

func TestPumpBetweenQueues(t *testing.T) {
	ctx := context.Background()
	src := NewRecordQueue(8)
	dst := NewRecordQueue(8)

	require.NoError(t, src.Drain(ctx, Records{[]byte("a")}))
	require.NoError(t, src.Drain(ctx, Records{[]byte("b")}))
	require.NoError(t, src.Close())

	err := Pump(ctx, src, dst)
	assert.ErrorIs(t, err, ErrClosed)

	recs, err := dst.Feed(ctx)
	require.NoError(t, err)
	assert.Equal(t, Records{[]byte("a"), []byte("b")}, recs)
}
