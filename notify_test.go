package valuesync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanout(t *testing.T) {
	ctx := context.Background()
	var h hub[int]

	a := h.Subscribe(8)
	b := h.Subscribe(8)

	for i := 1; i <= 3; i++ {
		h.Publish(ctx, i)
	}

	for i := 1; i <= 3; i++ {
		assert.Equal(t, i, <-a)
		assert.Equal(t, i, <-b)
	}
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	var h hub[int]
	h.Publish(context.Background(), 1) // must not block or panic
}

func TestHubClose(t *testing.T) {
	ctx := context.Background()
	var h hub[int]

	sub := h.Subscribe(8)
	h.Publish(ctx, 1)
	h.Close()
	h.Close() // idempotent
	h.Publish(ctx, 2)

	v, ok := <-sub
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = <-sub
	assert.False(t, ok)

	// late subscribers get an already closed channel
	_, ok = <-h.Subscribe(8)
	assert.False(t, ok)
}
