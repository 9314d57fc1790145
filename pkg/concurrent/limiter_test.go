package concurrent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBlocksWhenFull(t *testing.T) {
	l := NewLimiter(1)
	require.NoError(t, l.Add(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Add(ctx), context.DeadlineExceeded)

	l.Done()
	require.NoError(t, l.Add(context.Background()))
	l.Done()
}
