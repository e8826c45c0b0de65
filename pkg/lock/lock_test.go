package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopAlwaysAcquires(t *testing.T) {
	var l Locker = Noop{}
	release, err := l.Acquire(context.Background(), "tick", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))

	_, err = l.Acquire(context.Background(), "tick", time.Minute)
	assert.NoError(t, err)
}
