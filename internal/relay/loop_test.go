package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "relaygram/pkg/logx"
)

func TestLoopRunsTasksInOrderAndSurvivesPanics(t *testing.T) {
	l := NewLoop(logx.Nop())
	l.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []int
	l.Post(func() { got = append(got, 1) })
	l.Post(func() { panic("boom") })
	l.Post(func() {
		got = append(got, 2)
		// Posting from inside a task must not block.
		l.Post(func() { got = append(got, 3) })
	})
	require.NoError(t, l.Call(ctx, func() {}))
	require.NoError(t, l.Call(ctx, func() {}))
	assert.Equal(t, []int{1, 2, 3}, got)

	require.NoError(t, l.Stop(ctx))
	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Call(ctx, func() {}), ErrStopped)
}

func TestLoopStopWithoutStart(t *testing.T) {
	l := NewLoop(logx.Nop())
	assert.NoError(t, l.Stop(context.Background()))
}

func TestLoopCallBeforeStart(t *testing.T) {
	l := NewLoop(logx.Nop())
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrNotStarted)
}
