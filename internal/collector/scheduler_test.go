package collector

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewScheduler("every hour", func(context.Context) {}, false)
	assert.Error(t, err)
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler("0 * * * *", func(context.Context) { runs.Add(1) }, true)
	require.NoError(t, err)

	assert.False(t, s.Started())
	assert.True(t, s.Start())
	assert.False(t, s.Start(), "second start is a no-op")
	assert.True(t, s.Started())

	s.Stop()
	assert.False(t, s.Started())
	assert.Equal(t, int32(1), runs.Load(), "run on start fires exactly once")
}

func TestScheduler_RunWithoutAutoStart(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler("0 * * * *", func(context.Context) { runs.Add(1) }, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, false) }()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, s.Started())
	assert.Zero(t, runs.Load())

	assert.True(t, s.Start())
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, s.Started())
}

func TestScheduler_JobsSeeRunContext(t *testing.T) {
	got := make(chan context.Context, 1)
	s, err := NewScheduler("0 * * * *", func(ctx context.Context) { got <- ctx }, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, true) }()

	var jobCtx context.Context
	select {
	case jobCtx = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	require.NoError(t, jobCtx.Err())
	cancel()
	<-done
	assert.ErrorIs(t, jobCtx.Err(), context.Canceled)
}
