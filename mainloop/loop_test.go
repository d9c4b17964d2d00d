package mainloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	l.Start(context.Background())
	t.Cleanup(func() {
		l.Close()
		<-l.Done()
	})
	return l
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := startLoop(t)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		i := i
		require.NoError(t, l.Post(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	wg.Wait()

	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestLoopOnLoop(t *testing.T) {
	l := startLoop(t)
	assert.False(t, l.OnLoop())

	result := make(chan bool, 1)
	require.NoError(t, l.Post(func() { result <- l.OnLoop() }))
	assert.True(t, <-result)
}

func TestLoopPostFromTaskDoesNotBlock(t *testing.T) {
	l := startLoop(t)

	done := make(chan struct{})
	require.NoError(t, l.Post(func() {
		require.NoError(t, l.Post(func() { close(done) }))
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested task did not run")
	}
}

func TestLoopRecoversTaskPanic(t *testing.T) {
	l := startLoop(t)

	require.NoError(t, l.Post(func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, l.Post(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after panic")
	}
}

func TestLoopCloseDrainsAndRejects(t *testing.T) {
	l := New()

	ran := make(chan struct{})
	require.NoError(t, l.Post(func() { close(ran) }))
	l.Close()

	require.NoError(t, l.Run(context.Background()))
	<-ran

	assert.ErrorIs(t, l.Post(func() {}), ErrClosed)
	assert.ErrorIs(t, l.Run(context.Background()), ErrRunning)
}

func TestLoopStopsOnContext(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Run(ctx), context.Canceled)
	assert.ErrorIs(t, l.Post(func() {}), ErrClosed)
}

func TestLoopRejectsNilTask(t *testing.T) {
	assert.ErrorIs(t, New().Post(nil), ErrNilTask)
}
