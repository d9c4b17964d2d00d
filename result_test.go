package sonarfit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyOnceDeliversFirstOnly(t *testing.T) {
	var got []Reply
	once := NewReplyOnce(func(r Reply) { got = append(got, r) })

	_, ok := once.Load()
	assert.False(t, ok)

	assert.True(t, once.Deliver(Success(1)))
	assert.False(t, once.Deliver(Failure(Cancelled())))
	once.Func()(Success(3))

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Value)

	reply, ok := once.Load()
	assert.True(t, ok)
	assert.Equal(t, 1, reply.Value)
}

func TestReplyOnceConcurrentDeliver(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	once := NewReplyOnce(func(Reply) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			once.Deliver(Success(i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, count)
}

func TestReplyHelpers(t *testing.T) {
	assert.Equal(t, CodeInternal, Failure(nil).Code())
	assert.True(t, NotImplementedReply().NotImplemented)
	assert.False(t, NotImplementedReply().IsError())
	assert.Equal(t, "", Success(nil).Code())
	assert.Equal(t, CodeCancelled, Failure(Cancelled()).Code())
}
