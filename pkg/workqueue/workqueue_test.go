package workqueue

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollRunsEnqueuedJobInOrder(t *testing.T) {
	q := New(4)
	var order []int

	record := func(v int) { order = append(order, v) }
	assert.NoError(t, q.Enqueue(func() { record(1) }))
	assert.NoError(t, q.Enqueue(func() { record(2) }))

	assert.True(t, q.Poll(time.Second))
	assert.True(t, q.Poll(time.Second))
	assert.Equal(t, []int{1, 2}, order)
}

func TestPollReturnsFalseOnTimeout(t *testing.T) {
	q := New(4)
	assert.False(t, q.Poll(10*time.Millisecond))
}

func TestEnqueueFailsWhenQueueIsFull(t *testing.T) {
	q := New(1)
	assert.NoError(t, q.Enqueue(func() {}))
	assert.Error(t, q.Enqueue(func() {}))
}

func TestLenReflectsPendingJobs(t *testing.T) {
	q := New(4)
	assert.Equal(t, 0, q.Len())
	_ = q.Enqueue(func() {})
	assert.Equal(t, 1, q.Len())
	q.Poll(time.Second)
	assert.Equal(t, 0, q.Len())
}

func TestConcurrentEnqueueIsSafe(t *testing.T) {
	q := New(100)
	var count int64

	for i := 0; i < 50; i++ {
		go func() { _ = q.Enqueue(func() { atomic.AddInt64(&count, 1) }) }()
	}

	deadline := time.Now().Add(2 * time.Second)
	ran := 0
	for ran < 50 && time.Now().Before(deadline) {
		if q.Poll(50 * time.Millisecond) {
			ran++
		}
	}

	assert.Equal(t, int64(50), atomic.LoadInt64(&count))
}
