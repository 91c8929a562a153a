package webhook

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trackercap/upcap/internal/domain"
)

func TestEnqueueAndDrain(t *testing.T) {
	q := New(10)
	q.Enqueue(domain.WebhookEvent{EventType: domain.WebhookAdd, Hash: "a"})
	q.Enqueue(domain.WebhookEvent{EventType: domain.WebhookComplete, Hash: "b"})

	events := q.Drain()
	assert.Len(t, events, 2)
	assert.Empty(t, q.Drain())
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	q := New(2)
	q.Enqueue(domain.WebhookEvent{Hash: "1"})
	q.Enqueue(domain.WebhookEvent{Hash: "2"})
	q.Enqueue(domain.WebhookEvent{Hash: "3"})

	events := q.Drain()
	assert.Len(t, events, 2)
	assert.Equal(t, "2", events[0].Hash)
	assert.Equal(t, "3", events[1].Hash)
	assert.EqualValues(t, 1, q.Dropped())
}

// Property 8: /webhook enqueue stays well under 10ms even under load; this
// exercises the queue's own Enqueue cost in isolation (the HTTP handler
// adds negligible overhead on top per internal/api).
func TestEnqueueLatencyUnderLoad(t *testing.T) {
	q := New(1000)
	var wg sync.WaitGroup
	const n = 2000
	start := time.Now()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(domain.WebhookEvent{Hash: "h"})
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	assert.Less(t, elapsed/n, 10*time.Millisecond)
}
