package backend

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryQueue_preservesOrder(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	done := make(chan struct{})

	q := NewDeliveryQueue(func(changes []Change) {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range changes {
			received = append(received, c.Doc.ID)
		}
		if len(received) == 3 {
			close(done)
		}
	})
	defer q.Close()

	q.Enqueue([]Change{{Kind: Added, Doc: Document{ID: "a"}}})
	q.Enqueue([]Change{{Kind: Added, Doc: Document{ID: "b"}}, {Kind: Added, Doc: Document{ID: "c"}}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, received)
}

func TestDeliveryQueue_enqueueDoesNotBlock(t *testing.T) {
	block := make(chan struct{})
	q := NewDeliveryQueue(func([]Change) {
		<-block
	})
	defer q.Close()
	defer close(block)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			q.Enqueue([]Change{{Kind: Added, Doc: Document{ID: "x"}}})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a slow consumer")
	}
}

func TestDeliveryQueue_enqueueAfterCloseIsDropped(t *testing.T) {
	delivered := make(chan struct{}, 10)
	q := NewDeliveryQueue(func([]Change) {
		delivered <- struct{}{}
	})

	q.Close()
	q.Enqueue([]Change{{Kind: Added, Doc: Document{ID: "a"}}})

	select {
	case <-delivered:
		t.Fatal("batch delivered after close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscription_cancelIsIdempotent(t *testing.T) {
	var calls int
	sub := NewSubscription(func() { calls++ })

	sub.Cancel()
	sub.Cancel()
	sub.Cancel()

	require.Equal(t, 1, calls)
}

func TestSubscription_nilCancel(t *testing.T) {
	sub := NewSubscription(nil)
	assert.NotPanics(t, func() { sub.Cancel() })
}
