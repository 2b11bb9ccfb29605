package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := newDispatcher()
	var mu sync.Mutex
	var received [][]byte

	done := make(chan struct{})
	d.SetHandler(func(from net.Addr, envelope []byte) {
		mu.Lock()
		received = append(received, envelope)
		if len(received) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	d.enqueue(nil, []byte("one"))
	d.enqueue(nil, []byte("two"))
	d.enqueue(nil, []byte("three"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not receive all frames")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 3)
	assert.Equal(t, []byte("one"), received[0])
	assert.Equal(t, []byte("two"), received[1])
	assert.Equal(t, []byte("three"), received[2])
}

func TestDispatcherDropsOldestOnOverflow(t *testing.T) {
	d := newDispatcher() // no handler installed: frames just accumulate

	for i := 0; i < InboundQueueCapacity+5; i++ {
		d.enqueue(nil, []byte{byte(i)})
	}

	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	require.Len(t, d.queue, InboundQueueCapacity)
	assert.Equal(t, byte(5), d.queue[0].data[0]) // the 5 oldest were dropped
}
