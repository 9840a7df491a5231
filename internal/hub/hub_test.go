package hub

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-io-chat/internal/config"
)

func testClient(h *Hub, connID, userID string) *Client {
	cfg := config.DefaultWebSocket()
	cfg.SendBuffer = 4
	cfg.EnqueueTimeout = 20 * time.Millisecond
	return NewClient(connID, userID, userID, h, nil, cfg)
}

func TestRegisterLookupUnregister(t *testing.T) {
	h := NewHub(4)
	c := testClient(h, "c1", "alice")
	h.Register(c)

	id, ok := h.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c1", id)
	assert.Equal(t, []string{"alice"}, h.OnlineUsers())

	assert.True(t, h.Unregister("c1"))
	_, ok = h.Lookup("alice")
	assert.False(t, ok)
	assert.Equal(t, 0, h.Count())

	// Idempotent.
	assert.False(t, h.Unregister("c1"))
}

func TestLastConnectWinsAndStaleDisconnect(t *testing.T) {
	h := NewHub(4)
	h.Register(testClient(h, "c1", "alice"))
	h.Register(testClient(h, "c2", "alice"))

	id, ok := h.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", id)

	// The late disconnect of the superseded connection must not evict c2.
	assert.False(t, h.Unregister("c1"))
	id, ok = h.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", id)

	assert.True(t, h.Unregister("c2"))
	assert.Equal(t, 0, h.Count())
}

func TestOnChangeFiresOnEveryMutation(t *testing.T) {
	h := NewHub(2)
	var calls atomic.Int32
	h.OnChange(func() { calls.Add(1) })

	h.Register(testClient(h, "c1", "alice"))
	h.Register(testClient(h, "c2", "bob"))
	h.Unregister("c1")
	h.Unregister("unknown")

	assert.Equal(t, int32(3), calls.Load())
}

func TestConcurrentSessionsConverge(t *testing.T) {
	h := NewHub(8)
	const users = 20
	const rounds = 50

	// Each user's sessions connect in order; disconnects of older sessions
	// race freely with newer connects.
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", u)
			var disconnects sync.WaitGroup
			for r := 0; r < rounds; r++ {
				connID := fmt.Sprintf("%s-c%d", user, r)
				h.Register(testClient(h, connID, user))
				if r < rounds-1 {
					disconnects.Add(1)
					go func(id string) {
						defer disconnects.Done()
						time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)
						h.Unregister(id)
					}(connID)
				}
			}
			disconnects.Wait()
		}(u)
	}
	wg.Wait()

	assert.Equal(t, users, h.Count())
	for u := 0; u < users; u++ {
		user := fmt.Sprintf("user-%d", u)
		id, ok := h.Lookup(user)
		require.True(t, ok, user)
		assert.Equal(t, fmt.Sprintf("%s-c%d", user, rounds-1), id)
	}
}

func TestEnqueuePreservesOrder(t *testing.T) {
	h := NewHub(1)
	c := testClient(h, "c1", "alice")
	for i := 0; i < 4; i++ {
		require.True(t, c.Enqueue([]byte{byte(i)}))
	}
	for i := 0; i < 4; i++ {
		assert.Equal(t, []byte{byte(i)}, <-c.Send)
	}
}

func TestEnqueueClosesSlowClient(t *testing.T) {
	h := NewHub(1)
	c := testClient(h, "c1", "alice")
	for i := 0; i < cap(c.Send); i++ {
		require.True(t, c.Offer([]byte("x")))
	}
	assert.False(t, c.Offer([]byte("y")))

	assert.False(t, c.Enqueue([]byte("y")))
	select {
	case <-c.Done():
	default:
		t.Fatal("slow client was not closed")
	}
	assert.False(t, c.Offer([]byte("z")))
}

func TestEnqueueWaitsForRoom(t *testing.T) {
	h := NewHub(1)
	c := testClient(h, "c1", "alice")
	c.config.EnqueueTimeout = time.Second
	for i := 0; i < cap(c.Send); i++ {
		require.True(t, c.Offer([]byte("x")))
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		<-c.Send
	}()
	assert.True(t, c.Enqueue([]byte("y")))
}
