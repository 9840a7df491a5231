package hub

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/weiawesome/wes-io-chat/internal/metrics"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

const defaultShards = 32

// Hub is the connection registry. It maps each user to at most one routed
// client (last connect wins) and keeps the reverse connection -> user
// mapping so that a disconnect is resolved by connection identity.
type Hub struct {
	shards   []*shard
	onChange func()
}

type shard struct {
	mu     sync.RWMutex
	byUser map[string]*Client // userID -> routed client
	byConn map[string]string  // connectionID -> userID
}

// NewHub creates a registry split into n independently locked shards.
func NewHub(n int) *Hub {
	if n <= 0 {
		n = defaultShards
	}
	h := &Hub{shards: make([]*shard, n)}
	for i := range h.shards {
		h.shards[i] = &shard{
			byUser: make(map[string]*Client),
			byConn: make(map[string]string),
		}
	}
	return h
}

// OnChange sets the callback run after every registration or removal.
// It must be set before the first Register.
func (h *Hub) OnChange(fn func()) {
	h.onChange = fn
}

func (h *Hub) shardFor(key string) *shard {
	return h.shards[xxhash.Sum64String(key)%uint64(len(h.shards))]
}

func (h *Hub) changed() {
	if h.onChange != nil {
		h.onChange()
	}
}

// Register routes c.UserID to c, replacing any prior client for that user.
// A replaced client stays open but no longer receives routed events.
func (h *Hub) Register(c *Client) {
	cs := h.shardFor(c.ID)
	cs.mu.Lock()
	cs.byConn[c.ID] = c.UserID
	cs.mu.Unlock()

	us := h.shardFor(c.UserID)
	us.mu.Lock()
	prev := us.byUser[c.UserID]
	us.byUser[c.UserID] = c
	us.mu.Unlock()

	l := log.L()
	if prev != nil && prev.ID != c.ID {
		l.Info().
			Str(log.FieldUserID, c.UserID).
			Str(log.FieldConnectionID, c.ID).
			Str("superseded_connection_id", prev.ID).
			Msg("connection superseded")
	} else {
		metrics.ConnectionsActive.Inc()
	}
	l.Debug().Str(log.FieldConnectionID, c.ID).Str(log.FieldUserID, c.UserID).Msg("client registered")

	h.changed()
}

// Unregister drops the reverse entry for connID and removes the user's
// mapping only if it still points at connID. It returns whether a routed
// mapping was removed; unknown or superseded connections are a no-op.
func (h *Hub) Unregister(connID string) bool {
	cs := h.shardFor(connID)
	cs.mu.Lock()
	userID, ok := cs.byConn[connID]
	delete(cs.byConn, connID)
	cs.mu.Unlock()
	if !ok {
		return false
	}

	us := h.shardFor(userID)
	us.mu.Lock()
	cur, ok := us.byUser[userID]
	removed := ok && cur.ID == connID
	if removed {
		delete(us.byUser, userID)
	}
	us.mu.Unlock()

	l := log.L()
	if !removed {
		l.Debug().Str(log.FieldConnectionID, connID).Str(log.FieldUserID, userID).Msg("stale disconnect ignored")
		return false
	}
	metrics.ConnectionsActive.Dec()
	l.Debug().Str(log.FieldConnectionID, connID).Str(log.FieldUserID, userID).Msg("client unregistered")

	h.changed()
	return true
}

// Lookup returns the connection id routed for userID.
func (h *Hub) Lookup(userID string) (string, bool) {
	c, ok := h.Get(userID)
	if !ok {
		return "", false
	}
	return c.ID, true
}

// Get returns the client routed for userID.
func (h *Hub) Get(userID string) (*Client, bool) {
	s := h.shardFor(userID)
	s.mu.RLock()
	c, ok := s.byUser[userID]
	s.mu.RUnlock()
	return c, ok
}

// Clients returns a snapshot of every routed client.
func (h *Hub) Clients() []*Client {
	var out []*Client
	for _, s := range h.shards {
		s.mu.RLock()
		for _, c := range s.byUser {
			out = append(out, c)
		}
		s.mu.RUnlock()
	}
	return out
}

// OnlineUsers returns the sorted ids of every routed user.
func (h *Hub) OnlineUsers() []string {
	users := make([]string, 0)
	for _, s := range h.shards {
		s.mu.RLock()
		for userID := range s.byUser {
			users = append(users, userID)
		}
		s.mu.RUnlock()
	}
	sort.Strings(users)
	return users
}

// Count returns the number of routed users.
func (h *Hub) Count() int {
	n := 0
	for _, s := range h.shards {
		s.mu.RLock()
		n += len(s.byUser)
		s.mu.RUnlock()
	}
	return n
}

// CloseAll closes every routed client. Superseded clients close with their
// own connection.
func (h *Hub) CloseAll() {
	for _, c := range h.Clients() {
		c.Close()
	}
}
