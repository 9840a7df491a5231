package presence

import (
	"context"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/events"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/metrics"
	"github.com/weiawesome/wes-io-chat/internal/registry"
	"github.com/weiawesome/wes-io-chat/internal/router"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Broadcaster sends the full online-user set to every connection after
// registry changes. Changes that arrive while a broadcast is pending are
// folded into it; the snapshot is read when it is sent, so the last
// broadcast always reflects the latest state.
type Broadcaster struct {
	hub       *hub.Hub
	router    *router.Router
	directory registry.Directory
	events    *events.Publisher

	notify chan struct{}
	last   map[string]struct{}
}

func NewBroadcaster(h *hub.Hub, r *router.Router, dir registry.Directory, pub *events.Publisher) *Broadcaster {
	if dir == nil {
		dir = registry.NoopDirectory{}
	}
	return &Broadcaster{
		hub:       h,
		router:    r,
		directory: dir,
		events:    pub,
		notify:    make(chan struct{}, 1),
		last:      make(map[string]struct{}),
	}
}

// Notify schedules a broadcast. It never blocks.
func (b *Broadcaster) Notify() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Snapshot returns the current online users.
func (b *Broadcaster) Snapshot() []string {
	return b.hub.OnlineUsers()
}

// Run broadcasts until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	l := log.L()
	l.Info().Msg("presence broadcaster started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.notify:
			b.broadcast(ctx)
		}
	}
}

func (b *Broadcaster) broadcast(ctx context.Context) {
	users := b.hub.OnlineUsers()
	n := b.router.EmitToAll(domain.EventPresenceSnapshot, users)
	metrics.PresenceSnapshots.Inc()

	l := log.L()
	l.Debug().Int("online", len(users)).Int("recipients", n).Msg("presence snapshot sent")

	if err := b.directory.Sync(ctx, users); err != nil {
		l.Warn().Err(err).Msg("failed to sync presence directory")
	}
	b.publishChanges(ctx, users)
}

func (b *Broadcaster) publishChanges(ctx context.Context, users []string) {
	next := make(map[string]struct{}, len(users))
	for _, u := range users {
		next[u] = struct{}{}
		if _, ok := b.last[u]; !ok && b.events != nil {
			b.events.Presence(ctx, events.PresenceChange{UserID: u, Online: true})
		}
	}
	for u := range b.last {
		if _, ok := next[u]; !ok && b.events != nil {
			b.events.Presence(ctx, events.PresenceChange{UserID: u, Online: false})
		}
	}
	b.last = next
}
