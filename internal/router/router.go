package router

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/metrics"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// MemberResolver resolves a group to its current members.
type MemberResolver interface {
	ResolveMembers(ctx context.Context, groupID string) ([]string, error)
}

// Router delivers events to live connections. Offline targets are skipped;
// nothing is queued for them.
type Router struct {
	hub     *hub.Hub
	members MemberResolver
}

func New(h *hub.Hub, members MemberResolver) *Router {
	return &Router{hub: h, members: members}
}

func encode(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(&domain.Outbound{Type: event, Data: payload})
}

// EmitToUser delivers to userID's routed connection and reports whether it
// was enqueued.
func (r *Router) EmitToUser(userID, event string, payload interface{}) bool {
	c, ok := r.hub.Get(userID)
	if !ok {
		return false
	}
	data, err := encode(event, payload)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldEvent, event).Msg("failed to encode event")
		return false
	}
	return r.deliver([]*hub.Client{c}, event, data) == 1
}

// EmitToUsers delivers to every online user in userIDs except exclude and
// returns how many connections received the event.
func (r *Router) EmitToUsers(userIDs []string, event string, payload interface{}, exclude string) int {
	targets := make([]*hub.Client, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id == exclude {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if c, ok := r.hub.Get(id); ok {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		return 0
	}

	data, err := encode(event, payload)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldEvent, event).Msg("failed to encode event")
		return 0
	}
	return r.deliver(targets, event, data)
}

// EmitToGroup fans out to the group's online members except exclude.
// Only a failure to resolve the group is an error.
func (r *Router) EmitToGroup(ctx context.Context, groupID, event string, payload interface{}, exclude string) (int, error) {
	members, err := r.members.ResolveMembers(ctx, groupID)
	if err != nil {
		return 0, err
	}
	return r.EmitToUsers(members, event, payload, exclude), nil
}

// EmitToAll delivers to every routed connection.
func (r *Router) EmitToAll(event string, payload interface{}) int {
	clients := r.hub.Clients()
	if len(clients) == 0 {
		return 0
	}
	data, err := encode(event, payload)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldEvent, event).Msg("failed to encode event")
		return 0
	}
	return r.deliver(clients, event, data)
}

// deliver offers data to every client without waiting, then waits in
// parallel on the ones whose buffers were full. It returns once every
// attempt finished so that consecutive emits keep their order.
func (r *Router) deliver(clients []*hub.Client, event string, data []byte) int {
	delivered := 0
	var pending []*hub.Client
	for _, c := range clients {
		if c.Offer(data) {
			delivered++
		} else {
			pending = append(pending, c)
		}
	}

	if len(pending) > 0 {
		var (
			wg   sync.WaitGroup
			late atomic.Int64
		)
		for _, c := range pending {
			wg.Add(1)
			go func(c *hub.Client) {
				defer wg.Done()
				if c.Enqueue(data) {
					late.Add(1)
				}
			}(c)
		}
		wg.Wait()
		delivered += int(late.Load())
	}

	if delivered > 0 {
		metrics.EventsEmitted.WithLabelValues(event).Add(float64(delivered))
	}
	return delivered
}
