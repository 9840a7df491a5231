package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// RedisDirectory keeps a set of online users plus one TTL key per user
// owned by this instance. The heartbeat refreshes the keys; if the instance
// dies they expire and readers drop those users.
type RedisDirectory struct {
	client            *redis.Client
	instanceID        string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	managed           map[string]struct{} // users published by this instance
	mu                sync.Mutex
	cancel            context.CancelFunc
}

func NewRedisDirectory(cfg config.RedisConfig, instanceID string) (*RedisDirectory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisDirectory{
		client:            client,
		instanceID:        instanceID,
		prefix:            cfg.PresencePrefix,
		keyTTL:            cfg.KeyTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		managed:           make(map[string]struct{}),
	}, nil
}

func (r *RedisDirectory) setKey() string {
	return r.prefix + ":online"
}

func (r *RedisDirectory) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", r.prefix, userID)
}

// Sync publishes the difference between the previous and current snapshot.
func (r *RedisDirectory) Sync(ctx context.Context, users []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	added, removed := diff(r.managed, users)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	for _, u := range added {
		pipe.SAdd(ctx, r.setKey(), u)
		pipe.Set(ctx, r.userKey(u), r.instanceID, r.keyTTL)
	}
	for _, u := range removed {
		pipe.SRem(ctx, r.setKey(), u)
		pipe.Del(ctx, r.userKey(u))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to sync presence: %w", err)
	}

	for _, u := range added {
		r.managed[u] = struct{}{}
	}
	for _, u := range removed {
		delete(r.managed, u)
	}

	l := log.L()
	l.Debug().Int("added", len(added)).Int("removed", len(removed)).Msg("presence directory synced")
	return nil
}

// Online returns set members whose TTL key is still alive.
func (r *RedisDirectory) Online(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read online set: %w", err)
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	pipe := r.client.Pipeline()
	checks := make([]*redis.IntCmd, len(members))
	for i, u := range members {
		checks[i] = pipe.Exists(ctx, r.userKey(u))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check presence keys: %w", err)
	}

	online := make([]string, 0, len(members))
	for i, u := range members {
		if checks[i].Val() > 0 {
			online = append(online, u)
		}
	}
	sort.Strings(online)
	return online, nil
}

func (r *RedisDirectory) StartHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", r.heartbeatInterval).Dur("ttl", r.keyTTL).Msg("presence heartbeat started")
	return nil
}

func (r *RedisDirectory) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshKeys(ctx)
		}
	}
}

func (r *RedisDirectory) refreshKeys(ctx context.Context) {
	r.mu.Lock()
	users := make([]string, 0, len(r.managed))
	for u := range r.managed {
		users = append(users, u)
	}
	r.mu.Unlock()

	if len(users) == 0 {
		return
	}

	pipe := r.client.Pipeline()
	for _, u := range users {
		pipe.Set(ctx, r.userKey(u), r.instanceID, r.keyTTL)
	}
	pipe.SAdd(ctx, r.setKey(), toArgs(users)...)
	if _, err := pipe.Exec(ctx); err != nil {
		l := log.L()
		l.Error().Err(err).Int("users", len(users)).Msg("failed to refresh presence keys")
	}
}

func (r *RedisDirectory) StopHeartbeat() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Close withdraws this instance's users and closes the client.
func (r *RedisDirectory) Close() error {
	r.StopHeartbeat()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.Sync(ctx, nil); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to withdraw presence on close")
	}
	return r.client.Close()
}

// diff returns users in next but not in prev, and in prev but not in next.
func diff(prev map[string]struct{}, next []string) (added, removed []string) {
	seen := make(map[string]struct{}, len(next))
	for _, u := range next {
		seen[u] = struct{}{}
		if _, ok := prev[u]; !ok {
			added = append(added, u)
		}
	}
	for u := range prev {
		if _, ok := seen[u]; !ok {
			removed = append(removed, u)
		}
	}
	sort.Strings(removed)
	return added, removed
}

func toArgs(users []string) []interface{} {
	args := make([]interface{}, len(users))
	for i, u := range users {
		args[i] = u
	}
	return args
}
