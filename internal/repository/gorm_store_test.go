package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/database"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewGormStore(db)
}

func TestEnsureUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, "u1", "alice", "Alice A")
	require.NoError(t, err)
	assert.True(t, u.AllowMessaging)
	assert.True(t, u.ShowOnlineStatus)
	assert.Empty(t, u.BlockedUsers)

	off := false
	_, err = s.UpdatePrivacy(ctx, "u1", domain.PrivacySettings{AllowMessaging: &off})
	require.NoError(t, err)

	// A later login refreshes names but keeps settings.
	u, err = s.EnsureUser(ctx, "u1", "alice2", "")
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.Username)
	assert.Equal(t, "Alice A", u.FullName)
	assert.False(t, u.AllowMessaging)

	_, err = s.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestListUsersExcludesSelf(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := s.EnsureUser(ctx, name, name, "")
		require.NoError(t, err)
	}

	users, err := s.ListUsers(ctx, "bob", domain.Page{})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].ID)
	assert.Equal(t, "carol", users[1].ID)
}

func TestBlockList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, "u1", "alice", "")
	require.NoError(t, err)

	require.NoError(t, s.AddBlocked(ctx, "u1", "u2"))
	assert.ErrorIs(t, s.AddBlocked(ctx, "u1", "u2"), domain.ErrAlreadyBlocked)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, u.BlockedUsers)

	require.NoError(t, s.RemoveBlocked(ctx, "u1", "u2"))
	assert.ErrorIs(t, s.RemoveBlocked(ctx, "u1", "u2"), domain.ErrNotBlocked)
	assert.ErrorIs(t, s.AddBlocked(ctx, "ghost", "u2"), domain.ErrUserNotFound)
}

func TestConcurrentBlocksAreAllKept(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, "u1", "alice", "")
	require.NoError(t, err)

	var targets []string
	for i := 0; i < 20; i++ {
		targets = append(targets, fmt.Sprintf("t%d", i))
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			assert.NoError(t, s.AddBlocked(ctx, "u1", target))
		}(target)
	}
	wg.Wait()

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, targets, u.BlockedUsers)

	for _, target := range targets[:10] {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			assert.NoError(t, s.RemoveBlocked(ctx, "u1", target))
		}(target)
	}
	wg.Wait()

	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, targets[10:], u.BlockedUsers)
}

func TestAdvanceMessageStatusIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateMessage(ctx, &domain.Message{
		ID: "m1", SenderID: "a", ReceiverID: "b", Text: "hi", Status: domain.StatusSent, CreatedAt: now,
	}))

	changed, err := s.AdvanceMessageStatus(ctx, "m1", domain.StatusRead, now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.AdvanceMessageStatus(ctx, "m1", domain.StatusDelivered, now)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.AdvanceMessageStatus(ctx, "m1", domain.StatusRead, now)
	require.NoError(t, err)
	assert.False(t, changed)

	msg, err := s.FindMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, msg.Status)
	assert.NotNil(t, msg.ReadAt)
	assert.NotNil(t, msg.DeliveredAt)

	_, err = s.FindMessage(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestConversationPagingAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	texts := []string{"hello there", "100% sure", "HELLO again", "bye"}
	for i, text := range texts {
		sender, receiver := "a", "b"
		if i%2 == 1 {
			sender, receiver = "b", "a"
		}
		require.NoError(t, s.CreateMessage(ctx, &domain.Message{
			ID: fmt.Sprintf("m%d", i), SenderID: sender, ReceiverID: receiver,
			Text: text, Status: domain.StatusSent, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.CreateMessage(ctx, &domain.Message{
		ID: "other", SenderID: "a", ReceiverID: "c", Text: "hello c", Status: domain.StatusSent, CreatedAt: base,
	}))

	page, err := s.ListConversation(ctx, "b", "a", domain.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m3", page[0].ID)
	assert.Equal(t, "m2", page[1].ID)

	page, err = s.ListConversation(ctx, "a", "b", domain.Page{Limit: 2, Skip: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m1", page[0].ID)

	found, err := s.SearchConversation(ctx, "a", "b", "hello", domain.Page{})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = s.SearchConversation(ctx, "a", "b", "0%", domain.Page{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "m1", found[0].ID)
}

func TestGroupMembershipQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &domain.Group{ID: "g1", Name: "one", Admin: "a", Members: []string{"a", "b"}}))
	require.NoError(t, s.CreateGroup(ctx, &domain.Group{ID: "g2", Name: "two", Admin: "ab", Members: []string{"ab"}}))

	groups, err := s.ListUserGroups(ctx, "a")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g1", groups[0].ID)

	g, err := s.FindGroup(ctx, "g1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateGroupMembers(ctx, "g1", g.Version, []string{"b"}, "b"))
	g, err = s.FindGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "b", g.Admin)
	assert.Equal(t, []string{"b"}, g.Members)

	assert.ErrorIs(t, s.UpdateGroupMembers(ctx, "nope", 1, nil, ""), domain.ErrGroupNotFound)

	require.NoError(t, s.CreateGroupMessage(ctx, &domain.GroupMessage{ID: "gm1", GroupID: "g1", SenderID: "b", Text: "x", Status: domain.StatusSent}))
	_, err = s.AppendReceipt(ctx, "gm1", "c", domain.StatusRead, time.Now(), 1)
	require.NoError(t, err)

	require.NoError(t, s.DeleteGroup(ctx, "g1", g.Version))
	_, err = s.FindGroup(ctx, "g1")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
	_, err = s.FindGroupMessage(ctx, "gm1")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestGroupWritesRejectStaleVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &domain.Group{ID: "g1", Name: "one", Admin: "a", Members: []string{"a"}}))
	stale, err := s.FindGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stale.Version)

	require.NoError(t, s.UpdateGroupMembers(ctx, "g1", stale.Version, []string{"a", "b"}, "a"))

	// A writer still holding the first read must not erase b.
	err = s.UpdateGroupMembers(ctx, "g1", stale.Version, []string{"a", "c"}, "a")
	assert.ErrorIs(t, err, domain.ErrGroupConflict)
	assert.ErrorIs(t, s.DeleteGroup(ctx, "g1", stale.Version), domain.ErrGroupConflict)

	g, err := s.FindGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, g.Members)
	assert.Equal(t, int64(2), g.Version)

	assert.ErrorIs(t, s.DeleteGroup(ctx, "nope", 1), domain.ErrGroupNotFound)
}

func TestAppendReceiptDeduplicatesAndPromotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateGroupMessage(ctx, &domain.GroupMessage{
		ID: "gm1", GroupID: "g1", SenderID: "a", Text: "hi", Status: domain.StatusSent,
	}))

	// threshold 2: the first receipt does not promote.
	res, err := s.AppendReceipt(ctx, "gm1", "b", domain.StatusDelivered, time.Now(), 2)
	require.NoError(t, err)
	assert.True(t, res.Appended)
	assert.False(t, res.Promoted)
	assert.Equal(t, domain.StatusSent, res.Status)

	res, err = s.AppendReceipt(ctx, "gm1", "b", domain.StatusDelivered, time.Now(), 2)
	require.NoError(t, err)
	assert.False(t, res.Appended)

	res, err = s.AppendReceipt(ctx, "gm1", "c", domain.StatusDelivered, time.Now(), 2)
	require.NoError(t, err)
	assert.True(t, res.Appended)
	assert.True(t, res.Promoted)
	assert.Equal(t, domain.StatusDelivered, res.Status)

	gm, err := s.FindGroupMessage(ctx, "gm1")
	require.NoError(t, err)
	assert.Len(t, gm.DeliveredTo, 2)
	assert.Empty(t, gm.ReadBy)
	assert.Equal(t, domain.StatusDelivered, gm.Status)

	_, err = s.AppendReceipt(ctx, "missing", "b", domain.StatusRead, time.Now(), 1)
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestAppendReceiptConcurrentDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateGroupMessage(ctx, &domain.GroupMessage{
		ID: "gm1", GroupID: "g1", SenderID: "a", Status: domain.StatusSent,
	}))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		appended int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.AppendReceipt(ctx, "gm1", "b", domain.StatusRead, time.Now(), 1)
			if assert.NoError(t, err) && res.Appended {
				mu.Lock()
				appended++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, appended)
	gm, err := s.FindGroupMessage(ctx, "gm1")
	require.NoError(t, err)
	assert.Len(t, gm.ReadBy, 1)
	assert.Equal(t, domain.StatusRead, gm.Status)
}

func TestGroupMessageHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateGroupMessage(ctx, &domain.GroupMessage{
			ID: fmt.Sprintf("gm%d", i), GroupID: "g1", SenderID: "a",
			Text: fmt.Sprintf("note %d", i), Status: domain.StatusSent,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	_, err := s.AppendReceipt(ctx, "gm2", "b", domain.StatusDelivered, time.Now(), 1)
	require.NoError(t, err)

	msgs, err := s.ListGroupMessages(ctx, "g1", domain.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "gm2", msgs[0].ID)
	assert.Len(t, msgs[0].DeliveredTo, 1)
	assert.Empty(t, msgs[1].DeliveredTo)

	found, err := s.SearchGroupMessages(ctx, "g1", "NOTE 1", domain.Page{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "gm1", found[0].ID)
}
