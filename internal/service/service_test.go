package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/events"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/lifecycle"
	"github.com/weiawesome/wes-io-chat/internal/membership"
	"github.com/weiawesome/wes-io-chat/internal/repository"
	"github.com/weiawesome/wes-io-chat/internal/router"
	"github.com/weiawesome/wes-io-chat/internal/typing"
	"github.com/weiawesome/wes-io-chat/pkg/database"
)

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type testEnv struct {
	store    *repository.GormStore
	hub      *hub.Hub
	chat     ChatService
	messages MessageService
	groups   GroupService
	users    UserService
}

func newTestEnv(t *testing.T, limiter Limiter, users ...string) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     fmt.Sprintf("file:service_%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	store := repository.NewGormStore(db)
	h := hub.NewHub(4)
	authority := membership.NewAuthority(store)
	r := router.New(h, authority)
	pub := events.NewPublisher(nil)
	tracker := lifecycle.NewTracker(store, authority, r, pub, lifecycle.PolicyAny)
	messages := NewMessageService(store, authority, r, limiter)

	env := &testEnv{
		store:    store,
		hub:      h,
		chat:     NewChatService(h, tracker, typing.NewRelay(r), messages),
		messages: messages,
		groups:   NewGroupService(authority, r, pub),
		users:    NewUserService(store),
	}
	for _, u := range users {
		_, err := env.users.EnsureUser(context.Background(), u, u, "")
		require.NoError(t, err)
	}
	return env
}

func (e *testEnv) connect(t *testing.T, userID string) *hub.Client {
	t.Helper()
	cfg := config.DefaultWebSocket()
	cfg.EnqueueTimeout = 50 * time.Millisecond
	c := hub.NewClient("conn-"+userID, userID, userID, e.hub, nil, cfg)
	e.chat.HandleConnect(context.Background(), c)
	return c
}

func (e *testEnv) send(c *hub.Client, event string, data interface{}) {
	raw, _ := json.Marshal(map[string]interface{}{"type": event, "data": data})
	e.chat.HandleEvent(context.Background(), c, raw)
}

func drain(c *hub.Client) []domain.Envelope {
	var out []domain.Envelope
	for {
		select {
		case data := <-c.Send:
			var env domain.Envelope
			if err := json.Unmarshal(data, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func types(envs []domain.Envelope) []string {
	var out []string
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

func errorCode(t *testing.T, env domain.Envelope) string {
	t.Helper()
	require.Equal(t, domain.EventError, env.Type)
	var p domain.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p.Code
}

func TestDirectMessageLifecycle(t *testing.T) {
	e := newTestEnv(t, nil, "alice", "bob")
	alice := e.connect(t, "alice")
	bob := e.connect(t, "bob")

	e.send(alice, domain.EventSendMessage, map[string]string{"receiverId": "bob", "text": "  hello  "})

	sent := drain(alice)
	require.Equal(t, []string{domain.EventMessageSent}, types(sent))
	var ack domain.MessageSent
	require.NoError(t, json.Unmarshal(sent[0].Data, &ack))
	assert.True(t, ack.Delivered)
	assert.Equal(t, "hello", ack.Message.Text)
	assert.Equal(t, domain.StatusSent, ack.Message.Status)

	got := drain(bob)
	require.Equal(t, []string{domain.EventNewMessage}, types(got))

	// A bare id string is accepted as well as an object.
	e.send(bob, domain.EventMessageDelivered, ack.Message.ID)
	e.send(bob, domain.EventMessageRead, map[string]string{"messageId": ack.Message.ID})
	e.send(bob, domain.EventMessageDelivered, ack.Message.ID)

	updates := drain(alice)
	require.Equal(t, []string{domain.EventMessageStatusUpdate, domain.EventMessageStatusUpdate}, types(updates))
	var last domain.MessageStatusUpdate
	require.NoError(t, json.Unmarshal(updates[1].Data, &last))
	assert.Equal(t, domain.StatusRead, last.Status)
	assert.Empty(t, drain(bob))

	msg, err := e.store.FindMessage(context.Background(), ack.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, msg.Status)
}

func TestSendToOfflineUserPersistsAsSent(t *testing.T) {
	e := newTestEnv(t, nil, "alice", "bob")
	ctx := context.Background()

	res, err := e.messages.SendDirectMessage(ctx, "alice", domain.SendMessageRequest{
		ReceiverID: "bob",
		Content:    domain.Content{Text: "are you there"},
	})
	require.NoError(t, err)
	assert.False(t, res.Delivered)

	msg, err := e.store.FindMessage(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, msg.Status)
}

func TestSendDirectMessageRejections(t *testing.T) {
	e := newTestEnv(t, nil, "alice", "bob", "carol")
	ctx := context.Background()
	text := domain.Content{Text: "hi"}

	_, err := e.messages.SendDirectMessage(ctx, "alice", domain.SendMessageRequest{ReceiverID: "alice", Content: text})
	assert.ErrorIs(t, err, domain.ErrSelfMessage)

	_, err = e.messages.SendDirectMessage(ctx, "alice", domain.SendMessageRequest{ReceiverID: "ghost", Content: text})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = e.messages.SendDirectMessage(ctx, "alice", domain.SendMessageRequest{ReceiverID: "bob", Content: domain.Content{Text: "   "}})
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	_, err = e.messages.SendDirectMessage(ctx, "alice", domain.SendMessageRequest{ReceiverID: "bob", Content: domain.Content{Text: strings.Repeat("x", domain.MaxTextLength+1)}})
	assert.ErrorIs(t, err, domain.ErrMessageTooLong)

	require.NoError(t, e.users.BlockUser(ctx, "bob", "alice"))
	_, err = e.messages.SendDirectMessage(ctx, "alice", domain.SendMessageRequest{ReceiverID: "bob", Content: text})
	assert.ErrorIs(t, err, domain.ErrBlocked)
	_, err = e.messages.SendDirectMessage(ctx, "bob", domain.SendMessageRequest{ReceiverID: "alice", Content: text})
	assert.ErrorIs(t, err, domain.ErrBlocked)

	off := false
	_, err = e.users.UpdatePrivacy(ctx, "carol", domain.PrivacySettings{AllowMessaging: &off})
	require.NoError(t, err)
	_, err = e.messages.SendDirectMessage(ctx, "alice", domain.SendMessageRequest{ReceiverID: "carol", Content: text})
	assert.ErrorIs(t, err, domain.ErrMessagingDisabled)

	msgs, err := e.messages.GetConversation(ctx, "alice", "bob", domain.Page{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRateLimitedSend(t *testing.T) {
	e := newTestEnv(t, denyAll{}, "alice", "bob")
	alice := e.connect(t, "alice")

	e.send(alice, domain.EventSendMessage, map[string]string{"receiverId": "bob", "text": "hi"})

	out := drain(alice)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ErrCodeRateLimited, errorCode(t, out[0]))
}

func TestGroupMessageFanOut(t *testing.T) {
	e := newTestEnv(t, nil, "a", "b", "c", "d")
	ctx := context.Background()
	g, err := e.groups.CreateGroup(ctx, "a", membership.CreateGroupRequest{Name: "team", Members: []string{"a", "b", "c", "d"}})
	require.NoError(t, err)

	a := e.connect(t, "a")
	b := e.connect(t, "b")
	c := e.connect(t, "c")

	e.send(a, domain.EventSendGroupMessage, map[string]string{"groupId": g.ID, "text": "standup"})

	ack := drain(a)
	require.Equal(t, []string{domain.EventGroupMessageSent}, types(ack))
	var sent domain.GroupMessageSent
	require.NoError(t, json.Unmarshal(ack[0].Data, &sent))
	assert.Equal(t, 2, sent.Recipients)
	assert.Equal(t, []string{domain.EventNewGroupMessage}, types(drain(b)))
	assert.Equal(t, []string{domain.EventNewGroupMessage}, types(drain(c)))

	// c disconnects; d, who was never online, acknowledges over a new connection.
	e.hub.Unregister(c.ID)
	d := e.connect(t, "d")
	e.send(d, domain.EventGroupMessageDelivered, map[string]string{"messageId": sent.Message.ID, "userId": "d"})

	assert.Equal(t, []string{domain.EventGroupMessageStatusUpdate}, types(drain(a)))
	assert.Equal(t, []string{domain.EventGroupMessageStatusUpdate}, types(drain(b)))
	assert.Empty(t, drain(c))
	assert.Empty(t, drain(d))

	// Acknowledging on behalf of someone else is refused.
	e.send(d, domain.EventGroupMessageRead, map[string]string{"messageId": sent.Message.ID, "userId": "b"})
	out := drain(d)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ErrCodeForbidden, errorCode(t, out[0]))
}

func TestGroupSendBlockedByMember(t *testing.T) {
	e := newTestEnv(t, nil, "a", "b", "c")
	ctx := context.Background()
	g, err := e.groups.CreateGroup(ctx, "a", membership.CreateGroupRequest{Name: "team", Members: []string{"a", "b", "c"}})
	require.NoError(t, err)
	b := e.connect(t, "b")

	require.NoError(t, e.users.BlockUser(ctx, "c", "a"))
	_, err = e.messages.SendGroupMessage(ctx, "a", domain.SendGroupMessageRequest{GroupID: g.ID, Content: domain.Content{Text: "hi"}})
	assert.ErrorIs(t, err, domain.ErrBlocked)
	assert.Empty(t, drain(b))

	_, err = e.messages.SendGroupMessage(ctx, "outsider", domain.SendGroupMessageRequest{GroupID: g.ID, Content: domain.Content{Text: "hi"}})
	assert.ErrorIs(t, err, domain.ErrNotGroupMember)
}

func TestAddMemberNotifiesEveryMember(t *testing.T) {
	e := newTestEnv(t, nil, "a", "b", "c")
	ctx := context.Background()
	g, err := e.groups.CreateGroup(ctx, "a", membership.CreateGroupRequest{Name: "team", Members: []string{"a", "b"}})
	require.NoError(t, err)
	a := e.connect(t, "a")
	c := e.connect(t, "c")

	_, err = e.groups.AddMember(ctx, g.ID, "a", "c")
	require.NoError(t, err)

	for _, cl := range []*hub.Client{a, c} {
		out := drain(cl)
		require.Equal(t, []string{domain.EventNewGroupMember}, types(out))
		var p domain.NewGroupMember
		require.NoError(t, json.Unmarshal(out[0].Data, &p))
		assert.Equal(t, domain.NewGroupMember{GroupID: g.ID, Member: "c", AddedBy: "a"}, p)
	}
}

func TestTypingRelay(t *testing.T) {
	e := newTestEnv(t, nil, "alice", "bob")
	alice := e.connect(t, "alice")
	bob := e.connect(t, "bob")

	e.send(alice, domain.EventTypingStart, map[string]string{"senderId": "alice", "receiverId": "bob"})
	e.send(alice, domain.EventTypingStop, map[string]string{"receiverId": "bob"})
	assert.Equal(t, []string{domain.EventUserTyping, domain.EventUserStoppedTyping}, types(drain(bob)))

	e.send(alice, domain.EventTypingStart, map[string]string{"senderId": "bob", "receiverId": "alice"})
	out := drain(alice)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ErrCodeForbidden, errorCode(t, out[0]))
}

func TestInvalidAndUnknownEvents(t *testing.T) {
	e := newTestEnv(t, nil, "alice")
	alice := e.connect(t, "alice")

	e.chat.HandleEvent(context.Background(), alice, []byte("not json"))
	e.send(alice, "dance", nil)
	e.send(alice, domain.EventMessageRead, "missing")
	e.send(alice, domain.EventPing, nil)

	out := drain(alice)
	require.Len(t, out, 4)
	assert.Equal(t, domain.ErrCodeBadRequest, errorCode(t, out[0]))
	assert.Equal(t, domain.ErrCodeBadRequest, errorCode(t, out[1]))
	assert.Equal(t, domain.ErrCodeNotFound, errorCode(t, out[2]))
	assert.Equal(t, domain.EventPong, out[3].Type)
}

func TestBlockAndUnblock(t *testing.T) {
	e := newTestEnv(t, nil, "alice", "bob")
	ctx := context.Background()

	assert.ErrorIs(t, e.users.BlockUser(ctx, "alice", "alice"), domain.ErrSelfBlock)
	assert.ErrorIs(t, e.users.BlockUser(ctx, "alice", "ghost"), domain.ErrUserNotFound)

	require.NoError(t, e.users.BlockUser(ctx, "alice", "bob"))
	assert.ErrorIs(t, e.users.BlockUser(ctx, "alice", "bob"), domain.ErrAlreadyBlocked)

	blocked, err := e.users.IsBlocked(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, blocked)

	list, err := e.users.ListBlocked(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].ID)

	require.NoError(t, e.users.UnblockUser(ctx, "alice", "bob"))
	require.NoError(t, e.users.UnblockUser(ctx, "alice", "bob"))

	blocked, err = e.users.IsBlocked(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestHistoryAndSearch(t *testing.T) {
	e := newTestEnv(t, nil, "a", "b", "c")
	ctx := context.Background()

	for _, text := range []string{"Lunch today?", "sure", "LUNCH at noon"} {
		_, err := e.messages.SendDirectMessage(ctx, "a", domain.SendMessageRequest{ReceiverID: "b", Content: domain.Content{Text: text}})
		require.NoError(t, err)
	}

	msgs, err := e.messages.GetConversation(ctx, "b", "a", domain.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "LUNCH at noon", msgs[0].Text)

	found, err := e.messages.SearchConversation(ctx, "a", "b", "lunch", domain.Page{})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	_, err = e.messages.SearchConversation(ctx, "a", "b", "  ", domain.Page{})
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
	_, err = e.messages.SearchConversation(ctx, "a", "b", strings.Repeat("q", domain.MaxQueryLength+1), domain.Page{})
	assert.ErrorIs(t, err, domain.ErrQueryTooLong)

	g, err := e.groups.CreateGroup(ctx, "a", membership.CreateGroupRequest{Name: "team", Members: []string{"a", "b"}})
	require.NoError(t, err)
	_, err = e.messages.SendGroupMessage(ctx, "b", domain.SendGroupMessageRequest{GroupID: g.ID, Content: domain.Content{Text: "retro at 3"}})
	require.NoError(t, err)

	gm, err := e.messages.GetGroupMessages(ctx, g.ID, "a", domain.Page{})
	require.NoError(t, err)
	assert.Len(t, gm, 1)

	_, err = e.messages.GetGroupMessages(ctx, g.ID, "c", domain.Page{})
	assert.ErrorIs(t, err, domain.ErrNotGroupMember)

	gm, err = e.messages.SearchGroupMessages(ctx, g.ID, "b", "RETRO", domain.Page{})
	require.NoError(t, err)
	assert.Len(t, gm, 1)
}

func TestLeaveGroupTransfersAdmin(t *testing.T) {
	e := newTestEnv(t, nil, "a", "b")
	ctx := context.Background()
	g, err := e.groups.CreateGroup(ctx, "a", membership.CreateGroupRequest{Name: "team", Members: []string{"a", "b"}})
	require.NoError(t, err)

	res, err := e.groups.LeaveGroup(ctx, g.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, "b", res.NewAdmin)
	assert.Equal(t, "b", res.Group.Admin)

	res, err = e.groups.LeaveGroup(ctx, g.ID, "b")
	require.NoError(t, err)
	assert.True(t, res.Deleted)

	groups, err := e.groups.ListUserGroups(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, groups)
}
