package lifecycle

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
	"github.com/weiawesome/wes-io-chat/internal/events"
	"github.com/weiawesome/wes-io-chat/internal/repository"
	"github.com/weiawesome/wes-io-chat/pkg/database"
)

type emitted struct {
	to      string
	event   string
	payload interface{}
}

// recorder stands in for the router. Every user in online is connected.
type recorder struct {
	mu     sync.Mutex
	online map[string]bool
	sent   []emitted
}

func newRecorder(online ...string) *recorder {
	r := &recorder{online: map[string]bool{}}
	for _, u := range online {
		r.online[u] = true
	}
	return r
}

func (r *recorder) EmitToUser(userID, event string, payload interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online[userID] {
		return false
	}
	r.sent = append(r.sent, emitted{userID, event, payload})
	return true
}

func (r *recorder) EmitToUsers(userIDs []string, event string, payload interface{}, exclude string) int {
	n := 0
	for _, id := range userIDs {
		if id != exclude && r.EmitToUser(id, event, payload) {
			n++
		}
	}
	return n
}

func (r *recorder) events() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.sent...)
}

func (r *recorder) recipients() []string {
	var out []string
	for _, e := range r.events() {
		out = append(out, e.to)
	}
	return out
}

type staticMembers map[string][]string

func (s staticMembers) ResolveMembers(_ context.Context, groupID string) ([]string, error) {
	m, ok := s[groupID]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	return m, nil
}

func newTestStore(t *testing.T) *repository.GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     fmt.Sprintf("file:lifecycle_%s?mode=memory&cache=shared", name),
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
	return repository.NewGormStore(db)
}

func seedDirect(t *testing.T, s *repository.GormStore, id, from, to string) {
	t.Helper()
	require.NoError(t, s.CreateMessage(context.Background(), &domain.Message{
		ID: id, SenderID: from, ReceiverID: to, Text: "hi",
		Status: domain.StatusSent, CreatedAt: time.Now().UTC(),
	}))
}

func seedGroup(t *testing.T, s *repository.GormStore, id, groupID, from string) {
	t.Helper()
	require.NoError(t, s.CreateGroupMessage(context.Background(), &domain.GroupMessage{
		ID: id, GroupID: groupID, SenderID: from, Text: "hi",
		Status: domain.StatusSent, CreatedAt: time.Now().UTC(),
	}))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAny, p)

	p, err = ParsePolicy(" ALL ")
	require.NoError(t, err)
	assert.Equal(t, PolicyAll, p)

	_, err = ParsePolicy("most")
	assert.Error(t, err)
}

func TestMarkDeliveredNotifiesSender(t *testing.T) {
	s := newTestStore(t)
	rec := newRecorder("alice", "bob")
	tr := NewTracker(s, staticMembers{}, rec, events.NewPublisher(nil), PolicyAny)
	ctx := context.Background()
	seedDirect(t, s, "m1", "alice", "bob")

	changed, err := tr.MarkDelivered(ctx, "m1", "bob")
	require.NoError(t, err)
	assert.True(t, changed)

	sent := rec.events()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice", sent[0].to)
	assert.Equal(t, domain.EventMessageStatusUpdate, sent[0].event)
	upd := sent[0].payload.(domain.MessageStatusUpdate)
	assert.Equal(t, "m1", upd.MessageID)
	assert.Equal(t, domain.StatusDelivered, upd.Status)
	assert.False(t, upd.Timestamp.IsZero())

	msg, err := s.FindMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, msg.Status)
	assert.NotNil(t, msg.DeliveredAt)
}

func TestStatusNeverRegresses(t *testing.T) {
	s := newTestStore(t)
	rec := newRecorder("alice")
	tr := NewTracker(s, staticMembers{}, rec, events.NewPublisher(nil), PolicyAny)
	ctx := context.Background()
	seedDirect(t, s, "m1", "alice", "bob")

	changed, err := tr.MarkRead(ctx, "m1", "bob")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = tr.MarkDelivered(ctx, "m1", "bob")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = tr.MarkRead(ctx, "m1", "bob")
	require.NoError(t, err)
	assert.False(t, changed)

	msg, err := s.FindMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, msg.Status)
	assert.NotNil(t, msg.DeliveredAt)
	assert.Len(t, rec.events(), 1)
}

func TestDirectAckRejections(t *testing.T) {
	s := newTestStore(t)
	rec := newRecorder("alice", "bob")
	tr := NewTracker(s, staticMembers{}, rec, events.NewPublisher(nil), PolicyAny)
	ctx := context.Background()
	seedDirect(t, s, "m1", "alice", "bob")

	_, err := tr.MarkDelivered(ctx, "missing", "bob")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	_, err = tr.MarkRead(ctx, "m1", "alice")
	assert.ErrorIs(t, err, domain.ErrNotRecipient)

	_, err = tr.MarkRead(ctx, "", "bob")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	assert.Empty(t, rec.events())
	msg, err := s.FindMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, msg.Status)
}

func TestOfflineSenderIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	rec := newRecorder()
	tr := NewTracker(s, staticMembers{}, rec, events.NewPublisher(nil), PolicyAny)
	seedDirect(t, s, "m1", "alice", "bob")

	changed, err := tr.MarkDelivered(context.Background(), "m1", "bob")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, rec.events())
}

func TestGroupReceiptNotifiesOtherMembers(t *testing.T) {
	s := newTestStore(t)
	rec := newRecorder("a", "b", "c")
	members := staticMembers{"g1": {"a", "b", "c"}}
	tr := NewTracker(s, members, rec, events.NewPublisher(nil), PolicyAny)
	ctx := context.Background()
	seedGroup(t, s, "gm1", "g1", "a")

	changed, err := tr.MarkDeliveredForMember(ctx, "gm1", "c")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.ElementsMatch(t, []string{"a", "b"}, rec.recipients())

	upd := rec.events()[0].payload.(domain.GroupMessageStatusUpdate)
	assert.Equal(t, domain.StatusDelivered, upd.Status)
	assert.Equal(t, "c", upd.UserID)

	// Repeated acknowledgements neither duplicate the receipt nor notify.
	changed, err = tr.MarkDeliveredForMember(ctx, "gm1", "c")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, rec.events(), 2)

	msg, err := s.FindGroupMessage(ctx, "gm1")
	require.NoError(t, err)
	assert.Len(t, msg.DeliveredTo, 1)
	assert.Equal(t, domain.StatusDelivered, msg.Status)
}

func TestGroupReceiptFromDisconnectedMember(t *testing.T) {
	s := newTestStore(t)
	rec := newRecorder("a", "b")
	tr := NewTracker(s, staticMembers{"g1": {"a", "b", "c"}}, rec, events.NewPublisher(nil), PolicyAny)
	seedGroup(t, s, "gm1", "g1", "a")

	changed, err := tr.MarkDeliveredForMember(context.Background(), "gm1", "c")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.ElementsMatch(t, []string{"a", "b"}, rec.recipients())
}

func TestGroupReceiptRejections(t *testing.T) {
	s := newTestStore(t)
	rec := newRecorder("a", "b", "x")
	tr := NewTracker(s, staticMembers{"g1": {"a", "b"}}, rec, events.NewPublisher(nil), PolicyAny)
	ctx := context.Background()
	seedGroup(t, s, "gm1", "g1", "a")

	_, err := tr.MarkReadForMember(ctx, "gm1", "a")
	assert.ErrorIs(t, err, domain.ErrNotRecipient)

	_, err = tr.MarkReadForMember(ctx, "gm1", "x")
	assert.ErrorIs(t, err, domain.ErrNotGroupMember)

	_, err = tr.MarkReadForMember(ctx, "missing", "b")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	assert.Empty(t, rec.events())
}

func TestAllPolicyWaitsForEveryMember(t *testing.T) {
	s := newTestStore(t)
	rec := newRecorder("a", "b", "c")
	tr := NewTracker(s, staticMembers{"g1": {"a", "b", "c"}}, rec, events.NewPublisher(nil), PolicyAll)
	ctx := context.Background()
	seedGroup(t, s, "gm1", "g1", "a")

	_, err := tr.MarkReadForMember(ctx, "gm1", "b")
	require.NoError(t, err)
	msg, err := s.FindGroupMessage(ctx, "gm1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, msg.Status)

	_, err = tr.MarkReadForMember(ctx, "gm1", "c")
	require.NoError(t, err)
	msg, err = s.FindGroupMessage(ctx, "gm1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, msg.Status)
	assert.Len(t, msg.ReadBy, 2)

	last := rec.events()[len(rec.events())-1].payload.(domain.GroupMessageStatusUpdate)
	assert.Equal(t, domain.StatusRead, last.Status)
}

func TestReceiptNotificationCarriesReceiptKind(t *testing.T) {
	ctx := context.Background()

	t.Run("delivered after another member read", func(t *testing.T) {
		s := newTestStore(t)
		rec := newRecorder("a", "b", "c")
		tr := NewTracker(s, staticMembers{"g1": {"a", "b", "c"}}, rec, events.NewPublisher(nil), PolicyAny)
		seedGroup(t, s, "gm1", "g1", "a")

		_, err := tr.MarkReadForMember(ctx, "gm1", "b")
		require.NoError(t, err)
		_, err = tr.MarkDeliveredForMember(ctx, "gm1", "c")
		require.NoError(t, err)

		last := rec.events()[len(rec.events())-1].payload.(domain.GroupMessageStatusUpdate)
		assert.Equal(t, "c", last.UserID)
		assert.Equal(t, domain.StatusDelivered, last.Status)

		msg, err := s.FindGroupMessage(ctx, "gm1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRead, msg.Status)
	})

	t.Run("read before aggregate promotes", func(t *testing.T) {
		s := newTestStore(t)
		rec := newRecorder("a", "b", "c")
		tr := NewTracker(s, staticMembers{"g1": {"a", "b", "c"}}, rec, events.NewPublisher(nil), PolicyAll)
		seedGroup(t, s, "gm1", "g1", "a")

		_, err := tr.MarkReadForMember(ctx, "gm1", "b")
		require.NoError(t, err)

		require.Len(t, rec.events(), 2)
		for _, e := range rec.events() {
			upd := e.payload.(domain.GroupMessageStatusUpdate)
			assert.Equal(t, domain.StatusRead, upd.Status)
			assert.Equal(t, "b", upd.UserID)
		}

		msg, err := s.FindGroupMessage(ctx, "gm1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSent, msg.Status)
	})
}

func TestConcurrentGroupReceipts(t *testing.T) {
	s := newTestStore(t)
	rec := newRecorder()
	members := []string{"sender"}
	for i := 0; i < 10; i++ {
		members = append(members, fmt.Sprintf("m%d", i))
	}
	tr := NewTracker(s, staticMembers{"g1": members}, rec, events.NewPublisher(nil), PolicyAny)
	ctx := context.Background()
	seedGroup(t, s, "gm1", "g1", "sender")

	var wg sync.WaitGroup
	for _, m := range members[1:] {
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(m string) {
				defer wg.Done()
				_, err := tr.MarkReadForMember(ctx, "gm1", m)
				assert.NoError(t, err)
			}(m)
		}
	}
	wg.Wait()

	msg, err := s.FindGroupMessage(ctx, "gm1")
	require.NoError(t, err)
	assert.Len(t, msg.ReadBy, 10)
	assert.Equal(t, domain.StatusRead, msg.Status)
}
