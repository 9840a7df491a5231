// Package lifecycle advances messages through sent, delivered and read and
// notifies the interested live connections of each applied transition.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/events"
	"github.com/weiawesome/wes-io-chat/internal/keylock"
	"github.com/weiawesome/wes-io-chat/internal/metrics"
	"github.com/weiawesome/wes-io-chat/internal/repository"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Policy decides when a group message's aggregate status is promoted.
type Policy string

const (
	// PolicyAny promotes on the first member acknowledgement.
	PolicyAny Policy = "any"
	// PolicyAll promotes once every member other than the sender acknowledged.
	PolicyAll Policy = "all"
)

// ParsePolicy maps a config value to a Policy. Empty means PolicyAny.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyAny:
		return PolicyAny, nil
	case PolicyAll:
		return PolicyAll, nil
	default:
		return "", fmt.Errorf("unknown group status policy %q", s)
	}
}

// Store is the persistence the tracker reads and writes.
type Store interface {
	FindMessage(ctx context.Context, id string) (*domain.Message, error)
	AdvanceMessageStatus(ctx context.Context, id string, status domain.MessageStatus, at time.Time) (bool, error)
	FindGroupMessage(ctx context.Context, id string) (*domain.GroupMessage, error)
	AppendReceipt(ctx context.Context, messageID, userID string, kind domain.MessageStatus, at time.Time, threshold int) (repository.ReceiptResult, error)
}

// MemberResolver returns a group's current members.
type MemberResolver interface {
	ResolveMembers(ctx context.Context, groupID string) ([]string, error)
}

// Emitter delivers outbound events to live connections.
type Emitter interface {
	EmitToUser(userID, event string, payload interface{}) bool
	EmitToUsers(userIDs []string, event string, payload interface{}, exclude string) int
}

type Tracker struct {
	store   Store
	members MemberResolver
	emitter Emitter
	events  *events.Publisher
	policy  Policy
	locks   *keylock.Locker
	now     func() time.Time
}

func NewTracker(store Store, members MemberResolver, emitter Emitter, pub *events.Publisher, policy Policy) *Tracker {
	if policy == "" {
		policy = PolicyAny
	}
	return &Tracker{
		store:   store,
		members: members,
		emitter: emitter,
		events:  pub,
		policy:  policy,
		locks:   keylock.New(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// MarkDelivered acknowledges delivery of a direct message on behalf of its
// receiver. It reports whether the status changed; a message already
// delivered or read is left alone and nobody is notified.
func (t *Tracker) MarkDelivered(ctx context.Context, messageID, ackerID string) (bool, error) {
	return t.advance(ctx, messageID, ackerID, domain.StatusDelivered)
}

// MarkRead acknowledges a direct message as read on behalf of its receiver.
func (t *Tracker) MarkRead(ctx context.Context, messageID, ackerID string) (bool, error) {
	return t.advance(ctx, messageID, ackerID, domain.StatusRead)
}

func (t *Tracker) advance(ctx context.Context, messageID, ackerID string, status domain.MessageStatus) (bool, error) {
	if messageID == "" {
		return false, domain.ErrInvalidPayload
	}

	// Held across the write and the notification so the sender observes
	// transitions of one message in the order they were applied.
	unlock := t.locks.Lock(messageID)
	defer unlock()

	msg, err := t.store.FindMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	if msg.ReceiverID != ackerID {
		return false, domain.ErrNotRecipient
	}
	if !msg.Status.Advances(status) {
		return false, nil
	}

	at := t.now()
	changed, err := t.store.AdvanceMessageStatus(ctx, messageID, status, at)
	if err != nil {
		return false, fmt.Errorf("advance message %s to %s: %w", messageID, status, err)
	}
	if !changed {
		return false, nil
	}

	metrics.StatusTransitions.WithLabelValues("direct", string(status)).Inc()

	upd := domain.MessageStatusUpdate{MessageID: messageID, Status: status, Timestamp: at}
	delivered := t.emitter.EmitToUser(msg.SenderID, domain.EventMessageStatusUpdate, upd)
	t.events.MessageStatus(ctx, msg.SenderID, upd)

	l := log.Ctx(ctx)
	l.Debug().
		Str(log.FieldMessageID, messageID).
		Str("status", string(status)).
		Bool("sender_online", delivered).
		Msg("message status advanced")
	return true, nil
}

// MarkDeliveredForMember records userID's delivery receipt on a group message.
func (t *Tracker) MarkDeliveredForMember(ctx context.Context, messageID, userID string) (bool, error) {
	return t.receipt(ctx, messageID, userID, domain.StatusDelivered)
}

// MarkReadForMember records userID's read receipt on a group message.
func (t *Tracker) MarkReadForMember(ctx context.Context, messageID, userID string) (bool, error) {
	return t.receipt(ctx, messageID, userID, domain.StatusRead)
}

func (t *Tracker) receipt(ctx context.Context, messageID, userID string, kind domain.MessageStatus) (bool, error) {
	if messageID == "" || userID == "" {
		return false, domain.ErrInvalidPayload
	}

	unlock := t.locks.Lock(messageID)
	defer unlock()

	msg, err := t.store.FindGroupMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	if msg.SenderID == userID {
		return false, domain.ErrNotRecipient
	}

	members, err := t.members.ResolveMembers(ctx, msg.GroupID)
	if err != nil {
		return false, err
	}
	if !contains(members, userID) {
		return false, domain.ErrNotGroupMember
	}

	res, err := t.store.AppendReceipt(ctx, messageID, userID, kind, t.now(), t.threshold(members, msg.SenderID))
	if err != nil {
		return false, fmt.Errorf("append %s receipt to %s: %w", kind, messageID, err)
	}
	if !res.Appended {
		return false, nil
	}
	if res.Promoted {
		metrics.StatusTransitions.WithLabelValues("group", string(res.Status)).Inc()
	}

	// Members learn what userID acknowledged; the aggregate stays on the message.
	upd := domain.GroupMessageStatusUpdate{MessageID: messageID, Status: kind, UserID: userID}
	n := t.emitter.EmitToUsers(members, domain.EventGroupMessageStatusUpdate, upd, userID)
	t.events.GroupMessageStatus(ctx, msg.GroupID, upd)

	l := log.Ctx(ctx)
	l.Debug().
		Str(log.FieldMessageID, messageID).
		Str(log.FieldGroupID, msg.GroupID).
		Str("kind", string(kind)).
		Str("status", string(res.Status)).
		Bool("promoted", res.Promoted).
		Int("notified", n).
		Msg("group receipt recorded")
	return true, nil
}

func (t *Tracker) threshold(members []string, senderID string) int {
	if t.policy != PolicyAll {
		return 1
	}
	n := 0
	for _, m := range members {
		if m != senderID {
			n++
		}
	}
	if n < 1 {
		return 1
	}
	return n
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
