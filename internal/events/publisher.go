// Package events publishes status changes to the external event bus.
// Publishing is best-effort: failures are logged and never returned.
package events

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

const publishTimeout = 3 * time.Second

type MembershipChange struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
	Action  string `json:"action"` // created, added, removed, left, deleted
	ActorID string `json:"actorId"`
	Admin   string `json:"admin,omitempty"`
}

type PresenceChange struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type Publisher struct {
	pub pubsub.Publisher
}

func NewPublisher(pub pubsub.Publisher) *Publisher {
	if pub == nil {
		pub = pubsub.NoopPublisher{}
	}
	return &Publisher{pub: pub}
}

// MessageStatus publishes a direct message transition on the sender's channel.
func (p *Publisher) MessageStatus(ctx context.Context, senderID string, upd domain.MessageStatusUpdate) {
	p.publish(ctx, pubsub.UserStatusChannel(senderID), pubsub.EventMessageStatus, senderID, upd)
}

// GroupMessageStatus publishes a group receipt on the group's channel.
func (p *Publisher) GroupMessageStatus(ctx context.Context, groupID string, upd domain.GroupMessageStatusUpdate) {
	p.publish(ctx, pubsub.GroupStatusChannel(groupID), pubsub.EventGroupMessageStatus, groupID, upd)
}

func (p *Publisher) Membership(ctx context.Context, change MembershipChange) {
	p.publish(ctx, pubsub.GroupStatusChannel(change.GroupID), pubsub.EventMembership, change.GroupID, change)
}

func (p *Publisher) Presence(ctx context.Context, change PresenceChange) {
	p.publish(ctx, pubsub.UserStatusChannel(change.UserID), pubsub.EventPresence, change.UserID, change)
}

func (p *Publisher) Close() error {
	return p.pub.Close()
}

func (p *Publisher) publish(ctx context.Context, channel, eventType, subject string, payload interface{}) {
	l := log.Ctx(ctx)

	ev, err := pubsub.NewEvent(eventType, subject, payload)
	if err != nil {
		l.Error().Err(err).Str("channel", channel).Msg("failed to build status event")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.pub.Publish(ctx, channel, ev); err != nil {
		l.Warn().Err(err).Str("channel", channel).Str("event_type", eventType).Msg("failed to publish status event")
	}
}
