package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/weiawesome/wes-io-chat/internal/audit"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/membership"
	"github.com/weiawesome/wes-io-chat/internal/metrics"
	"github.com/weiawesome/wes-io-chat/internal/repository"
	"github.com/weiawesome/wes-io-chat/internal/router"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

type messageService struct {
	store   repository.Store
	members *membership.Authority
	router  *router.Router
	limiter Limiter
}

func NewMessageService(store repository.Store, members *membership.Authority, r *router.Router, limiter Limiter) MessageService {
	if limiter == nil {
		limiter = allowAll{}
	}
	return &messageService{
		store:   store,
		members: members,
		router:  r,
		limiter: limiter,
	}
}

func validateContent(c domain.Content) (domain.Content, error) {
	c = c.Normalize()
	if c.IsEmpty() {
		return c, domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(c.Text) > domain.MaxTextLength {
		return c, domain.ErrMessageTooLong
	}
	return c, nil
}

func validateQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", domain.ErrEmptyQuery
	}
	if utf8.RuneCountInString(q) > domain.MaxQueryLength {
		return "", domain.ErrQueryTooLong
	}
	return q, nil
}

func newMessageID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	return id.String(), nil
}

func (s *messageService) allow(senderID string) error {
	if !s.limiter.Allow(senderID) {
		metrics.RateLimited.Inc()
		return domain.ErrRateLimited
	}
	return nil
}

// SendDirectMessage stores a message and pushes it to the receiver if they
// are online. Nothing is stored when any check fails.
func (s *messageService) SendDirectMessage(ctx context.Context, senderID string, req domain.SendMessageRequest) (*domain.MessageSent, error) {
	if req.ReceiverID == "" {
		return nil, domain.ErrInvalidPayload
	}
	if req.ReceiverID == senderID {
		return nil, domain.ErrSelfMessage
	}
	content, err := validateContent(req.Content)
	if err != nil {
		return nil, err
	}
	if err := s.allow(senderID); err != nil {
		return nil, err
	}

	users, err := s.store.GetUsers(ctx, []string{senderID, req.ReceiverID})
	if err != nil {
		return nil, err
	}
	var sender, receiver *domain.User
	for _, u := range users {
		switch u.ID {
		case senderID:
			sender = u
		case req.ReceiverID:
			receiver = u
		}
	}
	if sender == nil || receiver == nil {
		return nil, domain.ErrUserNotFound
	}
	if sender.HasBlocked(receiver.ID) || receiver.HasBlocked(sender.ID) {
		return nil, domain.ErrBlocked
	}
	if !receiver.AllowMessaging {
		return nil, domain.ErrMessagingDisabled
	}

	id, err := newMessageID()
	if err != nil {
		return nil, err
	}
	msg := &domain.Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiver.ID,
		Text:       content.Text,
		Image:      content.Image,
		File:       content.File,
		Status:     domain.StatusSent,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	delivered := s.router.EmitToUser(receiver.ID, domain.EventNewMessage, msg)
	audit.Log(ctx, audit.ActionSendMessage, senderID, receiver.ID, "direct message sent")

	return &domain.MessageSent{Message: msg, Delivered: delivered}, nil
}

// SendGroupMessage stores a group message and fans it out to the online
// members other than the sender. A sender blocked by any member is
// rejected before anything is stored.
func (s *messageService) SendGroupMessage(ctx context.Context, senderID string, req domain.SendGroupMessageRequest) (*domain.GroupMessageSent, error) {
	if req.GroupID == "" {
		return nil, domain.ErrInvalidPayload
	}
	content, err := validateContent(req.Content)
	if err != nil {
		return nil, err
	}
	if err := s.allow(senderID); err != nil {
		return nil, err
	}

	g, err := s.members.RequireMember(ctx, req.GroupID, senderID)
	if err != nil {
		return nil, err
	}
	users, err := s.store.GetUsers(ctx, g.Members)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.ID != senderID && u.HasBlocked(senderID) {
			return nil, domain.ErrBlocked
		}
	}

	id, err := newMessageID()
	if err != nil {
		return nil, err
	}
	msg := &domain.GroupMessage{
		ID:          id,
		GroupID:     g.ID,
		SenderID:    senderID,
		Text:        content.Text,
		Image:       content.Image,
		File:        content.File,
		Status:      domain.StatusSent,
		DeliveredTo: []domain.Receipt{},
		ReadBy:      []domain.Receipt{},
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateGroupMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store group message: %w", err)
	}

	n, err := s.router.EmitToGroup(ctx, g.ID, domain.EventNewGroupMessage, msg, senderID)
	if err != nil {
		// The message is stored; members will see it in history.
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldGroupID, g.ID).Str(log.FieldMessageID, id).Msg("group fan-out failed")
	}
	audit.Log(ctx, audit.ActionSendGroupMessage, senderID, g.ID, "group message sent")

	return &domain.GroupMessageSent{Message: msg, Recipients: n}, nil
}

// GetConversation returns a newest-first page of messages between two users.
func (s *messageService) GetConversation(ctx context.Context, userID, otherID string, page domain.Page) ([]*domain.Message, error) {
	if otherID == "" {
		return nil, domain.ErrInvalidPayload
	}
	return s.store.ListConversation(ctx, userID, otherID, page)
}

func (s *messageService) SearchConversation(ctx context.Context, userID, otherID, query string, page domain.Page) ([]*domain.Message, error) {
	if otherID == "" {
		return nil, domain.ErrInvalidPayload
	}
	q, err := validateQuery(query)
	if err != nil {
		return nil, err
	}
	return s.store.SearchConversation(ctx, userID, otherID, q, page)
}

// GetGroupMessages returns a newest-first page of a group's history. Only
// members may read it.
func (s *messageService) GetGroupMessages(ctx context.Context, groupID, userID string, page domain.Page) ([]*domain.GroupMessage, error) {
	if _, err := s.members.RequireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.store.ListGroupMessages(ctx, groupID, page)
}

func (s *messageService) SearchGroupMessages(ctx context.Context, groupID, userID, query string, page domain.Page) ([]*domain.GroupMessage, error) {
	q, err := validateQuery(query)
	if err != nil {
		return nil, err
	}
	if _, err := s.members.RequireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.store.SearchGroupMessages(ctx, groupID, q, page)
}
