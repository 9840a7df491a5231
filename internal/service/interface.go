package service

import (
	"context"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/membership"
)

// ChatService handles the lifetime of a websocket connection and the
// events it sends.
type ChatService interface {
	HandleConnect(ctx context.Context, c *hub.Client)
	HandleEvent(ctx context.Context, c *hub.Client, raw []byte)
	HandleDisconnect(ctx context.Context, c *hub.Client)
}

type MessageService interface {
	SendDirectMessage(ctx context.Context, senderID string, req domain.SendMessageRequest) (*domain.MessageSent, error)
	SendGroupMessage(ctx context.Context, senderID string, req domain.SendGroupMessageRequest) (*domain.GroupMessageSent, error)
	GetConversation(ctx context.Context, userID, otherID string, page domain.Page) ([]*domain.Message, error)
	SearchConversation(ctx context.Context, userID, otherID, query string, page domain.Page) ([]*domain.Message, error)
	GetGroupMessages(ctx context.Context, groupID, userID string, page domain.Page) ([]*domain.GroupMessage, error)
	SearchGroupMessages(ctx context.Context, groupID, userID, query string, page domain.Page) ([]*domain.GroupMessage, error)
}

type GroupService interface {
	CreateGroup(ctx context.Context, adminID string, req membership.CreateGroupRequest) (*domain.Group, error)
	ListUserGroups(ctx context.Context, userID string) ([]*domain.Group, error)
	AddMember(ctx context.Context, groupID, actorID, userID string) (*domain.Group, error)
	RemoveMember(ctx context.Context, groupID, actorID, userID string) (*domain.Group, error)
	LeaveGroup(ctx context.Context, groupID, userID string) (*membership.LeaveResult, error)
}

type UserService interface {
	EnsureUser(ctx context.Context, id, username, fullName string) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListUsers(ctx context.Context, userID string, page domain.Page) ([]*domain.User, error)
	BlockUser(ctx context.Context, userID, targetID string) error
	UnblockUser(ctx context.Context, userID, targetID string) error
	ListBlocked(ctx context.Context, userID string) ([]*domain.User, error)
	IsBlocked(ctx context.Context, userID, targetID string) (bool, error)
	UpdatePrivacy(ctx context.Context, userID string, settings domain.PrivacySettings) (*domain.User, error)
}

// Limiter admits or rejects an action for a key.
type Limiter interface {
	Allow(key string) bool
}

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }
