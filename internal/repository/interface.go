package repository

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// UserRepository persists the chat-side user records.
type UserRepository interface {
	EnsureUser(ctx context.Context, id, username, fullName string) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUsers(ctx context.Context, ids []string) ([]*domain.User, error)
	ListUsers(ctx context.Context, excludeID string, page domain.Page) ([]*domain.User, error)
	AddBlocked(ctx context.Context, userID, targetID string) error
	RemoveBlocked(ctx context.Context, userID, targetID string) error
	UpdatePrivacy(ctx context.Context, userID string, settings domain.PrivacySettings) (*domain.User, error)
}

// MessageRepository persists direct messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *domain.Message) error
	FindMessage(ctx context.Context, id string) (*domain.Message, error)
	// AdvanceMessageStatus moves the message to status only if it is
	// currently lower, and reports whether a row changed.
	AdvanceMessageStatus(ctx context.Context, id string, status domain.MessageStatus, at time.Time) (bool, error)
	ListConversation(ctx context.Context, userA, userB string, page domain.Page) ([]*domain.Message, error)
	SearchConversation(ctx context.Context, userA, userB, query string, page domain.Page) ([]*domain.Message, error)
}

// GroupRepository persists groups and their membership.
type GroupRepository interface {
	CreateGroup(ctx context.Context, g *domain.Group) error
	FindGroup(ctx context.Context, id string) (*domain.Group, error)
	// UpdateGroupMembers and DeleteGroup apply only while the stored version
	// equals version, and return ErrGroupConflict otherwise.
	UpdateGroupMembers(ctx context.Context, id string, version int64, members []string, admin string) error
	DeleteGroup(ctx context.Context, id string, version int64) error
	ListUserGroups(ctx context.Context, userID string) ([]*domain.Group, error)
}

// ReceiptResult describes the outcome of appending a group receipt.
type ReceiptResult struct {
	// Appended is false when the member had already acknowledged.
	Appended bool
	// Promoted is true when the aggregate status moved forward.
	Promoted bool
	// Status is the aggregate status after the call.
	Status domain.MessageStatus
}

// GroupMessageRepository persists group messages and their receipts.
type GroupMessageRepository interface {
	CreateGroupMessage(ctx context.Context, msg *domain.GroupMessage) error
	FindGroupMessage(ctx context.Context, id string) (*domain.GroupMessage, error)
	// AppendReceipt records userID's acknowledgement of kind at most once and,
	// in the same transaction, promotes the aggregate status to kind once at
	// least threshold members acknowledged it.
	AppendReceipt(ctx context.Context, messageID, userID string, kind domain.MessageStatus, at time.Time, threshold int) (ReceiptResult, error)
	ListGroupMessages(ctx context.Context, groupID string, page domain.Page) ([]*domain.GroupMessage, error)
	SearchGroupMessages(ctx context.Context, groupID, query string, page domain.Page) ([]*domain.GroupMessage, error)
}

// Store is the full persistence collaborator.
type Store interface {
	UserRepository
	MessageRepository
	GroupRepository
	GroupMessageRepository
}
