package service

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-io-chat/internal/audit"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/repository"
)

type userService struct {
	store repository.UserRepository
}

func NewUserService(store repository.UserRepository) UserService {
	return &userService{store: store}
}

// EnsureUser creates the chat-side record for a verified identity on first
// sight and refreshes its names afterwards.
func (s *userService) EnsureUser(ctx context.Context, id, username, fullName string) (*domain.User, error) {
	if id == "" {
		return nil, domain.ErrInvalidPayload
	}
	return s.store.EnsureUser(ctx, id, username, fullName)
}

func (s *userService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.store.GetUser(ctx, id)
}

// ListUsers returns everyone except userID, for the conversation sidebar.
func (s *userService) ListUsers(ctx context.Context, userID string, page domain.Page) ([]*domain.User, error) {
	return s.store.ListUsers(ctx, userID, page)
}

func (s *userService) BlockUser(ctx context.Context, userID, targetID string) error {
	if targetID == "" {
		return domain.ErrInvalidPayload
	}
	if userID == targetID {
		return domain.ErrSelfBlock
	}
	if _, err := s.store.GetUser(ctx, targetID); err != nil {
		return err
	}
	if err := s.store.AddBlocked(ctx, userID, targetID); err != nil {
		return err
	}
	audit.Log(ctx, audit.ActionBlock, userID, targetID, "user blocked")
	return nil
}

// UnblockUser succeeds whether or not targetID was blocked.
func (s *userService) UnblockUser(ctx context.Context, userID, targetID string) error {
	if targetID == "" {
		return domain.ErrInvalidPayload
	}
	err := s.store.RemoveBlocked(ctx, userID, targetID)
	if errors.Is(err, domain.ErrNotBlocked) {
		return nil
	}
	if err != nil {
		return err
	}
	audit.Log(ctx, audit.ActionUnblock, userID, targetID, "user unblocked")
	return nil
}

func (s *userService) ListBlocked(ctx context.Context, userID string) ([]*domain.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(u.BlockedUsers) == 0 {
		return []*domain.User{}, nil
	}
	return s.store.GetUsers(ctx, u.BlockedUsers)
}

// IsBlocked reports whether userID blocked targetID.
func (s *userService) IsBlocked(ctx context.Context, userID, targetID string) (bool, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.HasBlocked(targetID), nil
}

func (s *userService) UpdatePrivacy(ctx context.Context, userID string, settings domain.PrivacySettings) (*domain.User, error) {
	u, err := s.store.UpdatePrivacy(ctx, userID, settings)
	if err != nil {
		return nil, err
	}
	audit.Log(ctx, audit.ActionPrivacy, userID, "", "privacy settings updated")
	return u, nil
}
