package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/database"
)

// EnsureUser creates the user on first sight with messaging and online
// status enabled, and refreshes the display names on later calls.
func (r *GormStore) EnsureUser(ctx context.Context, id, username, fullName string) (*domain.User, error) {
	var model domain.UserModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", id).First(&model).Error
		if isNotFound(err) {
			model = domain.UserModel{
				ID:               id,
				Username:         username,
				FullName:         fullName,
				BlockedUsers:     database.StringArray{},
				AllowMessaging:   true,
				ShowOnlineStatus: true,
			}
			return tx.Create(&model).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if username != "" && username != model.Username {
			updates["username"] = username
			model.Username = username
		}
		if fullName != "" && fullName != model.FullName {
			updates["full_name"] = fullName
			model.FullName = fullName
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&domain.UserModel{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	return model.ToDomain(), nil
}

func (r *GormStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var model domain.UserModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if isNotFound(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// GetUsers returns the users that exist among ids, in no particular order.
func (r *GormStore) GetUsers(ctx context.Context, ids []string) ([]*domain.User, error) {
	if len(ids) == 0 {
		return []*domain.User{}, nil
	}
	var models []domain.UserModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	users := make([]*domain.User, len(models))
	for i := range models {
		users[i] = models[i].ToDomain()
	}
	return users, nil
}

// ListUsers returns a page of users ordered by username, skipping excludeID.
func (r *GormStore) ListUsers(ctx context.Context, excludeID string, page domain.Page) ([]*domain.User, error) {
	page = page.Normalize()
	var models []domain.UserModel
	err := r.db.WithContext(ctx).
		Where("id <> ?", excludeID).
		Order("username ASC").Order("id ASC").
		Limit(page.Limit).Offset(page.Skip).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	users := make([]*domain.User, len(models))
	for i := range models {
		users[i] = models[i].ToDomain()
	}
	return users, nil
}

// lockUser reads the user row FOR UPDATE. Block list edits rewrite the whole
// array and must not interleave.
func lockUser(tx *gorm.DB, userID string) (*domain.UserModel, error) {
	var model domain.UserModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).First(&model).Error
	if isNotFound(err) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func (r *GormStore) AddBlocked(ctx context.Context, userID, targetID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if model.BlockedUsers.Contains(targetID) {
			return domain.ErrAlreadyBlocked
		}
		blocked := append(model.BlockedUsers.Unique(), targetID)
		return tx.Model(&domain.UserModel{}).Where("id = ?", userID).Update("blocked_users", blocked).Error
	})
}

func (r *GormStore) RemoveBlocked(ctx context.Context, userID, targetID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if !model.BlockedUsers.Contains(targetID) {
			return domain.ErrNotBlocked
		}
		return tx.Model(&domain.UserModel{}).Where("id = ?", userID).Update("blocked_users", model.BlockedUsers.Without(targetID)).Error
	})
}

func (r *GormStore) UpdatePrivacy(ctx context.Context, userID string, settings domain.PrivacySettings) (*domain.User, error) {
	var model domain.UserModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{}
		if settings.AllowMessaging != nil {
			updates["allow_messaging"] = *settings.AllowMessaging
		}
		if settings.ShowOnlineStatus != nil {
			updates["show_online_status"] = *settings.ShowOnlineStatus
		}
		if len(updates) > 0 {
			res := tx.Model(&domain.UserModel{}).Where("id = ?", userID).Updates(updates)
			if res.Error != nil {
				return res.Error
			}
		}
		if err := tx.Where("id = ?", userID).First(&model).Error; err != nil {
			if isNotFound(err) {
				return domain.ErrUserNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}
