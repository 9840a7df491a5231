package repository

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/database"
)

func (r *GormStore) CreateGroup(ctx context.Context, g *domain.Group) error {
	model := domain.GroupToModel(g)
	if model.Version == 0 {
		model.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	g.CreatedAt, g.UpdatedAt, g.Version = model.CreatedAt, model.UpdatedAt, model.Version
	return nil
}

func (r *GormStore) FindGroup(ctx context.Context, id string) (*domain.Group, error) {
	var model domain.GroupModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if isNotFound(err) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// UpdateGroupMembers replaces the member set and admin if the group is still
// at version, and bumps the version. A group that moved on since it was read
// yields ErrGroupConflict.
func (r *GormStore) UpdateGroupMembers(ctx context.Context, id string, version int64, members []string, admin string) error {
	res := r.db.WithContext(ctx).
		Model(&domain.GroupModel{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"members": database.StringArray(members),
			"admin":   admin,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return staleOrMissing(r.db.WithContext(ctx), id)
	}
	return nil
}

// DeleteGroup removes the group together with its messages and receipts, if
// the group is still at version.
func (r *GormStore) DeleteGroup(ctx context.Context, id string, version int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND version = ?", id, version).Delete(&domain.GroupModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return staleOrMissing(tx, id)
		}
		msgIDs := tx.Model(&domain.GroupMessageModel{}).Select("id").Where("group_id = ?", id)
		if err := tx.Where("message_id IN (?)", msgIDs).Delete(&domain.ReceiptModel{}).Error; err != nil {
			return err
		}
		return tx.Where("group_id = ?", id).Delete(&domain.GroupMessageModel{}).Error
	})
}

func staleOrMissing(db *gorm.DB, id string) error {
	var n int64
	if err := db.Model(&domain.GroupModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrGroupNotFound
	}
	return domain.ErrGroupConflict
}

// ListUserGroups returns the groups userID belongs to, most recently
// updated first. Members are stored as a JSON array, so the query narrows
// by substring and the result is checked exactly.
func (r *GormStore) ListUserGroups(ctx context.Context, userID string) ([]*domain.Group, error) {
	needle, err := json.Marshal(userID)
	if err != nil {
		return nil, err
	}

	var models []domain.GroupModel
	err = r.db.WithContext(ctx).
		Where("members LIKE ? ESCAPE '!'", "%"+likeEscaper.Replace(string(needle))+"%").
		Order("updated_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	groups := make([]*domain.Group, 0, len(models))
	for i := range models {
		g := models[i].ToDomain()
		if g.IsMember(userID) {
			groups = append(groups, g)
		}
	}
	return groups, nil
}
