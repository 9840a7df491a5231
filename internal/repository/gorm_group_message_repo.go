package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

func (r *GormStore) CreateGroupMessage(ctx context.Context, msg *domain.GroupMessage) error {
	return r.db.WithContext(ctx).Create(domain.GroupMessageToModel(msg)).Error
}

func (r *GormStore) FindGroupMessage(ctx context.Context, id string) (*domain.GroupMessage, error) {
	var (
		model    domain.GroupMessageModel
		receipts []domain.ReceiptModel
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&model).Error; err != nil {
			if isNotFound(err) {
				return domain.ErrMessageNotFound
			}
			return err
		}
		return tx.Where("message_id = ?", id).Order("acked_at ASC").Find(&receipts).Error
	})
	if err != nil {
		return nil, err
	}
	return model.ToDomain(receipts), nil
}

// AppendReceipt inserts the receipt, counts receipts of the same kind and
// promotes the aggregate status in one transaction. The unique index on
// (message_id, user_id, kind) makes a repeated acknowledgement a no-op, and
// the status update only matches lower statuses, so the aggregate never
// regresses.
func (r *GormStore) AppendReceipt(ctx context.Context, messageID, userID string, kind domain.MessageStatus, at time.Time, threshold int) (ReceiptResult, error) {
	var result ReceiptResult
	if threshold < 1 {
		threshold = 1
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg domain.GroupMessageModel
		if err := tx.Where("id = ?", messageID).First(&msg).Error; err != nil {
			if isNotFound(err) {
				return domain.ErrMessageNotFound
			}
			return err
		}
		result.Status = domain.MessageStatus(msg.Status)

		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.ReceiptModel{
			MessageID: messageID,
			UserID:    userID,
			Kind:      string(kind),
			AckedAt:   at,
		})
		if ins.Error != nil {
			return ins.Error
		}
		result.Appended = ins.RowsAffected > 0
		if !result.Appended || !result.Status.Advances(kind) {
			return nil
		}

		var count int64
		if err := tx.Model(&domain.ReceiptModel{}).
			Where("message_id = ? AND kind = ?", messageID, string(kind)).
			Count(&count).Error; err != nil {
			return err
		}
		if count < int64(threshold) {
			return nil
		}

		upd := tx.Model(&domain.GroupMessageModel{}).
			Where("id = ? AND status IN ?", messageID, statusStrings(domain.StatusesBelow(kind))).
			Update("status", string(kind))
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected > 0 {
			result.Promoted = true
			result.Status = kind
		}
		return nil
	})
	if err != nil {
		return ReceiptResult{}, err
	}
	return result, nil
}

func (r *GormStore) ListGroupMessages(ctx context.Context, groupID string, page domain.Page) ([]*domain.GroupMessage, error) {
	return r.findGroupMessages(ctx, page, func(q *gorm.DB) *gorm.DB {
		return q.Where("group_id = ?", groupID)
	})
}

func (r *GormStore) SearchGroupMessages(ctx context.Context, groupID, query string, page domain.Page) ([]*domain.GroupMessage, error) {
	return r.findGroupMessages(ctx, page, func(q *gorm.DB) *gorm.DB {
		return q.Where("group_id = ? AND LOWER(text) LIKE ? ESCAPE '!'", groupID, containsPattern(query))
	})
}

// findGroupMessages loads a newest-first page and attaches the receipts of
// every message on it.
func (r *GormStore) findGroupMessages(ctx context.Context, page domain.Page, scope func(*gorm.DB) *gorm.DB) ([]*domain.GroupMessage, error) {
	page = page.Normalize()
	var (
		models   []domain.GroupMessageModel
		receipts []domain.ReceiptModel
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := scope(tx.Model(&domain.GroupMessageModel{})).
			Order("created_at DESC").Order("id DESC").
			Limit(page.Limit).Offset(page.Skip).
			Find(&models).Error
		if err != nil || len(models) == 0 {
			return err
		}

		ids := make([]string, len(models))
		for i := range models {
			ids[i] = models[i].ID
		}
		return tx.Where("message_id IN ?", ids).Order("acked_at ASC").Find(&receipts).Error
	})
	if err != nil {
		return nil, err
	}

	byMessage := make(map[string][]domain.ReceiptModel, len(models))
	for _, rc := range receipts {
		byMessage[rc.MessageID] = append(byMessage[rc.MessageID], rc)
	}
	out := make([]*domain.GroupMessage, len(models))
	for i := range models {
		out[i] = models[i].ToDomain(byMessage[models[i].ID])
	}
	return out, nil
}
