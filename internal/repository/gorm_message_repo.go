package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

func (r *GormStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	return r.db.WithContext(ctx).Create(domain.MessageToModel(msg)).Error
}

func (r *GormStore) FindMessage(ctx context.Context, id string) (*domain.Message, error) {
	var model domain.MessageModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if isNotFound(err) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// AdvanceMessageStatus is a single conditional UPDATE, so two acknowledgers
// racing on the same message cannot move it backwards or apply it twice.
// Reading a message also stamps delivered_at if it was never set.
func (r *GormStore) AdvanceMessageStatus(ctx context.Context, id string, status domain.MessageStatus, at time.Time) (bool, error) {
	below := statusStrings(domain.StatusesBelow(status))
	if len(below) == 0 {
		return false, nil
	}

	updates := map[string]interface{}{"status": string(status)}
	switch status {
	case domain.StatusDelivered:
		updates["delivered_at"] = at
	case domain.StatusRead:
		updates["read_at"] = at
		updates["delivered_at"] = gorm.Expr("COALESCE(delivered_at, ?)", at)
	}

	res := r.db.WithContext(ctx).
		Model(&domain.MessageModel{}).
		Where("id = ? AND status IN ?", id, below).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormStore) conversation(ctx context.Context, userA, userB string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&domain.MessageModel{}).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA)
}

// ListConversation returns a newest-first page of messages between two users.
func (r *GormStore) ListConversation(ctx context.Context, userA, userB string, page domain.Page) ([]*domain.Message, error) {
	page = page.Normalize()
	var models []domain.MessageModel
	err := r.conversation(ctx, userA, userB).
		Order("created_at DESC").Order("id DESC").
		Limit(page.Limit).Offset(page.Skip).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toMessages(models), nil
}

func (r *GormStore) SearchConversation(ctx context.Context, userA, userB, query string, page domain.Page) ([]*domain.Message, error) {
	page = page.Normalize()
	var models []domain.MessageModel
	err := r.conversation(ctx, userA, userB).
		Where("LOWER(text) LIKE ? ESCAPE '!'", containsPattern(query)).
		Order("created_at DESC").Order("id DESC").
		Limit(page.Limit).Offset(page.Skip).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toMessages(models), nil
}

func toMessages(models []domain.MessageModel) []*domain.Message {
	out := make([]*domain.Message, len(models))
	for i := range models {
		out[i] = models[i].ToDomain()
	}
	return out
}

func statusStrings(statuses []domain.MessageStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
