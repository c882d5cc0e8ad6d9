package repository

import (
	"context"
	"errors"

	"github.com/unveilhq/guest-messenger/internal/model"
	"github.com/unveilhq/guest-messenger/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrMessageNotFound is returned when a message does not exist.
	ErrMessageNotFound = errors.New("message not found")
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toMessageModel(entity), nil
}

func (r *MessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	q := r.applyFilter(r.Read(ctx).WithContext(ctx).Model(&MessageEntity{}), f)

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q = applyPage(q, f)

	var entities []*MessageEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toMessageModels(entities), total, nil
}

// ListWithDeliveries returns history rows with their ledger rows attached.
// For direct messages the join is the authoritative read model.
func (r *MessageRepository) ListWithDeliveries(ctx context.Context, f model.MessageFilter) ([]*model.MessageWithDeliveries, int64, error) {
	q := r.applyFilter(r.Read(ctx).WithContext(ctx).Model(&MessageEntity{}), f)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q = applyPage(q, f).Preload("Deliveries")

	var entities []*MessageEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*model.MessageWithDeliveries, len(entities))
	for i, e := range entities {
		out[i] = toMessageWithDeliveries(e)
	}
	return out, total, nil
}

func (r *MessageRepository) applyFilter(q *gorm.DB, f model.MessageFilter) *gorm.DB {
	if f.EventID != nil {
		q = q.Where("event_id = ?", *f.EventID)
	}
	if len(f.Types) > 0 {
		q = q.Where("message_type IN ?", f.Types)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}
	return q
}

func applyPage(q *gorm.DB, f model.MessageFilter) *gorm.DB {
	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	return q.Order(order).Limit(limit).Offset(offset)
}
