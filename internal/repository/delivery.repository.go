package repository

import (
	"context"
	"errors"

	"github.com/unveilhq/guest-messenger/internal/model"
	"github.com/unveilhq/guest-messenger/pkg/pg"
	"gorm.io/gorm/clause"
)

var (
	// ErrDeliveryNotFound is returned when no ledger row exists for the pair.
	ErrDeliveryNotFound = errors.New("delivery record not found")
)

type DeliveryRepository struct {
	*pg.DB
}

func NewDeliveryRepository(db *pg.DB) *DeliveryRepository {
	return &DeliveryRepository{
		db,
	}
}

// Upsert writes the ledger row for (message_id, guest_id). Safe to call any
// number of times for the same pair: the conflict target is the unique index
// and a second call updates the status fields rather than inserting.
func (r *DeliveryRepository) Upsert(ctx context.Context, p model.DeliveryUpsert) (*model.Delivery, error) {
	entity := &DeliveryEntity{
		MessageID:   p.MessageID,
		GuestID:     p.GuestID,
		UserID:      p.UserID,
		PhoneNumber: p.Phone,
		SMSStatus:   string(p.SMSStatus),
		PushStatus:  string(p.PushStatus),
		EmailStatus: string(p.EmailStatus),
	}

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "message_id"}, {Name: "guest_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"phone_number", "user_id", "sms_status", "push_status", "email_status", "updated_at",
			}),
		}).
		Create(entity).Error
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, p.MessageID, p.GuestID)
}

func (r *DeliveryRepository) Get(ctx context.Context, messageID, guestID int64) (*model.Delivery, error) {
	var entity DeliveryEntity
	err := r.Read(ctx).WithContext(ctx).
		First(&entity, "message_id = ? AND guest_id = ?", messageID, guestID).Error
	if err != nil {
		return nil, err
	}
	return toDeliveryModel(&entity), nil
}

// UpdateSMSStatus records the per-recipient SMS outcome reported by the
// gateway, leaving the other channel columns alone.
func (r *DeliveryRepository) UpdateSMSStatus(ctx context.Context, messageID, guestID int64, status model.ChannelStatus) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&DeliveryEntity{}).
		Where("message_id = ? AND guest_id = ?", messageID, guestID).
		Update("sms_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

func (r *DeliveryRepository) ListByMessage(ctx context.Context, messageID int64) ([]*model.Delivery, error) {
	var entities []*DeliveryEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("guest_id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toDeliveryModels(entities), nil
}

// MarkResponded flags that the guest replied in-app to a delivered message.
func (r *DeliveryRepository) MarkResponded(ctx context.Context, messageID, guestID int64) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&DeliveryEntity{}).
		Where("message_id = ? AND guest_id = ?", messageID, guestID).
		Update("has_responded", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}
