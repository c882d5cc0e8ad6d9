package repository

import (
	"time"

	"github.com/unveilhq/guest-messenger/internal/model"
)

type DeliveryEntity struct {
	ID           int64      `db:"id"            gorm:"primaryKey;autoIncrement;column:id"`
	MessageID    int64      `db:"message_id"    gorm:"column:message_id;not null;uniqueIndex:uq_message_guest"`
	GuestID      int64      `db:"guest_id"      gorm:"column:guest_id;not null;uniqueIndex:uq_message_guest"`
	UserID       *int64     `db:"user_id"       gorm:"column:user_id"`
	PhoneNumber  string     `db:"phone_number"  gorm:"column:phone_number"`
	SMSStatus    string     `db:"sms_status"    gorm:"column:sms_status;not null"`
	PushStatus   string     `db:"push_status"   gorm:"column:push_status;not null"`
	EmailStatus  string     `db:"email_status"  gorm:"column:email_status;not null"`
	HasResponded bool       `db:"has_responded" gorm:"column:has_responded"`
	CreatedAt    time.Time  `db:"created_at"    gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `db:"updated_at"    gorm:"column:updated_at;autoUpdateTime"`
}

func (DeliveryEntity) TableName() string {
	return "message_deliveries"
}

func toDeliveryEntity(m *model.Delivery) *DeliveryEntity {
	if m == nil {
		return nil
	}
	return &DeliveryEntity{
		ID:           m.ID,
		MessageID:    m.MessageID,
		GuestID:      m.GuestID,
		UserID:       m.UserID,
		PhoneNumber:  m.PhoneNumber,
		SMSStatus:    string(m.SMSStatus),
		PushStatus:   string(m.PushStatus),
		EmailStatus:  string(m.EmailStatus),
		HasResponded: m.HasResponded,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func toDeliveryModel(e *DeliveryEntity) *model.Delivery {
	if e == nil {
		return nil
	}
	return &model.Delivery{
		ID:           e.ID,
		MessageID:    e.MessageID,
		GuestID:      e.GuestID,
		UserID:       e.UserID,
		PhoneNumber:  e.PhoneNumber,
		SMSStatus:    model.ChannelStatus(e.SMSStatus),
		PushStatus:   model.ChannelStatus(e.PushStatus),
		EmailStatus:  model.ChannelStatus(e.EmailStatus),
		HasResponded: e.HasResponded,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func toDeliveryModels(entities []*DeliveryEntity) []*model.Delivery {
	if entities == nil {
		return nil
	}
	models := make([]*model.Delivery, len(entities))
	for i, e := range entities {
		models[i] = toDeliveryModel(e)
	}
	return models
}
