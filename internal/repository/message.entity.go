package repository

import (
	"time"

	"github.com/unveilhq/guest-messenger/internal/model"
)

type MessageEntity struct {
	ID                 int64             `db:"id"                   gorm:"primaryKey;autoIncrement;column:id"`
	EventID            int64             `db:"event_id"             gorm:"column:event_id;not null;index"`
	SenderUserID       int64             `db:"sender_user_id"       gorm:"column:sender_user_id;not null"`
	Content            string            `db:"content"              gorm:"column:content;not null"`
	MessageType        string            `db:"message_type"         gorm:"column:message_type;not null"`
	ScheduledMessageID *int64            `db:"scheduled_message_id" gorm:"column:scheduled_message_id;index"`
	CreatedAt          time.Time         `db:"created_at"           gorm:"column:created_at;autoCreateTime"`
	Deliveries         []*DeliveryEntity `gorm:"foreignKey:MessageID"`
}

func (MessageEntity) TableName() string {
	return "messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		ID:                 m.ID,
		EventID:            m.EventID,
		SenderUserID:       m.SenderUserID,
		Content:            m.Content,
		MessageType:        string(m.MessageType),
		ScheduledMessageID: m.ScheduledMessageID,
		CreatedAt:          m.CreatedAt,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:                 e.ID,
		EventID:            e.EventID,
		SenderUserID:       e.SenderUserID,
		Content:            e.Content,
		MessageType:        model.MessageType(e.MessageType),
		ScheduledMessageID: e.ScheduledMessageID,
		CreatedAt:          e.CreatedAt,
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	if entities == nil {
		return nil
	}
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}

func toMessageWithDeliveries(e *MessageEntity) *model.MessageWithDeliveries {
	if e == nil {
		return nil
	}
	return &model.MessageWithDeliveries{
		Message:    *toMessageModel(e),
		Deliveries: toDeliveryModels(e.Deliveries),
	}
}
