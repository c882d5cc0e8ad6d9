package model

import "time"

// Message is the sent, materialized record created from a ScheduledMessage at
// dispatch time (or by the immediate-send flow). Immutable once created.
type Message struct {
	ID                 int64       `json:"id"                   db:"id"                   gorm:"primaryKey;autoIncrement;column:id"`
	EventID            int64       `json:"event_id"             db:"event_id"             gorm:"column:event_id;not null;index"`
	SenderUserID       int64       `json:"sender_user_id"       db:"sender_user_id"       gorm:"column:sender_user_id;not null"`
	Content            string      `json:"content"              db:"content"              gorm:"column:content;not null"`
	MessageType        MessageType `json:"message_type"         db:"message_type"         gorm:"column:message_type;not null"`
	ScheduledMessageID *int64      `json:"scheduled_message_id" db:"scheduled_message_id" gorm:"column:scheduled_message_id"`
	CreatedAt          time.Time   `json:"created_at"           db:"created_at"           gorm:"column:created_at;autoCreateTime"`
}

func (Message) TableName() string { return "messages" }

// MessageFilter controls history queries.
type MessageFilter struct {
	EventID *int64
	Types   []MessageType
	From    *time.Time
	To      *time.Time
	Limit   int // default 50
	Offset  int
	Desc    bool // order by created_at
}

// MessageWithDeliveries is the host-facing history row. For direct messages
// the delivery join is authoritative for who can see the message;
// announcement and channel messages are readable from the message alone and
// the delivery rows only record SMS-notification bookkeeping.
type MessageWithDeliveries struct {
	Message
	Deliveries []*Delivery `json:"deliveries"`
}
