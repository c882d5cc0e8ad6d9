package model

import "time"

// ChannelStatus is the per-channel delivery state. A channel the message was
// not sent on is recorded as not_applicable, never left empty: a message with
// send_via_sms=false must not read as an SMS failure in analytics.
type ChannelStatus string

const (
	ChannelNotApplicable ChannelStatus = "not_applicable"
	ChannelPending       ChannelStatus = "pending"
	ChannelSent          ChannelStatus = "sent"
	ChannelFailed        ChannelStatus = "failed"
)

// Delivery is the ledger row joining a Message to a Guest. Unique on
// (message_id, guest_id); writes go through idempotent upsert only.
type Delivery struct {
	ID           int64         `json:"id"            db:"id"            gorm:"primaryKey;autoIncrement;column:id"`
	MessageID    int64         `json:"message_id"    db:"message_id"    gorm:"column:message_id;not null;uniqueIndex:uq_message_guest"`
	GuestID      int64         `json:"guest_id"      db:"guest_id"      gorm:"column:guest_id;not null;uniqueIndex:uq_message_guest"`
	UserID       *int64        `json:"user_id"       db:"user_id"       gorm:"column:user_id"`
	PhoneNumber  string        `json:"phone_number"  db:"phone_number"  gorm:"column:phone_number"`
	SMSStatus    ChannelStatus `json:"sms_status"    db:"sms_status"    gorm:"column:sms_status;not null"`
	PushStatus   ChannelStatus `json:"push_status"   db:"push_status"   gorm:"column:push_status;not null"`
	EmailStatus  ChannelStatus `json:"email_status"  db:"email_status"  gorm:"column:email_status;not null"`
	HasResponded bool          `json:"has_responded" db:"has_responded" gorm:"column:has_responded"`
	CreatedAt    time.Time     `json:"created_at"    db:"created_at"    gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time     `json:"updated_at"    db:"updated_at"    gorm:"column:updated_at;autoUpdateTime"`
}

func (Delivery) TableName() string { return "message_deliveries" }

// DeliveryUpsert is the input for the idempotent ledger write. A second call
// for the same (message, guest) pair updates the status fields in place.
type DeliveryUpsert struct {
	MessageID   int64
	GuestID     int64
	UserID      *int64
	Phone       string
	SMSStatus   ChannelStatus
	PushStatus  ChannelStatus
	EmailStatus ChannelStatus
}
