package repository

import (
	"time"

	"github.com/lib/pq"
	"github.com/unveilhq/guest-messenger/internal/model"
)

type ScheduledMessageEntity struct {
	ID              int64          `db:"id"                gorm:"primaryKey;autoIncrement;column:id"`
	EventID         int64          `db:"event_id"          gorm:"column:event_id;not null;index"`
	SenderUserID    int64          `db:"sender_user_id"    gorm:"column:sender_user_id;not null"`
	Content         string         `db:"content"           gorm:"column:content;not null"`
	MessageType     string         `db:"message_type"      gorm:"column:message_type;not null"`
	SendAt          time.Time      `db:"send_at"           gorm:"column:send_at;not null;index:idx_due,priority:2"`
	Status          string         `db:"status"            gorm:"column:status;not null;index:idx_due,priority:1"`
	TargetAllGuests bool           `db:"target_all_guests" gorm:"column:target_all_guests"`
	TargetGuestIDs  pq.Int64Array  `db:"target_guest_ids"  gorm:"column:target_guest_ids;type:text"`
	TargetGuestTags pq.StringArray `db:"target_guest_tags" gorm:"column:target_guest_tags;type:text"`
	RequireAllTags  bool           `db:"require_all_tags"  gorm:"column:require_all_tags"`
	SendViaSMS      bool           `db:"send_via_sms"      gorm:"column:send_via_sms"`
	SendViaPush     bool           `db:"send_via_push"     gorm:"column:send_via_push"`
	SendViaEmail    bool           `db:"send_via_email"    gorm:"column:send_via_email"`
	RecipientCount  int            `db:"recipient_count"   gorm:"column:recipient_count"`
	FailureReason   *string        `db:"failure_reason"    gorm:"column:failure_reason"`
	SentAt          *time.Time     `db:"sent_at"           gorm:"column:sent_at"`
	CreatedAt       time.Time      `db:"created_at"        gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time      `db:"updated_at"        gorm:"column:updated_at;autoUpdateTime"`
}

func (ScheduledMessageEntity) TableName() string {
	return "scheduled_messages"
}

func toScheduledMessageEntity(m *model.ScheduledMessage) *ScheduledMessageEntity {
	if m == nil {
		return nil
	}
	return &ScheduledMessageEntity{
		ID:              m.ID,
		EventID:         m.EventID,
		SenderUserID:    m.SenderUserID,
		Content:         m.Content,
		MessageType:     string(m.MessageType),
		SendAt:          m.SendAt,
		Status:          string(m.Status),
		TargetAllGuests: m.TargetAllGuests,
		TargetGuestIDs:  pq.Int64Array(m.TargetGuestIDs),
		TargetGuestTags: pq.StringArray(m.TargetGuestTags),
		RequireAllTags:  m.RequireAllTags,
		SendViaSMS:      m.SendViaSMS,
		SendViaPush:     m.SendViaPush,
		SendViaEmail:    m.SendViaEmail,
		RecipientCount:  m.RecipientCount,
		FailureReason:   m.FailureReason,
		SentAt:          m.SentAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toScheduledMessageModel(e *ScheduledMessageEntity) *model.ScheduledMessage {
	if e == nil {
		return nil
	}
	return &model.ScheduledMessage{
		ID:              e.ID,
		EventID:         e.EventID,
		SenderUserID:    e.SenderUserID,
		Content:         e.Content,
		MessageType:     model.MessageType(e.MessageType),
		SendAt:          e.SendAt,
		Status:          model.ScheduledStatus(e.Status),
		TargetAllGuests: e.TargetAllGuests,
		TargetGuestIDs:  []int64(e.TargetGuestIDs),
		TargetGuestTags: []string(e.TargetGuestTags),
		RequireAllTags:  e.RequireAllTags,
		SendViaSMS:      e.SendViaSMS,
		SendViaPush:     e.SendViaPush,
		SendViaEmail:    e.SendViaEmail,
		RecipientCount:  e.RecipientCount,
		FailureReason:   e.FailureReason,
		SentAt:          e.SentAt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toScheduledMessageModels(entities []*ScheduledMessageEntity) []*model.ScheduledMessage {
	if entities == nil {
		return nil
	}
	models := make([]*model.ScheduledMessage, len(entities))
	for i, e := range entities {
		models[i] = toScheduledMessageModel(e)
	}
	return models
}
