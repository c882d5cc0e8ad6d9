package model

import (
	"errors"
	"time"
)

// ScheduledStatus is the lifecycle state of a scheduled message.
// Transitions: scheduled -> sending -> {sent | partially_failed | failed}.
// cancelled is terminal and reachable from scheduled only.
type ScheduledStatus string

const (
	ScheduledStatusScheduled       ScheduledStatus = "scheduled"
	ScheduledStatusSending         ScheduledStatus = "sending"
	ScheduledStatusSent            ScheduledStatus = "sent"
	ScheduledStatusPartiallyFailed ScheduledStatus = "partially_failed"
	ScheduledStatusFailed          ScheduledStatus = "failed"
	ScheduledStatusCancelled       ScheduledStatus = "cancelled"
)

type MessageType string

const (
	MessageTypeDirect       MessageType = "direct"
	MessageTypeAnnouncement MessageType = "announcement"
	MessageTypeChannel      MessageType = "channel"
)

var (
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrAmbiguousTarget = errors.New("exactly one of all-guests, guest ids or guest tags must be set")
	ErrInvalidType     = errors.New("invalid message type")
)

type ScheduledMessage struct {
	ID              int64           `json:"id"                db:"id"                gorm:"primaryKey;autoIncrement;column:id"`
	EventID         int64           `json:"event_id"          db:"event_id"          gorm:"column:event_id;not null;index"`
	SenderUserID    int64           `json:"sender_user_id"    db:"sender_user_id"    gorm:"column:sender_user_id;not null"`
	Content         string          `json:"content"           db:"content"           gorm:"column:content;not null"`
	MessageType     MessageType     `json:"message_type"      db:"message_type"      gorm:"column:message_type;not null"`
	SendAt          time.Time       `json:"send_at"           db:"send_at"           gorm:"column:send_at;not null;index"`
	Status          ScheduledStatus `json:"status"            db:"status"            gorm:"column:status;not null;index"`
	TargetAllGuests bool            `json:"target_all_guests" db:"target_all_guests" gorm:"column:target_all_guests"`
	TargetGuestIDs  []int64         `json:"target_guest_ids"  db:"target_guest_ids"  gorm:"-"`
	TargetGuestTags []string        `json:"target_guest_tags" db:"target_guest_tags" gorm:"-"`
	RequireAllTags  bool            `json:"require_all_tags"  db:"require_all_tags"  gorm:"column:require_all_tags"`
	SendViaSMS      bool            `json:"send_via_sms"      db:"send_via_sms"      gorm:"column:send_via_sms"`
	SendViaPush     bool            `json:"send_via_push"     db:"send_via_push"     gorm:"column:send_via_push"`
	SendViaEmail    bool            `json:"send_via_email"    db:"send_via_email"    gorm:"column:send_via_email"`
	RecipientCount  int             `json:"recipient_count"   db:"recipient_count"   gorm:"column:recipient_count"`
	FailureReason   *string         `json:"failure_reason"    db:"failure_reason"    gorm:"column:failure_reason"`
	SentAt          *time.Time      `json:"sent_at"           db:"sent_at"           gorm:"column:sent_at"`
	CreatedAt       time.Time       `json:"created_at"        db:"created_at"        gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `json:"updated_at"        db:"updated_at"        gorm:"column:updated_at;autoUpdateTime"`
}

func (ScheduledMessage) TableName() string { return "scheduled_messages" }

// Criteria maps the message's targeting fields to resolver input.
func (m *ScheduledMessage) Criteria() ResolveCriteria {
	return ResolveCriteria{
		EventID:        m.EventID,
		GuestIDs:       m.TargetGuestIDs,
		Tags:           m.TargetGuestTags,
		RequireAllTags: m.RequireAllTags,
	}
}

// ExpectsRecipients reports whether an empty resolution is a failure.
// An all-guests audience with no eligible guests is a no-op success;
// explicit ids or tags that resolve to nobody are not.
func (m *ScheduledMessage) ExpectsRecipients() bool {
	return !m.TargetAllGuests
}

// ScheduleCreateRequest is the input for scheduling a message.
type ScheduleCreateRequest struct {
	EventID         int64
	SenderUserID    int64
	Content         string
	MessageType     MessageType
	SendAt          time.Time
	TargetAllGuests bool
	TargetGuestIDs  []int64
	TargetGuestTags []string
	RequireAllTags  bool
	SendViaSMS      bool
	SendViaPush     bool
	SendViaEmail    bool
}

func (p ScheduleCreateRequest) Validate() error {
	if p.EventID == 0 {
		return errors.New("event_id is required")
	}
	if p.SenderUserID == 0 {
		return errors.New("sender_user_id is required")
	}
	if p.Content == "" {
		return ErrEmptyContent
	}
	switch p.MessageType {
	case MessageTypeDirect, MessageTypeAnnouncement, MessageTypeChannel:
	default:
		return ErrInvalidType
	}
	if p.SendAt.IsZero() {
		return errors.New("send_at is required")
	}

	// The audience invariant: exactly one targeting mode.
	modes := 0
	if p.TargetAllGuests {
		modes++
	}
	if len(p.TargetGuestIDs) > 0 {
		modes++
	}
	if len(p.TargetGuestTags) > 0 {
		modes++
	}
	if modes != 1 {
		return ErrAmbiguousTarget
	}
	return nil
}

// FinalizeParams carries a terminal state update for a claimed message.
type FinalizeParams struct {
	Status         ScheduledStatus
	RecipientCount int
	FailureReason  *string
	SentAt         *time.Time
}
