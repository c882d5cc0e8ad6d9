package model

import "time"

// RSVPStatus is the guest's reply state. The legacy labels "pending" and
// "maybe" are still stored for old events and are folded into "attending"
// when filtering; declined-ness is keyed off DeclinedAt, not the label.
type RSVPStatus string

const (
	RSVPAttending RSVPStatus = "attending"
	RSVPDeclined  RSVPStatus = "declined"
	RSVPPending   RSVPStatus = "pending"
	RSVPMaybe     RSVPStatus = "maybe"
)

// Normalized folds the legacy labels into their modern equivalent.
func (s RSVPStatus) Normalized() RSVPStatus {
	switch s {
	case RSVPPending, RSVPMaybe:
		return RSVPAttending
	}
	return s
}

type Guest struct {
	ID         int64      `json:"id"          db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	EventID    int64      `json:"event_id"    db:"event_id"    gorm:"column:event_id;not null;index"`
	UserID     *int64     `json:"user_id"     db:"user_id"     gorm:"column:user_id"`
	GuestName  string     `json:"guest_name"  db:"guest_name"  gorm:"column:guest_name"`
	Phone      string     `json:"phone"       db:"phone"       gorm:"column:phone"`
	GuestTags  []string   `json:"guest_tags"  db:"guest_tags"  gorm:"-"`
	RSVPStatus RSVPStatus `json:"rsvp_status" db:"rsvp_status" gorm:"column:rsvp_status"`
	DeclinedAt *time.Time `json:"declined_at" db:"declined_at" gorm:"column:declined_at"`
	RemovedAt  *time.Time `json:"removed_at"  db:"removed_at"  gorm:"column:removed_at"`
	SMSOptOut  bool       `json:"sms_opt_out" db:"sms_opt_out" gorm:"column:sms_opt_out"`
	CreatedAt  time.Time  `json:"created_at"  db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

// DisplayName falls back to the phone number for guests imported without a
// name, so resolver ordering stays deterministic.
func (g *Guest) DisplayName() string {
	if g.GuestName != "" {
		return g.GuestName
	}
	return g.Phone
}

// HasTag reports whether the guest carries the given tag.
func (g *Guest) HasTag(tag string) bool {
	for _, t := range g.GuestTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Recipient is one row of resolver output: a guest eligible to receive the
// message. Guests without a phone number never appear here.
type Recipient struct {
	GuestID       int64  `json:"guest_id"`
	UserID        *int64 `json:"user_id,omitempty"`
	Phone         string `json:"phone"`
	GuestName     string `json:"guest_name"`
	DisplayName   string `json:"display_name"`
	CanReceiveSMS bool   `json:"can_receive_sms"`
	SMSOptOut     bool   `json:"sms_opt_out"`
	RecipientType string `json:"recipient_type"`
}

// ResolveCriteria is the resolver input. GuestIDs, Tags and RSVPStatuses are
// optional narrowing filters over the event's eligible guest base.
type ResolveCriteria struct {
	EventID         int64
	GuestIDs        []int64
	Tags            []string
	RequireAllTags  bool
	RSVPStatuses    []RSVPStatus
	IncludeDeclined bool
}
