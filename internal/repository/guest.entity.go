package repository

import (
	"time"

	"github.com/lib/pq"
	"github.com/unveilhq/guest-messenger/internal/model"
)

// GuestEntity rows live in event_guests. guest_tags is a postgres text[]
// column; the pq array literal degrades to a plain TEXT column under the
// sqlite test driver.
type GuestEntity struct {
	ID         int64          `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	EventID    int64          `db:"event_id"    gorm:"column:event_id;not null;index"`
	UserID     *int64         `db:"user_id"     gorm:"column:user_id"`
	GuestName  string         `db:"guest_name"  gorm:"column:guest_name"`
	Phone      string         `db:"phone"       gorm:"column:phone"`
	GuestTags  pq.StringArray `db:"guest_tags"  gorm:"column:guest_tags;type:text"`
	RSVPStatus string         `db:"rsvp_status" gorm:"column:rsvp_status"`
	DeclinedAt *time.Time     `db:"declined_at" gorm:"column:declined_at"`
	RemovedAt  *time.Time     `db:"removed_at"  gorm:"column:removed_at;index"`
	SMSOptOut  bool           `db:"sms_opt_out" gorm:"column:sms_opt_out"`
	CreatedAt  time.Time      `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

func (GuestEntity) TableName() string {
	return "event_guests"
}

func toGuestEntity(m *model.Guest) *GuestEntity {
	if m == nil {
		return nil
	}
	return &GuestEntity{
		ID:         m.ID,
		EventID:    m.EventID,
		UserID:     m.UserID,
		GuestName:  m.GuestName,
		Phone:      m.Phone,
		GuestTags:  pq.StringArray(m.GuestTags),
		RSVPStatus: string(m.RSVPStatus),
		DeclinedAt: m.DeclinedAt,
		RemovedAt:  m.RemovedAt,
		SMSOptOut:  m.SMSOptOut,
		CreatedAt:  m.CreatedAt,
	}
}

func toGuestModel(e *GuestEntity) *model.Guest {
	if e == nil {
		return nil
	}
	return &model.Guest{
		ID:         e.ID,
		EventID:    e.EventID,
		UserID:     e.UserID,
		GuestName:  e.GuestName,
		Phone:      e.Phone,
		GuestTags:  []string(e.GuestTags),
		RSVPStatus: model.RSVPStatus(e.RSVPStatus),
		DeclinedAt: e.DeclinedAt,
		RemovedAt:  e.RemovedAt,
		SMSOptOut:  e.SMSOptOut,
		CreatedAt:  e.CreatedAt,
	}
}

func toGuestModels(entities []*GuestEntity) []*model.Guest {
	if entities == nil {
		return nil
	}
	models := make([]*model.Guest, len(entities))
	for i, e := range entities {
		models[i] = toGuestModel(e)
	}
	return models
}
