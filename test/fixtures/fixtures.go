package fixtures

import (
	"time"

	"github.com/unveilhq/guest-messenger/internal/model"
)

// Guests for a single test wedding. IDs are left zero so the repository
// assigns them on insert.

func NewAttendingGuest(eventID int64, name, phone string, tags ...string) *model.Guest {
	return &model.Guest{
		EventID:    eventID,
		GuestName:  name,
		Phone:      phone,
		GuestTags:  tags,
		RSVPStatus: model.RSVPAttending,
	}
}

func NewDeclinedGuest(eventID int64, name, phone string) *model.Guest {
	now := time.Now().Add(-24 * time.Hour)
	return &model.Guest{
		EventID:    eventID,
		GuestName:  name,
		Phone:      phone,
		RSVPStatus: model.RSVPDeclined,
		DeclinedAt: &now,
	}
}

func NewOptedOutGuest(eventID int64, name, phone string) *model.Guest {
	return &model.Guest{
		EventID:    eventID,
		GuestName:  name,
		Phone:      phone,
		RSVPStatus: model.RSVPAttending,
		SMSOptOut:  true,
	}
}

func NewScheduledAnnouncement(eventID int64, content string, sendAt time.Time) *model.ScheduledMessage {
	return &model.ScheduledMessage{
		EventID:         eventID,
		SenderUserID:    1,
		Content:         content,
		MessageType:     model.MessageTypeAnnouncement,
		SendAt:          sendAt,
		Status:          model.ScheduledStatusScheduled,
		TargetAllGuests: true,
		SendViaSMS:      true,
	}
}

func NewTaggedChannelMessage(eventID int64, content string, sendAt time.Time, tags ...string) *model.ScheduledMessage {
	return &model.ScheduledMessage{
		EventID:         eventID,
		SenderUserID:    1,
		Content:         content,
		MessageType:     model.MessageTypeChannel,
		SendAt:          sendAt,
		Status:          model.ScheduledStatusScheduled,
		TargetGuestTags: tags,
		SendViaSMS:      true,
	}
}

func ScheduleRequestAllGuests(eventID int64, content string, sendAt time.Time) model.ScheduleCreateRequest {
	return model.ScheduleCreateRequest{
		EventID:         eventID,
		SenderUserID:    1,
		Content:         content,
		MessageType:     model.MessageTypeAnnouncement,
		SendAt:          sendAt,
		TargetAllGuests: true,
		SendViaSMS:      true,
	}
}

func MessageFilterByEvent(eventID int64) model.MessageFilter {
	return model.MessageFilter{
		EventID: &eventID,
		Limit:   50,
	}
}

var (
	ValidPhoneNumbers = []string{
		"+15550000001",
		"+15550000002",
		"+442071234567",
		"+33123456789",
	}

	ValidContents = []string{
		"The shuttle leaves the hotel at 4:30pm sharp.",
		"Reminder: RSVP by Friday!",
		"Dinner seating has moved indoors due to rain.",
	}
)
