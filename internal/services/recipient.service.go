package services

import (
	"context"
	"sort"

	"github.com/unveilhq/guest-messenger/internal/model"
)

type GuestRepository interface {
	ListEligible(ctx context.Context, eventID int64) ([]*model.Guest, error)
}

// RecipientService turns a targeting criteria into the concrete recipient
// list. The repository hands over the event's base set (non-removed guests
// with a phone number); all narrowing happens here so the same rules apply
// to real dispatch and dry runs alike.
type RecipientService struct {
	guestRepo GuestRepository
}

func NewRecipientService(guestRepo GuestRepository) *RecipientService {
	return &RecipientService{guestRepo: guestRepo}
}

// Resolve applies the narrowing filters in order: declined exclusion,
// explicit guest ids, RSVP statuses, then tags. The result is sorted by
// display name, ties broken by guest id.
func (s *RecipientService) Resolve(ctx context.Context, c model.ResolveCriteria) ([]*model.Recipient, error) {
	guests, err := s.guestRepo.ListEligible(ctx, c.EventID)
	if err != nil {
		return nil, err
	}

	var idSet map[int64]struct{}
	if len(c.GuestIDs) > 0 {
		idSet = make(map[int64]struct{}, len(c.GuestIDs))
		for _, id := range c.GuestIDs {
			idSet[id] = struct{}{}
		}
	}

	var rsvpSet map[model.RSVPStatus]struct{}
	if len(c.RSVPStatuses) > 0 {
		rsvpSet = make(map[model.RSVPStatus]struct{}, len(c.RSVPStatuses))
		for _, st := range c.RSVPStatuses {
			rsvpSet[st.Normalized()] = struct{}{}
		}
	}

	recipients := make([]*model.Recipient, 0, len(guests))
	for _, g := range guests {
		// Declined-ness is keyed off the timestamp, not the label.
		if g.DeclinedAt != nil && !c.IncludeDeclined {
			continue
		}
		if idSet != nil {
			if _, ok := idSet[g.ID]; !ok {
				continue
			}
		}
		if rsvpSet != nil {
			if _, ok := rsvpSet[g.RSVPStatus.Normalized()]; !ok {
				continue
			}
		}
		if !matchTags(g, c.Tags, c.RequireAllTags) {
			continue
		}

		recipients = append(recipients, &model.Recipient{
			GuestID:       g.ID,
			UserID:        g.UserID,
			Phone:         g.Phone,
			GuestName:     g.GuestName,
			DisplayName:   g.DisplayName(),
			CanReceiveSMS: !g.SMSOptOut,
			SMSOptOut:     g.SMSOptOut,
			RecipientType: recipientType(g),
		})
	}

	sort.SliceStable(recipients, func(i, j int) bool {
		if recipients[i].DisplayName != recipients[j].DisplayName {
			return recipients[i].DisplayName < recipients[j].DisplayName
		}
		return recipients[i].GuestID < recipients[j].GuestID
	})

	return recipients, nil
}

// matchTags is ANY semantics by default, ALL when requireAll is set. An
// empty tag filter matches everyone.
func matchTags(g *model.Guest, tags []string, requireAll bool) bool {
	if len(tags) == 0 {
		return true
	}
	if requireAll {
		for _, t := range tags {
			if !g.HasTag(t) {
				return false
			}
		}
		return true
	}
	for _, t := range tags {
		if g.HasTag(t) {
			return true
		}
	}
	return false
}

func recipientType(g *model.Guest) string {
	if g.UserID != nil {
		return "member"
	}
	return "guest"
}
