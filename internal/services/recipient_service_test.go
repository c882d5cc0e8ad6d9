package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/unveilhq/guest-messenger/internal/model"
)

type MockGuestRepository struct {
	mock.Mock
}

func (m *MockGuestRepository) ListEligible(ctx context.Context, eventID int64) ([]*model.Guest, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Guest), args.Error(1)
}

func ptrInt64(v int64) *int64 { return &v }

func weddingGuests() []*model.Guest {
	declined := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return []*model.Guest{
		{ID: 1, EventID: 10, GuestName: "Alice Chen", Phone: "+15550000001", GuestTags: []string{"family"}, RSVPStatus: model.RSVPAttending, UserID: ptrInt64(100)},
		{ID: 2, EventID: 10, GuestName: "Bob Rivera", Phone: "+15550000002", GuestTags: []string{"friends"}, RSVPStatus: model.RSVPPending},
		{ID: 3, EventID: 10, GuestName: "Cara Diaz", Phone: "+15550000003", GuestTags: []string{"family", "friends"}, RSVPStatus: model.RSVPMaybe},
		{ID: 4, EventID: 10, GuestName: "Dan Osei", Phone: "+15550000004", GuestTags: []string{"vendors"}, RSVPStatus: model.RSVPDeclined, DeclinedAt: &declined},
		{ID: 5, EventID: 10, GuestName: "", Phone: "+15550000005", RSVPStatus: model.RSVPAttending, SMSOptOut: true},
	}
}

func newResolver(t *testing.T, guests []*model.Guest) (*RecipientService, *MockGuestRepository) {
	t.Helper()
	repo := new(MockGuestRepository)
	repo.On("ListEligible", mock.Anything, int64(10)).Return(guests, nil)
	return NewRecipientService(repo), repo
}

func recipientIDs(rs []*model.Recipient) []int64 {
	ids := make([]int64, len(rs))
	for i, r := range rs {
		ids[i] = r.GuestID
	}
	return ids
}

func TestResolve_AllGuestsExcludesDeclined(t *testing.T) {
	svc, _ := newResolver(t, weddingGuests())

	got, err := svc.Resolve(context.Background(), model.ResolveCriteria{EventID: 10})
	require.NoError(t, err)

	// Guest 4 declined; everyone else stays, ordered by display name with the
	// nameless guest sorted by phone fallback.
	assert.Equal(t, []int64{5, 1, 2, 3}, recipientIDs(got))
}

func TestResolve_IncludeDeclined(t *testing.T) {
	svc, _ := newResolver(t, weddingGuests())

	got, err := svc.Resolve(context.Background(), model.ResolveCriteria{EventID: 10, IncludeDeclined: true})
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestResolve_ExplicitGuestIDs(t *testing.T) {
	svc, _ := newResolver(t, weddingGuests())

	got, err := svc.Resolve(context.Background(), model.ResolveCriteria{
		EventID:  10,
		GuestIDs: []int64{2, 4, 999},
	})
	require.NoError(t, err)

	// 4 is declined, 999 does not exist in the base set.
	assert.Equal(t, []int64{2}, recipientIDs(got))
}

func TestResolve_TagsAnySemantics(t *testing.T) {
	svc, _ := newResolver(t, weddingGuests())

	got, err := svc.Resolve(context.Background(), model.ResolveCriteria{
		EventID: 10,
		Tags:    []string{"family"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, recipientIDs(got))

	got, err = svc.Resolve(context.Background(), model.ResolveCriteria{
		EventID: 10,
		Tags:    []string{"family", "friends"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, recipientIDs(got))
}

func TestResolve_TagsAllSemantics(t *testing.T) {
	svc, _ := newResolver(t, weddingGuests())

	got, err := svc.Resolve(context.Background(), model.ResolveCriteria{
		EventID:        10,
		Tags:           []string{"family", "friends"},
		RequireAllTags: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, recipientIDs(got))
}

func TestResolve_TagsNoMatch(t *testing.T) {
	svc, _ := newResolver(t, weddingGuests())

	got, err := svc.Resolve(context.Background(), model.ResolveCriteria{
		EventID: 10,
		Tags:    []string{"plus-ones"},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolve_RSVPFoldsLegacyLabels(t *testing.T) {
	svc, _ := newResolver(t, weddingGuests())

	got, err := svc.Resolve(context.Background(), model.ResolveCriteria{
		EventID:      10,
		RSVPStatuses: []model.RSVPStatus{model.RSVPAttending},
	})
	require.NoError(t, err)

	// pending and maybe count as attending.
	assert.Equal(t, []int64{5, 1, 2, 3}, recipientIDs(got))
}

func TestResolve_RecipientFields(t *testing.T) {
	svc, _ := newResolver(t, weddingGuests())

	got, err := svc.Resolve(context.Background(), model.ResolveCriteria{EventID: 10})
	require.NoError(t, err)
	require.NotEmpty(t, got)

	byID := make(map[int64]*model.Recipient)
	for _, r := range got {
		byID[r.GuestID] = r
	}

	alice := byID[1]
	require.NotNil(t, alice)
	assert.Equal(t, "member", alice.RecipientType)
	assert.True(t, alice.CanReceiveSMS)

	optedOut := byID[5]
	require.NotNil(t, optedOut)
	assert.Equal(t, "guest", optedOut.RecipientType)
	assert.Equal(t, "+15550000005", optedOut.DisplayName)
	assert.False(t, optedOut.CanReceiveSMS)
	assert.True(t, optedOut.SMSOptOut)
}

func TestResolve_RepositoryError(t *testing.T) {
	repo := new(MockGuestRepository)
	repo.On("ListEligible", mock.Anything, int64(10)).Return(nil, assert.AnError)
	svc := NewRecipientService(repo)

	_, err := svc.Resolve(context.Background(), model.ResolveCriteria{EventID: 10})
	assert.Error(t, err)
}
