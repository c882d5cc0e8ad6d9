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

type MockScheduledRepository struct {
	mock.Mock
}

func (m *MockScheduledRepository) Create(ctx context.Context, msg *model.ScheduledMessage) (*model.ScheduledMessage, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScheduledMessage), args.Error(1)
}

func (m *MockScheduledRepository) GetByID(ctx context.Context, id int64) (*model.ScheduledMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScheduledMessage), args.Error(1)
}

func (m *MockScheduledRepository) Cancel(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Message), args.Get(1).(int64), args.Error(2)
}

func (m *MockMessageRepository) ListWithDeliveries(ctx context.Context, f model.MessageFilter) ([]*model.MessageWithDeliveries, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.MessageWithDeliveries), args.Get(1).(int64), args.Error(2)
}

func validScheduleRequest(sendAt time.Time) model.ScheduleCreateRequest {
	return model.ScheduleCreateRequest{
		EventID:         10,
		SenderUserID:    7,
		Content:         "Welcome drinks start at 6pm in the garden!",
		MessageType:     model.MessageTypeAnnouncement,
		SendAt:          sendAt,
		TargetAllGuests: true,
		SendViaSMS:      true,
	}
}

func TestSchedule_Valid(t *testing.T) {
	scheduledRepo := new(MockScheduledRepository)
	svc := NewMessageService(scheduledRepo, new(MockMessageRepository))

	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	req := validScheduleRequest(now.Add(time.Hour))

	scheduledRepo.On("Create", mock.Anything, mock.MatchedBy(func(m *model.ScheduledMessage) bool {
		return m.Status == model.ScheduledStatusScheduled &&
			m.TargetAllGuests &&
			m.SendAt.Equal(now.Add(time.Hour))
	})).Return(&model.ScheduledMessage{ID: 1, Status: model.ScheduledStatusScheduled}, nil)

	got, err := svc.Schedule(context.Background(), req, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	scheduledRepo.AssertExpectations(t)
}

func TestSchedule_RejectsPastSendAt(t *testing.T) {
	svc := NewMessageService(new(MockScheduledRepository), new(MockMessageRepository))

	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	_, err := svc.Schedule(context.Background(), validScheduleRequest(now.Add(-time.Minute)), now)
	assert.ErrorIs(t, err, ErrSendAtInPast)

	_, err = svc.Schedule(context.Background(), validScheduleRequest(now), now)
	assert.ErrorIs(t, err, ErrSendAtInPast)
}

func TestSchedule_RejectsAmbiguousAudience(t *testing.T) {
	svc := NewMessageService(new(MockScheduledRepository), new(MockMessageRepository))
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	req := validScheduleRequest(now.Add(time.Hour))
	req.TargetGuestIDs = []int64{1, 2}

	_, err := svc.Schedule(context.Background(), req, now)
	assert.ErrorIs(t, err, model.ErrAmbiguousTarget)

	req = validScheduleRequest(now.Add(time.Hour))
	req.TargetAllGuests = false

	_, err = svc.Schedule(context.Background(), req, now)
	assert.ErrorIs(t, err, model.ErrAmbiguousTarget)
}

func TestSchedule_RejectsEmptyContent(t *testing.T) {
	svc := NewMessageService(new(MockScheduledRepository), new(MockMessageRepository))
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	req := validScheduleRequest(now.Add(time.Hour))
	req.Content = "   "

	_, err := svc.Schedule(context.Background(), req, now)
	assert.ErrorIs(t, err, model.ErrEmptyContent)
}

func TestSchedule_RejectsOverlongContent(t *testing.T) {
	svc := NewMessageService(new(MockScheduledRepository), new(MockMessageRepository))
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	req := validScheduleRequest(now.Add(time.Hour))
	long := make([]byte, defaultMaxContentLen+1)
	for i := range long {
		long[i] = 'a'
	}
	req.Content = string(long)

	_, err := svc.Schedule(context.Background(), req, now)
	assert.ErrorIs(t, err, ErrContentTooLong)
}

func TestCancel_DelegatesGuard(t *testing.T) {
	scheduledRepo := new(MockScheduledRepository)
	svc := NewMessageService(scheduledRepo, new(MockMessageRepository))

	scheduledRepo.On("Cancel", mock.Anything, int64(42)).Return(nil)
	require.NoError(t, svc.Cancel(context.Background(), 42))
	scheduledRepo.AssertExpectations(t)
}

func TestHistory_PassesFilter(t *testing.T) {
	messageRepo := new(MockMessageRepository)
	svc := NewMessageService(new(MockScheduledRepository), messageRepo)

	eventID := int64(10)
	f := model.MessageFilter{EventID: &eventID, Desc: true}

	messageRepo.On("ListWithDeliveries", mock.Anything, f).
		Return([]*model.MessageWithDeliveries{{Message: model.Message{ID: 3}}}, int64(1), nil)

	rows, total, err := svc.History(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].ID)
}
