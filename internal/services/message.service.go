package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/unveilhq/guest-messenger/internal/model"
)

var (
	ErrContentTooLong = errors.New("message content exceeds maximum length")
	ErrSendAtInPast   = errors.New("send_at must be in the future")
)

const defaultMaxContentLen = 2000

type ScheduledMessageRepository interface {
	Create(ctx context.Context, m *model.ScheduledMessage) (*model.ScheduledMessage, error)
	GetByID(ctx context.Context, id int64) (*model.ScheduledMessage, error)
	Cancel(ctx context.Context, id int64) error
}

type MessageRepository interface {
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) // results, totalCount
	ListWithDeliveries(ctx context.Context, f model.MessageFilter) ([]*model.MessageWithDeliveries, int64, error)
}

// MessageService owns the host-facing write path: scheduling, cancelling and
// reading history. Dispatch of due messages is the processor's job.
type MessageService struct {
	scheduledRepo ScheduledMessageRepository
	messageRepo   MessageRepository
	maxContentLen int
}

func NewMessageService(scheduledRepo ScheduledMessageRepository, messageRepo MessageRepository) *MessageService {
	return &MessageService{
		scheduledRepo: scheduledRepo,
		messageRepo:   messageRepo,
		maxContentLen: defaultMaxContentLen,
	}
}

// Schedule validates and persists a new scheduled message. A send_at at or
// before now is rejected: the cron entry point would otherwise claim it on
// the very next tick with no cancel window.
func (s *MessageService) Schedule(ctx context.Context, p model.ScheduleCreateRequest, now time.Time) (*model.ScheduledMessage, error) {
	p.Content = strings.TrimSpace(p.Content)

	if err := p.Validate(); err != nil {
		return nil, err
	}
	if s.maxContentLen > 0 && utf8.RuneCountInString(p.Content) > s.maxContentLen {
		return nil, ErrContentTooLong
	}
	if !p.SendAt.After(now) {
		return nil, ErrSendAtInPast
	}

	m := &model.ScheduledMessage{
		EventID:         p.EventID,
		SenderUserID:    p.SenderUserID,
		Content:         p.Content,
		MessageType:     p.MessageType,
		SendAt:          p.SendAt.UTC(),
		Status:          model.ScheduledStatusScheduled,
		TargetAllGuests: p.TargetAllGuests,
		TargetGuestIDs:  p.TargetGuestIDs,
		TargetGuestTags: p.TargetGuestTags,
		RequireAllTags:  p.RequireAllTags,
		SendViaSMS:      p.SendViaSMS,
		SendViaPush:     p.SendViaPush,
		SendViaEmail:    p.SendViaEmail,
	}

	return s.scheduledRepo.Create(ctx, m)
}

// Cancel moves a scheduled message to cancelled. Only unclaimed messages can
// be cancelled; the repository enforces the scheduled-only guard.
func (s *MessageService) Cancel(ctx context.Context, id int64) error {
	return s.scheduledRepo.Cancel(ctx, id)
}

func (s *MessageService) Get(ctx context.Context, id int64) (*model.ScheduledMessage, error) {
	return s.scheduledRepo.GetByID(ctx, id)
}

func (s *MessageService) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	return s.messageRepo.List(ctx, f)
}

func (s *MessageService) History(ctx context.Context, f model.MessageFilter) ([]*model.MessageWithDeliveries, int64, error) {
	return s.messageRepo.ListWithDeliveries(ctx, f)
}
