package processor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gateway "github.com/unveilhq/guest-messenger/internal/gateways"
	"github.com/unveilhq/guest-messenger/internal/model"
	"github.com/unveilhq/guest-messenger/internal/repository"
	"github.com/unveilhq/guest-messenger/internal/services"
	"github.com/unveilhq/guest-messenger/pkg/pg"
	"github.com/unveilhq/guest-messenger/test/helpers"
)

// stubSMS fakes the provider fan-out: numbers in fail are rejected, the rest
// are delivered. Batches are recorded for inspection.
type stubSMS struct {
	mu      sync.Mutex
	fail    map[string]bool
	batches [][]gateway.BulkItem
}

func (s *stubSMS) SendBulk(ctx context.Context, messageID string, items []gateway.BulkItem) *gateway.BulkResult {
	s.mu.Lock()
	s.batches = append(s.batches, items)
	s.mu.Unlock()

	result := &gateway.BulkResult{Results: make([]gateway.BulkItemResult, len(items))}
	for i, item := range items {
		r := gateway.BulkItemResult{GuestID: item.GuestID, To: item.To, Status: gateway.StatusDelivered}
		if s.fail[item.To] {
			r.Status = gateway.StatusFailed
			r.Err = errors.New("provider rejected message")
			result.Failed++
		} else {
			result.Sent++
		}
		result.Results[i] = r
	}
	return result
}

func (s *stubSMS) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type fixture struct {
	db            *pg.DB
	scheduledRepo *repository.ScheduledMessageRepository
	messageRepo   *repository.MessageRepository
	deliveryRepo  *repository.DeliveryRepository
	sms           *stubSMS
	proc          *ScheduledProcessor
}

func newFixture(t *testing.T, failNumbers ...string) *fixture {
	t.Helper()

	db := helpers.SetupTestDB(t)
	sms := &stubSMS{fail: map[string]bool{}}
	for _, n := range failNumbers {
		sms.fail[n] = true
	}

	f := &fixture{
		db:            db,
		scheduledRepo: repository.NewScheduledMessageRepository(db),
		messageRepo:   repository.NewMessageRepository(db),
		deliveryRepo:  repository.NewDeliveryRepository(db),
		sms:           sms,
	}
	f.proc = NewScheduledProcessor(
		f.scheduledRepo,
		f.messageRepo,
		f.deliveryRepo,
		services.NewRecipientService(repository.NewGuestRepository(db)),
		sms,
		nil,
		10*time.Minute,
	)
	return f
}

func (f *fixture) addGuest(t *testing.T, g *model.Guest) *model.Guest {
	t.Helper()
	return helpers.CreateTestGuest(t, f.db, g)
}

func (f *fixture) addScheduled(t *testing.T, m *model.ScheduledMessage) *model.ScheduledMessage {
	t.Helper()
	return helpers.CreateTestScheduled(t, f.db, m)
}

func dueAnnouncement(sendAt time.Time) *model.ScheduledMessage {
	return &model.ScheduledMessage{
		EventID:         10,
		SenderUserID:    7,
		Content:         "Ceremony starts in one hour",
		MessageType:     model.MessageTypeAnnouncement,
		SendAt:          sendAt,
		Status:          model.ScheduledStatusScheduled,
		TargetAllGuests: true,
		SendViaSMS:      true,
	}
}

func TestRun_HappyPath(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC)

	f.addGuest(t, &model.Guest{EventID: 10, GuestName: "Alice", Phone: "+15550000001", RSVPStatus: model.RSVPAttending})
	f.addGuest(t, &model.Guest{EventID: 10, GuestName: "Bob", Phone: "+15550000002", RSVPStatus: model.RSVPAttending})
	scheduled := f.addScheduled(t, dueAnnouncement(now.Add(-time.Minute)))

	report, err := f.proc.Run(context.Background(), RunOptions{Now: now})
	require.NoError(t, err)

	assert.Equal(t, 1, report.TotalProcessed)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Details, 1)
	assert.Equal(t, model.ScheduledStatusSent, report.Details[0].Status)
	assert.Equal(t, 2, report.Details[0].Recipients)
	assert.Equal(t, 2, report.Details[0].SMSSent)

	got, err := f.scheduledRepo.GetByID(context.Background(), scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduledStatusSent, got.Status)
	assert.Equal(t, 2, got.RecipientCount)
	require.NotNil(t, got.SentAt)

	messages, _, err := f.messageRepo.List(context.Background(), model.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.NotNil(t, messages[0].ScheduledMessageID)
	assert.Equal(t, scheduled.ID, *messages[0].ScheduledMessageID)

	deliveries, err := f.deliveryRepo.ListByMessage(context.Background(), messages[0].ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	for _, d := range deliveries {
		assert.Equal(t, model.ChannelSent, d.SMSStatus)
		assert.Equal(t, model.ChannelNotApplicable, d.PushStatus)
	}
}

func TestRun_PartialFailure(t *testing.T) {
	f := newFixture(t, "+15550000002")
	now := time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC)

	a := f.addGuest(t, &model.Guest{EventID: 10, GuestName: "Alice", Phone: "+15550000001", RSVPStatus: model.RSVPAttending})
	b := f.addGuest(t, &model.Guest{EventID: 10, GuestName: "Bob", Phone: "+15550000002", RSVPStatus: model.RSVPAttending})
	scheduled := f.addScheduled(t, dueAnnouncement(now.Add(-time.Minute)))

	report, err := f.proc.Run(context.Background(), RunOptions{Now: now})
	require.NoError(t, err)

	assert.Equal(t, 1, report.TotalProcessed)
	assert.Equal(t, 0, report.Successful)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, model.ScheduledStatusPartiallyFailed, report.Details[0].Status)

	got, err := f.scheduledRepo.GetByID(context.Background(), scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduledStatusPartiallyFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "1 delivery failures", *got.FailureReason)
	require.NotNil(t, got.SentAt)

	messages, _, err := f.messageRepo.List(context.Background(), model.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, messages, 1)

	okDelivery, err := f.deliveryRepo.Get(context.Background(), messages[0].ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChannelSent, okDelivery.SMSStatus)

	badDelivery, err := f.deliveryRepo.Get(context.Background(), messages[0].ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChannelFailed, badDelivery.SMSStatus)
}

func TestRun_AllDeliveriesFail(t *testing.T) {
	f := newFixture(t, "+15550000001", "+15550000002")
	now := time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC)

	f.addGuest(t, &model.Guest{EventID: 10, GuestName: "Alice", Phone: "+15550000001", RSVPStatus: model.RSVPAttending})
	f.addGuest(t, &model.Guest{EventID: 10, GuestName: "Bob", Phone: "+15550000002", RSVPStatus: model.RSVPAttending})
	scheduled := f.addScheduled(t, dueAnnouncement(now.Add(-time.Minute)))

	report, err := f.proc.Run(context.Background(), RunOptions{Now: now})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	got, err := f.scheduledRepo.GetByID(context.Background(), scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduledStatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "2 delivery failures", *got.FailureReason)
	assert.Nil(t, got.SentAt)
}

func TestRun_TargetedAudienceWithNoMatches(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC)

	f.addGuest(t, &model.Guest{EventID: 10, GuestName: "Alice", Phone: "+15550000001", RSVPStatus: model.RSVPAttending})

	msg := dueAnnouncement(now.Add(-time.Minute))
	msg.TargetAllGuests = false
	msg.TargetGuestTags = []string{"vendors"}
	scheduled := f.addScheduled(t, msg)

	report, err := f.proc.Run(context.Background(), RunOptions{Now: now})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	got, err := f.scheduledRepo.GetByID(context.Background(), scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduledStatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "no eligible recipients", *got.FailureReason)

	// No message row is materialized for an audience that resolved to nobody.
	messages, _, err := f.messageRepo.List(context.Background(), model.MessageFilter{})
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRun_AllGuestsWithEmptyListIsNoOpSuccess(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC)

	scheduled := f.addScheduled(t, dueAnnouncement(now.Add(-time.Minute)))

	report, err := f.proc.Run(context.Background(), RunOptions{Now: now})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successful)

	got, err := f.scheduledRepo.GetByID(context.Background(), scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduledStatusSent, got.Status)
	assert.Equal(t, 0, got.RecipientCount)
	require.NotNil(t, got.SentAt)
	assert.Zero(t, f.sms.batchCount())
}

func TestRun_OptedOutGuestSkipsSMSButKeepsLedgerRow(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC)

	f.addGuest(t, &model.Guest{EventID: 10, GuestName: "Alice", Phone: "+15550000001", RSVPStatus: model.RSVPAttending})
	optedOut := f.addGuest(t, &model.Guest{EventID: 10, GuestName: "Bob", Phone: "+15550000002", RSVPStatus: model.RSVPAttending, SMSOptOut: true})
	f.addScheduled(t, dueAnnouncement(now.Add(-time.Minute)))

	report, err := f.proc.Run(context.Background(), RunOptions{Now: now})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 2, report.Details[0].Recipients)
	assert.Equal(t, 1, report.Details[0].SMSSent)

	messages, _, err := f.messageRepo.List(context.Background(), model.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, messages, 1)

	d, err := f.deliveryRepo.Get(context.Background(), messages[0].ID, optedOut.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChannelNotApplicable, d.SMSStatus)

	require.Len(t, f.sms.batches, 1)
	require.Len(t, f.sms.batches[0], 1)
	assert.Equal(t, "+15550000001", f.sms.batches[0][0].To)
}

func TestRun_DryRunHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC)

	f.addGuest(t, &model.Guest{EventID: 10, GuestName: "Alice", Phone: "+15550000001", RSVPStatus: model.RSVPAttending})
	scheduled := f.addScheduled(t, dueAnnouncement(now.Add(-time.Minute)))

	report, err := f.proc.Run(context.Background(), RunOptions{Now: now, DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.IsDryRun)
	assert.Equal(t, 1, report.TotalProcessed)
	require.Len(t, report.Details, 1)
	assert.Equal(t, StatusWouldProcess, report.Details[0].Status)
	assert.Equal(t, 1, report.Details[0].Recipients)

	got, err := f.scheduledRepo.GetByID(context.Background(), scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduledStatusScheduled, got.Status)

	messages, _, err := f.messageRepo.List(context.Background(), model.MessageFilter{})
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Zero(t, f.sms.batchCount())
}

func TestRun_FutureMessagesNotClaimed(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC)

	f.addGuest(t, &model.Guest{EventID: 10, GuestName: "Alice", Phone: "+15550000001", RSVPStatus: model.RSVPAttending})
	f.addScheduled(t, dueAnnouncement(now.Add(time.Hour)))

	report, err := f.proc.Run(context.Background(), RunOptions{Now: now})
	require.NoError(t, err)
	assert.Zero(t, report.TotalProcessed)
}

func TestRun_LeaseSkipsLockedMessage(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	leaseSvc := NewLeaseService(adapter, DefaultLeaseConfig())

	f := newFixture(t)
	f.proc.lease = leaseSvc

	now := time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC)
	f.addGuest(t, &model.Guest{EventID: 10, GuestName: "Alice", Phone: "+15550000001", RSVPStatus: model.RSVPAttending})
	scheduled := f.addScheduled(t, dueAnnouncement(now.Add(-time.Minute)))

	// Another process holds the dispatch lock.
	held, err := leaseSvc.Acquire(context.Background(), strconv.FormatInt(scheduled.ID, 10))
	require.NoError(t, err)
	require.NotNil(t, held)

	report, err := f.proc.Run(context.Background(), RunOptions{Now: now})
	require.NoError(t, err)

	assert.Equal(t, 1, report.TotalProcessed)
	assert.Zero(t, report.Successful)
	assert.Zero(t, report.Failed)
	assert.Zero(t, f.sms.batchCount())

	// The row stays in sending for stale requeue to recover later.
	got, err := f.scheduledRepo.GetByID(context.Background(), scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduledStatusSending, got.Status)
}
