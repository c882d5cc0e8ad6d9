package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gateway "github.com/unveilhq/guest-messenger/internal/gateways"
	"github.com/unveilhq/guest-messenger/internal/model"
	"github.com/unveilhq/guest-messenger/pkg/logger"
	"github.com/unveilhq/guest-messenger/pkg/prom"
)

type ScheduledRepository interface {
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]*model.ScheduledMessage, error)
	FindDue(ctx context.Context, limit int, now time.Time) ([]*model.ScheduledMessage, error)
	Finalize(ctx context.Context, id int64, p model.FinalizeParams) (bool, error)
	RequeueStale(ctx context.Context, olderThan time.Time) (int64, error)
}

type MessageWriter interface {
	Create(ctx context.Context, msg *model.Message) (*model.Message, error)
}

type DeliveryLedger interface {
	Upsert(ctx context.Context, p model.DeliveryUpsert) (*model.Delivery, error)
	UpdateSMSStatus(ctx context.Context, messageID, guestID int64, status model.ChannelStatus) error
}

type RecipientResolver interface {
	Resolve(ctx context.Context, c model.ResolveCriteria) ([]*model.Recipient, error)
}

type SMSSender interface {
	SendBulk(ctx context.Context, messageID string, items []gateway.BulkItem) *gateway.BulkResult
}

// StatusWouldProcess marks a dry-run detail row: the message would have been
// claimed by a real tick. Report-only, never persisted.
const StatusWouldProcess = model.ScheduledStatus("would_process")

// RunOptions controls one processing tick.
type RunOptions struct {
	Limit  int
	Now    time.Time // zero means wall clock
	DryRun bool
}

// MessageResult is the per-message line of a tick report.
type MessageResult struct {
	MessageID  int64                 `json:"messageId"`
	Status     model.ScheduledStatus `json:"status"`
	Recipients int                   `json:"recipientCount"`
	SMSSent    int                   `json:"smsSent"`
	SMSFailed  int                   `json:"smsFailed"`
	Error      string                `json:"error,omitempty"`
}

// RunReport aggregates one tick. Successful counts messages that reached
// sent; Failed counts failed and partially_failed.
type RunReport struct {
	TotalProcessed int             `json:"totalProcessed"`
	Successful     int             `json:"successful"`
	Failed         int             `json:"failed"`
	Requeued       int64           `json:"requeued"`
	IsDryRun       bool            `json:"isDryRun"`
	Details        []MessageResult `json:"details"`
}

// ScheduledProcessor drains due scheduled messages: claim, resolve, record,
// dispatch, finalize. One message failing never aborts the tick.
type ScheduledProcessor struct {
	scheduledRepo ScheduledRepository
	messageRepo   MessageWriter
	deliveryRepo  DeliveryLedger
	resolver      RecipientResolver
	sms           SMSSender
	lease         *LeaseService // optional; nil disables the redis layer
	staleAfter    time.Duration
	metrics       *ServiceMetrics
}

func NewScheduledProcessor(
	scheduledRepo ScheduledRepository,
	messageRepo MessageWriter,
	deliveryRepo DeliveryLedger,
	resolver RecipientResolver,
	sms SMSSender,
	lease *LeaseService,
	staleAfter time.Duration,
) *ScheduledProcessor {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &ScheduledProcessor{
		scheduledRepo: scheduledRepo,
		messageRepo:   messageRepo,
		deliveryRepo:  deliveryRepo,
		resolver:      resolver,
		sms:           sms,
		lease:         lease,
		staleAfter:    staleAfter,
		metrics:       NewServiceMetrics(),
	}
}

func (p *ScheduledProcessor) Metrics() *ServiceMetrics {
	return p.metrics
}

// Run executes one tick. A claim error is fatal (nothing was dispatched);
// everything after the claim degrades to per-message failure entries.
func (p *ScheduledProcessor) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	started := time.Now()
	defer func() {
		prom.ObserveTickDuration(time.Since(started).Seconds())
	}()

	if opts.DryRun {
		return p.dryRun(ctx, opts.Limit, now)
	}

	report := &RunReport{Details: []MessageResult{}}

	requeued, err := p.scheduledRepo.RequeueStale(ctx, now.Add(-p.staleAfter))
	if err != nil {
		logger.Warn("Failed to requeue stale claims", "error", err)
	} else if requeued > 0 {
		logger.Info("Requeued stale claims", "count", requeued)
	}
	report.Requeued = requeued

	claimed, err := p.scheduledRepo.ClaimDue(ctx, opts.Limit, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due messages: %w", err)
	}

	logger.Info("Processing tick started", "claimed", len(claimed), "now", now)

	for _, msg := range claimed {
		result := p.processOne(ctx, msg, now)
		report.Details = append(report.Details, result)
		report.TotalProcessed++

		switch result.Status {
		case model.ScheduledStatusSent:
			report.Successful++
		case model.ScheduledStatusFailed, model.ScheduledStatusPartiallyFailed:
			report.Failed++
		}
	}

	logger.Info("Processing tick finished",
		"total", report.TotalProcessed,
		"successful", report.Successful,
		"failed", report.Failed)

	return report, nil
}

// processOne walks a single claimed message to a terminal state. All failure
// paths finalize the row so it never sticks in sending.
func (p *ScheduledProcessor) processOne(ctx context.Context, msg *model.ScheduledMessage, now time.Time) MessageResult {
	started := time.Now()
	result := MessageResult{MessageID: msg.ID}

	lease, skip := p.acquireLease(ctx, msg.ID)
	if skip {
		// Another process owns the message or already finished it; leave the
		// row for stale requeue to sort out.
		result.Status = msg.Status
		result.Error = "dispatch lock unavailable"
		return result
	}
	if lease != nil {
		defer p.lease.Release(ctx, lease)
	}

	recipients, err := p.resolver.Resolve(ctx, msg.Criteria())
	if err != nil {
		logger.Error("Failed to resolve recipients", "scheduled_id", msg.ID, "error", err)
		return p.finalize(result, func() (bool, error) {
			return p.scheduledRepo.Finalize(ctx, msg.ID, failedParams("failed to resolve recipients"))
		}, model.ScheduledStatusFailed, "failed to resolve recipients", started, lease, ctx)
	}
	result.Recipients = len(recipients)

	if len(recipients) == 0 {
		if msg.ExpectsRecipients() {
			// Explicit ids or tags that matched nobody is an authoring error.
			return p.finalize(result, func() (bool, error) {
				return p.scheduledRepo.Finalize(ctx, msg.ID, failedParams("no eligible recipients"))
			}, model.ScheduledStatusFailed, "no eligible recipients", started, lease, ctx)
		}
		// An all-guests blast over an empty guest list is a no-op success.
		sentAt := now
		return p.finalize(result, func() (bool, error) {
			return p.scheduledRepo.Finalize(ctx, msg.ID, model.FinalizeParams{
				Status: model.ScheduledStatusSent,
				SentAt: &sentAt,
			})
		}, model.ScheduledStatusSent, "", started, lease, ctx)
	}

	created, err := p.messageRepo.Create(ctx, &model.Message{
		EventID:            msg.EventID,
		SenderUserID:       msg.SenderUserID,
		Content:            msg.Content,
		MessageType:        msg.MessageType,
		ScheduledMessageID: &msg.ID,
	})
	if err != nil {
		logger.Error("Failed to create message record", "scheduled_id", msg.ID, "error", err)
		return p.finalize(result, func() (bool, error) {
			return p.scheduledRepo.Finalize(ctx, msg.ID, failedParams("failed to create message record"))
		}, model.ScheduledStatusFailed, "failed to create message record", started, lease, ctx)
	}

	batch, ledgerFailures := p.writeLedger(ctx, msg, created.ID, recipients)

	smsSent, smsFailed := 0, ledgerFailures
	if len(batch) > 0 {
		bulk := p.sms.SendBulk(ctx, strconv.FormatInt(created.ID, 10), batch)
		smsSent = bulk.Sent
		smsFailed += bulk.Failed

		for _, r := range bulk.Results {
			status := model.ChannelSent
			if r.Err != nil {
				status = model.ChannelFailed
			}
			if err := p.deliveryRepo.UpdateSMSStatus(ctx, created.ID, r.GuestID, status); err != nil {
				logger.Warn("Failed to record SMS outcome", "message_id", created.ID, "guest_id", r.GuestID, "error", err)
			}
		}
	}
	result.SMSSent = smsSent
	result.SMSFailed = smsFailed

	status := model.ScheduledStatusSent
	var reason *string
	switch {
	case smsFailed == 0:
		status = model.ScheduledStatusSent
	case smsSent > 0:
		status = model.ScheduledStatusPartiallyFailed
		reason = strPtr(fmt.Sprintf("%d delivery failures", smsFailed))
	default:
		status = model.ScheduledStatusFailed
		reason = strPtr(fmt.Sprintf("%d delivery failures", smsFailed))
	}

	params := model.FinalizeParams{
		Status:         status,
		RecipientCount: len(recipients),
		FailureReason:  reason,
	}
	if status != model.ScheduledStatusFailed {
		sentAt := now
		params.SentAt = &sentAt
	}

	errText := ""
	if reason != nil {
		errText = *reason
	}
	return p.finalize(result, func() (bool, error) {
		return p.scheduledRepo.Finalize(ctx, msg.ID, params)
	}, status, errText, started, lease, ctx)
}

// writeLedger upserts one delivery row per recipient and returns the SMS
// batch for those who can actually receive one. A recipient whose ledger row
// cannot be written is counted as failed and kept out of the batch.
func (p *ScheduledProcessor) writeLedger(ctx context.Context, msg *model.ScheduledMessage, messageID int64, recipients []*model.Recipient) ([]gateway.BulkItem, int) {
	var batch []gateway.BulkItem
	failures := 0

	for _, r := range recipients {
		wantsSMS := msg.SendViaSMS && r.CanReceiveSMS

		upsert := model.DeliveryUpsert{
			MessageID:   messageID,
			GuestID:     r.GuestID,
			UserID:      r.UserID,
			Phone:       r.Phone,
			SMSStatus:   model.ChannelNotApplicable,
			PushStatus:  channelFlag(msg.SendViaPush),
			EmailStatus: channelFlag(msg.SendViaEmail),
		}
		if wantsSMS {
			upsert.SMSStatus = model.ChannelPending
		}

		if _, err := p.deliveryRepo.Upsert(ctx, upsert); err != nil {
			logger.Error("Failed to upsert delivery row", "message_id", messageID, "guest_id", r.GuestID, "error", err)
			failures++
			continue
		}

		if wantsSMS {
			batch = append(batch, gateway.BulkItem{
				To:          r.Phone,
				Message:     msg.Content,
				EventID:     msg.EventID,
				GuestID:     r.GuestID,
				MessageType: string(msg.MessageType),
			})
		}
	}

	return batch, failures
}

func (p *ScheduledProcessor) dryRun(ctx context.Context, limit int, now time.Time) (*RunReport, error) {
	due, err := p.scheduledRepo.FindDue(ctx, limit, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find due messages: %w", err)
	}

	report := &RunReport{IsDryRun: true, Details: []MessageResult{}}
	for _, msg := range due {
		result := MessageResult{MessageID: msg.ID, Status: StatusWouldProcess}

		recipients, err := p.resolver.Resolve(ctx, msg.Criteria())
		if err != nil {
			result.Error = "failed to resolve recipients"
		} else {
			result.Recipients = len(recipients)
		}

		report.Details = append(report.Details, result)
		report.TotalProcessed++
	}

	logger.Info("Dry run finished", "due", report.TotalProcessed)
	return report, nil
}

func (p *ScheduledProcessor) acquireLease(ctx context.Context, id int64) (*Lease, bool) {
	if p.lease == nil {
		return nil, false
	}

	lease, err := p.lease.Acquire(ctx, strconv.FormatInt(id, 10))
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) || errors.Is(err, ErrLockAcquireFailed) {
			return nil, true
		}
		// Redis being down must not stall dispatch; the database claim
		// already guarantees single ownership.
		logger.Warn("Lease unavailable, continuing without it", "scheduled_id", id, "error", err)
		return nil, false
	}
	return lease, false
}

func (p *ScheduledProcessor) finalize(result MessageResult, fn func() (bool, error), status model.ScheduledStatus, errText string, started time.Time, lease *Lease, ctx context.Context) MessageResult {
	ok, err := fn()
	if err != nil {
		logger.Error("Failed to finalize scheduled message", "scheduled_id", result.MessageID, "error", err)
		result.Status = model.ScheduledStatusSending
		result.Error = "failed to finalize: " + err.Error()
		p.metrics.RecordFailure()
		return result
	}
	if !ok {
		logger.Warn("Finalize guard did not match, row already finalized elsewhere", "scheduled_id", result.MessageID)
	}

	result.Status = status
	result.Error = errText

	prom.IncScheduledProcessed(string(status))
	if status == model.ScheduledStatusSent {
		p.metrics.RecordSuccess(time.Since(started))
	} else {
		p.metrics.RecordFailure()
	}

	if lease != nil {
		if err := p.lease.MarkProcessed(ctx, lease); err != nil {
			logger.Warn("Failed to mark lease processed", "scheduled_id", result.MessageID, "error", err)
		}
	}

	return result
}

func failedParams(reason string) model.FinalizeParams {
	return model.FinalizeParams{
		Status:        model.ScheduledStatusFailed,
		FailureReason: strPtr(reason),
	}
}

func channelFlag(enabled bool) model.ChannelStatus {
	if enabled {
		return model.ChannelPending
	}
	return model.ChannelNotApplicable
}

func strPtr(s string) *string { return &s }
