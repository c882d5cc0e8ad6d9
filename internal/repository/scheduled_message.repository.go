package repository

import (
	"context"
	"errors"
	"time"

	"github.com/unveilhq/guest-messenger/internal/model"
	"github.com/unveilhq/guest-messenger/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrScheduledNotFound is returned when a scheduled message does not exist.
	ErrScheduledNotFound = errors.New("scheduled message not found")
	// ErrNotCancellable is returned when cancel races a claim or a terminal
	// state; cancelled is reachable from scheduled only.
	ErrNotCancellable = errors.New("scheduled message is not cancellable")
	// ErrClaimConflict is returned when the claim transaction loses a row to a
	// concurrent claimer; the whole claim is rolled back.
	ErrClaimConflict = errors.New("claim lost rows to a concurrent claimer")
)

const DefaultClaimLimit = 100

type ScheduledMessageRepository struct {
	*pg.DB
}

func NewScheduledMessageRepository(db *pg.DB) *ScheduledMessageRepository {
	return &ScheduledMessageRepository{
		db,
	}
}

func (r *ScheduledMessageRepository) Create(ctx context.Context, m *model.ScheduledMessage) (*model.ScheduledMessage, error) {
	entity := toScheduledMessageEntity(m)
	if entity.Status == "" {
		entity.Status = string(model.ScheduledStatusScheduled)
	}

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toScheduledMessageModel(entity), nil
}

func (r *ScheduledMessageRepository) GetByID(ctx context.Context, id int64) (*model.ScheduledMessage, error) {
	var entity ScheduledMessageEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrScheduledNotFound
	}
	if err != nil {
		return nil, err
	}
	return toScheduledMessageModel(&entity), nil
}

// ClaimDue atomically claims up to limit due messages, oldest send_at first.
// Claimed rows move scheduled -> sending inside one transaction; on postgres
// the select takes row locks with SKIP LOCKED so overlapping ticks never
// claim the same message. Any error rolls the whole claim back.
func (r *ScheduledMessageRepository) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*model.ScheduledMessage, error) {
	if limit <= 0 {
		limit = DefaultClaimLimit
	}

	var claimed []*ScheduledMessageEntity
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		q := r.Write(ctx).WithContext(ctx).
			Where("status = ? AND send_at <= ?", model.ScheduledStatusScheduled, now).
			Order("send_at ASC, id ASC").
			Limit(limit)
		if r.Write(ctx).Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]int64, len(claimed))
		for i, e := range claimed {
			ids[i] = e.ID
		}

		res := r.Write(ctx).WithContext(ctx).
			Model(&ScheduledMessageEntity{}).
			Where("id IN ? AND status = ?", ids, model.ScheduledStatusScheduled).
			Updates(map[string]interface{}{
				"status":     model.ScheduledStatusSending,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return ErrClaimConflict
		}

		for _, e := range claimed {
			e.Status = string(model.ScheduledStatusSending)
			e.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return toScheduledMessageModels(claimed), nil
}

// FindDue is the lock-free read used by dry runs: same selection as ClaimDue
// but with no status change and no locks.
func (r *ScheduledMessageRepository) FindDue(ctx context.Context, limit int, now time.Time) ([]*model.ScheduledMessage, error) {
	if limit <= 0 {
		limit = DefaultClaimLimit
	}

	var entities []*ScheduledMessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("status = ? AND send_at <= ?", model.ScheduledStatusScheduled, now).
		Order("send_at ASC, id ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toScheduledMessageModels(entities), nil
}

// Finalize writes a terminal state for a claimed message. The update is
// guarded on status = sending, so a row already finalized by a racing
// process cannot be overwritten; the bool reports whether the guard matched.
func (r *ScheduledMessageRepository) Finalize(ctx context.Context, id int64, p model.FinalizeParams) (bool, error) {
	updates := map[string]interface{}{
		"status":          p.Status,
		"recipient_count": p.RecipientCount,
		"failure_reason":  p.FailureReason,
		"sent_at":         p.SentAt,
	}

	res := r.Write(ctx).WithContext(ctx).
		Model(&ScheduledMessageEntity{}).
		Where("id = ? AND status = ?", id, model.ScheduledStatusSending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RequeueStale flips sending rows older than the cutoff back to scheduled.
// A process killed mid-tick leaves its claims in sending; this is the
// lease-expiry path that makes them eligible again on a later tick.
func (r *ScheduledMessageRepository) RequeueStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Model(&ScheduledMessageEntity{}).
		Where("status = ? AND updated_at < ?", model.ScheduledStatusSending, olderThan).
		Updates(map[string]interface{}{
			"status":         model.ScheduledStatusScheduled,
			"failure_reason": nil,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// Cancel moves a message to cancelled, allowed from scheduled only.
func (r *ScheduledMessageRepository) Cancel(ctx context.Context, id int64) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&ScheduledMessageEntity{}).
		Where("id = ? AND status = ?", id, model.ScheduledStatusScheduled).
		Update("status", model.ScheduledStatusCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotCancellable
	}
	return nil
}

// CountPending returns how many messages are due and unclaimed, for the
// read-only status diagnostics on the entry point.
func (r *ScheduledMessageRepository) CountPending(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&ScheduledMessageEntity{}).
		Where("status = ? AND send_at <= ?", model.ScheduledStatusScheduled, now).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// PendingSample returns the next few due messages, oldest first.
func (r *ScheduledMessageRepository) PendingSample(ctx context.Context, limit int, now time.Time) ([]*model.ScheduledMessage, error) {
	if limit <= 0 || limit > 20 {
		limit = 5
	}
	return r.FindDue(ctx, limit, now)
}
