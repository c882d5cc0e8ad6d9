package repository

import (
	"context"
	"errors"
	"time"

	"github.com/unveilhq/guest-messenger/internal/model"
	"github.com/unveilhq/guest-messenger/pkg/pg"
)

var (
	// ErrGuestNotFound is returned when a guest does not exist or was removed.
	ErrGuestNotFound = errors.New("guest not found")
)

type GuestRepository struct {
	*pg.DB
}

func NewGuestRepository(db *pg.DB) *GuestRepository {
	return &GuestRepository{
		db,
	}
}

func (r *GuestRepository) Create(ctx context.Context, g *model.Guest) (*model.Guest, error) {
	entity := toGuestEntity(g)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toGuestModel(entity), nil
}

// ListEligible returns the resolver's base set: all non-removed guests of the
// event with a non-empty phone number. Tag, RSVP and id narrowing happen in
// the resolver, not here.
func (r *GuestRepository) ListEligible(ctx context.Context, eventID int64) ([]*model.Guest, error) {
	var entities []*GuestEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("event_id = ? AND removed_at IS NULL AND phone <> ''", eventID).
		Order("guest_name ASC, id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toGuestModels(entities), nil
}

// Remove soft-deletes a guest; removed guests are excluded from resolution
// and display everywhere.
func (r *GuestRepository) Remove(ctx context.Context, id int64, now time.Time) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&GuestEntity{}).
		Where("id = ? AND removed_at IS NULL", id).
		Update("removed_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrGuestNotFound
	}
	return nil
}
