package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unveilhq/guest-messenger/pkg/logger"
	"github.com/unveilhq/guest-messenger/pkg/redis"
)

var (
	ErrAlreadyProcessed  = errors.New("message already processed")
	ErrLockAcquireFailed = errors.New("failed to acquire processing lock")
)

// LeaseConfig tunes the redis layer of dispatch idempotency. The database
// claim is the authority; the lease is a second line that keeps overlapping
// cron ticks from double-sending a message whose claim went stale.
type LeaseConfig struct {
	LockTTL time.Duration

	ProcessedTTL time.Duration

	LockKeyPrefix string

	ProcessedKeyPrefix string
}

func DefaultLeaseConfig() LeaseConfig {
	return LeaseConfig{
		LockTTL:            2 * time.Minute,
		ProcessedTTL:       24 * time.Hour,
		LockKeyPrefix:      "dispatch:lock:",
		ProcessedKeyPrefix: "dispatch:done:",
	}
}

type LeaseService struct {
	redis  redis.RedisAdapter
	config LeaseConfig
}

func NewLeaseService(redisAdapter redis.RedisAdapter, config LeaseConfig) *LeaseService {
	return &LeaseService{
		redis:  redisAdapter,
		config: config,
	}
}

// Lease is a held per-message dispatch lock.
type Lease struct {
	MessageID    string
	lockAcquired bool
	service      *LeaseService
}

// Acquire takes the per-message dispatch lock. Returns ErrAlreadyProcessed
// when the long-term marker says a previous tick finished this message, and
// ErrLockAcquireFailed when another process holds the lock right now.
func (s *LeaseService) Acquire(ctx context.Context, messageID string) (*Lease, error) {
	processedKey := s.config.ProcessedKeyPrefix + messageID
	exists, err := s.redis.Exist(processedKey)
	if err != nil {
		logger.Warn("Failed to check processed marker", "message_id", messageID, "error", err)
		// Continue even if the check fails - the database claim still guards us
	} else if exists > 0 {
		logger.Info("Message already dispatched, skipping", "message_id", messageID)
		return nil, ErrAlreadyProcessed
	}

	lockKey := s.config.LockKeyPrefix + messageID
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		logger.Error("Failed to acquire dispatch lock", "message_id", messageID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}

	if !acquired {
		logger.Info("Dispatch lock held by another process", "message_id", messageID)
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("Dispatch lock acquired", "message_id", messageID, "lock_ttl", s.config.LockTTL)

	return &Lease{
		MessageID:    messageID,
		lockAcquired: true,
		service:      s,
	}, nil
}

// MarkProcessed sets the long-term marker and drops the lock. Call once the
// message reached a terminal state.
func (s *LeaseService) MarkProcessed(ctx context.Context, l *Lease) error {
	processedKey := s.config.ProcessedKeyPrefix + l.MessageID
	err := s.redis.Set(processedKey, []byte("1"), s.config.ProcessedTTL)
	if err != nil {
		logger.Error("Failed to set processed marker", "message_id", l.MessageID, "error", err)
		return fmt.Errorf("failed to mark as processed: %w", err)
	}

	s.release(l)
	return nil
}

// Release drops the lock without setting the processed marker, so a later
// tick may retry the message.
func (s *LeaseService) Release(ctx context.Context, l *Lease) error {
	if l == nil || !l.lockAcquired {
		return nil
	}
	s.release(l)
	return nil
}

func (s *LeaseService) release(l *Lease) {
	lockKey := s.config.LockKeyPrefix + l.MessageID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to release dispatch lock", "message_id", l.MessageID, "error", err)
	}
	l.lockAcquired = false
}

func (s *LeaseService) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	processedKey := s.config.ProcessedKeyPrefix + messageID
	exists, err := s.redis.Exist(processedKey)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
