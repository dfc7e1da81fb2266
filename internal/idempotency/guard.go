package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/advaic/reply-gateway/pkg/redis"
	"github.com/google/uuid"
)

var (
	ErrAlreadySent = errors.New("message already sent")
	ErrInProgress  = errors.New("send already in progress")
)

type Config struct {
	// LockTTL bounds how long a crashed sender can block a message.
	LockTTL time.Duration

	ProcessedTTL time.Duration

	LockKeyPrefix string

	ProcessedKeyPrefix string
}

func DefaultConfig() Config {
	return Config{
		LockTTL:            2 * time.Minute,
		ProcessedTTL:       72 * time.Hour,
		LockKeyPrefix:      "send:lock:",
		ProcessedKeyPrefix: "send:done:",
	}
}

// Guard keeps one send attempt per message in flight and remembers completed
// sends. The dispatcher outcome stays authoritative; the guard only turns
// obvious duplicates away before they reach it.
type Guard struct {
	redis  redis.RedisAdapter
	config Config
}

func NewGuard(redisAdapter redis.RedisAdapter, config Config) *Guard {
	return &Guard{
		redis:  redisAdapter,
		config: config,
	}
}

// Ticket is proof of holding the send lock for one message.
type Ticket struct {
	Key      string
	token    []byte
	released bool
}

func (g *Guard) Acquire(ctx context.Context, key string) (*Ticket, error) {
	done, err := g.IsDone(ctx, key)
	if err != nil {
		// a duplicate is still caught by the row claim and the dispatcher
		logger.Warn("failed to check processed marker", "key", key, "error", err)
	} else if done {
		return nil, ErrAlreadySent
	}

	token := []byte(uuid.NewString())
	acquired, err := g.redis.SetNX(ctx, g.config.LockKeyPrefix+key, token, g.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire send lock: %w", err)
	}
	if !acquired {
		logger.Info("send lock held by another attempt", "key", key)
		return nil, ErrInProgress
	}

	logger.Debug("send lock acquired", "key", key, "lock_ttl", g.config.LockTTL)
	return &Ticket{Key: key, token: token}, nil
}

// MarkSent records the completed send and drops the lock.
func (g *Guard) MarkSent(ctx context.Context, t *Ticket) error {
	if t == nil {
		return nil
	}
	if err := g.redis.Set(ctx, g.config.ProcessedKeyPrefix+t.Key, []byte("1"), g.config.ProcessedTTL); err != nil {
		logger.Error("failed to set processed marker", "key", t.Key, "error", err)
		return fmt.Errorf("mark sent: %w", err)
	}
	return g.Release(ctx, t)
}

// Release drops the lock so the message can be retried. Locks already taken
// over by another attempt after expiry are left alone.
func (g *Guard) Release(ctx context.Context, t *Ticket) error {
	if t == nil || t.released {
		return nil
	}
	if _, err := g.redis.DelIfEqual(ctx, g.config.LockKeyPrefix+t.Key, t.token); err != nil {
		logger.Warn("failed to release send lock", "key", t.Key, "error", err)
		return err
	}
	t.released = true
	return nil
}

func (g *Guard) IsDone(ctx context.Context, key string) (bool, error) {
	exists, err := g.redis.Exist(ctx, g.config.ProcessedKeyPrefix+key)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// MarkDone sets the processed marker without a lock, for consumers that are
// already serialized by their queue.
func (g *Guard) MarkDone(ctx context.Context, key string) error {
	return g.redis.Set(ctx, g.config.ProcessedKeyPrefix+key, []byte("1"), g.config.ProcessedTTL)
}
