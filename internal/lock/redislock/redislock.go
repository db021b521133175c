// Package redislock serializes ledger operations per account across processes with a
// Redis SET NX PX lease.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix    = "settlement:lock:account:"
	defaultLeaseTTL     = 10 * time.Second
	defaultWaitTimeout  = 3 * time.Second
	defaultPollInterval = 25 * time.Millisecond
	releaseTimeout      = 2 * time.Second

	releaseScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
)

// Client is the subset of the go-redis client used by Locker.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Config tunes lease and wait durations.
type Config struct {
	KeyPrefix    string
	LeaseTTL     time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// Locker implements ledger.AccountLocker.
type Locker struct {
	client Client
	config Config
	logger *zap.Logger
}

// New returns a Locker; zero config fields fall back to defaults.
func New(client Client, config Config, logger *zap.Logger) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redislock: client is nil")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaultLeaseTTL
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = defaultWaitTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{client: client, config: config, logger: logger}, nil
}

// LockAccount blocks until the lease is taken, the wait timeout passes, or ctx ends.
func (locker *Locker) LockAccount(ctx context.Context, userID ledger.UserID) (func(), error) {
	key := locker.config.KeyPrefix + userID.String()
	token := uuid.NewString()
	waitCtx, cancel := context.WithTimeout(ctx, locker.config.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(locker.config.PollInterval)
	defer ticker.Stop()
	for {
		acquired, err := locker.client.SetNX(waitCtx, key, token, locker.config.LeaseTTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: acquire lock: %w", ledger.ErrStorageUnavailable, err)
		}
		if acquired {
			return func() { locker.release(key, token) }, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %s", ledger.ErrAccountBusy, userID.String())
		case <-ticker.C:
		}
	}
}

func (locker *Locker) release(key string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	released, err := locker.client.Eval(ctx, releaseScript, []string{key}, token).Int()
	if err != nil {
		locker.logger.Warn("account lock release failed", zap.String("key", key), zap.Error(err))
		return
	}
	if released == 0 {
		locker.logger.Warn("account lock expired before release", zap.String("key", key))
	}
}
