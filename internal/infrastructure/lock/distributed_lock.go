package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// Redis distributed lock
// ============================================================================
//
// Two campaign submissions of the same user must not both read "enough
// balance" and both reserve. The ledger store already rejects the loser
// (optimistic version on ledger_account); this lock keeps instances from
// racing in the first place, so the loser waits instead of failing.
//
// Acquire: SET key token NX PX ttl
//   - NX: only one holder at a time
//   - PX: a crashed holder cannot block the user forever
//   - token: checked on release so an expired holder cannot delete the
//     lock that someone else has since acquired
//
// Release: Lua compare-and-delete, atomic on the Redis side.
//
// ============================================================================

var (
	ErrLockFailed = errors.New("failed to acquire distributed lock")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock is a single named lock.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes one non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock until it succeeds, ctx ends or maxRetries is used up.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock deletes the key only if this lock still owns it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// ============================================================================
// Per-user ledger lock
// ============================================================================

type Options struct {
	TTL           time.Duration
	RetryInterval time.Duration
	MaxRetries    int
}

func DefaultOptions() Options {
	return Options{
		TTL:           30 * time.Second,
		RetryInterval: 100 * time.Millisecond,
		MaxRetries:    30,
	}
}

// UserLocker hands out one lock per user. Different users never wait on
// each other; the same user is serialized, which is exactly the isolation
// the ledger needs.
type UserLocker struct {
	client *redis.Client
	opts   Options
}

func NewUserLocker(client *redis.Client, opts Options) *UserLocker {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	return &UserLocker{client: client, opts: opts}
}

func UserLockKey(userID int64) string {
	return fmt.Sprintf("ledger:lock:user:%d", userID)
}

// LockUser blocks until the user's lock is held and returns its release func.
// The release func is detached from ctx so a cancelled request still unlocks.
func (u *UserLocker) LockUser(ctx context.Context, userID int64) (func(), error) {
	l := NewDistributedLock(u.client, UserLockKey(userID), uuid.NewString(), u.opts.TTL)
	if err := l.Lock(ctx, u.opts.RetryInterval, u.opts.MaxRetries); err != nil {
		return nil, err
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		_ = l.Unlock(unlockCtx)
	}, nil
}
