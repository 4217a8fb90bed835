// Package lock serializes conversation turns per user and remembers processed
// inbound message ids. Redis backs both when available; otherwise an in-process
// implementation is used, which is only correct for a single replica.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock could not be taken before ctx ended.
var ErrNotAcquired = errors.New("lock: not acquired")

const retryInterval = 25 * time.Millisecond

// Locker hands out mutually exclusive leases on keys.
type Locker interface {
	// Acquire blocks until the lease on key is held or ctx is done. The lease
	// expires after ttl even if release is never called.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Deduper remembers message ids that were fully processed.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string, ttl time.Duration) error
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker builds a locker whose keys are namespaced by prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	full := l.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(ctx, l.client, []string{full}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrNotAcquired
		case <-ticker.C:
		}
	}
}

// RedisDeduper implements Deduper with expiring keys.
type RedisDeduper struct {
	client *redis.Client
	prefix string
}

// NewRedisDeduper builds a deduper whose keys are namespaced by prefix.
func NewRedisDeduper(client *redis.Client, prefix string) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: prefix}
}

func (d *RedisDeduper) Seen(ctx context.Context, id string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, id string, ttl time.Duration) error {
	return d.client.Set(ctx, d.prefix+id, 1, ttl).Err()
}

// LocalLocker implements Locker in memory.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch      chan struct{}
	expires time.Time
}

// NewLocalLocker builds an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: map[string]*slot{}}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		l.mu.Lock()
		s, held := l.slots[key]
		if held && time.Now().After(s.expires) {
			// Lease outlived its ttl; take it over.
			close(s.ch)
			delete(l.slots, key)
			held = false
		}
		if !held {
			next := &slot{ch: make(chan struct{}), expires: time.Now().Add(ttl)}
			l.slots[key] = next
			l.mu.Unlock()
			return l.releaser(key, next), nil
		}
		wait := s.ch
		remaining := time.Until(s.expires)
		l.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrNotAcquired
		case <-wait:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (l *LocalLocker) releaser(key string, mine *slot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.slots[key]; ok && cur == mine {
				close(cur.ch)
				delete(l.slots, key)
			}
		})
	}
}

// LocalDeduper implements Deduper in memory.
type LocalDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewLocalDeduper builds an in-process deduper.
func NewLocalDeduper() *LocalDeduper {
	return &LocalDeduper{seen: map[string]time.Time{}, now: time.Now}
}

func (d *LocalDeduper) Seen(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.seen[id]
	if !ok {
		return false, nil
	}
	if d.now().After(exp) {
		delete(d.seen, id)
		return false, nil
	}
	return true, nil
}

func (d *LocalDeduper) Mark(ctx context.Context, id string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
	d.seen[id] = now.Add(ttl)
	return nil
}
