package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLocker_SerializesHolders(t *testing.T) {
	l := NewLocalLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "u1", time.Second)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Errorf("expected at most one holder, saw %d", maxInside)
	}
}

func TestLocalLocker_KeysAreIndependent(t *testing.T) {
	l := NewLocalLocker()
	r1, err := l.Acquire(context.Background(), "a", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer r1()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r2, err := l.Acquire(ctx, "b", time.Second)
	if err != nil {
		t.Fatalf("expected independent key to be free: %v", err)
	}
	r2()
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	l := NewLocalLocker()
	release, _ := l.Acquire(context.Background(), "u1", time.Minute)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "u1", time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired, got %v", err)
	}
}

func TestLocalLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	l := NewLocalLocker()
	stale, _ := l.Acquire(context.Background(), "u1", 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, err := l.Acquire(ctx, "u1", time.Minute)
	if err != nil {
		t.Fatalf("expected takeover after ttl: %v", err)
	}
	stale()

	short, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if _, err := l.Acquire(short, "u1", time.Minute); err == nil {
		t.Error("stale release must not free the new holder's lease")
	}
	release()
}

func TestLocalDeduper(t *testing.T) {
	d := NewLocalDeduper()
	now := time.Now()
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if seen, _ := d.Seen(ctx, "m1"); seen {
		t.Error("expected unseen id")
	}
	_ = d.Mark(ctx, "m1", time.Minute)
	if seen, _ := d.Seen(ctx, "m1"); !seen {
		t.Error("expected id to be remembered")
	}
	now = now.Add(2 * time.Minute)
	if seen, _ := d.Seen(ctx, "m1"); seen {
		t.Error("expected id to expire")
	}
}
