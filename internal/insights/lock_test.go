package insights

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func TestKeyedMutexExcludesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	unlock, err := k.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	other, err := k.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("different key must not block: %v", err)
	}
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(waitCtx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second holder to wait, got %v", err)
	}

	unlock()
	unlock() // idempotent
	again, err := k.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	again()
	if n := k.size(); n != 0 {
		t.Fatalf("expected entries to be released, got %d", n)
	}
}

type fakeRedis struct {
	setResults []bool
	sets       int
	evalKeys   []string
	evalArgs   []interface{}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd {
	ok := f.setResults[len(f.setResults)-1]
	if f.sets < len(f.setResults) {
		ok = f.setResults[f.sets]
	}
	f.sets++
	return goredis.NewBoolResult(ok, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd {
	f.evalKeys = keys
	f.evalArgs = args
	return goredis.NewCmdResult(int64(1), nil)
}

func TestRedisLockerRetriesUntilAcquired(t *testing.T) {
	fake := &fakeRedis{setResults: []bool{false, false, true}}
	l := NewRedisLocker(fake)
	l.PollInterval = time.Millisecond

	unlock, err := l.Lock(context.Background(), "insights:merge:u1:strength")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if fake.sets != 3 {
		t.Fatalf("expected 3 SETNX calls, got %d", fake.sets)
	}
	unlock()
	if len(fake.evalKeys) != 1 || fake.evalKeys[0] != "insights:merge:u1:strength" || len(fake.evalArgs) != 1 {
		t.Fatalf("unexpected unlock call keys=%v args=%v", fake.evalKeys, fake.evalArgs)
	}
}

func TestRedisLockerTimesOut(t *testing.T) {
	fake := &fakeRedis{setResults: []bool{false}}
	l := NewRedisLocker(fake)
	l.PollInterval = time.Millisecond
	l.WaitTimeout = 5 * time.Millisecond

	if _, err := l.Lock(context.Background(), "k"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}
