package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	t.Parallel()

	m := NewKeyedMutex()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "room-1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer release()
			n := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if n <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most one holder, observed %d", maxActive)
	}
	if m.Len() != 0 {
		t.Fatalf("expected keys to be reclaimed, got %d", m.Len())
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	t.Parallel()

	m := NewKeyedMutex()
	releaseA, err := m.Acquire(context.Background(), "room-a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := m.Acquire(ctx, "room-b")
	if err != nil {
		t.Fatalf("expected other key to be free: %v", err)
	}
	releaseB()
}

func TestKeyedMutexHonoursCancellation(t *testing.T) {
	t.Parallel()

	m := NewKeyedMutex()
	release, err := m.Acquire(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, "room-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	release()
	release()
	if m.Len() != 0 {
		t.Fatalf("expected key to be reclaimed after release, got %d", m.Len())
	}
}
