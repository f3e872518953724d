package memo

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDo_CachesWithinTTL(t *testing.T) {
	c := New[string, int](time.Hour)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	calls := 0
	compute := func() (int, error) {
		calls++
		return calls * 10, nil
	}

	v, err := c.Do("k", compute)
	if err != nil || v != 10 {
		t.Fatalf("first call: v=%d err=%v", v, err)
	}

	// Just inside the TTL: served from cache.
	clock = clock.Add(time.Hour - time.Second)
	v, err = c.Do("k", compute)
	if err != nil || v != 10 {
		t.Fatalf("cached call: v=%d err=%v", v, err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}

	// Just past the TTL: recomputed and overwritten.
	clock = clock.Add(2 * time.Second)
	v, err = c.Do("k", compute)
	if err != nil || v != 20 {
		t.Fatalf("expired call: v=%d err=%v", v, err)
	}
	if calls != 2 {
		t.Fatalf("calls=%d want 2", calls)
	}
}

func TestDo_DistinctKeysAreIndependent(t *testing.T) {
	c := New[string, string](time.Minute)

	a, _ := c.Do("a", func() (string, error) { return "va", nil })
	b, _ := c.Do("b", func() (string, error) { return "vb", nil })
	if a != "va" || b != "vb" {
		t.Fatalf("a=%q b=%q", a, b)
	}
	if c.Len() != 2 {
		t.Fatalf("Len=%d want 2", c.Len())
	}
}

func TestDo_ErrorIsNotCached(t *testing.T) {
	c := New[string, int](time.Minute)

	boom := errors.New("upstream down")
	if _, err := c.Do("k", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}

	v, err := c.Do("k", func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("after error: v=%d err=%v", v, err)
	}
}

func TestDo_ConcurrentColdCallsMayBothCompute(t *testing.T) {
	c := New[string, int](time.Minute)

	var calls atomic.Int32
	gate := make(chan struct{})

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Do("k", func() (int, error) {
				calls.Add(1)
				<-gate
				return 1, nil
			})
		}()
	}

	// All four goroutines should reach compute before any stores.
	deadline := time.After(2 * time.Second)
	for calls.Load() < 4 {
		select {
		case <-deadline:
			t.Fatalf("only %d concurrent computes; compute must not run under the lock", calls.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(gate)
	wg.Wait()
}
