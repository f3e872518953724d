package rewarm

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/ecoscore/greenscore/internal/cache/rediscache"
	"github.com/ecoscore/greenscore/internal/model"
)

const expiredChannel = "__keyevent@0__:expired"

type fixture struct {
	mr    *miniredis.Miniredis
	store *rediscache.Client
	calls atomic.Int32
}

func startLoop(t *testing.T, compute ComputeFunc) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := rediscache.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("rediscache.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{mr: mr, store: store}
	wrapped := func(ctx context.Context, key string) (model.CompositeResult, error) {
		f.calls.Add(1)
		return compute(ctx, key)
	}

	loop, err := New(Config{
		TTL:         time.Minute,
		Workers:     2,
		RetryDelay:  10 * time.Millisecond,
		GuardWindow: 100 * time.Millisecond,
	}, nil, store, wrapped)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("loop did not stop after cancel")
		}
	})

	// Wait for the subscription to come up; publishes on a side channel
	// report the number of receivers.
	deadline := time.Now().Add(2 * time.Second)
	for mr.Publish(expiredChannel, "othersvc:ignored") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return f
}

func scoreOf(n int) ComputeFunc {
	return func(_ context.Context, key string) (model.CompositeResult, error) {
		return model.CompositeResult{
			LocationKey:  key,
			Metrics:      map[string]model.MetricRecord{},
			OverallScore: &n,
		}, nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRun_RewarmsExpiredKeyInNamespace(t *testing.T) {
	f := startLoop(t, scoreOf(58))

	f.mr.Publish(expiredChannel, "greenscore:77002")

	waitFor(t, "key to be rewarmed", func() bool { return f.mr.Exists("greenscore:77002") })

	raw, err := f.mr.Get("greenscore:77002")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var res model.CompositeResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.LocationKey != "77002" || res.OverallScore == nil || *res.OverallScore != 58 {
		t.Fatalf("unexpected rewarmed payload: %+v", res)
	}
	if ttl := f.mr.TTL("greenscore:77002"); ttl <= 0 {
		t.Errorf("rewarmed key has no TTL")
	}
}

func TestRun_IgnoresForeignNamespaces(t *testing.T) {
	f := startLoop(t, scoreOf(10))

	f.mr.Publish(expiredChannel, "othersvc:42")
	f.mr.Publish(expiredChannel, "greenscore:77005")

	waitFor(t, "in-namespace rewarm", func() bool { return f.mr.Exists("greenscore:77005") })

	if got := f.calls.Load(); got != 1 {
		t.Errorf("compute calls=%d want 1 (foreign key leaked through)", got)
	}
	if f.mr.Exists("othersvc:42") {
		t.Error("foreign key was rewarmed")
	}
}

func TestRun_SuppressesDuplicateEvents(t *testing.T) {
	f := startLoop(t, scoreOf(10))

	f.mr.Publish(expiredChannel, "greenscore:77002")
	f.mr.Publish(expiredChannel, "greenscore:77002")
	f.mr.Publish(expiredChannel, "greenscore:77002")

	waitFor(t, "first rewarm", func() bool { return f.mr.Exists("greenscore:77002") })
	time.Sleep(50 * time.Millisecond)

	if got := f.calls.Load(); got != 1 {
		t.Errorf("compute calls=%d want 1 within guard window", got)
	}
}

func TestRun_ComputeErrorWritesNothing(t *testing.T) {
	f := startLoop(t, func(_ context.Context, key string) (model.CompositeResult, error) {
		if key == "99999" {
			return model.CompositeResult{}, errors.New("geocode failed")
		}
		n := 70
		return model.CompositeResult{LocationKey: key, OverallScore: &n}, nil
	})

	f.mr.Publish(expiredChannel, "greenscore:99999")
	f.mr.Publish(expiredChannel, "greenscore:77002")

	waitFor(t, "healthy key rewarm", func() bool { return f.mr.Exists("greenscore:77002") })

	if f.mr.Exists("greenscore:99999") {
		t.Error("failed compute still produced a cache entry")
	}
}

func TestPrewarm(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx := context.Background()
	store, err := rediscache.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("rediscache.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	loop, err := New(Config{TTL: time.Minute}, nil, store, scoreOf(40))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	zips := []string{"77002", "77003", "77004"}
	Prewarm(ctx, loop, zips, 2, 0)

	for _, z := range zips {
		if !mr.Exists("greenscore:" + z) {
			t.Errorf("zip %s not prewarmed", z)
		}
	}
}
