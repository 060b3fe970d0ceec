package kafka

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClock drives MemoryIdempotencyStore expiry without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClockedStore(ttl time.Duration) (*MemoryIdempotencyStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryIdempotencyStore(ttl)
	store.now = clock.Now
	return store, clock
}

// stockReserved is a participant reply as the orchestrator consumes it.
func stockReserved(eventID string) *Event {
	return &Event{
		EventID:        eventID,
		EventType:      "STOCK_RESERVED",
		SagaInstanceID: "saga-1",
		AggregateID:    "order-1",
		AggregateType:  "order",
	}
}

func TestMemoryIdempotencyStore_AddThenContains(t *testing.T) {
	store, _ := newClockedStore(time.Hour)
	ctx := context.Background()

	if got, _ := store.Contains(ctx, "evt-stock-reserved-1"); got {
		t.Fatal("unseen event id reported as processed")
	}
	if err := store.Add(ctx, "evt-stock-reserved-1"); err != nil {
		t.Fatalf("Add() returned error: %v", err)
	}
	if got, _ := store.Contains(ctx, "evt-stock-reserved-1"); !got {
		t.Error("Contains() = false after Add")
	}
}

func TestMemoryIdempotencyStore_ExpiresAfterTTL(t *testing.T) {
	store, clock := newClockedStore(time.Hour)
	ctx := context.Background()
	_ = store.Add(ctx, "evt-payment-processed-1")

	clock.Advance(time.Hour)
	if got, _ := store.Contains(ctx, "evt-payment-processed-1"); !got {
		t.Error("id should still be remembered exactly at the TTL")
	}

	clock.Advance(time.Second)
	if got, _ := store.Contains(ctx, "evt-payment-processed-1"); got {
		t.Error("id should be forgotten past the TTL")
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, expired id should be deleted on lookup", store.Len())
	}
}

func TestMemoryIdempotencyStore_AddPrunesExpired(t *testing.T) {
	store, clock := newClockedStore(time.Minute)
	ctx := context.Background()
	_ = store.Add(ctx, "evt-1")
	_ = store.Add(ctx, "evt-2")

	clock.Advance(2 * time.Minute)
	_ = store.Add(ctx, "evt-3")

	if store.Len() != 1 {
		t.Errorf("Len() = %d after expiry, want only the fresh id", store.Len())
	}
}

func TestMemoryIdempotencyStore_ConcurrentRedelivery(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Add(ctx, "evt-redelivered")
			_, _ = store.Contains(ctx, "evt-redelivered")
		}()
	}
	wg.Wait()

	if store.Len() != 1 {
		t.Errorf("Len() = %d after concurrent redelivery of one id, want 1", store.Len())
	}
}

type failingIdempotencyStore struct{}

func (failingIdempotencyStore) Contains(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (failingIdempotencyStore) Add(context.Context, string) error {
	return errors.New("redis: connection refused")
}

func countingHandler(err error) (Handler, *int32) {
	var calls int32
	return func(context.Context, *Event) error {
		atomic.AddInt32(&calls, 1)
		return err
	}, &calls
}

func TestIdempotentHandler(t *testing.T) {
	errHandler := errors.New("apply reply: saga locked")

	tests := []struct {
		name      string
		store     IdempotencyStore
		events    []*Event
		innerErr  error
		wantCalls int32
		wantErr   error
	}{
		{
			name:      "first delivery is handled",
			store:     NewMemoryIdempotencyStore(time.Hour),
			events:    []*Event{stockReserved("evt-a")},
			wantCalls: 1,
		},
		{
			name:      "redelivery is skipped",
			store:     NewMemoryIdempotencyStore(time.Hour),
			events:    []*Event{stockReserved("evt-a"), stockReserved("evt-a")},
			wantCalls: 1,
		},
		{
			name:      "distinct replies are both handled",
			store:     NewMemoryIdempotencyStore(time.Hour),
			events:    []*Event{stockReserved("evt-a"), stockReserved("evt-b")},
			wantCalls: 2,
		},
		{
			name:      "missing event id cannot be deduplicated",
			store:     NewMemoryIdempotencyStore(time.Hour),
			events:    []*Event{stockReserved(""), stockReserved("")},
			wantCalls: 2,
		},
		{
			name:      "handler failure is not recorded",
			store:     NewMemoryIdempotencyStore(time.Hour),
			events:    []*Event{stockReserved("evt-a"), stockReserved("evt-a")},
			innerErr:  errHandler,
			wantCalls: 2,
			wantErr:   errHandler,
		},
		{
			name:      "store outage fails open",
			store:     failingIdempotencyStore{},
			events:    []*Event{stockReserved("evt-a"), stockReserved("evt-a")},
			wantCalls: 2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inner, calls := countingHandler(tc.innerErr)
			h := IdempotentHandler(tc.store, inner, testLogger())

			var err error
			for _, evt := range tc.events {
				err = h(context.Background(), evt)
			}

			if !errors.Is(err, tc.wantErr) {
				t.Errorf("last error = %v, want %v", err, tc.wantErr)
			}
			if got := atomic.LoadInt32(calls); got != tc.wantCalls {
				t.Errorf("inner handler called %d times, want %d", got, tc.wantCalls)
			}
		})
	}
}
