package janitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"orgdir.io/internal/auth"
)

type countingStore struct {
	auth.RefreshTokenStore
	deletes atomic.Int64
}

func (s *countingStore) DeleteStale(_ context.Context, _ time.Time, _ time.Duration) (int64, error) {
	s.deletes.Add(1)
	return 2, nil
}

func TestJanitorSweeps(t *testing.T) {
	store := &countingStore{}
	j := New(auth.NewRefreshTokenManager(store), nil, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.deletes.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("janitor never swept twice")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop on cancel")
	}
}

func TestJanitorToleratesNilTargets(t *testing.T) {
	j := New(nil, nil, WithInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	j.Run(ctx) // must return without panicking
}
