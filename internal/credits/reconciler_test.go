package credits

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
)

func TestSuspiciousZeroKeepsKnownBalance(t *testing.T) {
	var fetches int32
	r := New(Options{
		Fetch: func(ctx context.Context) (*domain.CreditState, error) {
			atomic.AddInt32(&fetches, 1)
			return &domain.CreditState{Balance: 50, FetchedAt: time.Now()}, nil
		},
	})

	r.ApplyServerBalance(context.Background(), "subj", 50)
	r.ApplyServerBalance(context.Background(), "subj", 0)

	if got := atomic.LoadInt32(&fetches); got != 1 {
		t.Fatalf("fetches = %d, want exactly 1 after suspicious zero", got)
	}
	state, err := r.Read(context.Background(), "subj")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if state.Balance != 50 {
		t.Fatalf("Balance = %d, want 50", state.Balance)
	}
	if got := atomic.LoadInt32(&fetches); got != 1 {
		t.Fatalf("Read after refetch hit the backend again (fetches = %d)", got)
	}
}

func TestZeroWithNoPriorBalanceIsAccepted(t *testing.T) {
	var fetches int32
	r := New(Options{
		Fetch: func(ctx context.Context) (*domain.CreditState, error) {
			atomic.AddInt32(&fetches, 1)
			return &domain.CreditState{Balance: 99}, nil
		},
	})
	r.ApplyServerBalance(context.Background(), "subj", 0)
	state, err := r.Read(context.Background(), "subj")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if state.Balance != 0 {
		t.Fatalf("Balance = %d, want the accepted zero", state.Balance)
	}
	if atomic.LoadInt32(&fetches) != 0 {
		t.Fatal("zero with no prior state should not trigger a refetch")
	}
}

func TestOutOfRangeBalanceTriggersRefetch(t *testing.T) {
	var fetches int32
	r := New(Options{
		Fetch: func(ctx context.Context) (*domain.CreditState, error) {
			atomic.AddInt32(&fetches, 1)
			return &domain.CreditState{Balance: 40}, nil
		},
	})
	r.ApplyServerBalance(context.Background(), "subj", -3)
	if atomic.LoadInt32(&fetches) != 1 {
		t.Fatalf("fetches = %d, want 1", fetches)
	}
	state, _ := r.Read(context.Background(), "subj")
	if state.Balance != 40 {
		t.Fatalf("Balance = %d, want authoritative 40", state.Balance)
	}
}

func TestMarkDirtyForcesNextRead(t *testing.T) {
	var fetches int32
	r := New(Options{
		Fetch: func(ctx context.Context) (*domain.CreditState, error) {
			atomic.AddInt32(&fetches, 1)
			return &domain.CreditState{Balance: int(10 + atomic.LoadInt32(&fetches))}, nil
		},
	})
	if _, err := r.Read(context.Background(), "subj"); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, err := r.Read(context.Background(), "subj"); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if atomic.LoadInt32(&fetches) != 1 {
		t.Fatalf("fetches = %d, want cached second read", fetches)
	}
	r.MarkDirty("subj")
	if _, err := r.Read(context.Background(), "subj"); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if atomic.LoadInt32(&fetches) != 2 {
		t.Fatalf("fetches = %d, want 2 after MarkDirty", fetches)
	}
}

func TestFetchErrorFallsBackToStaleState(t *testing.T) {
	calls := 0
	r := New(Options{
		Fetch: func(ctx context.Context) (*domain.CreditState, error) {
			calls++
			if calls == 1 {
				return &domain.CreditState{Balance: 25}, nil
			}
			return nil, errors.New("backend down")
		},
	})
	if _, err := r.Read(context.Background(), "subj"); err != nil {
		t.Fatalf("Read: %v", err)
	}
	r.MarkDirty("subj")
	state, err := r.Read(context.Background(), "subj")
	if err == nil {
		t.Fatal("Read should surface the fetch error")
	}
	if state == nil || state.Balance != 25 {
		t.Fatalf("state = %+v, want stale balance 25 alongside the error", state)
	}
}
