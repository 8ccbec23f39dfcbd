// Package credits reconciles server-reported balance deltas with the
// locally displayed credit state. Job responses occasionally omit the real
// balance; the guards here keep a bogus zero from ever flashing at the
// user.
package credits

import (
	"context"
	"math"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
	"github.com/moutaamadani/mina-frontend-sub001/internal/infra"
)

// Fetcher retrieves the authoritative balance for one subject.
type Fetcher func(ctx context.Context) (*domain.CreditState, error)

// Options configures a Reconciler.
type Options struct {
	Fetch  Fetcher
	TTL    time.Duration
	Logger *infra.Logger
}

// Reconciler owns the per-identity credit cache. It is safe for use from
// multiple goroutines.
type Reconciler struct {
	fetch  Fetcher
	ttl    time.Duration
	cache  *gocache.Cache
	logger infra.Logger

	mu    sync.Mutex
	dirty map[string]bool
}

// New constructs a Reconciler.
func New(opts Options) *Reconciler {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	logger := infra.Discard()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Reconciler{
		fetch:  opts.Fetch,
		ttl:    ttl,
		cache:  gocache.New(ttl, 2*ttl),
		logger: logger,
		dirty:  map[string]bool{},
	}
}

// Read returns the cached state when it is fresh and not dirty; otherwise
// it performs an authoritative fetch.
func (r *Reconciler) Read(ctx context.Context, subject string) (*domain.CreditState, error) {
	if state, ok := r.cached(subject); ok && !r.isDirty(subject) {
		return state, nil
	}
	return r.refetch(ctx, subject)
}

// ApplyServerBalance merges a balance reported alongside a job response.
// Non-finite or negative values are rejected, and a reported zero right
// after a positive known balance is treated as suspect; both trigger one
// authoritative re-fetch instead of being displayed.
func (r *Reconciler) ApplyServerBalance(ctx context.Context, subject string, reported float64) {
	if math.IsNaN(reported) || math.IsInf(reported, 0) || reported < 0 {
		r.logger.Debug().Float64("reported", reported).Msg("credits: rejecting out-of-range balance")
		r.MarkDirty(subject)
		if _, err := r.refetch(ctx, subject); err != nil {
			r.logger.Warn().Err(err).Msg("credits: refetch after bad balance failed")
		}
		return
	}
	prev, ok := r.cached(subject)
	if reported == 0 && ok && prev.Balance > 0 {
		r.logger.Debug().Int("previous", prev.Balance).Msg("credits: suspicious zero balance, refetching")
		r.MarkDirty(subject)
		if _, err := r.refetch(ctx, subject); err != nil {
			r.logger.Warn().Err(err).Msg("credits: refetch after suspicious zero failed")
		}
		return
	}

	state := &domain.CreditState{Balance: int(reported), FetchedAt: time.Now()}
	if ok {
		state.ImageCost = prev.ImageCost
		state.MotionCost = prev.MotionCost
		state.ExpiresAt = prev.ExpiresAt
	}
	r.store(subject, state)
	r.setDirty(subject, false)
}

// MarkDirty forces the next Read to hit the backend. Callers invoke it on
// job completion and whenever the application regains focus.
func (r *Reconciler) MarkDirty(subject string) {
	r.setDirty(subject, true)
}

func (r *Reconciler) refetch(ctx context.Context, subject string) (*domain.CreditState, error) {
	if r.fetch == nil {
		if state, ok := r.cached(subject); ok {
			return state, nil
		}
		return &domain.CreditState{}, nil
	}
	state, err := r.fetch(ctx)
	if err != nil {
		// Stale beats broken: keep showing the previous value.
		if prev, ok := r.cached(subject); ok {
			return prev, err
		}
		return nil, err
	}
	r.store(subject, state)
	r.setDirty(subject, false)
	return state, nil
}

func (r *Reconciler) cached(subject string) (*domain.CreditState, bool) {
	v, ok := r.cache.Get(subject)
	if !ok {
		return nil, false
	}
	state := v.(*domain.CreditState)
	if !state.ExpiresAt.IsZero() && time.Now().After(state.ExpiresAt) {
		return nil, false
	}
	return state, true
}

func (r *Reconciler) store(subject string, state *domain.CreditState) {
	r.cache.Set(subject, state, r.ttl)
}

func (r *Reconciler) isDirty(subject string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty[subject]
}

func (r *Reconciler) setDirty(subject string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v {
		r.dirty[subject] = true
	} else {
		delete(r.dirty, subject)
	}
}
