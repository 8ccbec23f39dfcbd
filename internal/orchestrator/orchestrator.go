// Package orchestrator drives generation jobs from submission to a
// terminal result. Submission is idempotent and single-flighted per logical
// action; the wait combines a server-push progress channel with an
// authoritative polling loop so the UI gets low-latency feedback while
// termination stays guaranteed.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/moutaamadani/mina-frontend-sub001/internal/backend"
	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
	"github.com/moutaamadani/mina-frontend-sub001/internal/infra"
	"github.com/moutaamadani/mina-frontend-sub001/internal/resolve"
)

const (
	defaultMaxWait      = 10 * time.Minute
	defaultPollInterval = 1500 * time.Millisecond
	// pollFloor is the hard lower bound on the polling cadence.
	pollFloor = 500 * time.Millisecond
)

// ProgressFunc receives every status/scan-log update during a wait.
type ProgressFunc func(status string, scanLines []string)

// Options configures an Orchestrator.
type Options struct {
	Backend         *backend.Client
	Resolver        *resolve.Resolver
	Logger          *infra.Logger
	TerminalSuccess []string
	TerminalFailure []string
	MaxWait         time.Duration
	PollInterval    time.Duration
}

// Orchestrator owns the idempotency-token and single-flight bookkeeping for
// generation actions. All methods are safe for concurrent use.
type Orchestrator struct {
	backend      *backend.Client
	resolver     *resolve.Resolver
	logger       infra.Logger
	success      []string
	failure      []string
	maxWait      time.Duration
	pollInterval time.Duration

	group singleflight.Group

	mu      sync.Mutex
	tokens  map[string]string
	actions map[string]struct{}
	baseCtx context.Context
	cancel  context.CancelFunc
	epoch   uint64
}

// New constructs an Orchestrator.
func New(opts Options) *Orchestrator {
	logger := infra.Discard()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	success := opts.TerminalSuccess
	if len(success) == 0 {
		success = domain.DefaultTerminalSuccess
	}
	failure := opts.TerminalFailure
	if len(failure) == 0 {
		failure = domain.DefaultTerminalFailure
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	pollInterval := opts.PollInterval
	if pollInterval < pollFloor {
		pollInterval = defaultPollInterval
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = &resolve.Resolver{}
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		backend:      opts.Backend,
		resolver:     resolver,
		logger:       logger,
		success:      success,
		failure:      failure,
		maxWait:      maxWait,
		pollInterval: pollInterval,
		tokens:       map[string]string{},
		actions:      map[string]struct{}{},
		baseCtx:      baseCtx,
		cancel:       cancel,
	}
}

// Submit creates a generation job for the given logical action. An action
// already in flight shares its pending outcome instead of issuing a second
// request, and the idempotency token minted for the flight is attached
// both at the request top level and under inputs, then discarded when the
// flight resolves so a later deliberate retry gets a fresh token.
//
// Creation is a mutating call: network failures are surfaced immediately,
// never retried here.
func (o *Orchestrator) Submit(ctx context.Context, action, endpoint string, body map[string]any) (*backend.CreateResponse, error) {
	o.mu.Lock()
	epoch := o.epoch
	base := o.baseCtx
	o.actions[action] = struct{}{}
	o.mu.Unlock()

	v, err, _ := o.group.Do(action, func() (any, error) {
		token := o.mintToken(action)
		defer o.finishAction(action, epoch)

		payload := cloneBody(body)
		payload["idempotency_key"] = token
		inputs, ok := payload["inputs"].(map[string]any)
		if !ok {
			inputs = map[string]any{}
		}
		inputs["idempotency_key"] = token
		payload["inputs"] = inputs

		reqCtx, cancel := mergeContexts(ctx, base)
		defer cancel()

		resp, err := o.backend.CreateGeneration(reqCtx, endpoint, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCreationFailed, err)
		}
		o.logger.Info().
			Str("action", action).
			Str("generation_id", resp.GenerationID).
			Msg("orchestrator: job created")
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*backend.CreateResponse), nil
}

// CancelAll aborts every in-flight submission and wait: open progress
// channels close, single-flight entries and idempotency tokens clear, and
// the orchestrator immediately re-arms for new work. Completions belonging
// to the cancelled epoch that trickle in afterwards are dropped.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	cancel := o.cancel
	o.baseCtx, o.cancel = context.WithCancel(context.Background())
	o.epoch++
	for action := range o.actions {
		o.group.Forget(action)
		delete(o.actions, action)
	}
	o.tokens = map[string]string{}
	o.mu.Unlock()

	cancel()
	o.logger.Info().Msg("orchestrator: cancelled all in-flight work")
}

// mintToken returns the in-flight token for action, creating one when the
// action has no open flight.
func (o *Orchestrator) mintToken(action string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if token, ok := o.tokens[action]; ok {
		return token
	}
	token := uuid.NewString()
	o.tokens[action] = token
	return token
}

func (o *Orchestrator) finishAction(action string, epoch uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch != epoch {
		// CancelAll already swept this epoch's state.
		return
	}
	delete(o.tokens, action)
	delete(o.actions, action)
}

func (o *Orchestrator) currentBase() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.baseCtx
}

func cloneBody(body map[string]any) map[string]any {
	cloned := make(map[string]any, len(body)+2)
	for k, v := range body {
		if m, ok := v.(map[string]any); ok && k == "inputs" {
			inner := make(map[string]any, len(m)+1)
			for ik, iv := range m {
				inner[ik] = iv
			}
			cloned[k] = inner
			continue
		}
		cloned[k] = v
	}
	return cloned
}

// mergeContexts derives a context cancelled when either parent is.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
