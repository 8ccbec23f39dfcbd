package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
	"github.com/moutaamadani/mina-frontend-sub001/internal/resolve"
)

// AwaitOptions tunes one terminal wait.
type AwaitOptions struct {
	Kind domain.JobKind
	// Inputs holds the job's own request URLs so an echoed input is never
	// mistaken for an output.
	Inputs resolve.InputSet
	// SSEURL is the progress channel from the creation response; empty
	// falls back to the implicit per-job stream address.
	SSEURL       string
	Timeout      time.Duration
	PollInterval time.Duration
	OnProgress   ProgressFunc
}

// Terminal is the outcome of a wait.
type Terminal struct {
	Payload   *resolve.Payload
	OutputURL string
	Succeeded bool
	ScanLines []string
}

// AwaitTerminal blocks until the job reaches a terminal state, a usable
// output URL appears (implicit success even when the status string lags),
// or the maximum wait elapses. The push channel gives low-latency progress;
// the polling loop is the authority of record and guarantees termination
// even when the channel is silently dropped by an intermediary.
func (o *Orchestrator) AwaitTerminal(ctx context.Context, generationID string, opts AwaitOptions) (*Terminal, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = o.maxWait
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = o.pollInterval
	}
	if interval < pollFloor {
		interval = pollFloor
	}

	merged, cancelMerged := mergeContexts(ctx, o.currentBase())
	defer cancelMerged()
	waitCtx, cancelWait := context.WithTimeout(merged, timeout)
	defer cancelWait()

	push := make(chan progressUpdate, 16)
	go o.streamProgress(waitCtx, generationID, opts.SSEURL, push)

	var scanLog []string
	var lastStatus string
	var last *resolve.Payload
	notify := func(status string, lines []string) {
		switch {
		case len(lines) == 1:
			// Single scan lines accumulate; full lists replace.
			if len(scanLog) == 0 || scanLog[len(scanLog)-1] != lines[0] {
				scanLog = append(scanLog, lines[0])
			}
		case len(lines) > 1 && len(lines) >= len(scanLog):
			scanLog = lines
		}
		if status != "" {
			lastStatus = status
		}
		if opts.OnProgress != nil {
			opts.OnProgress(lastStatus, scanLog)
		}
	}

	for {
		payload, err := o.pollStatus(waitCtx, generationID)
		if err != nil {
			if waitCtx.Err() != nil {
				return o.timedOut(last, lastStatus, scanLog)
			}
			return nil, err
		}
		last = payload
		notify(payload.Status, nil)

		if term, done, termErr := o.evaluate(payload, opts.Kind, opts.Inputs, scanLog); done {
			return term, termErr
		}

		select {
		case <-waitCtx.Done():
			return o.timedOut(last, lastStatus, scanLog)
		case upd, ok := <-push:
			if !ok {
				// Channel gone; polling carries on alone.
				push = nil
				continue
			}
			notify(upd.Status, upd.ScanLines)
			if upd.Done {
				// Confirm through the authority immediately.
				continue
			}
			// Not terminal: fall through to the next poll after the
			// remaining interval to keep the cadence bounded.
			select {
			case <-waitCtx.Done():
				return o.timedOut(last, lastStatus, scanLog)
			case <-time.After(interval):
			}
		case <-time.After(interval):
		}
	}
}

// streamProgress consumes the server-push channel and forwards decoded
// updates. Any error simply ends the stream; the poll loop never depends
// on it.
func (o *Orchestrator) streamProgress(ctx context.Context, generationID, sseURL string, push chan<- progressUpdate) {
	defer close(push)
	body, err := o.backend.OpenStream(ctx, generationID, sseURL)
	if err != nil {
		o.logger.Debug().Err(err).Str("generation_id", generationID).Msg("orchestrator: progress channel unavailable")
		return
	}
	defer body.Close()

	// Close the stream when the wait ends so the reader unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			body.Close()
		case <-done:
		}
	}()

	readEvents(body, func(ev sseEvent) bool {
		upd := decodeProgress(ev)
		select {
		case push <- upd:
		case <-ctx.Done():
			return false
		}
		return !upd.Done
	})
}

// pollStatus fetches and normalizes the job payload. Polling is
// non-mutating, so transient network errors retry with exponential backoff
// before giving up on this round.
func (o *Orchestrator) pollStatus(ctx context.Context, generationID string) (*resolve.Payload, error) {
	var raw []byte
	op := func() error {
		b, err := o.backend.GenerationStatus(ctx, generationID)
		if err != nil {
			return err
		}
		raw = b
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("orchestrator: poll status: %w", err)
	}
	return resolve.Normalize(raw)
}

func (o *Orchestrator) evaluate(p *resolve.Payload, kind domain.JobKind, inputs resolve.InputSet, scanLog []string) (*Terminal, bool, error) {
	if p.Failed() || domain.StatusIn(p.Status, o.failure) {
		msg := p.ErrorMessage
		if msg == "" {
			msg = p.Status
		}
		term := &Terminal{Payload: p, ScanLines: scanLog}
		return term, true, fmt.Errorf("%w: %s", domain.ErrPipelineFailed, msg)
	}
	url := o.resolver.Resolve(p.Raw, kind, inputs)
	if domain.StatusIn(p.Status, o.success) {
		return &Terminal{Payload: p, OutputURL: url, Succeeded: true, ScanLines: scanLog}, true, nil
	}
	if url != "" {
		// Output exists but the status string is unrecognized; treat as
		// terminal and log for allow-list maintenance.
		o.logger.Warn().
			Str("status", p.Status).
			Str("generation_id", p.GenerationID).
			Msg("orchestrator: output present with unrecognized status, treating as terminal")
		return &Terminal{Payload: p, OutputURL: url, Succeeded: true, ScanLines: scanLog}, true, nil
	}
	return nil, false, nil
}

func (o *Orchestrator) timedOut(last *resolve.Payload, lastStatus string, scanLog []string) (*Terminal, error) {
	status := lastStatus
	if last != nil && last.Status != "" {
		status = last.Status
	}
	return &Terminal{Payload: last, ScanLines: scanLog},
		fmt.Errorf("%w: last status %q", domain.ErrJobTimeout, status)
}

// IsTimeout reports whether err is the bounded-wait expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, domain.ErrJobTimeout)
}
