// Package generation wires the whole pipeline together: panel assets into
// a request body, submission through the orchestrator, result resolution,
// asset-store convergence, credit reconciliation, and history insertion.
package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/moutaamadani/mina-frontend-sub001/internal/assetstore"
	"github.com/moutaamadani/mina-frontend-sub001/internal/credits"
	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
	"github.com/moutaamadani/mina-frontend-sub001/internal/history"
	"github.com/moutaamadani/mina-frontend-sub001/internal/infra"
	"github.com/moutaamadani/mina-frontend-sub001/internal/messages"
	"github.com/moutaamadani/mina-frontend-sub001/internal/orchestrator"
	"github.com/moutaamadani/mina-frontend-sub001/internal/panels"
	"github.com/moutaamadani/mina-frontend-sub001/internal/resolve"
)

const (
	endpointStill  = "/api/generations/still"
	endpointMotion = "/api/generations/motion"
)

// Brief is the user's request: prompt plus free-form settings and optional
// session linkage.
type Brief struct {
	Prompt    string
	Settings  map[string]any
	Feedback  map[string]any
	SessionID string
}

// Options configures a Service.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Assets       *assetstore.Client
	Credits      *credits.Reconciler
	History      *history.Store
	Panels       *panels.Manager
	Logger       *infra.Logger
	Subject      string
	Locale       string
	OnProgress   orchestrator.ProgressFunc
}

// Service runs generations end to end.
type Service struct {
	orch       *orchestrator.Orchestrator
	assets     *assetstore.Client
	credits    *credits.Reconciler
	history    *history.Store
	panels     *panels.Manager
	logger     infra.Logger
	subject    string
	locale     string
	onProgress orchestrator.ProgressFunc
}

// New constructs a Service.
func New(opts Options) *Service {
	logger := infra.Discard()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Service{
		orch:       opts.Orchestrator,
		assets:     opts.Assets,
		credits:    opts.Credits,
		history:    opts.History,
		panels:     opts.Panels,
		logger:     logger,
		subject:    opts.Subject,
		locale:     opts.Locale,
		onProgress: opts.OnProgress,
	}
}

// GenerateStill runs one still-image generation to completion.
func (s *Service) GenerateStill(ctx context.Context, brief Brief) (*domain.HistoryItem, error) {
	return s.run(ctx, domain.JobKindStill, "still:create", endpointStill, s.buildBody(ctx, brief))
}

// GenerateMotion runs one motion generation to completion.
func (s *Service) GenerateMotion(ctx context.Context, brief Brief) (*domain.HistoryItem, error) {
	return s.run(ctx, domain.JobKindMotion, "motion:animate", endpointMotion, s.buildBody(ctx, brief))
}

// Recreate replays a finished item's stored request snapshot as a new job.
func (s *Service) Recreate(ctx context.Context, historyID string) (*domain.HistoryItem, error) {
	item, err := s.history.Get(ctx, historyID)
	if err != nil {
		return nil, err
	}
	endpoint := endpointStill
	action := "still:recreate"
	if item.Kind == domain.JobKindMotion {
		endpoint = endpointMotion
		action = "motion:recreate"
	}
	return s.run(ctx, item.Kind, action, endpoint, item.RequestBody)
}

// CancelAll aborts every in-flight job.
func (s *Service) CancelAll() {
	s.orch.CancelAll()
}

// FocusRegained marks the credit cache dirty; balances can change in other
// tabs or while the app is backgrounded.
func (s *Service) FocusRegained() {
	s.credits.MarkDirty(s.subject)
}

// UserMessage translates any pipeline error into the one string the UI may
// show for it.
func (s *Service) UserMessage(err error) string {
	return messages.ForError(s.locale, err)
}

func (s *Service) run(ctx context.Context, kind domain.JobKind, action, endpoint string, body map[string]any) (*domain.HistoryItem, error) {
	resp, err := s.orch.Submit(ctx, action, endpoint, body)
	if err != nil {
		return nil, err
	}

	inputs := resolve.InputsFromRequest(body)
	term, err := s.orch.AwaitTerminal(ctx, resp.GenerationID, orchestrator.AwaitOptions{
		Kind:       kind,
		Inputs:     inputs,
		SSEURL:     resp.SSEURL,
		OnProgress: s.onProgress,
	})

	// The job reached an end state either way; the displayed balance is
	// stale from here on.
	s.credits.MarkDirty(s.subject)

	if err != nil {
		return nil, err
	}
	if term.OutputURL == "" {
		return nil, fmt.Errorf("%w: no output in terminal payload", domain.ErrNoResult)
	}

	hosted := s.assets.EnsureAssetHosted(ctx, term.OutputURL, string(kind))
	if hosted == "" {
		// Mirroring a transient provider URL failed; showing it would
		// mean a link that expires under the user.
		return nil, fmt.Errorf("%w: output could not be stored", domain.ErrNoResult)
	}

	delta := resp.CreditsCost
	if term.Payload != nil && term.Payload.Credits != nil {
		delta = *term.Payload.Credits
	}
	if term.Payload != nil && term.Payload.Balance != nil {
		s.credits.ApplyServerBalance(ctx, s.subject, *term.Payload.Balance)
	}

	prompt := ""
	if term.Payload != nil {
		prompt = term.Payload.Prompt
	}
	item := &domain.HistoryItem{
		ID:          resp.GenerationID,
		Kind:        kind,
		URL:         hosted,
		Prompt:      prompt,
		CreditDelta: delta,
		RequestBody: body,
		CreatedAt:   time.Now(),
	}
	if s.history != nil {
		if err := s.history.Insert(ctx, item); err != nil {
			s.logger.Warn().Err(err).Str("id", item.ID).Msg("generation: history insert failed")
		}
	}
	s.logger.Info().
		Str("id", item.ID).
		Str("kind", string(kind)).
		Str("url", hosted).
		Msg("generation: finished")
	return item, nil
}

// buildBody assembles the request snapshot from the panel state and brief.
// Asset URLs are sent as bandwidth-bounded variants; the originals stay in
// the snapshot's display fields.
func (s *Service) buildBody(ctx context.Context, brief Brief) map[string]any {
	assets := map[string]any{}
	if urls := s.panels.ReadyURLs(domain.PanelProduct); len(urls) > 0 {
		assets["product_image_url"] = s.assets.BuildResizedInputURL(ctx, urls[0], "product")
		if len(urls) > 1 {
			assets["start_url"] = s.assets.BuildResizedInputURL(ctx, urls[0], "product")
			assets["end_url"] = urls[1]
		}
	}
	if urls := s.panels.ReadyURLs(domain.PanelLogo); len(urls) > 0 {
		assets["logo_url"] = s.assets.BuildResizedInputURL(ctx, urls[0], "logo")
	}
	if urls := s.panels.ReadyURLs(domain.PanelInspiration); len(urls) > 0 {
		resized := make([]any, 0, len(urls))
		for _, u := range urls {
			resized = append(resized, s.assets.BuildResizedInputURL(ctx, u, "inspiration"))
		}
		assets["inspiration_urls"] = resized
	}

	body := map[string]any{
		"assets": assets,
		"inputs": map[string]any{
			"prompt": brief.Prompt,
		},
	}
	if len(brief.Settings) > 0 {
		body["settings"] = brief.Settings
	}
	if len(brief.Feedback) > 0 {
		body["feedback"] = brief.Feedback
	}
	if brief.SessionID != "" {
		body["history"] = map[string]any{"session_id": brief.SessionID}
	}
	return body
}
