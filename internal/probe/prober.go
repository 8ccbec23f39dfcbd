// Package probe verifies that a URL actually decodes as the media it claims
// to be. Upload handoff marks an item usable only after its stored URL
// passes a probe, so a corrupted transfer surfaces here instead of as a
// broken asset in the UI.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
	"github.com/moutaamadani/mina-frontend-sub001/internal/infra"
)

// ErrUndecodable indicates the bytes at the URL did not parse as the
// expected media type.
var ErrUndecodable = errors.New("probe: media does not decode")

// maxProbeBytes bounds how much of a remote file a probe will download.
// Enough for image headers and for the moov box of typical faststart MP4s.
const maxProbeBytes = 4 << 20

// Options configures a Prober.
type Options struct {
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Prober fetches media headers over HTTP and decodes them locally.
type Prober struct {
	httpClient *http.Client
	logger     infra.Logger
}

// Result reports what a probe found.
type Result struct {
	MediaType   domain.MediaType
	Width       int
	Height      int
	DurationSec float64
}

// New constructs a Prober with sane defaults.
func New(opts Options) *Prober {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := infra.Discard()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Prober{httpClient: httpClient, logger: logger}
}

// Verify fetches the URL and confirms it decodes as media. For video and
// audio the result carries the probed duration.
func (p *Prober) Verify(ctx context.Context, rawURL string, media domain.MediaType) (*Result, error) {
	data, err := p.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	switch media {
	case domain.MediaImage:
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
		}
		return &Result{MediaType: media, Width: cfg.Width, Height: cfg.Height}, nil
	case domain.MediaVideo, domain.MediaAudio:
		dur, err := DurationFromBytes(data, media)
		if err != nil {
			return nil, err
		}
		return &Result{MediaType: media, DurationSec: dur}, nil
	default:
		return nil, fmt.Errorf("probe: unknown media type %q", media)
	}
}

func (p *Prober) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("probe: invalid url: %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("probe: build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("probe: fetch status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBytes))
	if err != nil {
		return nil, fmt.Errorf("probe: read body: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrUndecodable
	}
	return data, nil
}
