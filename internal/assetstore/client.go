// Package assetstore moves media onto the owned asset host. Everything the
// UI displays or re-submits converges through EnsureAssetHosted, so
// transient provider URLs never leak into history items or request bodies.
package assetstore

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/moutaamadani/mina-frontend-sub001/internal/backend"
	"github.com/moutaamadani/mina-frontend-sub001/internal/infra"
	"github.com/moutaamadani/mina-frontend-sub001/internal/resolve"
)

// Resize parameters applied to model inputs. Display always uses the full
// asset; only outbound generation requests get the bounded variant.
const (
	resizeMaxEdge = 1600
	resizeQuality = 80
	resizeFormat  = "jpg"
)

const capabilityKey = "resize-capability"

// Options configures a Client.
type Options struct {
	Backend        *backend.Client
	OwnedHost      string
	TransientHosts []string
	HTTPClient     *http.Client
	Logger         *infra.Logger

	// TransformProbeURL overrides the resize capability probe target.
	// Defaults to https://<OwnedHost>/__transform/ping.
	TransformProbeURL string
}

// Client uploads local files and mirrors remote URLs into the asset store.
type Client struct {
	backend        *backend.Client
	ownedHost      string
	transientHosts []string
	httpClient     *http.Client
	logger         infra.Logger
	probeURL       string

	// caps remembers the once-per-session resize capability probe.
	caps *gocache.Cache
}

// New constructs a Client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := infra.Discard()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	ownedHost := strings.ToLower(strings.TrimSpace(opts.OwnedHost))
	probeURL := opts.TransformProbeURL
	if probeURL == "" {
		probeURL = "https://" + ownedHost + "/__transform/ping"
	}
	return &Client{
		backend:        opts.Backend,
		ownedHost:      ownedHost,
		transientHosts: opts.TransientHosts,
		httpClient:     httpClient,
		logger:         logger,
		probeURL:       probeURL,
		caps:           gocache.New(gocache.NoExpiration, 0),
	}
}

// UploadLocal transfers a local file through a signed target and returns
// the stable, de-signed public URL.
func (c *Client) UploadLocal(ctx context.Context, data []byte, filename, contentType, kind string) (string, error) {
	target, err := c.backend.SignUpload(ctx, kind, filename, contentType)
	if err != nil {
		return "", err
	}
	if err := c.backend.PutBinary(ctx, target.UploadURL, data, contentType); err != nil {
		return "", err
	}
	stored := resolve.StripSigning(target.PublicURL)
	c.logger.Debug().Str("kind", kind).Str("url", stored).Msg("assetstore: uploaded local file")
	return stored, nil
}

// MirrorRemote copies a remote URL into the asset store. On failure it
// falls back to the original URL, except when the source host is known to
// expire: handing the UI a transient link is worse than a retry state, so
// those return empty.
func (c *Client) MirrorRemote(ctx context.Context, sourceURL, kind string) string {
	stored, err := c.backend.MirrorRemote(ctx, sourceURL, kind)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", sourceURL).Msg("assetstore: mirror failed")
		if c.isTransientHost(sourceURL) {
			return ""
		}
		return sourceURL
	}
	return resolve.StripSigning(stored)
}

// EnsureAssetHosted is the convergence point after every job: de-sign,
// pass owned URLs through, mirror everything else.
func (c *Client) EnsureAssetHosted(ctx context.Context, rawURL, kind string) string {
	cleaned := resolve.StripSigning(strings.TrimSpace(rawURL))
	if cleaned == "" {
		return ""
	}
	if c.isOwned(cleaned) {
		return cleaned
	}
	return c.MirrorRemote(ctx, cleaned, kind)
}

// BuildResizedInputURL returns a bandwidth-bounded variant of an owned URL
// for use as a model input. It fails open: if the URL is not owned or the
// resize capability is unavailable, the original URL comes back unchanged.
func (c *Client) BuildResizedInputURL(ctx context.Context, rawURL, kind string) string {
	cleaned := resolve.StripSigning(strings.TrimSpace(rawURL))
	if cleaned == "" || !c.isOwned(cleaned) {
		return rawURL
	}
	if !c.resizeCapable(ctx) {
		return cleaned
	}
	u, err := url.Parse(cleaned)
	if err != nil {
		return cleaned
	}
	q := u.Query()
	q.Set("w", strconv.Itoa(resizeMaxEdge))
	q.Set("q", strconv.Itoa(resizeQuality))
	q.Set("fm", resizeFormat)
	u.RawQuery = q.Encode()
	return u.String()
}

// resizeCapable probes the transform endpoint once per session and caches
// the verdict.
func (c *Client) resizeCapable(ctx context.Context) bool {
	if v, ok := c.caps.Get(capabilityKey); ok {
		return v.(bool)
	}
	capable := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.probeURL, nil)
	if err == nil {
		if resp, err := c.httpClient.Do(req); err == nil {
			resp.Body.Close()
			capable = resp.StatusCode < 300
		}
	}
	if !capable {
		c.logger.Warn().Str("host", c.ownedHost).Msg("assetstore: resize capability unavailable, inputs pass through unresized")
	}
	c.caps.Set(capabilityKey, capable, gocache.NoExpiration)
	return capable
}

func (c *Client) isOwned(rawURL string) bool {
	if c.ownedHost == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, c.ownedHost)
}

func (c *Client) isTransientHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, t := range c.transientHosts {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if host == t || strings.HasSuffix(host, "."+t) {
			return true
		}
	}
	return false
}

