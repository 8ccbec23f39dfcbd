// Package backend is the HTTP client for the generation service. It owns
// identity propagation (bearer token and subject header, independently
// optional) and the raw wire calls; interpretation of job payloads lives in
// the resolve package.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/moutaamadani/mina-frontend-sub001/internal/infra"
)

// ErrMissingBaseURL indicates the client was configured without an API base.
var ErrMissingBaseURL = errors.New("backend: base url is required")

// SubjectHeader carries the opaque subject identifier. Requests may be
// well-formed with a token, a subject, both, or (degraded) neither.
const SubjectHeader = "X-Subject-ID"

// Options configures a Client.
type Options struct {
	BaseURL        string
	Token          string
	Subject        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the generation backend.
type Client struct {
	baseURL    string
	token      string
	subject    string
	httpClient *http.Client
	logger     infra.Logger
}

// CreateResponse is the creation endpoint's reply.
type CreateResponse struct {
	GenerationID       string `json:"generation_id"`
	Status             string `json:"status"`
	SSEURL             string `json:"sse_url"`
	CreditsCost        int    `json:"credits_cost"`
	ParentGenerationID string `json:"parent_generation_id"`
}

// SignedTarget is a short-lived upload destination plus the stable URL the
// object will have once stored.
type SignedTarget struct {
	UploadURL string `json:"upload_url"`
	PublicURL string `json:"public_url"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := infra.Discard()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		subject:    strings.TrimSpace(opts.Subject),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// BaseURL returns the configured API base.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Subject returns the configured subject identifier.
func (c *Client) Subject() string {
	return c.subject
}

// CreateGeneration submits a generation or tweak request. Creation is a
// mutating call and is never retried here; the caller surfaces failures
// immediately.
func (c *Client) CreateGeneration(ctx context.Context, endpoint string, body map[string]any) (*CreateResponse, error) {
	raw, err := c.postJSON(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}
	var decoded CreateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("backend: decode creation response: %w", err)
	}
	if decoded.GenerationID == "" {
		return nil, errors.New("backend: creation response missing generation id")
	}
	return &decoded, nil
}

// GenerationStatus fetches the raw job-status payload by id. Decoding is
// left to the resolve package, which owns the field-alias handling.
func (c *Client) GenerationStatus(ctx context.Context, generationID string) ([]byte, error) {
	endpoint := "/api/generations/" + url.PathEscape(generationID)
	req, err := c.newRequest(ctx, http.MethodGet, c.absolute(endpoint), nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: status request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: read status: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, c.httpError("status", resp.StatusCode, raw)
	}
	return raw, nil
}

// OpenStream opens the server-push progress channel for a job. streamURL
// may be absolute or endpoint-relative; empty falls back to the implicit
// stream address derived from the generation id.
func (c *Client) OpenStream(ctx context.Context, generationID, streamURL string) (io.ReadCloser, error) {
	target := strings.TrimSpace(streamURL)
	if target == "" {
		target = "/api/generations/" + url.PathEscape(generationID) + "/events"
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.absolute(target), nil, "")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: open stream: %w", err)
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, c.httpError("stream", resp.StatusCode, raw)
	}
	return resp.Body, nil
}

// SignUpload requests a signed upload target for a local file.
func (c *Client) SignUpload(ctx context.Context, kind, filename, contentType string) (*SignedTarget, error) {
	raw, err := c.postJSON(ctx, "/api/uploads/sign", map[string]any{
		"kind":         kind,
		"filename":     filename,
		"content_type": contentType,
	})
	if err != nil {
		return nil, err
	}
	var target SignedTarget
	if err := json.Unmarshal(raw, &target); err != nil {
		return nil, fmt.Errorf("backend: decode signed target: %w", err)
	}
	if target.UploadURL == "" || target.PublicURL == "" {
		return nil, errors.New("backend: incomplete signed target")
	}
	return &target, nil
}

// PutBinary performs the direct binary transfer to a signed target.
func (c *Client) PutBinary(ctx context.Context, uploadURL string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("backend: build upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return c.httpError("upload", resp.StatusCode, raw)
	}
	return nil
}

// MirrorRemote asks the backend to copy an arbitrary remote URL into the
// asset store and returns the stored URL.
func (c *Client) MirrorRemote(ctx context.Context, sourceURL, kind string) (string, error) {
	raw, err := c.postJSON(ctx, "/api/uploads/mirror", map[string]any{
		"url":  sourceURL,
		"kind": kind,
	})
	if err != nil {
		return "", err
	}
	var decoded struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("backend: decode mirror response: %w", err)
	}
	if decoded.URL == "" {
		return "", errors.New("backend: mirror response missing url")
	}
	return decoded.URL, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("backend: encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.absolute(endpoint), bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, c.httpError(endpoint, resp.StatusCode, raw)
	}
	return raw, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.subject != "" {
		req.Header.Set(SubjectHeader, c.subject)
	}
	return req, nil
}

// absolute resolves an endpoint against the API base. Absolute URLs (such
// as an sse_url handed back by creation) pass through untouched.
func (c *Client) absolute(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.baseURL + endpoint
}

func (c *Client) httpError(op string, status int, raw []byte) error {
	var detail struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Message != "" {
			return fmt.Errorf("backend: %s: status %d: %s", op, status, detail.Message)
		}
		if detail.Error != "" {
			return fmt.Errorf("backend: %s: status %d: %s", op, status, detail.Error)
		}
	}
	return fmt.Errorf("backend: %s: status %d", op, status)
}
