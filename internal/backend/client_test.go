package backend

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

// captureTransport records the outgoing request and serves a canned reply.
type captureTransport struct {
	req    *http.Request
	body   []byte
	status int
	reply  string
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.req = req
	if req.Body != nil {
		c.body, _ = io.ReadAll(req.Body)
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(c.reply)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func newCapturedClient(t *testing.T, ct *captureTransport, opts Options) *Client {
	t.Helper()
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.example.com"
	}
	opts.HTTPClient = &http.Client{Transport: ct}
	client, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Options{}); err != ErrMissingBaseURL {
		t.Fatalf("err = %v, want ErrMissingBaseURL", err)
	}
}

func TestCreateGenerationSendsIdentityHeaders(t *testing.T) {
	ct := &captureTransport{reply: `{"generation_id":"gen-1","status":"queued"}`}
	client := newCapturedClient(t, ct, Options{Token: "tok-abc", Subject: "subj-9"})

	resp, err := client.CreateGeneration(context.Background(), "/api/generations/still", map[string]any{"prompt": "hat"})
	if err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}
	if resp.GenerationID != "gen-1" {
		t.Fatalf("GenerationID = %q", resp.GenerationID)
	}
	if got := ct.req.Header.Get("Authorization"); got != "Bearer tok-abc" {
		t.Fatalf("Authorization = %q", got)
	}
	if got := ct.req.Header.Get(SubjectHeader); got != "subj-9" {
		t.Fatalf("subject header = %q", got)
	}
	if ct.req.URL.String() != "https://api.example.com/api/generations/still" {
		t.Fatalf("url = %s", ct.req.URL)
	}
	if !bytes.Contains(ct.body, []byte(`"prompt":"hat"`)) {
		t.Fatalf("body = %s", ct.body)
	}
}

func TestIdentityHeadersAreIndependentlyOptional(t *testing.T) {
	ct := &captureTransport{reply: `{"generation_id":"gen-1"}`}
	client := newCapturedClient(t, ct, Options{})
	if _, err := client.CreateGeneration(context.Background(), "/api/generations/still", map[string]any{}); err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}
	if ct.req.Header.Get("Authorization") != "" || ct.req.Header.Get(SubjectHeader) != "" {
		t.Fatal("identity headers sent without configured identity")
	}
}

func TestCreateGenerationRejectsMissingID(t *testing.T) {
	ct := &captureTransport{reply: `{"status":"queued"}`}
	client := newCapturedClient(t, ct, Options{})
	if _, err := client.CreateGeneration(context.Background(), "/api/generations/still", map[string]any{}); err == nil {
		t.Fatal("accepted creation response without generation id")
	}
}

func TestHTTPErrorSurfacesBackendMessage(t *testing.T) {
	ct := &captureTransport{status: http.StatusPaymentRequired, reply: `{"error":"insufficient credits"}`}
	client := newCapturedClient(t, ct, Options{})
	_, err := client.CreateGeneration(context.Background(), "/api/generations/still", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "insufficient credits") {
		t.Fatalf("err = %v, want backend message included", err)
	}
	if !strings.Contains(err.Error(), "402") {
		t.Fatalf("err = %v, want status code included", err)
	}
}

func TestOpenStreamFallsBackToImplicitAddress(t *testing.T) {
	ct := &captureTransport{reply: "data: queued\n\n"}
	client := newCapturedClient(t, ct, Options{})
	body, err := client.OpenStream(context.Background(), "gen-4", "")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	body.Close()
	if got := ct.req.URL.Path; got != "/api/generations/gen-4/events" {
		t.Fatalf("path = %q", got)
	}
	if got := ct.req.Header.Get("Accept"); got != "text/event-stream" {
		t.Fatalf("Accept = %q", got)
	}
}

func TestOpenStreamUsesAbsoluteSSEURL(t *testing.T) {
	ct := &captureTransport{reply: "data: queued\n\n"}
	client := newCapturedClient(t, ct, Options{})
	body, err := client.OpenStream(context.Background(), "gen-4", "https://push.example.com/stream/gen-4")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	body.Close()
	if got := ct.req.URL.String(); got != "https://push.example.com/stream/gen-4" {
		t.Fatalf("url = %q", got)
	}
}

func TestCreditsDecodesAliases(t *testing.T) {
	ct := &captureTransport{reply: `{"credit_balance": 42, "meta": {"image_cost": 2, "motion_cost": 10}}`}
	client := newCapturedClient(t, ct, Options{})
	state, err := client.Credits(context.Background())
	if err != nil {
		t.Fatalf("Credits: %v", err)
	}
	if state.Balance != 42 || state.ImageCost != 2 || state.MotionCost != 10 {
		t.Fatalf("state = %+v", state)
	}
}

func TestCreditsRejectsNegativeBalance(t *testing.T) {
	ct := &captureTransport{reply: `{"balance": -5}`}
	client := newCapturedClient(t, ct, Options{})
	if _, err := client.Credits(context.Background()); err == nil {
		t.Fatal("accepted negative balance")
	}
}
