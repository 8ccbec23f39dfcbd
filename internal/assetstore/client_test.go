package assetstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/moutaamadani/mina-frontend-sub001/internal/backend"
	"github.com/moutaamadani/mina-frontend-sub001/internal/devserver"
)

func newStack(t *testing.T) (*Client, *devserver.Server, *httptest.Server) {
	t.Helper()
	ds := devserver.New(devserver.Options{})
	srv := httptest.NewServer(ds.Router())
	t.Cleanup(srv.Close)

	bc, err := backend.NewClient(backend.Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	u, _ := url.Parse(srv.URL)
	client := New(Options{
		Backend:           bc,
		OwnedHost:         u.Host,
		TransientHosts:    []string{"ephemeral.example.com"},
		TransformProbeURL: srv.URL + "/__transform/ping",
	})
	return client, ds, srv
}

func TestUploadLocalReturnsDeSignedURL(t *testing.T) {
	client, _, srv := newStack(t)
	stored, err := client.UploadLocal(context.Background(), []byte("image bytes"), "hat.png", "image/png", "product")
	if err != nil {
		t.Fatalf("UploadLocal: %v", err)
	}
	if strings.Contains(stored, "?") {
		t.Fatalf("stored URL %q still carries signing params", stored)
	}
	if !strings.HasPrefix(stored, srv.URL+"/files/") {
		t.Fatalf("stored URL %q not on asset host", stored)
	}
	resp, err := http.Get(stored)
	if err != nil {
		t.Fatalf("fetch stored: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stored fetch status = %d", resp.StatusCode)
	}
}

func TestEnsureAssetHostedPassesOwnedURLsThrough(t *testing.T) {
	client, _, srv := newStack(t)
	in := srv.URL + "/files/existing.png?X-Sig=abc123"
	got := client.EnsureAssetHosted(context.Background(), in, "product")
	if got != srv.URL+"/files/existing.png" {
		t.Fatalf("EnsureAssetHosted = %q, want de-signed owned URL", got)
	}
}

func TestEnsureAssetHostedMirrorsForeignURLs(t *testing.T) {
	client, _, srv := newStack(t)
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote asset"))
	}))
	defer source.Close()

	got := client.EnsureAssetHosted(context.Background(), source.URL+"/asset.png", "inspiration")
	if !strings.HasPrefix(got, srv.URL+"/files/mirror-") {
		t.Fatalf("EnsureAssetHosted = %q, want mirrored URL", got)
	}
}

func TestMirrorFailureFallsBackToOriginal(t *testing.T) {
	client, _, _ := newStack(t)
	source := httptest.NewServer(http.NotFoundHandler())
	defer source.Close()

	in := source.URL + "/gone.png"
	if got := client.MirrorRemote(context.Background(), in, "inspiration"); got != in {
		t.Fatalf("MirrorRemote = %q, want original URL fallback", got)
	}
}

func TestMirrorFailureFromTransientHostReturnsEmpty(t *testing.T) {
	client, _, _ := newStack(t)
	got := client.MirrorRemote(context.Background(), "https://cdn.ephemeral.example.com/soon-gone.png", "inspiration")
	if got != "" {
		t.Fatalf("MirrorRemote = %q, want empty for expiring source", got)
	}
}

func TestBuildResizedInputURL(t *testing.T) {
	client, _, srv := newStack(t)
	got := client.BuildResizedInputURL(context.Background(), srv.URL+"/files/big.png?sig=1", "product")
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse %q: %v", got, err)
	}
	q := u.Query()
	if q.Get("w") != "1600" || q.Get("q") != "80" || q.Get("fm") != "jpg" {
		t.Fatalf("resize params = %v", q)
	}
	if q.Get("sig") != "" {
		t.Fatalf("signing params survived: %v", q)
	}

	foreign := "https://elsewhere.example.com/pic.png"
	if got := client.BuildResizedInputURL(context.Background(), foreign, "product"); got != foreign {
		t.Fatalf("foreign URL = %q, want unchanged", got)
	}
}

func TestBuildResizedInputURLFailsOpenWithoutCapability(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	bc, err := backend.NewClient(backend.Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	u, _ := url.Parse(srv.URL)
	client := New(Options{
		Backend:           bc,
		OwnedHost:         u.Host,
		TransformProbeURL: srv.URL + "/__transform/ping",
	})

	in := srv.URL + "/files/big.png"
	if got := client.BuildResizedInputURL(context.Background(), in, "product"); got != in {
		t.Fatalf("BuildResizedInputURL = %q, want pass-through when transform is unavailable", got)
	}
}
