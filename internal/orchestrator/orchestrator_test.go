package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moutaamadani/mina-frontend-sub001/internal/backend"
	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) (*backend.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := backend.NewClient(backend.Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func TestSubmitSharesInFlightAction(t *testing.T) {
	var creates int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generations/still", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&creates, 1)
		time.Sleep(150 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"generation_id": "gen-1", "status": "queued"})
	})
	client, _ := newTestClient(t, mux)
	o := New(Options{Backend: client})

	var wg sync.WaitGroup
	ids := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := o.Submit(context.Background(), "still:create", "/api/generations/still", map[string]any{"prompt": "hat"})
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = resp.GenerationID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Submit[%d]: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&creates); got != 1 {
		t.Fatalf("create requests = %d, want 1", got)
	}
	if ids[0] != "gen-1" || ids[1] != "gen-1" {
		t.Fatalf("ids = %v, want both gen-1", ids)
	}
}

func TestSubmitAttachesAndRotatesIdempotencyToken(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generations/still", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"generation_id": fmt.Sprintf("gen-%d", len(bodies)), "status": "queued"})
	})
	client, _ := newTestClient(t, mux)
	o := New(Options{Backend: client})

	for i := 0; i < 2; i++ {
		if _, err := o.Submit(context.Background(), "still:create", "/api/generations/still", map[string]any{"prompt": "hat"}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	if len(bodies) != 2 {
		t.Fatalf("requests = %d, want 2", len(bodies))
	}
	tokens := make([]string, 0, 2)
	for i, body := range bodies {
		top, _ := body["idempotency_key"].(string)
		if top == "" {
			t.Fatalf("request %d missing top-level idempotency_key", i)
		}
		inputs, _ := body["inputs"].(map[string]any)
		if inputs == nil || inputs["idempotency_key"] != top {
			t.Fatalf("request %d inputs token mismatch: %v", i, inputs)
		}
		tokens = append(tokens, top)
	}
	if tokens[0] == tokens[1] {
		t.Fatal("token did not rotate between completed flights")
	}
}

func TestAwaitTerminalImplicitSuccessOnOutputURL(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/generations/gen-9", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		body := map[string]any{"generation_id": "gen-9", "status": "rendering"}
		if n >= 2 {
			body["outputs"] = map[string]any{"image_url": "https://cdn.example.com/out/gen-9.png"}
		}
		json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("GET /api/generations/gen-9/events", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	client, _ := newTestClient(t, mux)
	o := New(Options{Backend: client, TerminalSuccess: []string{"done"}})

	term, err := o.AwaitTerminal(context.Background(), "gen-9", AwaitOptions{
		Kind:         domain.JobKindStill,
		Timeout:      10 * time.Second,
		PollInterval: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("AwaitTerminal: %v", err)
	}
	if !term.Succeeded || term.OutputURL != "https://cdn.example.com/out/gen-9.png" {
		t.Fatalf("terminal = %+v", term)
	}
}

func TestAwaitTerminalFailurePayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/generations/gen-3", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"generation_id": "gen-3",
			"status":        "error",
			"error":         map[string]any{"message": "upstream refused", "code": "REFUSED"},
		})
	})
	mux.HandleFunc("GET /api/generations/gen-3/events", http.NotFound)
	client, _ := newTestClient(t, mux)
	o := New(Options{Backend: client})

	term, err := o.AwaitTerminal(context.Background(), "gen-3", AwaitOptions{Kind: domain.JobKindStill, Timeout: 5 * time.Second})
	if !errors.Is(err, domain.ErrPipelineFailed) {
		t.Fatalf("err = %v, want ErrPipelineFailed", err)
	}
	if term == nil || term.Payload.ErrorMessage != "upstream refused" {
		t.Fatalf("terminal = %+v", term)
	}
}

func TestAwaitTerminalTimesOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/generations/gen-5", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"generation_id": "gen-5", "status": "queued"})
	})
	mux.HandleFunc("GET /api/generations/gen-5/events", http.NotFound)
	client, _ := newTestClient(t, mux)
	o := New(Options{Backend: client})

	_, err := o.AwaitTerminal(context.Background(), "gen-5", AwaitOptions{
		Kind:         domain.JobKindStill,
		Timeout:      700 * time.Millisecond,
		PollInterval: 500 * time.Millisecond,
	})
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestAwaitTerminalPushAcceleratesConfirmation(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/generations/gen-7", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		body := map[string]any{"generation_id": "gen-7", "status": "rendering"}
		if n >= 2 {
			body["status"] = "done"
			body["image_url"] = "https://cdn.example.com/out/gen-7.png"
		}
		json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("GET /api/generations/gen-7/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()
		time.Sleep(150 * time.Millisecond)
		fmt.Fprint(w, "event: done\ndata: {\"status\":\"done\"}\n\n")
		flusher.Flush()
	})
	client, _ := newTestClient(t, mux)
	o := New(Options{Backend: client})

	start := time.Now()
	term, err := o.AwaitTerminal(context.Background(), "gen-7", AwaitOptions{
		Kind:         domain.JobKindStill,
		Timeout:      10 * time.Second,
		PollInterval: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("AwaitTerminal: %v", err)
	}
	if !term.Succeeded {
		t.Fatalf("terminal = %+v", term)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("confirmation took %v, push event did not shortcut the poll interval", elapsed)
	}
}

func TestAwaitTerminalAccumulatesScanLines(t *testing.T) {
	lines := []string{"reading references", "matching palette", "composing layout"}
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/generations/gen-11", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		body := map[string]any{"generation_id": "gen-11", "status": "rendering"}
		// The loop drains one queued push per poll cycle; by the fifth
		// poll every line has been delivered.
		if n >= 5 {
			body["status"] = "done"
			body["image_url"] = "https://cdn.example.com/out/gen-11.png"
		}
		json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("GET /api/generations/gen-11/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "event: scan_line\ndata: %s\n\n", line)
		}
		flusher.Flush()
		<-r.Context().Done()
	})
	client, _ := newTestClient(t, mux)
	o := New(Options{Backend: client})

	var mu sync.Mutex
	var lastSeen []string
	term, err := o.AwaitTerminal(context.Background(), "gen-11", AwaitOptions{
		Kind:         domain.JobKindStill,
		Timeout:      15 * time.Second,
		PollInterval: 500 * time.Millisecond,
		OnProgress: func(status string, scanLines []string) {
			mu.Lock()
			lastSeen = append([]string(nil), scanLines...)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("AwaitTerminal: %v", err)
	}
	if !term.Succeeded {
		t.Fatalf("terminal = %+v", term)
	}
	if len(term.ScanLines) != len(lines) {
		t.Fatalf("ScanLines = %v, want all %d lines accumulated", term.ScanLines, len(lines))
	}
	for i, want := range lines {
		if term.ScanLines[i] != want {
			t.Fatalf("ScanLines[%d] = %q, want %q", i, term.ScanLines[i], want)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(lastSeen) != len(lines) {
		t.Fatalf("final progress log = %v, want the full accumulated list", lastSeen)
	}
}

func TestCancelAllAbortsInFlightSubmit(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generations/motion", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"generation_id": "gen-x", "status": "queued"})
	})
	client, _ := newTestClient(t, mux)
	o := New(Options{Backend: client})

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), "motion:animate", "/api/generations/motion", map[string]any{})
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	o.CancelAll()
	close(release)

	select {
	case err := <-errCh:
		if !errors.Is(err, domain.ErrCreationFailed) {
			t.Fatalf("err = %v, want ErrCreationFailed wrapper", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled submit did not return")
	}
}
