// Package devserver is a self-contained stand-in for the generation
// backend: creation with idempotency-key handling, an SSE progress stream,
// a status poll that deliberately varies its field spellings, signed
// uploads, mirroring, and a credit balance. It exists for local development
// and for exercising the client end to end in tests.
package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/moutaamadani/mina-frontend-sub001/internal/infra"
)

// statusLadder is the sequence a job walks through before "done".
var statusLadder = []string{"queued", "scanning", "prompting", "generating", "postscan"}

var scanLadder = []string{
	"reading references",
	"matching palette",
	"composing layout",
	"rendering passes",
}

// Options configures a Server.
type Options struct {
	Logger *infra.Logger
	// StepDuration is how long a job spends in each status.
	StepDuration time.Duration
	// PublicBaseURL overrides the host used in generated asset URLs.
	// Empty derives it from the incoming request.
	PublicBaseURL string
	StartBalance  int
	ImageCost     int
	MotionCost    int
}

type job struct {
	id        string
	kind      string
	createdAt time.Time
	body      map[string]any
	cost      int
}

// Server implements the backend's external surface in memory.
type Server struct {
	logger   infra.Logger
	stepDur  time.Duration
	baseURL  string
	imgCost  int
	motCost  int

	mu       sync.Mutex
	jobs     map[string]*job
	byToken  map[string]string
	files    map[string][]byte
	balance  int
	pollSeen map[string]int
}

// New constructs a Server.
func New(opts Options) *Server {
	logger := infra.Discard()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	stepDur := opts.StepDuration
	if stepDur <= 0 {
		stepDur = 700 * time.Millisecond
	}
	balance := opts.StartBalance
	if balance <= 0 {
		balance = 100
	}
	imgCost := opts.ImageCost
	if imgCost <= 0 {
		imgCost = 2
	}
	motCost := opts.MotionCost
	if motCost <= 0 {
		motCost = 10
	}
	return &Server{
		logger:   logger,
		stepDur:  stepDur,
		baseURL:  strings.TrimRight(opts.PublicBaseURL, "/"),
		imgCost:  imgCost,
		motCost:  motCost,
		jobs:     map[string]*job{},
		byToken:  map[string]string{},
		files:    map[string][]byte{},
		balance:  balance,
		pollSeen: map[string]int{},
	}
}

// Router returns the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, Logger(s.logger), RateLimit(50, 100))

	r.Post("/api/generations/still", s.create("still"))
	r.Post("/api/generations/motion", s.create("motion"))
	r.Get("/api/generations/{id}", s.status)
	r.Get("/api/generations/{id}/events", s.events)

	r.Post("/api/uploads/sign", s.signUpload)
	r.Put("/api/uploads/put/{token}", s.putUpload)
	r.Post("/api/uploads/mirror", s.mirror)
	r.Get("/files/{key}", s.serveFile)
	r.Get("/__transform/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/api/credits", s.credits)
	return r
}

func (s *Server) create(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.jsonError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		token, _ := body["idempotency_key"].(string)

		s.mu.Lock()
		if token != "" {
			if existing, ok := s.byToken[token]; ok {
				j := s.jobs[existing]
				s.mu.Unlock()
				s.writeJSON(w, http.StatusOK, map[string]any{
					"generation_id": j.id,
					"status":        "queued",
					"sse_url":       "/api/generations/" + j.id + "/events",
					"credits_cost":  j.cost,
				})
				return
			}
		}
		cost := s.imgCost
		if kind == "motion" {
			cost = s.motCost
		}
		j := &job{
			id:        uuid.NewString(),
			kind:      kind,
			createdAt: time.Now(),
			body:      body,
			cost:      cost,
		}
		s.jobs[j.id] = j
		if token != "" {
			s.byToken[token] = j.id
		}
		s.balance -= cost
		s.mu.Unlock()

		s.writeJSON(w, http.StatusOK, map[string]any{
			"generation_id": j.id,
			"status":        "queued",
			"sse_url":       "/api/generations/" + j.id + "/events",
			"credits_cost":  cost,
		})
	}
}

// statusOf derives the current status from elapsed time.
func (s *Server) statusOf(j *job) (string, int) {
	elapsed := time.Since(j.createdAt)
	step := int(elapsed / s.stepDur)
	if step >= len(statusLadder) {
		return "done", len(statusLadder)
	}
	return statusLadder[step], step
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		s.jsonError(w, http.StatusNotFound, "generation not found")
		return
	}
	s.pollSeen[id]++
	seen := s.pollSeen[id]
	s.mu.Unlock()

	status, _ := s.statusOf(j)
	resp := map[string]any{}
	// Alternate field spellings on purpose; real deployments disagree on
	// them and the client has to cope.
	if seen%2 == 0 {
		resp["generationId"] = j.id
		resp["status"] = status
	} else {
		resp["generation_id"] = j.id
		resp["status"] = status
	}
	if status == "done" {
		out := s.outputURL(r, j)
		vars := map[string]any{
			"outputs": map[string]any{s.outputField(j): out},
			"prompt":  "refined: " + promptOf(j.body),
		}
		if seen%2 == 0 {
			// Double-encoded on some backend versions.
			encoded, _ := json.Marshal(vars)
			resp["mg_mma_vars"] = string(encoded)
		} else {
			resp["mg_mma_vars"] = vars
		}
		resp["credits"] = float64(j.cost)
		s.mu.Lock()
		resp["balance"] = float64(s.balance)
		s.mu.Unlock()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		s.jsonError(w, http.StatusNotFound, "generation not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastStep := -1
	ticker := time.NewTicker(s.stepDur / 4)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
		status, step := s.statusOf(j)
		if status == "done" {
			fmt.Fprint(w, "event: done\ndata: done\n\n")
			flusher.Flush()
			return
		}
		if step != lastStep {
			lastStep = step
			payload, _ := json.Marshal(map[string]any{
				"status":    status,
				"scanLines": scanLadder[:min(step, len(scanLadder))],
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) signUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind        string `json:"kind"`
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	token := uuid.NewString()
	key := token + "-" + sanitizeName(req.Filename)
	s.mu.Lock()
	s.files[key] = nil
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"upload_url": s.base(r) + "/api/uploads/put/" + key + "?sig=" + token,
		"public_url": s.base(r) + "/files/" + key,
	})
}

func (s *Server) putUpload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "token")
	data, err := io.ReadAll(r.Body)
	if err != nil || len(data) == 0 {
		s.jsonError(w, http.StatusBadRequest, "empty body")
		return
	}
	s.mu.Lock()
	if _, ok := s.files[key]; !ok {
		s.mu.Unlock()
		s.jsonError(w, http.StatusNotFound, "unknown upload target")
		return
	}
	s.files[key] = data
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) mirror(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL  string `json:"url"`
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.jsonError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	resp, err := http.Get(req.URL)
	if err != nil {
		s.jsonError(w, http.StatusBadGateway, "source unreachable")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.jsonError(w, http.StatusBadGateway, "source unreachable")
		return
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		s.jsonError(w, http.StatusBadGateway, "source read failed")
		return
	}
	key := "mirror-" + uuid.NewString()
	s.mu.Lock()
	s.files[key] = data
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]any{"url": s.base(r) + "/files/" + key})
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.mu.Lock()
	data, ok := s.files[key]
	s.mu.Unlock()
	if !ok || len(data) == 0 {
		s.jsonError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Write(data)
}

func (s *Server) credits(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	balance := s.balance
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"balance": balance,
		"meta": map[string]any{
			"imageCost":  s.imgCost,
			"motionCost": s.motCost,
		},
	})
}

// Seed stores bytes under a key so tests can reference existing files.
func (s *Server) Seed(key string, data []byte) {
	s.mu.Lock()
	s.files[key] = data
	s.mu.Unlock()
}

func (s *Server) outputURL(r *http.Request, j *job) string {
	ext := ".png"
	if j.kind == "motion" {
		ext = ".mp4"
	}
	return s.base(r) + "/files/generated-" + j.id + ext
}

func (s *Server) outputField(j *job) string {
	if j.kind == "motion" {
		return "video_url"
	}
	return "image_url"
}

func (s *Server) base(r *http.Request) string {
	if s.baseURL != "" {
		return s.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) jsonError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"error": msg})
}

func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	if name == "" {
		name = "file"
	}
	return name
}

func promptOf(body map[string]any) string {
	if inputs, ok := body["inputs"].(map[string]any); ok {
		if p, ok := inputs["prompt"].(string); ok {
			return p
		}
	}
	return ""
}
