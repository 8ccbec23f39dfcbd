package resolve

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
)

const maxDepth = 10

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true,
	".gif": true, ".bmp": true, ".avif": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".webm": true, ".m4v": true,
	".avi": true, ".mkv": true,
}

// Resolver scores URL candidates found in a job payload. OwnedHost boosts
// URLs already on the asset store; kind decides which extensions count as a
// match and which as the wrong medium.
type Resolver struct {
	OwnedHost string
}

// InputSet holds the de-signed form of every URL that appeared in a job's
// own request. Any payload URL found in this set is an echoed input, never
// a result.
type InputSet map[string]struct{}

// Contains reports whether raw (after de-signing) is a known input.
func (s InputSet) Contains(raw string) bool {
	if len(s) == 0 {
		return false
	}
	_, ok := s[StripSigning(raw)]
	return ok
}

// InputsFromRequest collects every URL-valued string under the request's
// asset fields. It walks nested maps so composite requests (start/end
// frames inside an assets object) are covered too.
func InputsFromRequest(body map[string]any) InputSet {
	set := InputSet{}
	if body == nil {
		return set
	}
	var walk func(v any, depth int)
	walk = func(v any, depth int) {
		if depth > maxDepth {
			return
		}
		switch t := v.(type) {
		case string:
			if isHTTPURL(t) {
				set[StripSigning(t)] = struct{}{}
			}
		case []any:
			for _, item := range t {
				walk(item, depth+1)
			}
		case map[string]any:
			for _, item := range t {
				walk(item, depth+1)
			}
		}
	}
	for _, key := range []string{"assets", "product_image_url", "productImageUrl", "logo_url", "logoUrl", "inspiration_urls", "inspirationUrls", "start_url", "startUrl", "end_url", "endUrl", "inputs"} {
		if v, ok := body[key]; ok {
			walk(v, 0)
		}
	}
	return set
}

// StripSigning reduces a URL to scheme://host/path so that two references
// to the same object compare equal regardless of signing parameters.
func StripSigning(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

type candidate struct {
	url   string
	score int
	depth int
	order int
}

// Resolve finds the best output URL for kind inside an arbitrarily nested
// payload, excluding every URL that also appeared among the job's inputs.
// It returns "" when no acceptable candidate exists; callers must treat
// that as "no result", not as a URL.
func (r *Resolver) Resolve(payload map[string]any, kind domain.JobKind, inputs InputSet) string {
	if payload == nil {
		return ""
	}
	var cands []candidate
	order := 0

	var walk func(key string, v any, depth int)
	walk = func(key string, v any, depth int) {
		if depth > maxDepth {
			return
		}
		switch t := v.(type) {
		case string:
			if isHTTPURL(t) {
				order++
				cands = append(cands, candidate{
					url:   strings.TrimSpace(t),
					score: r.score(key, t, kind),
					depth: depth,
					order: order,
				})
				return
			}
			// Sub-objects occasionally arrive JSON-encoded as strings.
			s := strings.TrimSpace(t)
			if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
				var decoded any
				if err := json.Unmarshal([]byte(s), &decoded); err == nil {
					walk(key, decoded, depth+1)
				}
			}
		case []any:
			for _, item := range t {
				walk(key, item, depth+1)
			}
		case map[string]any:
			for k, item := range t {
				walk(k, item, depth+1)
			}
		}
	}
	walk("", payload, 0)

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].depth != cands[j].depth {
			return cands[i].depth < cands[j].depth
		}
		return cands[i].order < cands[j].order
	})

	for _, c := range cands {
		if c.score < 0 {
			break
		}
		if inputs.Contains(c.url) {
			continue
		}
		return c.url
	}
	return ""
}

func (r *Resolver) score(key, raw string, kind domain.JobKind) int {
	score := 0
	ext := extOf(raw)
	rightExt, wrongExt := imageExts, videoExts
	if kind == domain.JobKindMotion {
		rightExt, wrongExt = videoExts, imageExts
	}
	if rightExt[ext] {
		score += 40
	}
	if wrongExt[ext] {
		score -= 40
	}

	lower := strings.ToLower(key)
	switch {
	case kind == domain.JobKindMotion && containsAny(lower, "video", "motion", "animation", "clip"):
		score += 15
	case kind == domain.JobKindStill && containsAny(lower, "image", "photo", "still", "picture"):
		score += 15
	}
	if containsAny(lower, "output", "result", "artifact", "generated") {
		score += 20
	}
	if containsAny(lower, "url", "uri", "link") {
		score += 10
	}
	if containsAny(lower, "product", "logo", "inspiration", "start", "end", "input", "source", "reference") {
		score -= 25
	}
	if r.OwnedHost != "" {
		if u, err := url.Parse(raw); err == nil && strings.EqualFold(u.Host, r.OwnedHost) {
			score += 25
		}
	}
	return score
}

func extOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	path := strings.ToLower(u.Path)
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i:]
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isHTTPURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
