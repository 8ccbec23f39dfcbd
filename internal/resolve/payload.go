// Package resolve normalizes the backend's job payloads and extracts the
// output media URL out of them. The backend emits several field spellings
// and nesting shapes depending on which pipeline produced the job, so every
// alias is handled here and nowhere else.
package resolve

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the single normalized view over every job-status response
// shape the backend is known to produce.
type Payload struct {
	GenerationID string
	Status       string
	Mode         string
	Prompt       string
	ErrorMessage string
	ErrorCode    string
	Credits      *int
	Balance      *float64
	Raw          map[string]any
}

// Normalize decodes a raw job-status body into a Payload, resolving field
// aliases and unpacking JSON-encoded sub-objects such as mg_mma_vars.
func Normalize(raw []byte) (*Payload, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("resolve: decode payload: %w", err)
	}
	return NormalizeMap(body), nil
}

// NormalizeMap is Normalize for an already-decoded body.
func NormalizeMap(body map[string]any) *Payload {
	expandEncodedVars(body)

	// Fields regularly arrive nested under mg_mma_vars instead of at the
	// top level; the top level wins when both are present.
	sources := []map[string]any{body}
	for _, key := range []string{"mg_mma_vars", "mgMmaVars"} {
		if vars, ok := body[key].(map[string]any); ok {
			sources = append(sources, vars)
		}
	}

	p := &Payload{Raw: body}
	for _, src := range sources {
		if p.GenerationID == "" {
			p.GenerationID = firstString(src, "generation_id", "generationId", "generationID", "job_id", "jobId", "id")
		}
		if p.Status == "" {
			p.Status = strings.ToLower(firstString(src, "status", "state", "job_status", "jobStatus"))
		}
		if p.Mode == "" {
			p.Mode = firstString(src, "mode", "generation_mode", "generationMode")
		}
		if p.Prompt == "" {
			p.Prompt = firstString(src, "prompt", "final_prompt", "finalPrompt", "prompt_text", "promptText")
		}
		if p.ErrorMessage == "" && p.ErrorCode == "" {
			p.ErrorMessage, p.ErrorCode = errorFields(src)
		}
		if p.Credits == nil {
			if c, ok := creditField(src); ok {
				p.Credits = &c
			}
		}
		if p.Balance == nil {
			if b, ok := balanceField(src); ok {
				p.Balance = &b
			}
		}
	}
	return p
}

// Failed reports whether the payload carries an explicit error object,
// independent of the status string.
func (p *Payload) Failed() bool {
	return p.ErrorMessage != "" || p.ErrorCode != ""
}

// expandEncodedVars replaces mg_mma_vars (and its camelCase alias) with the
// decoded object when the backend sent it double-encoded as a JSON string.
func expandEncodedVars(body map[string]any) {
	for _, key := range []string{"mg_mma_vars", "mgMmaVars"} {
		v, ok := body[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			body[key] = decoded
		}
	}
}

func firstString(body map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := body[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func errorFields(body map[string]any) (msg, code string) {
	v, ok := body["error"]
	if !ok {
		v, ok = body["error_message"]
	}
	if !ok {
		return "", ""
	}
	switch e := v.(type) {
	case string:
		return strings.TrimSpace(e), ""
	case map[string]any:
		m := firstString(e, "message", "error_message", "errorMessage", "detail")
		c := firstString(e, "code", "error_code", "errorCode")
		return m, c
	}
	return "", ""
}

func creditField(body map[string]any) (int, bool) {
	for _, key := range []string{"credits", "credits_cost", "creditsCost", "credit_delta", "creditDelta"} {
		if v, ok := body[key]; ok {
			if f, ok := v.(float64); ok {
				return int(f), true
			}
		}
	}
	return 0, false
}

func balanceField(body map[string]any) (float64, bool) {
	for _, key := range []string{"balance", "credit_balance", "creditBalance"} {
		if v, ok := body[key]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
