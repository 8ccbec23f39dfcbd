package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
)

// Credits fetches the authoritative balance for the configured subject.
// Field names vary across backend versions, so the decode is alias
// tolerant; non-finite values are rejected here so callers never see them.
func (c *Client) Credits(ctx context.Context) (*domain.CreditState, error) {
	raw, err := c.getJSON(ctx, "/api/credits")
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("backend: decode credits: %w", err)
	}

	balance, ok := numberField(body, "balance", "credits", "credit_balance", "creditBalance")
	if !ok {
		return nil, fmt.Errorf("backend: credits response missing balance")
	}
	if math.IsNaN(balance) || math.IsInf(balance, 0) || balance < 0 {
		return nil, fmt.Errorf("backend: credits balance out of range: %v", balance)
	}

	state := &domain.CreditState{
		Balance:   int(balance),
		FetchedAt: time.Now(),
	}

	meta, _ := body["meta"].(map[string]any)
	if meta == nil {
		meta = body
	}
	if v, ok := numberField(meta, "imageCost", "image_cost", "stillCost", "still_cost"); ok {
		state.ImageCost = int(v)
	}
	if v, ok := numberField(meta, "motionCost", "motion_cost", "videoCost", "video_cost"); ok {
		state.MotionCost = int(v)
	}
	if s, ok := meta["expiresAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			state.ExpiresAt = t
		}
	} else if s, ok := meta["expires_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			state.ExpiresAt = t
		}
	}
	return state, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := c.newRequest(ctx, "GET", c.absolute(endpoint), nil, "")
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

func numberField(body map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := body[key]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
