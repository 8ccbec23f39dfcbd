package domain

import "time"

// CreditState is the displayable prepaid balance plus per-unit costs.
type CreditState struct {
	Balance    int
	ImageCost  int
	MotionCost int
	ExpiresAt  time.Time
	FetchedAt  time.Time
}

// HistoryItem is a finished generation kept for the session history and for
// the "recreate" action, which replays the stored request snapshot.
type HistoryItem struct {
	ID          string
	Kind        JobKind
	URL         string
	Prompt      string
	CreditDelta int
	RequestBody map[string]any
	CreatedAt   time.Time
}
