// Package history persists finished generations locally. The stored
// request snapshot is what makes the "recreate" action possible after a
// restart.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
	"github.com/moutaamadani/mina-frontend-sub001/internal/infra"
)

const schema = `
CREATE TABLE IF NOT EXISTS history_items (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	url          TEXT NOT NULL,
	prompt       TEXT NOT NULL DEFAULT '',
	credit_delta INTEGER NOT NULL DEFAULT 0,
	request_json TEXT NOT NULL DEFAULT '{}',
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_created ON history_items (created_at DESC);
`

// Store is a SQLite-backed history of finished items.
type Store struct {
	db     *sql.DB
	logger infra.Logger
}

// Open opens (and if needed initializes) the history database at path.
func Open(path string, logger *infra.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: db path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ensure schema: %w", err)
	}
	log := infra.Discard()
	if logger != nil {
		log = *logger
	}
	return &Store{db: db, logger: log}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert records a finished item.
func (s *Store) Insert(ctx context.Context, item *domain.HistoryItem) error {
	if item == nil || item.ID == "" {
		return errors.New("history: item id is required")
	}
	reqJSON, err := json.Marshal(item.RequestBody)
	if err != nil {
		return fmt.Errorf("history: encode request snapshot: %w", err)
	}
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history_items (id, kind, url, prompt, credit_delta, request_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Kind), item.URL, item.Prompt, item.CreditDelta, string(reqJSON), createdAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	s.logger.Debug().Str("id", item.ID).Str("kind", string(item.Kind)).Msg("history: item recorded")
	return nil
}

// List returns items most recent first, optionally filtered by kind.
func (s *Store) List(ctx context.Context, kind domain.JobKind, limit int) ([]domain.HistoryItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, kind, url, prompt, credit_delta, request_json, created_at
		FROM history_items`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var items []domain.HistoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Get fetches one item by id.
func (s *Store) Get(ctx context.Context, id string) (*domain.HistoryItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, url, prompt, credit_delta, request_json, created_at
		 FROM history_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.HistoryItem, error) {
	var item domain.HistoryItem
	var kind, reqJSON string
	if err := row.Scan(&item.ID, &kind, &item.URL, &item.Prompt, &item.CreditDelta, &reqJSON, &item.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("history: scan: %w", err)
	}
	item.Kind = domain.JobKind(kind)
	if reqJSON != "" {
		if err := json.Unmarshal([]byte(reqJSON), &item.RequestBody); err != nil {
			return nil, fmt.Errorf("history: decode request snapshot: %w", err)
		}
	}
	return &item, nil
}
