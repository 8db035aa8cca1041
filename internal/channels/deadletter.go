package channels

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/crew/pkg/models"
)

// DeadLetter is an outbound message that exhausted its delivery retries.
type DeadLetter struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	Channel   models.ChannelType `json:"channel"`
	ContactID string             `json:"contact_id"`
	Message   *models.Message    `json:"message"`
	Attempts  int                `json:"attempts"`
	LastError string             `json:"last_error"`
	FailedAt  time.Time          `json:"failed_at"`
}

// DeadLetterStore persists undeliverable messages for inspection and
// manual redelivery.
type DeadLetterStore interface {
	Add(ctx context.Context, letter *DeadLetter) error
	List(ctx context.Context, limit int) ([]*DeadLetter, error)
	Remove(ctx context.Context, id string) error
}

// MemoryDeadLetterStore is an in-memory DeadLetterStore for tests and
// local runs.
type MemoryDeadLetterStore struct {
	mu      sync.Mutex
	letters []*DeadLetter
}

// NewMemoryDeadLetterStore creates an empty in-memory dead-letter store.
func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{}
}

func (s *MemoryDeadLetterStore) Add(ctx context.Context, letter *DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if letter.ID == "" {
		letter.ID = uuid.NewString()
	}
	s.letters = append(s.letters, letter)
	return nil
}

func (s *MemoryDeadLetterStore) List(ctx context.Context, limit int) ([]*DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.letters
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]*DeadLetter{}, out...), nil
}

func (s *MemoryDeadLetterStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, letter := range s.letters {
		if letter.ID == id {
			s.letters = append(s.letters[:i], s.letters[i+1:]...)
			return nil
		}
	}
	return nil
}

// SQLDeadLetterStore persists dead letters in Postgres.
type SQLDeadLetterStore struct {
	db *sql.DB
}

// NewSQLDeadLetterStore creates a SQL-backed dead-letter store.
func NewSQLDeadLetterStore(db *sql.DB) *SQLDeadLetterStore {
	return &SQLDeadLetterStore{db: db}
}

// Migrate creates the dead-letter table.
func (s *SQLDeadLetterStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS outbound_dead_letters (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			message JSONB NOT NULL,
			attempts INT NOT NULL,
			last_error TEXT NOT NULL,
			failed_at TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (s *SQLDeadLetterStore) Add(ctx context.Context, letter *DeadLetter) error {
	if letter.ID == "" {
		letter.ID = uuid.NewString()
	}
	payload, err := json.Marshal(letter.Message)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outbound_dead_letters
			(id, session_id, channel, contact_id, message, attempts, last_error, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		letter.ID, letter.SessionID, string(letter.Channel), letter.ContactID,
		payload, letter.Attempts, letter.LastError, letter.FailedAt)
	if err != nil {
		return fmt.Errorf("add dead letter: %w", err)
	}
	return nil
}

func (s *SQLDeadLetterStore) List(ctx context.Context, limit int) ([]*DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, channel, contact_id, message, attempts, last_error, failed_at
		FROM outbound_dead_letters
		ORDER BY failed_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*DeadLetter
	for rows.Next() {
		var (
			letter  DeadLetter
			channel string
			payload []byte
		)
		if err := rows.Scan(&letter.ID, &letter.SessionID, &channel,
			&letter.ContactID, &payload, &letter.Attempts, &letter.LastError,
			&letter.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letter.Channel = models.ChannelType(channel)
		if err := json.Unmarshal(payload, &letter.Message); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		letters = append(letters, &letter)
	}
	return letters, rows.Err()
}

func (s *SQLDeadLetterStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM outbound_dead_letters WHERE id = $1`, id)
	return err
}
