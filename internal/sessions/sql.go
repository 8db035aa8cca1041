package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/crew/pkg/models"
)

// SQLStore persists sessions and their transcripts in Postgres.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a SQL-backed session store.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the session tables.
func (s *SQLStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			session_key TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			last_message_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ,
			close_reason TEXT NOT NULL DEFAULT '',
			message_count INT NOT NULL DEFAULT 0,
			credits_spent BIGINT NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			resumed_from_id TEXT NOT NULL DEFAULT '',
			injected_context TEXT NOT NULL DEFAULT '',
			disabled_tools JSONB,
			team JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_key ON sessions (session_key, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions (status, last_message_at)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			direction TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls JSONB,
			tool_results JSONB,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages (session_id, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sessions: %w", err)
		}
	}
	return nil
}

const sessionColumns = `id, agent_id, org_id, channel, contact_id, session_key,
	status, started_at, last_message_at, closed_at, close_reason,
	message_count, credits_spent, summary, resumed_from_id,
	injected_context, disabled_tools, team`

func (s *SQLStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	disabledTools, team, err := encodeSessionJSON(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		session.ID, session.AgentID, session.OrgID, string(session.Channel),
		session.ContactID, session.Key, string(session.Status),
		session.StartedAt, session.LastMessageAt, session.ClosedAt,
		string(session.CloseReason), session.Stats.MessageCount,
		session.Stats.CreditsSpent, session.Summary, session.ResumedFromID,
		session.InjectedContext, disabledTools, team)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *SQLStore) Update(ctx context.Context, session *models.Session) error {
	disabledTools, team, err := encodeSessionJSON(session)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = $2, last_message_at = $3, closed_at = $4,
			close_reason = $5, message_count = $6, credits_spent = $7,
			summary = $8, resumed_from_id = $9, injected_context = $10,
			disabled_tools = $11, team = $12
		WHERE id = $1`,
		session.ID, string(session.Status), session.LastMessageAt,
		session.ClosedAt, string(session.CloseReason),
		session.Stats.MessageCount, session.Stats.CreditsSpent,
		session.Summary, session.ResumedFromID, session.InjectedContext,
		disabledTools, team)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE session_key = $1
		ORDER BY started_at DESC LIMIT 1`, key)
	return scanSession(row)
}

func (s *SQLStore) ListOpen(ctx context.Context, limit int, offset int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status IN ('active', 'resumed')
		ORDER BY last_message_at ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	toolCalls, err := encodeNullableJSON(msg.ToolCalls, len(msg.ToolCalls) == 0)
	if err != nil {
		return err
	}
	toolResults, err := encodeNullableJSON(msg.ToolResults, len(msg.ToolResults) == 0)
	if err != nil {
		return err
	}
	metadata, err := encodeNullableJSON(msg.Metadata, len(msg.Metadata) == 0)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_messages
			(id, session_id, channel, direction, role, content,
			 tool_calls, tool_results, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, sessionID, string(msg.Channel), string(msg.Direction),
		string(msg.Role), msg.Content, toolCalls, toolResults, metadata,
		msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SQLStore) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, channel, direction, role, content,
		       tool_calls, tool_results, metadata, created_at
		FROM (
			SELECT * FROM session_messages
			WHERE session_id = $1
			ORDER BY created_at DESC LIMIT $2
		) recent
		ORDER BY created_at ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("session history: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var (
			msg                            models.Message
			channel, direction, role       string
			toolCalls, toolResults, metadata []byte
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &channel, &direction,
			&role, &msg.Content, &toolCalls, &toolResults, &metadata,
			&msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Channel = models.ChannelType(channel)
		msg.Direction = models.Direction(direction)
		msg.Role = models.Role(role)
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		if len(toolResults) > 0 {
			if err := json.Unmarshal(toolResults, &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("decode tool results: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session                models.Session
		channel, status        string
		closeReason            string
		closedAt               sql.NullTime
		disabledTools, teamRaw []byte
	)
	err := row.Scan(&session.ID, &session.AgentID, &session.OrgID, &channel,
		&session.ContactID, &session.Key, &status, &session.StartedAt,
		&session.LastMessageAt, &closedAt, &closeReason,
		&session.Stats.MessageCount, &session.Stats.CreditsSpent,
		&session.Summary, &session.ResumedFromID, &session.InjectedContext,
		&disabledTools, &teamRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.Channel = models.ChannelType(channel)
	session.Status = models.SessionStatus(status)
	session.CloseReason = models.CloseReason(closeReason)
	if closedAt.Valid {
		t := closedAt.Time
		session.ClosedAt = &t
	}
	if len(disabledTools) > 0 {
		if err := json.Unmarshal(disabledTools, &session.DisabledTools); err != nil {
			return nil, fmt.Errorf("decode disabled tools: %w", err)
		}
	}
	if len(teamRaw) > 0 {
		var team models.TeamSession
		if err := json.Unmarshal(teamRaw, &team); err != nil {
			return nil, fmt.Errorf("decode team state: %w", err)
		}
		session.Team = &team
	}
	return &session, nil
}

func encodeSessionJSON(session *models.Session) (disabledTools, team []byte, err error) {
	disabledTools, err = encodeNullableJSON(session.DisabledTools, len(session.DisabledTools) == 0)
	if err != nil {
		return nil, nil, err
	}
	team, err = encodeNullableJSON(session.Team, session.Team == nil)
	if err != nil {
		return nil, nil, err
	}
	return disabledTools, team, nil
}

func encodeNullableJSON(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode session field: %w", err)
	}
	return data, nil
}
