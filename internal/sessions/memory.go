package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/crew/pkg/models"
)

// maxMessagesPerSession bounds stored messages per session so memory use
// cannot grow without limit; older messages are trimmed.
const maxMessagesPerSession = 1000

// MemoryStore provides an in-memory Store implementation for testing and
// local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	byKey    map[string]string
	messages map[string][]*models.Message
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*models.Session{},
		byKey:    map[string]string{},
		messages: map[string][]*models.Message{},
	}
}

func (m *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.StartedAt.IsZero() {
		clone.StartedAt = time.Now()
	}
	session.ID = clone.ID
	session.StartedAt = clone.StartedAt
	m.sessions[clone.ID] = clone
	if clone.Key != "" {
		m.byKey[clone.Key] = clone.ID
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) Update(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	clone := cloneSession(session)
	m.sessions[clone.ID] = clone
	if clone.Key != "" {
		m.byKey[clone.Key] = clone.ID
	}
	return nil
}

func (m *MemoryStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) ListOpen(ctx context.Context, limit int, offset int) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var open []*models.Session
	for _, session := range m.sessions {
		if session.Open() {
			open = append(open, cloneSession(session))
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].LastMessageAt.Before(open[j].LastMessageAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(open) {
		return []*models.Session{}, nil
	}
	end := len(open)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return open[offset:end], nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.SessionID = sessionID
	m.messages[sessionID] = append(m.messages[sessionID], clone)

	if len(m.messages[sessionID]) > maxMessagesPerSession {
		excess := len(m.messages[sessionID]) - maxMessagesPerSession
		m.messages[sessionID] = m.messages[sessionID][excess:]
	}
	return nil
}

func (m *MemoryStore) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := m.messages[sessionID]
	if len(messages) == 0 {
		return []*models.Message{}, nil
	}
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := make([]*models.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	clone := *session
	if session.ClosedAt != nil {
		closedAt := *session.ClosedAt
		clone.ClosedAt = &closedAt
	}
	if session.DisabledTools != nil {
		clone.DisabledTools = append([]string{}, session.DisabledTools...)
	}
	if session.Team != nil {
		team := *session.Team
		team.AgentIDs = append([]string{}, session.Team.AgentIDs...)
		team.HandoffHistory = append([]models.Handoff{}, session.Team.HandoffHistory...)
		if session.Team.Escalation != nil {
			escalation := *session.Team.Escalation
			if session.Team.Escalation.TakenOverAt != nil {
				takenOver := *session.Team.Escalation.TakenOverAt
				escalation.TakenOverAt = &takenOver
			}
			team.Escalation = &escalation
		}
		clone.Team = &team
	}
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ToolCall{}, msg.ToolCalls...)
	}
	if len(msg.ToolResults) > 0 {
		clone.ToolResults = append([]models.ToolResult{}, msg.ToolResults...)
	}
	if msg.Metadata != nil {
		metadata := make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			metadata[k] = v
		}
		clone.Metadata = metadata
	}
	return &clone
}
