package sessions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haasonsaas/crew/pkg/models"
)

const (
	// DefaultIdleTTL closes sessions after this much silence when the
	// agent's policy does not set one.
	DefaultIdleTTL = 30 * time.Minute

	// DefaultMaxDuration caps total session age when the agent's policy
	// does not set one.
	DefaultMaxDuration = 24 * time.Hour

	// DefaultSessionCreditCap bounds per-session spend when the agent's
	// policy does not set one.
	DefaultSessionCreditCap = 50
)

// Summarizer produces a short summary of a finished conversation. The
// manager calls it asynchronously after close.
type Summarizer interface {
	Summarize(ctx context.Context, session *models.Session, history []*models.Message) (string, error)
}

// Manager drives the session lifecycle: lazy expiry on message arrival,
// reopen-versus-resume, close with async summarization.
type Manager struct {
	store      Store
	locker     Locker
	summarizer Summarizer
	logger     *slog.Logger
	now        Clock
	closeHook  func(session *models.Session, reason models.CloseReason)

	// summaryTimeout bounds each asynchronous summarization call.
	summaryTimeout time.Duration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSummarizer enables asynchronous close summaries.
func WithSummarizer(s Summarizer) ManagerOption {
	return func(m *Manager) { m.summarizer = s }
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(clock Clock) ManagerOption {
	return func(m *Manager) { m.now = clock }
}

// WithCloseHook registers a callback invoked after every session close.
func WithCloseHook(hook func(session *models.Session, reason models.CloseReason)) ManagerOption {
	return func(m *Manager) { m.closeHook = hook }
}

// NewManager creates a session lifecycle manager.
func NewManager(store Store, locker Locker, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:          store,
		locker:         locker,
		logger:         slog.Default(),
		now:            time.Now,
		summaryTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the underlying session store.
func (m *Manager) Store() Store { return m.store }

// Lock acquires the per-session execution lock.
func (m *Manager) Lock(ctx context.Context, sessionID string) error {
	return m.locker.Lock(ctx, sessionID)
}

// Unlock releases the per-session execution lock.
func (m *Manager) Unlock(sessionID string) {
	m.locker.Unlock(sessionID)
}

// CreditCap returns the per-session spend limit for an agent.
func CreditCap(agent *models.Agent) int64 {
	if agent.Session.CreditCap > 0 {
		return agent.Session.CreditCap
	}
	return DefaultSessionCreditCap
}

// Resolve returns the session an inbound message belongs to, creating,
// expiring, or resuming as needed. Expiry is evaluated lazily here so
// boundaries hold even if the background sweep lags. A handed-off session
// is returned as-is; the caller routes around the agent while a human
// holds the conversation.
func (m *Manager) Resolve(ctx context.Context, agent *models.Agent, channel models.ChannelType, contactID string) (*models.Session, error) {
	key := SessionKey(agent.ID, channel, contactID)
	now := m.now()

	existing, err := m.store.GetByKey(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing == nil {
		return m.create(ctx, agent, channel, contactID, key, now)
	}

	if existing.Status == models.StatusHandedOff {
		return existing, nil
	}

	if existing.Open() {
		reason, due := expiryDue(existing, agent, now)
		if !due {
			return existing, nil
		}
		if err := m.Close(ctx, agent, existing, reason); err != nil {
			return nil, err
		}
		existing.Status = closedStatus(reason)
	}

	// Terminal session for this tuple: reopen per policy. Summarization
	// is asynchronous, so a contact returning quickly may beat the
	// summary; without one there is no context to carry and the reopen
	// falls back to a fresh session.
	if agent.Session.OnReopen == models.ReopenResume && existing.Summary != "" {
		return m.resume(ctx, agent, channel, contactID, key, existing, now)
	}
	return m.create(ctx, agent, channel, contactID, key, now)
}

func (m *Manager) create(ctx context.Context, agent *models.Agent, channel models.ChannelType, contactID, key string, now time.Time) (*models.Session, error) {
	session := &models.Session{
		AgentID:       agent.ID,
		OrgID:         agent.OrgID,
		Channel:       channel,
		ContactID:     contactID,
		Key:           key,
		Status:        models.StatusActive,
		StartedAt:     now,
		LastMessageAt: now,
	}
	if err := m.store.Create(ctx, session); err != nil {
		return nil, err
	}
	m.logger.Info("session created",
		"session_id", session.ID, "agent_id", agent.ID, "channel", channel)
	return session, nil
}

func (m *Manager) resume(ctx context.Context, agent *models.Agent, channel models.ChannelType, contactID, key string, prior *models.Session, now time.Time) (*models.Session, error) {
	session := &models.Session{
		AgentID:       agent.ID,
		OrgID:         agent.OrgID,
		Channel:       channel,
		ContactID:     contactID,
		Key:           key,
		Status:        models.StatusResumed,
		StartedAt:     now,
		LastMessageAt: now,
		ResumedFromID: prior.ID,

		// The prior summary is injected verbatim.
		InjectedContext: prior.Summary,
	}
	if err := m.store.Create(ctx, session); err != nil {
		return nil, err
	}
	m.logger.Info("session resumed",
		"session_id", session.ID, "resumed_from", prior.ID,
		"has_context", session.InjectedContext != "")
	return session, nil
}

// Touch records message arrival on the session.
func (m *Manager) Touch(ctx context.Context, session *models.Session) error {
	session.LastMessageAt = m.now()
	session.Stats.MessageCount++
	return m.store.Update(ctx, session)
}

// Close transitions a session to its terminal state and schedules the
// asynchronous summary when the agent's policy asks for one.
func (m *Manager) Close(ctx context.Context, agent *models.Agent, session *models.Session, reason models.CloseReason) error {
	now := m.now()
	session.Status = closedStatus(reason)
	session.CloseReason = reason
	session.ClosedAt = &now
	if err := m.store.Update(ctx, session); err != nil {
		return err
	}
	m.logger.Info("session closed",
		"session_id", session.ID, "reason", reason,
		"messages", session.Stats.MessageCount,
		"credits_spent", session.Stats.CreditsSpent)
	if m.closeHook != nil {
		m.closeHook(session, reason)
	}

	if agent != nil && agent.Session.SummarizeOnClose && m.summarizer != nil &&
		session.Stats.MessageCount >= minMessagesForSummary {
		go m.summarize(session.ID)
	}
	return nil
}

// minMessagesForSummary skips summarization for conversations too short to
// carry useful context.
const minMessagesForSummary = 4

func (m *Manager) summarize(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.summaryTimeout)
	defer cancel()

	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		m.logger.Warn("summary skipped, session load failed",
			"session_id", sessionID, "error", err)
		return
	}
	history, err := m.store.History(ctx, sessionID, 0)
	if err != nil {
		m.logger.Warn("summary skipped, history load failed",
			"session_id", sessionID, "error", err)
		return
	}
	summary, err := m.summarizer.Summarize(ctx, session, history)
	if err != nil {
		// Summary failure never affects the closed session.
		m.logger.Warn("session summarization failed",
			"session_id", sessionID, "error", err)
		return
	}
	session.Summary = summary
	if err := m.store.Update(ctx, session); err != nil {
		m.logger.Warn("summary writeback failed",
			"session_id", sessionID, "error", err)
	}
}

// expiryDue reports whether an open session has crossed an expiry boundary.
// Both comparisons are inclusive: a session idle for exactly its TTL is
// already closed for the arriving message.
func expiryDue(session *models.Session, agent *models.Agent, now time.Time) (models.CloseReason, bool) {
	maxAge := agent.Session.EffectiveMaxDuration(session.Channel)
	if maxAge <= 0 {
		maxAge = DefaultMaxDuration
	}
	if session.Age(now) >= maxAge {
		return models.CloseExpired, true
	}

	ttl := agent.Session.EffectiveTTL(session.Channel)
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	if session.IdleTime(now) >= ttl {
		return models.CloseIdleTimeout, true
	}
	return "", false
}

func closedStatus(reason models.CloseReason) models.SessionStatus {
	if reason == models.CloseExpired {
		return models.StatusExpired
	}
	return models.StatusClosed
}
