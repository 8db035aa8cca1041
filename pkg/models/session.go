package models

import "time"

// SessionStatus is the session state machine position.
type SessionStatus string

const (
	// StatusActive is the initial state on first message.
	StatusActive SessionStatus = "active"

	// StatusClosed is terminal: the session ended normally.
	StatusClosed SessionStatus = "closed"

	// StatusExpired is terminal: the session exceeded its max duration.
	StatusExpired SessionStatus = "expired"

	// StatusHandedOff means a human holds the conversation; an explicit
	// resume returns it to active.
	StatusHandedOff SessionStatus = "handed_off"

	// StatusResumed marks a session created as the continuation of a
	// closed or expired one. It behaves as active.
	StatusResumed SessionStatus = "resumed"
)

// CloseReason records why a session left the active state.
type CloseReason string

const (
	CloseIdleTimeout CloseReason = "idle_timeout"
	CloseExpired     CloseReason = "expired"
	CloseManual      CloseReason = "manual"
)

// SessionStats accumulates per-session counters.
type SessionStats struct {
	MessageCount int   `json:"message_count"`
	CreditsSpent int64 `json:"credits_spent"`
}

// Session is one conversation thread between an external contact and an
// agent on a channel.
type Session struct {
	ID        string      `json:"id"`
	AgentID   string      `json:"agent_id"`
	OrgID     string      `json:"org_id"`
	Channel   ChannelType `json:"channel"`
	ContactID string      `json:"contact_id"`

	// Key uniquely identifies the (agent, channel, contact) tuple.
	Key string `json:"key"`

	Status SessionStatus `json:"status"`

	StartedAt     time.Time  `json:"started_at"`
	LastMessageAt time.Time  `json:"last_message_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	CloseReason   CloseReason `json:"close_reason,omitempty"`

	Stats SessionStats `json:"stats"`

	// Summary is written back asynchronously after close.
	Summary string `json:"summary,omitempty"`

	// ResumedFromID references the prior session this one continues.
	ResumedFromID string `json:"resumed_from_id,omitempty"`

	// InjectedContext is seeded from the prior session's summary on resume
	// and included in the agent's system context.
	InjectedContext string `json:"injected_context,omitempty"`

	// DisabledTools lists tools withdrawn for the rest of this session
	// after repeated runtime failures.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	Team *TeamSession `json:"team,omitempty"`
}

// Open reports whether the session accepts agent traffic.
func (s *Session) Open() bool {
	return s.Status == StatusActive || s.Status == StatusResumed
}

// IdleTime returns how long the session has been without a message.
func (s *Session) IdleTime(now time.Time) time.Duration {
	last := s.LastMessageAt
	if last.IsZero() {
		last = s.StartedAt
	}
	return now.Sub(last)
}

// Age returns the session's total age.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// ToolDisabled reports whether a tool was withdrawn for this session.
func (s *Session) ToolDisabled(name string) bool {
	for _, disabled := range s.DisabledTools {
		if disabled == name {
			return true
		}
	}
	return false
}

// TeamSession tracks multi-agent collaboration within one session.
type TeamSession struct {
	// AgentIDs are all agents that participate in this session.
	AgentIDs []string `json:"agent_ids"`

	// ActiveAgentID is the agent currently holding the conversation.
	ActiveAgentID string `json:"active_agent_id"`

	// BudgetOwnerID is the agent whose organization budget all team spend
	// is attributed to. Defaults to the agent that began the session.
	BudgetOwnerID string `json:"budget_owner_id"`

	// HandoffHistory is strictly append-ordered.
	HandoffHistory []Handoff `json:"handoff_history,omitempty"`

	// SharedContext carries the latest handoff or takeover summary into
	// the active agent's system context.
	SharedContext string `json:"shared_context,omitempty"`

	Escalation *EscalationState `json:"escalation,omitempty"`
}

// Handoff records one transfer of the conversation between agents.
type Handoff struct {
	FromAgentID    string    `json:"from_agent_id"`
	ToAgentID      string    `json:"to_agent_id"`
	Reason         string    `json:"reason"`
	ContextSummary string    `json:"context_summary,omitempty"`
	At             time.Time `json:"at"`
}

// EscalationUrgency grades how quickly a human should respond.
type EscalationUrgency string

const (
	UrgencyLow      EscalationUrgency = "low"
	UrgencyMedium   EscalationUrgency = "medium"
	UrgencyHigh     EscalationUrgency = "high"
	UrgencyCritical EscalationUrgency = "critical"
)

// EscalationState records a pending or completed human escalation.
type EscalationState struct {
	Requested     bool              `json:"requested"`
	Reason        string            `json:"reason,omitempty"`
	Urgency       EscalationUrgency `json:"urgency,omitempty"`
	AssignedHuman string            `json:"assigned_human,omitempty"`
	RequestedAt   time.Time         `json:"requested_at,omitempty"`
	TakenOverAt   *time.Time        `json:"taken_over_at,omitempty"`

	// PriorActiveAgentID is restored as the active agent on resume.
	PriorActiveAgentID string `json:"prior_active_agent_id,omitempty"`
}
