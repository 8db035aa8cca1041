package models

import "time"

// AutonomyLevel controls how much an agent may do without oversight.
type AutonomyLevel string

const (
	// AutonomySupervised requires owner review for sensitive actions.
	AutonomySupervised AutonomyLevel = "supervised"

	// AutonomyAutonomous allows the agent to act without review.
	AutonomyAutonomous AutonomyLevel = "autonomous"

	// AutonomyDraftOnly restricts the agent to read-only tools; anything
	// mutating is withheld at policy resolution.
	AutonomyDraftOnly AutonomyLevel = "draft_only"
)

// AgentSubtype selects the tool profile a new agent starts with.
type AgentSubtype string

const (
	SubtypeSupport  AgentSubtype = "support"
	SubtypeSales    AgentSubtype = "sales"
	SubtypeBooking  AgentSubtype = "booking"
	SubtypeReadOnly AgentSubtype = "readonly"
	SubtypeAdmin    AgentSubtype = "admin"
)

// ToolConfig is an agent's tool access configuration.
type ToolConfig struct {
	// Profile is a named pre-defined subset of the catalog.
	Profile string `json:"profile,omitempty" yaml:"profile"`

	// Allow, when non-empty, intersects with the tools resolved so far.
	Allow []string `json:"allow,omitempty" yaml:"allow"`

	// Deny removes tools unconditionally at the agent layer.
	Deny []string `json:"deny,omitempty" yaml:"deny"`
}

// ReopenBehavior controls what happens when a message arrives for a
// closed or expired session.
type ReopenBehavior string

const (
	// ReopenFresh starts a brand-new session with no carried context.
	ReopenFresh ReopenBehavior = "fresh"

	// ReopenResume starts a new session seeded with the prior summary.
	ReopenResume ReopenBehavior = "resume"
)

// SessionPolicy governs session lifetimes for one agent.
type SessionPolicy struct {
	// IdleTTL closes the session once idle time reaches this duration.
	IdleTTL time.Duration `json:"idle_ttl" yaml:"idle_ttl"`

	// MaxDuration closes the session once total age reaches this duration.
	MaxDuration time.Duration `json:"max_duration" yaml:"max_duration"`

	// ByChannel overrides IdleTTL/MaxDuration per channel.
	ByChannel map[ChannelType]ChannelSessionPolicy `json:"by_channel,omitempty" yaml:"by_channel,omitempty"`

	// SummarizeOnClose schedules an asynchronous summary when closing
	// sessions with enough messages.
	SummarizeOnClose bool `json:"summarize_on_close" yaml:"summarize_on_close"`

	// OnReopen selects fresh or resume behavior for the next inbound
	// message after closure.
	OnReopen ReopenBehavior `json:"on_reopen" yaml:"on_reopen"`

	// CreditCap limits cumulative spend per session. Zero uses the
	// platform default.
	CreditCap int64 `json:"credit_cap,omitempty" yaml:"credit_cap"`
}

// ChannelSessionPolicy overrides session lifetimes for one channel.
type ChannelSessionPolicy struct {
	IdleTTL     time.Duration `json:"idle_ttl,omitempty" yaml:"idle_ttl"`
	MaxDuration time.Duration `json:"max_duration,omitempty" yaml:"max_duration"`
}

// EffectiveTTL returns the idle TTL for a channel, falling back to the
// policy default.
func (p *SessionPolicy) EffectiveTTL(channel ChannelType) time.Duration {
	if override, ok := p.ByChannel[channel]; ok && override.IdleTTL > 0 {
		return override.IdleTTL
	}
	return p.IdleTTL
}

// EffectiveMaxDuration returns the max session age for a channel, falling
// back to the policy default.
func (p *SessionPolicy) EffectiveMaxDuration(channel ChannelType) time.Duration {
	if override, ok := p.ByChannel[channel]; ok && override.MaxDuration > 0 {
		return override.MaxDuration
	}
	return p.MaxDuration
}

// Agent is a configured conversational agent owned by an organization.
type Agent struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id"`
	Name  string `json:"name"`

	// Soul is the agent's identity: personality plus behavioral policy,
	// injected as the system prompt.
	Soul string `json:"soul,omitempty"`

	Subtype  AgentSubtype  `json:"subtype"`
	Autonomy AutonomyLevel `json:"autonomy"`

	Tools   ToolConfig    `json:"tools"`
	Session SessionPolicy `json:"session"`

	// Model overrides the platform default model for this agent.
	Model string `json:"model,omitempty"`

	// Active is false for archived or retired agents; inactive agents
	// cannot receive handoffs.
	Active bool `json:"active"`

	// Protected marks system agents as immutable. Protected agents may be
	// cloned as ephemeral workers but never edited or archived.
	Protected bool `json:"protected"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
