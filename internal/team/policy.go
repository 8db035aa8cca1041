// Package team coordinates multiple agents and human operators inside one
// session: agent-to-agent handoffs, human escalation, takeover, and resume.
package team

import (
	"time"

	"github.com/haasonsaas/crew/pkg/models"
)

const (
	// DefaultMaxHandoffs bounds agent-to-agent transfers per session.
	DefaultMaxHandoffs = 5

	// DefaultHandoffCooldown is the minimum gap between handoffs.
	DefaultHandoffCooldown = 2 * time.Minute
)

// Policy is an organization's team coordination policy.
type Policy struct {
	// MaxHandoffs caps handoffs per session. Zero uses the default.
	MaxHandoffs int `json:"max_handoffs,omitempty" yaml:"max_handoffs"`

	// Cooldown is the minimum time between handoffs. Zero uses the default.
	Cooldown time.Duration `json:"cooldown,omitempty" yaml:"cooldown"`

	// Permissions is the from-subtype to to-subtype handoff table. A nil
	// map allows every pairing; a present key restricts that subtype to
	// the listed targets.
	Permissions map[models.AgentSubtype][]models.AgentSubtype `json:"permissions,omitempty" yaml:"permissions"`

	// NotifyOwnerOnHandoff sends the organization owner a notice after
	// each successful handoff.
	NotifyOwnerOnHandoff bool `json:"notify_owner_on_handoff" yaml:"notify_owner_on_handoff"`

	// TransitionMessage, when non-empty, is sent to the external party
	// when the conversation changes hands.
	TransitionMessage string `json:"transition_message,omitempty" yaml:"transition_message"`
}

// EffectiveMaxHandoffs returns the handoff cap with defaults applied.
func (p *Policy) EffectiveMaxHandoffs() int {
	if p.MaxHandoffs > 0 {
		return p.MaxHandoffs
	}
	return DefaultMaxHandoffs
}

// EffectiveCooldown returns the handoff cooldown with defaults applied.
func (p *Policy) EffectiveCooldown() time.Duration {
	if p.Cooldown > 0 {
		return p.Cooldown
	}
	return DefaultHandoffCooldown
}

// Allows reports whether the permission table permits a handoff between
// two agent subtypes.
func (p *Policy) Allows(from, to models.AgentSubtype) bool {
	if p.Permissions == nil {
		return true
	}
	targets, ok := p.Permissions[from]
	if !ok {
		return true
	}
	for _, target := range targets {
		if target == to {
			return true
		}
	}
	return false
}
