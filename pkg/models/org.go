package models

import "time"

// PlanTier identifies an organization's subscription plan.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanStarter    PlanTier = "starter"
	PlanGrowth     PlanTier = "growth"
	PlanEnterprise PlanTier = "enterprise"
)

// UnlimitedCredits is the sentinel balance for enterprise tiers. A tier
// holding this value never depletes.
const UnlimitedCredits int64 = -1

// Organization is a tenant. An organization may have at most one parent;
// children can draw credits from their direct parent under the parent's
// sharing configuration, never transitively.
type Organization struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Plan     PlanTier `json:"plan"`
	ParentID string   `json:"parent_id,omitempty"`

	// ConnectedIntegrations lists external services the organization has
	// connected (e.g. "stripe", "calendar"). Tools declaring an integration
	// requirement are withheld unless it appears here.
	ConnectedIntegrations []string `json:"connected_integrations,omitempty"`

	// BlockedTools are removed at the organization layer.
	BlockedTools []string `json:"blocked_tools,omitempty"`

	// AllowedTools, when non-empty, restricts the organization to this set.
	AllowedTools []string `json:"allowed_tools,omitempty"`

	CreditSharing *CreditSharingConfig `json:"credit_sharing,omitempty"`

	// OwnerContact is where owner notifications (budget thresholds,
	// escalations) are delivered.
	OwnerContact NotificationTarget `json:"owner_contact"`

	CreatedAt  time.Time  `json:"created_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// HasIntegration reports whether the named integration is connected.
func (o *Organization) HasIntegration(name string) bool {
	for _, integration := range o.ConnectedIntegrations {
		if integration == name {
			return true
		}
	}
	return false
}

// CreditSharingConfig governs how children draw credits from this
// organization. All caps are daily amounts; thresholds are fractions of the
// relevant cap (NotifyAt=0.8 notifies at 80%).
type CreditSharingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxPerChild is the default daily cap per child organization.
	MaxPerChild int64 `json:"max_per_child" yaml:"max_per_child"`

	// MaxTotalShared caps the daily total drawn by all children combined.
	MaxTotalShared int64 `json:"max_total_shared" yaml:"max_total_shared"`

	// NotifyAt is the fraction of a cap at which the owner is notified.
	NotifyAt float64 `json:"notify_at" yaml:"notify_at"`

	// BlockAt is the fraction of a cap at which further draws are blocked.
	// Unset means the full cap is usable.
	BlockAt float64 `json:"block_at" yaml:"block_at"`

	// PerChildOverrides replaces MaxPerChild for specific child org IDs.
	PerChildOverrides map[string]int64 `json:"per_child_overrides,omitempty" yaml:"per_child_overrides,omitempty"`
}

// CapForChild returns the effective daily cap for a child organization.
func (c *CreditSharingConfig) CapForChild(childID string) int64 {
	if c == nil {
		return 0
	}
	if override, ok := c.PerChildOverrides[childID]; ok {
		return override
	}
	return c.MaxPerChild
}

// BlockFraction returns the effective blocking fraction. An unset BlockAt
// blocks only at the full cap.
func (c *CreditSharingConfig) BlockFraction() float64 {
	if c == nil || c.BlockAt <= 0 {
		return 1.0
	}
	return c.BlockAt
}

// CreditBalance holds an organization's three balance tiers. Tiers are
// consumed in order: daily, then monthly, then purchased.
type CreditBalance struct {
	OrgID     string `json:"org_id"`
	Daily     int64  `json:"daily"`
	Monthly   int64  `json:"monthly"`
	Purchased int64  `json:"purchased"`
}

// Unlimited reports whether any tier carries the unlimited sentinel.
func (b *CreditBalance) Unlimited() bool {
	return b.Daily == UnlimitedCredits || b.Monthly == UnlimitedCredits || b.Purchased == UnlimitedCredits
}

// Total returns the combined balance across tiers. Returns UnlimitedCredits
// if any tier is unlimited.
func (b *CreditBalance) Total() int64 {
	if b.Unlimited() {
		return UnlimitedCredits
	}
	return b.Daily + b.Monthly + b.Purchased
}

// NotificationTarget identifies where to deliver an owner notification.
type NotificationTarget struct {
	Channel ChannelType `json:"channel" yaml:"channel"`
	Address string      `json:"address" yaml:"address"`
}
