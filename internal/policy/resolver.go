// Package policy computes the active tool set for one execution context.
//
// Resolution is strictly subtractive across four layers: platform,
// organization, agent, session/channel. Each layer may only remove tools;
// nothing a layer removed is ever re-added by a later layer, with a single
// exception: the reserved universal read-only tool is restored at the end
// as the baseline capability every agent retains.
package policy

import (
	"sort"

	"github.com/haasonsaas/crew/internal/tools"
	"github.com/haasonsaas/crew/pkg/models"
)

// Context carries everything resolution needs for one
// (platform, organization, agent, session, channel) tuple.
type Context struct {
	// PlatformBlocked tools are removed first, for every tenant.
	PlatformBlocked []string

	// OrgAllowed, when non-empty, intersects the set at the org layer.
	// Empty means no additional restriction from this layer.
	OrgAllowed []string

	// OrgBlocked tools are always removed at the org layer.
	OrgBlocked []string

	// ConnectedIntegrations lists the org's connected external services.
	// Tools requiring an unconnected integration are removed. The filter
	// applies uniformly to read-only and mutating tools.
	ConnectedIntegrations []string

	// Profile is the agent's named tool profile. A universal profile
	// (admin or empty) imposes no intersection.
	Profile string

	// AgentAllowed, when non-empty, intersects the set at the agent layer.
	AgentAllowed []string

	// AgentBlocked tools are always removed at the agent layer.
	AgentBlocked []string

	// Autonomy gates mutating tools: draft-only agents keep read-only
	// tools exclusively.
	Autonomy models.AutonomyLevel

	// SessionDisabled lists tools withdrawn for this session after
	// repeated runtime failures.
	SessionDisabled []string

	// Channel is the active channel; channel-restricted tools not valid
	// here are removed.
	Channel models.ChannelType
}

// ToolSet is the resolved outcome: the tools the agent may invoke right
// now, addressable by name and in stable order.
type ToolSet struct {
	names []string
	defs  map[string]tools.Definition
}

// Has reports whether a tool is in the set.
func (s *ToolSet) Has(name string) bool {
	_, ok := s.defs[name]
	return ok
}

// Names returns tool names in stable sorted order.
func (s *ToolSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Definitions returns the definitions in stable sorted order.
func (s *ToolSet) Definitions() []tools.Definition {
	out := make([]tools.Definition, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.defs[name])
	}
	return out
}

// Len returns the number of tools in the set.
func (s *ToolSet) Len() int { return len(s.names) }

// WithoutMutating returns a copy holding only read-only tools. Used when a
// session enters budget-degraded mode.
func (s *ToolSet) WithoutMutating() *ToolSet {
	filtered := &ToolSet{defs: make(map[string]tools.Definition)}
	for _, name := range s.names {
		def := s.defs[name]
		if !def.ReadOnly {
			continue
		}
		filtered.names = append(filtered.names, name)
		filtered.defs[name] = def
	}
	return filtered
}

// Resolver resolves tool access against a fixed catalog.
type Resolver struct {
	catalog []tools.Definition
}

// NewResolver creates a resolver over the given catalog.
func NewResolver(catalog []tools.Definition) *Resolver {
	return &Resolver{catalog: catalog}
}

// ResolveActiveTools applies the four subtractive layers and returns the
// active tool set.
func (r *Resolver) ResolveActiveTools(rc Context) *ToolSet {
	active := make(map[string]tools.Definition, len(r.catalog))
	for _, def := range r.catalog {
		active[def.Name] = def
	}

	// Layer 1: platform.
	removeAll(active, rc.PlatformBlocked)

	// Layer 2: organization.
	intersect(active, rc.OrgAllowed)
	removeAll(active, rc.OrgBlocked)
	connected := make(map[string]bool, len(rc.ConnectedIntegrations))
	for _, integration := range rc.ConnectedIntegrations {
		connected[integration] = true
	}
	for name, def := range active {
		if def.Integration != "" && !connected[def.Integration] {
			delete(active, name)
		}
	}

	// Layer 3: agent.
	if profileTools, restricted := tools.ProfileTools(rc.Profile); restricted {
		intersect(active, profileTools)
	}
	intersect(active, rc.AgentAllowed)
	removeAll(active, rc.AgentBlocked)
	if rc.Autonomy == models.AutonomyDraftOnly {
		for name, def := range active {
			if !def.ReadOnly {
				delete(active, name)
			}
		}
	}

	// Layer 4: session and channel.
	removeAll(active, rc.SessionDisabled)
	if rc.Channel != "" {
		for name, def := range active {
			if !def.AllowedOnChannel(rc.Channel) {
				delete(active, name)
			}
		}
	}

	// The universal read tool is the baseline every agent retains.
	if _, ok := active[tools.UniversalTool]; !ok {
		for _, def := range r.catalog {
			if def.Name == tools.UniversalTool {
				active[def.Name] = def
				break
			}
		}
	}

	set := &ToolSet{defs: active, names: make([]string, 0, len(active))}
	for name := range active {
		set.names = append(set.names, name)
	}
	sort.Strings(set.names)
	return set
}

// intersect keeps only the named tools. An empty list means no restriction.
func intersect(active map[string]tools.Definition, allowed []string) {
	if len(allowed) == 0 {
		return
	}
	keep := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		keep[name] = true
	}
	for name := range active {
		if !keep[name] {
			delete(active, name)
		}
	}
}

func removeAll(active map[string]tools.Definition, blocked []string) {
	for _, name := range blocked {
		delete(active, name)
	}
}
