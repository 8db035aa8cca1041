package policy

import (
	"testing"

	"github.com/haasonsaas/crew/internal/tools"
	"github.com/haasonsaas/crew/pkg/models"
)

func testCatalog() []tools.Definition {
	return []tools.Definition{
		{Name: tools.UniversalTool, ReadOnly: true},
		{Name: "crm_lookup", ReadOnly: true},
		{Name: "crm_update"},
		{Name: "order_status", ReadOnly: true},
		{Name: "create_invoice", Integration: "stripe"},
		{Name: "booking_create", Integration: "calendar"},
		{Name: "booking_availability", ReadOnly: true, Integration: "calendar"},
		{Name: "publish_page", Integration: "pages", Channels: []models.ChannelType{models.ChannelWebchat}},
		{Name: tools.HandoffTool, ReadOnly: true},
		{Name: tools.EscalateTool, ReadOnly: true},
	}
}

func TestResolveFullCatalogWithNoRestrictions(t *testing.T) {
	resolver := NewResolver(testCatalog())
	set := resolver.ResolveActiveTools(Context{
		ConnectedIntegrations: []string{"stripe", "calendar", "pages"},
	})
	if set.Len() != len(testCatalog()) {
		t.Errorf("resolved %d tools, want %d", set.Len(), len(testCatalog()))
	}
}

func TestResolveIsSubsetOfCatalog(t *testing.T) {
	resolver := NewResolver(testCatalog())
	inCatalog := map[string]bool{}
	for _, def := range testCatalog() {
		inCatalog[def.Name] = true
	}

	contexts := []Context{
		{},
		{PlatformBlocked: []string{"crm_update"}},
		{OrgAllowed: []string{"crm_lookup", "nonexistent"}},
		{Profile: tools.ProfileSupport, Autonomy: models.AutonomyDraftOnly},
		{AgentAllowed: []string{"order_status"}, SessionDisabled: []string{"order_status"}},
	}
	for i, rc := range contexts {
		set := resolver.ResolveActiveTools(rc)
		for _, name := range set.Names() {
			if !inCatalog[name] {
				t.Errorf("context %d resolved tool %q outside catalog", i, name)
			}
		}
	}
}

func TestPlatformBlockedRemoved(t *testing.T) {
	resolver := NewResolver(testCatalog())
	set := resolver.ResolveActiveTools(Context{PlatformBlocked: []string{"crm_update"}})
	if set.Has("crm_update") {
		t.Error("platform-blocked tool should be removed")
	}
}

func TestLayersNeverReAdd(t *testing.T) {
	resolver := NewResolver(testCatalog())
	// Org blocks crm_lookup; agent allow list naming it must not restore it.
	set := resolver.ResolveActiveTools(Context{
		OrgBlocked:   []string{"crm_lookup"},
		AgentAllowed: []string{"crm_lookup", "order_status"},
	})
	if set.Has("crm_lookup") {
		t.Error("agent layer must not re-add a tool the org removed")
	}
	if !set.Has("order_status") {
		t.Error("order_status should survive")
	}
}

func TestEmptyAllowListMeansNoRestriction(t *testing.T) {
	resolver := NewResolver(testCatalog())
	set := resolver.ResolveActiveTools(Context{OrgAllowed: nil, AgentAllowed: nil})
	if !set.Has("crm_update") {
		t.Error("empty allow lists must not remove tools")
	}
}

func TestIntegrationFilter(t *testing.T) {
	resolver := NewResolver(testCatalog())

	// Support profile includes create_invoice, but stripe is not connected.
	set := resolver.ResolveActiveTools(Context{Profile: tools.ProfileSupport})
	if set.Has("create_invoice") {
		t.Error("create_invoice must be absent when stripe is not connected")
	}

	set = resolver.ResolveActiveTools(Context{
		Profile:               tools.ProfileSupport,
		ConnectedIntegrations: []string{"stripe"},
	})
	if !set.Has("create_invoice") {
		t.Error("create_invoice should be present once stripe connects")
	}
}

func TestIntegrationFilterAppliesToReadOnlyTools(t *testing.T) {
	resolver := NewResolver(testCatalog())
	set := resolver.ResolveActiveTools(Context{})
	if set.Has("booking_availability") {
		t.Error("read-only tools are not exempt from the integration filter")
	}
}

func TestDraftOnlyKeepsReadOnlyTools(t *testing.T) {
	resolver := NewResolver(testCatalog())
	set := resolver.ResolveActiveTools(Context{
		ConnectedIntegrations: []string{"stripe", "calendar", "pages"},
		Autonomy:              models.AutonomyDraftOnly,
	})
	for _, def := range set.Definitions() {
		if !def.ReadOnly {
			t.Errorf("draft-only agent resolved mutating tool %q", def.Name)
		}
	}
	if !set.Has("crm_lookup") {
		t.Error("read-only crm_lookup should remain")
	}
}

func TestSessionDisabledAndChannelRestrictions(t *testing.T) {
	resolver := NewResolver(testCatalog())
	set := resolver.ResolveActiveTools(Context{
		ConnectedIntegrations: []string{"pages"},
		SessionDisabled:       []string{"crm_update"},
		Channel:               models.ChannelWhatsApp,
	})
	if set.Has("crm_update") {
		t.Error("session-disabled tool should be removed")
	}
	if set.Has("publish_page") {
		t.Error("publish_page is restricted to webchat")
	}

	set = resolver.ResolveActiveTools(Context{
		ConnectedIntegrations: []string{"pages"},
		Channel:               models.ChannelWebchat,
	})
	if !set.Has("publish_page") {
		t.Error("publish_page should be available on webchat")
	}
}

func TestUniversalToolAlwaysRestored(t *testing.T) {
	resolver := NewResolver(testCatalog())
	contexts := []Context{
		{PlatformBlocked: []string{tools.UniversalTool}},
		{OrgBlocked: []string{tools.UniversalTool}},
		{OrgAllowed: []string{"crm_lookup"}},
		{AgentAllowed: []string{"order_status"}, SessionDisabled: []string{tools.UniversalTool}},
	}
	for i, rc := range contexts {
		set := resolver.ResolveActiveTools(rc)
		if !set.Has(tools.UniversalTool) {
			t.Errorf("context %d: universal tool must always be restored", i)
		}
	}
}

func TestWithoutMutating(t *testing.T) {
	resolver := NewResolver(testCatalog())
	set := resolver.ResolveActiveTools(Context{
		ConnectedIntegrations: []string{"stripe", "calendar", "pages"},
	})
	degraded := set.WithoutMutating()
	if degraded.Has("crm_update") || degraded.Has("create_invoice") {
		t.Error("degraded set must not contain mutating tools")
	}
	if !degraded.Has("crm_lookup") || !degraded.Has(tools.UniversalTool) {
		t.Error("degraded set keeps read-only tools")
	}
}

func TestResolveDeterministicOrder(t *testing.T) {
	resolver := NewResolver(testCatalog())
	first := resolver.ResolveActiveTools(Context{}).Names()
	second := resolver.ResolveActiveTools(Context{}).Names()
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("order differs at %d: %q vs %q", i, first[i], second[i])
		}
	}
}
