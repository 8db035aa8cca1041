package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/crew/pkg/models"
)

func echoTool(name string, readOnly bool) *Func {
	return &Func{
		Def: Definition{
			Name:     name,
			ReadOnly: readOnly,
			Schema:   objectSchema(map[string]string{"query": "string"}, []string{"query"}),
		},
		Run: func(ctx context.Context, input json.RawMessage) (*Result, error) {
			return &Result{Content: "ok:" + name}, nil
		},
	}
}

func TestRegistryExecute(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(echoTool("crm_lookup", true)); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := registry.Execute(context.Background(), "crm_lookup", json.RawMessage(`{"query":"acme"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "ok:crm_lookup" {
		t.Errorf("content = %q", result.Content)
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	registry := NewRegistry()
	result, err := registry.Execute(context.Background(), "missing", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown tool")
	}
	if !strings.Contains(result.Content, "tool not found") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestRegistrySchemaValidation(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(echoTool("crm_lookup", true)); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Missing required property.
	result, err := registry.Execute(context.Background(), "crm_lookup", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected schema validation failure")
	}

	// Wrong type.
	result, err = registry.Execute(context.Background(), "crm_lookup", json.RawMessage(`{"query":7}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected schema validation failure for wrong type")
	}
}

func TestRegistryInputSizeLimit(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(echoTool("crm_lookup", true)); err != nil {
		t.Fatalf("register: %v", err)
	}

	big := json.RawMessage(`{"query":"` + strings.Repeat("x", MaxToolInputSize) + `"}`)
	result, err := registry.Execute(context.Background(), "crm_lookup", big)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected oversized input to be rejected")
	}
}

func TestCatalogRegisters(t *testing.T) {
	registry := NewRegistry()
	err := RegisterCatalog(registry, func(ctx context.Context, name string, input json.RawMessage) (*Result, error) {
		return &Result{Content: name}, nil
	})
	if err != nil {
		t.Fatalf("register catalog: %v", err)
	}

	names := registry.Names()
	if len(names) != len(CatalogDefinitions()) {
		t.Errorf("registered %d tools, want %d", len(names), len(CatalogDefinitions()))
	}

	if _, ok := registry.Get(UniversalTool); !ok {
		t.Errorf("universal tool %q missing from catalog", UniversalTool)
	}
}

func TestProfileForSubtype(t *testing.T) {
	cases := []struct {
		subtype models.AgentSubtype
		want    string
	}{
		{models.SubtypeSupport, ProfileSupport},
		{models.SubtypeSales, ProfileSales},
		{models.SubtypeBooking, ProfileBooking},
		{models.SubtypeAdmin, ProfileAdmin},
		{models.SubtypeReadOnly, ProfileReadOnly},
		{models.AgentSubtype("unknown"), ProfileReadOnly},
	}
	for _, tc := range cases {
		if got := ProfileForSubtype(tc.subtype); got != tc.want {
			t.Errorf("ProfileForSubtype(%q) = %q, want %q", tc.subtype, got, tc.want)
		}
	}
}

func TestProfileToolsUniversal(t *testing.T) {
	if _, restricted := ProfileTools(ProfileAdmin); restricted {
		t.Error("admin profile should impose no restriction")
	}
	tools, restricted := ProfileTools(ProfileSupport)
	if !restricted {
		t.Fatal("support profile should restrict")
	}
	found := false
	for _, tool := range tools {
		if tool == UniversalTool {
			found = true
		}
	}
	if !found {
		t.Errorf("support profile should include %q", UniversalTool)
	}
}

func TestEveryProfileToolExistsInCatalog(t *testing.T) {
	inCatalog := map[string]bool{}
	for _, def := range CatalogDefinitions() {
		inCatalog[def.Name] = true
	}
	for profile, toolNames := range ProfileDefaults {
		for _, name := range toolNames {
			if !inCatalog[name] {
				t.Errorf("profile %q references unknown tool %q", profile, name)
			}
		}
	}
}

func TestChannelRestriction(t *testing.T) {
	def := Definition{Name: "publish_page", Channels: []models.ChannelType{models.ChannelWebchat}}
	if !def.AllowedOnChannel(models.ChannelWebchat) {
		t.Error("expected webchat allowed")
	}
	if def.AllowedOnChannel(models.ChannelWhatsApp) {
		t.Error("expected whatsapp restricted")
	}
	unrestricted := Definition{Name: "crm_lookup"}
	if !unrestricted.AllowedOnChannel(models.ChannelSMS) {
		t.Error("unrestricted tool should be allowed everywhere")
	}
}
