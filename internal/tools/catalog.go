package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/crew/pkg/models"
)

// Reserved tool names the harness itself intercepts. They are registered
// like any other tool so policy resolution and the model see them, but the
// pipeline routes their calls to the team harness instead of executing them.
const (
	// HandoffTool transfers the conversation to another agent.
	HandoffTool = "handoff_to_agent"

	// EscalateTool transfers the conversation to a human operator.
	EscalateTool = "escalate_to_human"
)

// CatalogDefinitions is the full platform tool catalog. Business tools are
// opaque implementations behind the Tool contract; the definitions here
// carry what policy resolution needs (read-only flag, integration
// requirement, channel restrictions).
func CatalogDefinitions() []Definition {
	return []Definition{
		{
			Name:        UniversalTool,
			Description: "Search the organization's knowledge base and FAQ content.",
			Schema:      objectSchema(map[string]string{"query": "string"}, []string{"query"}),
			ReadOnly:    true,
		},
		{
			Name:        "crm_lookup",
			Description: "Look up a contact or deal in the CRM.",
			Schema:      objectSchema(map[string]string{"query": "string"}, []string{"query"}),
			ReadOnly:    true,
		},
		{
			Name:        "crm_update",
			Description: "Create or update a CRM contact, note, or deal stage.",
			Schema:      objectSchema(map[string]string{"contact_id": "string", "fields": "object"}, []string{"contact_id"}),
		},
		{
			Name:        "create_invoice",
			Description: "Create and send an invoice to a customer.",
			Schema:      objectSchema(map[string]string{"customer_id": "string", "amount_cents": "integer", "currency": "string"}, []string{"customer_id", "amount_cents"}),
			Integration: "stripe",
		},
		{
			Name:        "checkout_link",
			Description: "Generate a payment checkout link for a product or amount.",
			Schema:      objectSchema(map[string]string{"amount_cents": "integer", "currency": "string", "description": "string"}, []string{"amount_cents"}),
			Integration: "stripe",
		},
		{
			Name:        "booking_availability",
			Description: "List available booking slots on the connected calendar.",
			Schema:      objectSchema(map[string]string{"service": "string", "date": "string"}, []string{"date"}),
			ReadOnly:    true,
			Integration: "calendar",
		},
		{
			Name:        "booking_create",
			Description: "Book an appointment slot on the connected calendar.",
			Schema:      objectSchema(map[string]string{"service": "string", "slot": "string", "contact": "string"}, []string{"slot", "contact"}),
			Integration: "calendar",
		},
		{
			Name:        "publish_page",
			Description: "Publish or update a landing page.",
			Schema:      objectSchema(map[string]string{"slug": "string", "title": "string", "content": "string"}, []string{"slug", "content"}),
			Integration: "pages",
			Channels:    []models.ChannelType{models.ChannelWebchat, models.ChannelEmail},
		},
		{
			Name:        "order_status",
			Description: "Check the status of a customer order.",
			Schema:      objectSchema(map[string]string{"order_id": "string"}, []string{"order_id"}),
			ReadOnly:    true,
		},
		{
			Name:        HandoffTool,
			Description: "Transfer this conversation to another agent on the team. Use when the request is outside your specialty.",
			Schema:      objectSchema(map[string]string{"target_agent": "string", "reason": "string", "context_summary": "string"}, []string{"target_agent", "reason"}),
			ReadOnly:    true,
		},
		{
			Name:        EscalateTool,
			Description: "Escalate this conversation to a human operator. Use when the user asks for a human or you cannot help.",
			Schema:      objectSchema(map[string]string{"reason": "string", "urgency": "string", "context_summary": "string"}, []string{"reason"}),
			ReadOnly:    true,
		},
	}
}

// RegisterCatalog registers the full catalog wrapping each definition around
// the provided executor. The executor receives the tool name and raw input;
// it is the seam where concrete business implementations plug in.
func RegisterCatalog(registry *Registry, execute func(ctx context.Context, name string, input json.RawMessage) (*Result, error)) error {
	for _, def := range CatalogDefinitions() {
		def := def
		tool := &Func{
			Def: def,
			Run: func(ctx context.Context, input json.RawMessage) (*Result, error) {
				return execute(ctx, def.Name, input)
			},
		}
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// objectSchema builds a small JSON Schema for an object with typed
// properties. Keeps catalog definitions readable.
func objectSchema(properties map[string]string, required []string) json.RawMessage {
	props := make(map[string]any, len(properties))
	for name, typ := range properties {
		props[name] = map[string]any{"type": typ}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return raw
}
