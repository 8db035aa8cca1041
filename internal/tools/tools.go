// Package tools defines the typed tool contract and the platform catalog.
//
// Every business capability the model can invoke implements one fixed
// interface: a definition (name, input schema, read-only flag, optional
// integration requirement, optional channel restrictions) plus an Execute
// function. Tools are registered by name in a Registry; there is no
// reflection-based dispatch.
package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/crew/pkg/models"
)

// UniversalTool is the one reserved read-only tool every agent retains.
// Policy resolution re-adds it even when a layer removed it.
const UniversalTool = "knowledge_search"

// Definition describes a tool to the policy resolver and the model.
type Definition struct {
	// Name is the canonical tool name.
	Name string `json:"name"`

	// Description is surfaced to the model.
	Description string `json:"description"`

	// Schema is the JSON Schema for the tool's input.
	Schema json.RawMessage `json:"schema,omitempty"`

	// ReadOnly marks tools that never mutate external state. Draft-only
	// agents and budget-degraded sessions keep only read-only tools.
	ReadOnly bool `json:"read_only"`

	// Integration names an external service that must be connected at the
	// organization before this tool is offered (e.g. "stripe").
	Integration string `json:"integration,omitempty"`

	// Channels restricts the tool to specific channels. Empty means all.
	Channels []models.ChannelType `json:"channels,omitempty"`
}

// AllowedOnChannel reports whether the tool may run on the given channel.
func (d Definition) AllowedOnChannel(channel models.ChannelType) bool {
	if len(d.Channels) == 0 {
		return true
	}
	for _, allowed := range d.Channels {
		if allowed == channel {
			return true
		}
	}
	return false
}

// Result is the outcome of one tool execution. Failures are expressed as
// results with IsError set, not Go errors: the pipeline feeds them back to
// the model as tool output so the model can decide how to respond.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ErrorResult builds an error result from a message.
func ErrorResult(msg string) *Result {
	return &Result{Content: msg, IsError: true}
}

// Tool is the fixed capability contract.
type Tool interface {
	// Definition returns the tool's static description.
	Definition() Definition

	// Execute runs the tool with validated JSON input.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Func adapts a plain function to the Tool interface.
type Func struct {
	Def Definition
	Run func(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Definition implements Tool.
func (f *Func) Definition() Definition { return f.Def }

// Execute implements Tool.
func (f *Func) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	return f.Run(ctx, input)
}
