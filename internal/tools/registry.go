package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Input limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolInputSize is the maximum size of tool input JSON (1MB).
	MaxToolInputSize = 1 << 20
)

// Registry manages available tools with thread-safe registration and lookup.
// Tool input is validated against the tool's JSON Schema before execution.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, compiling its input schema. A tool with the same
// name is replaced.
func (r *Registry) Register(tool Tool) error {
	def := tool.Definition()
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}

	var compiled *jsonschema.Schema
	if len(def.Schema) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name+".json", strings.NewReader(string(def.Schema))); err != nil {
			return fmt.Errorf("add schema for %s: %w", name, err)
		}
		schema, err := compiler.Compile(name + ".json")
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", name, err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	if compiled != nil {
		r.schemas[name] = compiled
	} else {
		delete(r.schemas, name)
	}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the definitions for the named tools, skipping unknown
// names. Pass nil to get the full catalog.
func (r *Registry) Definitions(names []string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if names == nil {
		names = make([]string, 0, len(r.tools))
		for name := range r.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		if tool, ok := r.tools[name]; ok {
			defs = append(defs, tool.Definition())
		}
	}
	return defs
}

// Execute runs a tool by name with the given JSON input. Unknown tools,
// oversized input, and schema violations produce error results rather than
// Go errors so the model sees them as tool output.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (*Result, error) {
	if len(name) > MaxToolNameLength {
		return ErrorResult(fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)), nil
	}
	if len(input) > MaxToolInputSize {
		return ErrorResult(fmt.Sprintf("tool input exceeds maximum size of %d bytes", MaxToolInputSize)), nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult("tool not found: " + name), nil
	}

	if schema != nil {
		var decoded any
		raw := input
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return ErrorResult("invalid tool input: " + err.Error()), nil
		}
		if err := schema.Validate(decoded); err != nil {
			return ErrorResult("tool input failed validation: " + err.Error()), nil
		}
	}

	return tool.Execute(ctx, input)
}
