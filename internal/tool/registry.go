package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/agentichat/agentichat/internal/agenterr"
	"github.com/agentichat/agentichat/internal/confirm"
	"github.com/agentichat/agentichat/internal/llm"
)

// Registry manages all registered tools with thread-safe access.
//
// A Registry can be either a "root" registry (parent == nil) that owns its
// tools map, or a "view" registry (parent != nil) created by WithExtra that
// overlays additional tools on top of a parent. Views delegate Get/List to
// the parent, so changes to the parent (Register/Unregister) are immediately
// visible through the view. This matters for MCP reload: the agent holds a
// view (via WithExtra for per-request tools like todo_write), while the MCP
// manager modifies the root registry. Without delegation, unregistered
// tools would remain visible to the agent.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	parent *Registry // non-nil → view mode; tools map holds extras only

	confirmer *confirm.Manager

	schemaMu    sync.Mutex
	schemaCache []llm.ToolDefinition // memoized GenerateToolDefinitions; nil after invalidation
}

// NewRegistry creates an empty root tool registry. confirmer may be nil, in
// which case Execute never prompts regardless of a tool's declared policy
// (useful for tests and for tool-listing contexts that never execute).
func NewRegistry(confirmer *confirm.Manager) *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		confirmer: confirmer,
	}
}

// Register adds a tool to the registry. If a tool with the same name already
// exists, it is overwritten and a warning is logged. Invalidates the
// memoized schema list.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	if _, exists := r.tools[t.Name()]; exists {
		log.Printf("[Registry] WARNING: overwriting existing tool %q", t.Name())
	}
	r.tools[t.Name()] = t
	r.mu.Unlock()
	r.invalidateSchemaCache()
}

// Unregister removes a tool from the registry (for hot-reload).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
	r.invalidateSchemaCache()
	log.Printf("[Registry] Unregistered tool: %s", name)
}

func (r *Registry) invalidateSchemaCache() {
	r.schemaMu.Lock()
	r.schemaCache = nil
	r.schemaMu.Unlock()
	if r.parent != nil {
		r.parent.invalidateSchemaCache()
	}
}

// Get retrieves a tool by name.
// For view registries: checks extras first, then delegates to parent.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if ok {
		return t, true
	}
	if r.parent != nil {
		return r.parent.Get(name)
	}
	return nil, false
}

// ListNames returns the sorted names of every tool visible to this registry.
func (r *Registry) ListNames() []string {
	tools := r.List()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

// List returns all registered tools sorted by name.
// For view registries: merges parent tools with extras (extras override parent).
func (r *Registry) List() []Tool {
	if r.parent != nil {
		return r.listView()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// listView merges parent tools with this view's extras.
// Extras take precedence over parent tools with the same name.
func (r *Registry) listView() []Tool {
	parentTools := r.parent.List()

	r.mu.RLock()
	extras := make(map[string]Tool, len(r.tools))
	for k, v := range r.tools {
		extras[k] = v
	}
	r.mu.RUnlock()

	result := make([]Tool, 0, len(parentTools)+len(extras))
	for _, t := range parentTools {
		if _, overridden := extras[t.Name()]; !overridden {
			result = append(result, t)
		}
	}
	for _, t := range extras {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// GenerateToolsPrompt creates a detailed description of all tools
// including their parameter schemas for injection into non-function-calling
// prompts.
func (r *Registry) GenerateToolsPrompt() string {
	tools := r.List()
	if len(tools) == 0 {
		return "(no tools available)"
	}

	var sb strings.Builder
	sb.WriteString("Available tools:\n")
	for _, t := range tools {
		sb.WriteString(fmt.Sprintf("\n### %s\n%s\n", t.Name(), t.Description()))
		schema := t.InputSchema()
		if len(schema) > 0 {
			sb.WriteString(fmt.Sprintf("Parameter schema: %s\n", string(schema)))
		}
	}
	return sb.String()
}

// GenerateToolDefinitions returns the memoized function-calling tool
// definitions consumed by the backend. The result is cached until the next
// Register/Unregister, since the agent loop calls this once per iteration.
func (r *Registry) GenerateToolDefinitions() []llm.ToolDefinition {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if r.schemaCache != nil {
		return r.schemaCache
	}

	tools := r.List()
	defs := make([]llm.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		}
	}
	r.schemaCache = defs
	return defs
}

// Execute validates args against name's declared required parameters,
// consults the Confirmation Manager when the tool's policy demands it, and
// dispatches to the tool's Execute. A missing required parameter or an
// unknown tool name returns an agenterr error without ever invoking the
// tool body.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	t, ok := r.Get(name)
	if !ok {
		return ToolResult{}, agenterr.Newf(agenterr.ToolNotAvailable, "unknown tool %q", name)
	}

	if err := validateRequired(t.InputSchema(), args); err != nil {
		return ToolResult{}, err
	}

	if t.ConfirmPolicy().RequiresConfirmation() && r.confirmer != nil {
		if !r.confirmer.Confirm(confirm.Request{
			ToolName:    name,
			Description: fmt.Sprintf("Run %s?", name),
			Preview:     string(args),
		}) {
			return ToolResult{}, agenterr.Newf(agenterr.UserRejected, "user declined to run %q", name)
		}
	}

	return t.Execute(ctx, args)
}

func validateRequired(schema json.RawMessage, args json.RawMessage) error {
	required := RequiredParams(schema)
	if len(required) == 0 {
		return nil
	}
	var parsed map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return agenterr.Wrap(agenterr.InvalidToolArgs, err, "arguments are not a JSON object")
		}
	}
	var missing []string
	for _, field := range required {
		if _, ok := parsed[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return agenterr.Newf(agenterr.InvalidToolArgs, "missing required argument(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// InitAll initializes all registered tools.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, t := range r.tools {
		if err := t.Init(ctx); err != nil {
			return fmt.Errorf("init tool %q: %w", name, err)
		}
	}
	log.Printf("[Registry] Initialized %d tools", len(r.tools))
	return nil
}

// CloseAll closes all registered tools, logging errors but not failing.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, t := range r.tools {
		if err := t.Close(); err != nil {
			log.Printf("[Registry] Error closing tool %s: %v", name, err)
		}
	}
}

// WithExtra returns a view of this Registry with additional tools overlaid.
// Used for per-request tool injection.
//
// The returned Registry delegates Get/List to the parent, so changes to the
// parent (via Register/Unregister) are immediately visible through the view.
// Extras take precedence over parent tools with the same name.
//
// Can be chained: root.WithExtra(a).WithExtra(b) creates a view chain where
// lookups check b's extras → a's extras → root's tools.
func (r *Registry) WithExtra(extras ...Tool) *Registry {
	extrasMap := make(map[string]Tool, len(extras))
	for _, t := range extras {
		extrasMap[t.Name()] = t
	}
	return &Registry{
		parent:    r,
		tools:     extrasMap,
		confirmer: r.confirmer,
	}
}
