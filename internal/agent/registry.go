package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Argument size limit to keep a hostile model from exhausting memory.
const maxToolArgsSize = 10 << 20

// Registry is the static tool catalog. Registration compiles each
// tool's JSON Schema once; argument validation and alias normalization
// reuse the compiled form on every call.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	// props holds the top-level property names per tool, used to map
	// camelCase aliases onto the canonical snake_case names.
	props map[string]map[string]bool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		props:   make(map[string]map[string]bool),
	}
}

// Register adds a tool, replacing any prior tool of the same name.
// It fails if the tool's schema does not compile.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("register tool: empty name")
	}

	schema := tool.Schema()
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	compiler := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := compiler.AddResource(resource, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("register tool %s: %w", name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("register tool %s: %w", name, err)
	}

	var raw struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	_ = json.Unmarshal(schema, &raw)
	props := make(map[string]bool, len(raw.Properties))
	for k := range raw.Properties {
		props[k] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	r.schemas[name] = compiled
	r.props[name] = props
	return nil
}

// MustRegister registers a tool and panics on schema errors. Intended
// for the built-in toolset whose schemas are compile-time constants.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
	delete(r.props, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Specs returns provider-neutral specs for every registered tool,
// sorted by name so the published catalog is deterministic.
func (r *Registry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// StreamingAllowed reports whether the registered toolset permits the
// streaming completion mode. Any tool implementing StreamBlocker with
// DisablesStreaming()==true forces structured mode.
func (r *Registry) StreamingAllowed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if b, ok := t.(StreamBlocker); ok && b.DisablesStreaming() {
			return false
		}
	}
	return true
}

// NormalizeArgs maps camelCase argument aliases onto the canonical
// property names from the tool's schema and validates the result.
// Models routinely emit oldText for old_text and vice versa; both are
// accepted as long as the canonical key is unambiguous.
func (r *Registry) NormalizeArgs(name string, args json.RawMessage) (json.RawMessage, error) {
	if len(args) > maxToolArgsSize {
		return nil, fmt.Errorf("tool %s: arguments exceed %d bytes", name, maxToolArgsSize)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	r.mu.RLock()
	schema, knownTool := r.schemas[name]
	props := r.props[name]
	r.mu.RUnlock()
	if !knownTool {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	var obj map[string]any
	if err := json.Unmarshal(args, &obj); err != nil {
		return nil, fmt.Errorf("tool %s: invalid argument JSON: %w", name, err)
	}

	normalized := make(map[string]any, len(obj))
	for k, v := range obj {
		key := k
		if !props[key] {
			if alt := toSnakeCase(key); props[alt] {
				key = alt
			} else if alt := toCamelCase(key); props[alt] {
				key = alt
			}
		}
		if _, dup := normalized[key]; !dup {
			normalized[key] = v
		}
	}

	if err := schema.Validate(normalized); err != nil {
		return nil, fmt.Errorf("tool %s: invalid arguments: %w", name, err)
	}

	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("tool %s: encode arguments: %w", name, err)
	}
	return out, nil
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func toCamelCase(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 1 {
		return s
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
