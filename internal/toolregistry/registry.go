// Package toolregistry implements the function registry (§4.B): a
// name-keyed map of FunctionDefinitions with an enabled-name set, dispatch
// that optionally threads conversation history to handlers that ask for
// it, and atomic YAML persistence of the enabled set plus per-function
// config (never handler code).
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ragchat/internal/apperr"
	"ragchat/internal/llm"
)

// CallContext is the optional context threaded into Handler.Call for
// handlers that declare WantsHistory() == true.
type CallContext struct {
	ConversationHistory []llm.Message
}

// Handler is a single callable capability. WantsHistory lets the registry
// avoid building/copying conversation history for handlers that never use
// it, in place of the reflection-based signature introspection described in
// §4.B.
type Handler interface {
	Name() string
	Description() string
	JSONSchema() map[string]any
	WantsHistory() bool
	Call(ctx context.Context, raw json.RawMessage, callCtx CallContext) (any, error)
}

// Definition is the persisted/registerable shape of a function: the live
// Handler plus whether it starts enabled and any handler-specific config
// blob round-tripped through YAML.
type Definition struct {
	Handler Handler
	Enabled bool
	Config  map[string]any
}

// AdminView is the read-only surface the admin HTTP interface (§6) needs;
// it does not expose Register/mutating methods directly so admin handlers
// cannot bypass enable/disable bookkeeping.
type AdminView interface {
	List() []Definition
	IsEnabled(name string) bool
}

// Registry is the function registry described in §4.B.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Definition
	enabled map[string]struct{}
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byName:  make(map[string]*Definition),
		enabled: make(map[string]struct{}),
	}
}

// Register inserts or overwrites a definition. If def.Enabled, the name is
// added to the enabled set; this is idempotent (re-registering a disabled
// definition does not implicitly enable it).
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := def.Handler.Name()
	d := def
	r.byName[name] = &d
	if def.Enabled {
		r.enabled[name] = struct{}{}
	}
}

// Unregister removes a definition entirely (used when a transport session
// tears down and its tools must disappear from the registry).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
	delete(r.enabled, name)
}

// Enable adds name to the enabled set. Fails if name is not registered.
func (r *Registry) Enable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return apperr.New(apperr.Validation, "toolregistry.Enable", fmt.Errorf("unknown function %q", name))
	}
	r.enabled[name] = struct{}{}
	return nil
}

// Disable removes name from the enabled set. Fails if name is not registered.
func (r *Registry) Disable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return apperr.New(apperr.Validation, "toolregistry.Disable", fmt.Errorf("unknown function %q", name))
	}
	delete(r.enabled, name)
	return nil
}

func (r *Registry) isEnabledLocked(name string) bool {
	_, ok := r.enabled[name]
	return ok
}

// IsEnabled reports whether name is both registered and enabled.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isEnabledLocked(name)
}

// Call dispatches to a registered, enabled handler. A disabled function is
// never callable (§4.B invariant), regardless of whether it was ever
// enabled in the past.
func (r *Registry) Call(ctx context.Context, name string, raw json.RawMessage, history []llm.Message) (any, error) {
	r.mu.RLock()
	def, ok := r.byName[name]
	enabled := r.isEnabledLocked(name)
	r.mu.RUnlock()

	if !ok {
		return nil, apperr.New(apperr.ToolArgument, "toolregistry.Call", fmt.Errorf("unknown function %q", name))
	}
	if !enabled {
		return nil, apperr.New(apperr.ToolArgument, "toolregistry.Call", fmt.Errorf("function %q is disabled", name))
	}

	var callCtx CallContext
	if def.Handler.WantsHistory() {
		callCtx.ConversationHistory = history
	}
	return def.Handler.Call(ctx, raw, callCtx)
}

// DefinitionsForLLM yields {name, description, parameters} for every
// enabled entry (§4.B: "a disabled function is never visible to the LLM").
func (r *Registry) DefinitionsForLLM() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolSchema, 0, len(r.enabled))
	for name := range r.enabled {
		def := r.byName[name]
		if def == nil {
			continue
		}
		out = append(out, llm.ToolSchema{
			Name:        name,
			Description: def.Handler.Description(),
			Parameters:  def.Handler.JSONSchema(),
		})
	}
	return out
}

// List returns every registered definition, enabled or not (admin view).
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, *d)
	}
	return out
}
