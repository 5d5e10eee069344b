package tool

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"carebot/internal/domain"
)

// ErrDuplicateTool is returned by Register when a tool name is already
// taken. Two tools under one name is a wiring mistake that must surface
// at startup, not be silently resolved.
var ErrDuplicateTool = errors.New("duplicate tool name")

// Registry holds the tool catalog. It is populated during startup and
// read-only afterwards; reads are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", "name", t.Name())
	return nil
}

// MustRegister registers a batch of tools and panics on a name collision.
// Only for use in startup wiring where a collision is a programming error.
func (r *Registry) MustRegister(tools ...domain.Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns all registered tool names, sorted for stable output.
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

// Definitions returns tool definitions in OpenAI-compatible format for the LLM.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)

	defs := make([]domain.ToolDefinition, 0, len(names))
	for _, n := range names {
		t := r.tools[n]
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
