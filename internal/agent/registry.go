package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/config"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
)

// AgentConstructor builds an Agent backend from config.
type AgentConstructor func(cfg *config.Config, logger *logging.Logger) (Agent, error)

// WorkerConstructor builds a Worker backend from config.
type WorkerConstructor func(cfg *config.Config, logger *logging.Logger) (Worker, error)

// Registry maps backend names to constructors. Backends register at
// startup; lookup is by string key, no reflection involved.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]AgentConstructor
	workers map[string]WorkerConstructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:  make(map[string]AgentConstructor),
		workers: make(map[string]WorkerConstructor),
	}
}

// RegisterAgent registers an agent constructor under a name. Registering
// the same name twice is a programming error and panics at startup.
func (r *Registry) RegisterAgent(name string, ctor AgentConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		panic(fmt.Sprintf("agent backend %q registered twice", name))
	}
	r.agents[name] = ctor
}

// RegisterWorker registers a worker constructor under a name.
func (r *Registry) RegisterWorker(name string, ctor WorkerConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[name]; exists {
		panic(fmt.Sprintf("worker backend %q registered twice", name))
	}
	r.workers[name] = ctor
}

// NewAgent constructs the named agent backend.
func (r *Registry) NewAgent(name string, cfg *config.Config, logger *logging.Logger) (Agent, error) {
	r.mu.RLock()
	ctor, ok := r.agents[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent backend %q (available: %v)", name, r.AgentNames())
	}
	return ctor(cfg, logger)
}

// NewWorker constructs the named worker backend.
func (r *Registry) NewWorker(name string, cfg *config.Config, logger *logging.Logger) (Worker, error) {
	r.mu.RLock()
	ctor, ok := r.workers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown worker backend %q (available: %v)", name, r.WorkerNames())
	}
	return ctor(cfg, logger)
}

// AgentNames returns registered agent backend names, sorted.
func (r *Registry) AgentNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WorkerNames returns registered worker backend names, sorted.
func (r *Registry) WorkerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
