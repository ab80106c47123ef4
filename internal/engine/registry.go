package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pixline/internal/domain"
)

var (
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrTerminal        = errors.New("task is in a terminal status")
	ErrNoReferences    = errors.New("task has no references to process")
)

// Task is any entity carrying the task capability.
type Task interface {
	TaskRef() domain.TaskReference
	TaskEntity() *domain.Entity
	State() *domain.TaskState
}

// Handler binds a task-type name to its storage and execution. Load resolves a
// record by id within the given ownership scope. Save persists the full record
// and refreshes updated_at. Start runs type-specific work; when nil, starting
// falls back to evaluating the task's reference tree.
type Handler struct {
	Load  func(ctx context.Context, id string, scope domain.Scope) (Task, error)
	Save  func(ctx context.Context, t Task) error
	Start func(ctx context.Context, t Task) error
}

// Signal is a callback invoked on every emitting mutation of its task type.
// Errors are logged and isolated; they never abort the mutation or other
// subscribers.
type Signal func(ctx context.Context, t Task) error

// Registry maps task-type names to handlers and signal subscribers. It is
// populated during startup wiring and passed explicitly to the components
// that need it; the lock makes late registration safe anyway.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	signals  map[string][]Signal
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		signals:  make(map[string][]Signal),
	}
}

// Register binds a handler to a task-type name. Registering the same name
// twice is a wiring bug.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("task type name required")
	}
	if h.Load == nil || h.Save == nil {
		return fmt.Errorf("task type %s: handler requires Load and Save", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("task type %s already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Handler resolves a task-type name.
func (r *Registry) Handler(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return Handler{}, fmt.Errorf("%w: %s", ErrUnknownTaskType, name)
	}
	return h, nil
}

// Types returns the registered task-type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// AddSignal subscribes a callback to a task type.
func (r *Registry) AddSignal(name string, s Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[name] = append(r.signals[name], s)
}

// Signals returns a copy of the subscribers for a task type.
func (r *Registry) Signals(name string) []Signal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.signals[name]
	if len(subs) == 0 {
		return nil
	}
	out := make([]Signal, len(subs))
	copy(out, subs)
	return out
}
