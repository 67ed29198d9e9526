package job

import (
	"context"
	"sync"

	"github.com/teranos/tempo/errors"
)

// Handler defines the interface for executing a specific job type.
// Application packages implement this interface for their job types,
// keeping the queue infrastructure decoupled from what the jobs do.
//
// Handlers decode their own payload from job.Payload; the worker pool
// never inspects it. Handlers must check ctx.Done() periodically and
// exit cleanly when cancelled.
type Handler interface {
	// Execute runs the job. Return nil on success, an error on
	// failure. A returned string becomes the job's result summary.
	Execute(ctx context.Context, job *Job) (string, error)

	// Name returns the job type this handler serves.
	Name() string
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	TypeName string
	Fn       func(ctx context.Context, job *Job) (string, error)
}

func (h HandlerFunc) Execute(ctx context.Context, job *Job) (string, error) {
	return h.Fn(ctx, job)
}

func (h HandlerFunc) Name() string {
	return h.TypeName
}

// Registry manages handlers by job type.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its name.
// Panics if a handler is already registered for that job type.
func (r *Registry) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		panic("handler already registered for job type: " + name)
	}
	r.handlers[name] = handler
}

// Get retrieves the handler for a job type.
// Returns nil if no handler is registered.
func (r *Registry) Get(jobType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Has checks if a handler is registered for a job type.
func (r *Registry) Has(jobType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[jobType]
	return exists
}

// Names returns all registered job types.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Execute dispatches a job to its registered handler.
func (r *Registry) Execute(ctx context.Context, job *Job) (string, error) {
	if job.Type == "" {
		return "", errors.New("job missing type")
	}

	handler := r.Get(job.Type)
	if handler == nil {
		return "", errors.Newf("no handler registered for job type: %s", job.Type)
	}
	return handler.Execute(ctx, job)
}
