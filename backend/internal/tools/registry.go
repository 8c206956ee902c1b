package tools

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "coyote/backend/pkg/errors"
)

// Registry keeps the mapping between tool names and their spec and executor.
// It is filled once at startup and only read afterwards, so lookups need no
// locking.
type Registry struct {
	order     []string
	entries   map[string]registryEntry
	validator Validator
}

type registryEntry struct {
	spec     ToolSpec
	executor Executor
}

// NewRegistry creates an empty registry backed by the default validator
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[string]registryEntry),
		validator: DefaultValidator{},
	}
}

// Register adds a tool. Names are unique; a second registration under the
// same name fails with *apperrors.ErrDuplicateTool.
func (r *Registry) Register(spec ToolSpec, executor Executor) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if executor == nil {
		return fmt.Errorf("tool %s has no executor", spec.Name)
	}
	if _, exists := r.entries[spec.Name]; exists {
		return apperrors.NewDuplicateTool(spec.Name)
	}

	r.entries[spec.Name] = registryEntry{spec: spec, executor: executor}
	r.order = append(r.order, spec.Name)
	return nil
}

// Resolve fetches a tool's executor by name
func (r *Registry) Resolve(name string) (Executor, error) {
	entry, exists := r.entries[name]
	if !exists {
		return nil, apperrors.NewToolNotFound(name)
	}
	return entry.executor, nil
}

// Validate checks arguments against the named tool's parameter contract
func (r *Registry) Validate(name string, args map[string]interface{}) error {
	entry, exists := r.entries[name]
	if !exists {
		return apperrors.NewToolNotFound(name)
	}
	if err := r.validator.Validate(args, entry.spec.Parameters); err != nil {
		return apperrors.NewToolInvalidArguments(name, err.Error())
	}
	return nil
}

// Catalogue lists the registered specs in registration order
func (r *Registry) Catalogue() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.entries[name].spec)
	}
	return specs
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	return len(r.order)
}

// Probes runs every executor's availability check concurrently
func (r *Registry) Probes(ctx context.Context) map[string]bool {
	results := make(map[string]bool, len(r.order))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range r.order {
		name := name
		executor := r.entries[name].executor
		g.Go(func() error {
			ok := executor.Available(gctx)
			mu.Lock()
			results[name] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}
