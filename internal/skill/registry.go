// Package skill defines the capability contract executed by workers and
// the registry dispatching task types onto capabilities.
package skill

import (
	"context"
	"fmt"
	"sort"

	"github.com/amin3ltd/project-chimera/internal/task"
)

// Output is the uniform capability result. Confidence is the
// capability's own estimate; the worker clamps it into [0,1].
type Output struct {
	Payload    map[string]any
	Confidence float64
}

// Capability is one pluggable unit of work behind a fixed contract.
// Implementations return an error for execution failures; they never
// panic across the boundary (the worker guards regardless).
type Capability interface {
	Name() string
	Execute(ctx context.Context, t task.Task) (Output, error)
}

// Registry maps task types to capabilities. It is populated once at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	byType map[task.Type]Capability
}

func NewRegistry() *Registry {
	return &Registry{byType: make(map[task.Type]Capability)}
}

func (r *Registry) Register(tt task.Type, c Capability) error {
	if c == nil {
		return fmt.Errorf("nil capability for task type %q", tt)
	}
	if _, dup := r.byType[tt]; dup {
		return fmt.Errorf("task type %q already registered", tt)
	}
	r.byType[tt] = c
	return nil
}

func (r *Registry) Resolve(tt task.Type) (Capability, bool) {
	c, ok := r.byType[tt]
	return c, ok
}

// Validate rejects a registry that leaves any required task type
// unmapped. Called at startup so unknown types fail early, not
// per-task.
func (r *Registry) Validate(required ...task.Type) error {
	missing := make([]string, 0)
	for _, tt := range required {
		if _, ok := r.byType[tt]; !ok {
			missing = append(missing, string(tt))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("capability registry missing task types: %v", missing)
	}
	return nil
}
