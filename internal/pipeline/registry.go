package pipeline

import (
	"fmt"
	"sync"
)

// Registry maps stage type tags to the component implementations the
// detection runner can instantiate. Implementations are registered
// explicitly; an unknown tag is a translation error, never a runtime
// lookup failure.
type Registry struct {
	mu         sync.RWMutex
	components map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]string),
	}
}

func (r *Registry) Register(typeTag, implementation string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.components[typeTag] = implementation
}

func (r *Registry) Lookup(typeTag string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	impl, ok := r.components[typeTag]
	if !ok {
		return "", fmt.Errorf("pipeline: unknown component type %q", typeTag)
	}

	return impl, nil
}

// NewDefaultRegistry wires the built-in detector, baseline and filter
// components.
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()

	registry.Register("threshold", "detector.threshold")
	registry.Register("algorithm", "detector.algorithm")
	registry.Register("rule_baseline", "baseline.rule")
	registry.Register("algorithm_baseline", "baseline.algorithm")
	registry.Register("percentage", "filter.percentage")
	registry.Register("absolute_change", "filter.absolute_change")

	return registry
}
