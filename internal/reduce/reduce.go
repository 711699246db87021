// Package reduce merges per-endpoint partial results into one answer.
// The merge algorithm depends on the response encoding, so reducers
// are looked up by format tag with a default fallback.
package reduce

import (
	"sort"
	"sync"

	"github.com/skatterlabs/skatter/internal/query"
	"github.com/skatterlabs/skatter/internal/transport"
	"github.com/skatterlabs/skatter/pkg/wire"
)

// Reducer merges a gather result. Implementations must be pure and
// must not depend on the iteration order of the endpoint map.
type Reducer interface {
	Reduce(gather query.GatherResult) (query.ReducedResult, error)
}

type Registry struct {
	mu       sync.RWMutex
	reducers map[wire.Format]Reducer
	fallback Reducer
}

func NewRegistry() *Registry {
	return &Registry{
		reducers: make(map[wire.Format]Reducer),
	}
}

func (r *Registry) Register(format wire.Format, reducer Reducer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reducers[format] = reducer
}

func (r *Registry) RegisterDefault(reducer Reducer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fallback = reducer
}

// Select returns the reducer registered for the format, or the default
// one for unknown tags.
func (r *Registry) Select(format wire.Format) Reducer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if reducer, ok := r.reducers[format]; ok {
		return reducer
	}

	return r.fallback
}

// NewDefaultRegistry wires the reducers the broker registers at
// startup: JSON aggregation (also the fallback) and the native row
// format.
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()

	jsonReducer := NewJSONReducer()
	registry.Register(wire.FormatJSON, jsonReducer)
	registry.Register(wire.FormatNative, NewNativeReducer())
	registry.RegisterDefault(jsonReducer)

	return registry
}

// orderedPartials flattens the gather map sorted by endpoint address,
// so reducers stay deterministic regardless of map iteration order.
func orderedPartials(gather query.GatherResult) []partialOf {
	ordered := make([]partialOf, 0, len(gather.Partials))
	for endpoint, partial := range gather.Partials {
		ordered = append(ordered, partialOf{endpoint: endpoint, partial: partial})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].endpoint.String() < ordered[j].endpoint.String()
	})

	return ordered
}

type partialOf struct {
	endpoint transport.Endpoint
	partial  query.PartialResult
}

func statsOf(gather query.GatherResult) query.Stats {
	stats := query.Stats{
		Queried: len(gather.Partials),
		Elapsed: gather.Elapsed,
	}
	for _, partial := range gather.Partials {
		if partial.Failed() {
			stats.Failed++
		} else {
			stats.Succeeded++
		}
	}

	return stats
}
