// Package routing maps a query's table to the set of backend
// endpoints that must be contacted, one segment subset per endpoint.
package routing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/skatterlabs/skatter/internal/config"
	"github.com/skatterlabs/skatter/internal/query"
	"github.com/skatterlabs/skatter/internal/transport"
)

var (
	ErrUnknownTable = errors.New("routing: unknown table")
	ErrNoEndpoints  = errors.New("routing: segment has no live endpoints")
)

// Table is the routing capability consumed by the broker. The broker
// does not care whether assignments come from a config file or from
// live membership updates.
type Table interface {
	// Resolve computes the scatter plan of one query execution.
	Resolve(table string) (query.ScatterPlan, error)

	// Snapshot returns a copy of the current routing state for
	// diagnostics.
	Snapshot() Snapshot

	// Epoch returns the current routing generation. It bumps on every
	// membership change and feeds cache fingerprints.
	Epoch() uint64

	Start() error
	Shutdown()
}

// Options carries hooks shared by routing strategies.
type Options struct {
	// OnEndpointGone fires when an endpoint disappears from the
	// routing state, so dependents can drop its resources.
	OnEndpointGone func(transport.Endpoint)
}

func New(cfg config.Routing, opts Options, logger zerolog.Logger) (Table, error) {
	picker := NewPicker(PickMode(cfg.ReplicaPick))

	switch cfg.Mode {
	case config.RoutingModeStatic:
		return NewStatic(cfg.Static, picker)
	case config.RoutingModeEtcd:
		return NewEtcd(cfg.Etcd, picker, opts, logger)
	}

	return nil, fmt.Errorf("routing: unknown mode %q", cfg.Mode)
}

// SegmentAssignment lists the replicas holding one segment.
type SegmentAssignment struct {
	Segment   string               `json:"segment"`
	Endpoints []transport.Endpoint `json:"endpoints"`
}

// Snapshot is a copy of the routing state at a given time. Epoch bumps
// on every change, which feeds cache fingerprints.
type Snapshot struct {
	Created int64                          `json:"created"`
	Epoch   uint64                         `json:"epoch"`
	Tables  map[string][]SegmentAssignment `json:"tables"`
}

func (s *Snapshot) Copy() Snapshot {
	dst := Snapshot{
		Created: s.Created,
		Epoch:   s.Epoch,
		Tables:  make(map[string][]SegmentAssignment, len(s.Tables)),
	}

	for name, segments := range s.Tables {
		cp := make([]SegmentAssignment, len(segments))
		copy(cp, segments)
		dst.Tables[name] = cp
	}

	return dst
}

// planFor picks one replica per segment and groups segments by the
// chosen endpoint.
func (s *Snapshot) planFor(table string, picker Picker) (query.ScatterPlan, error) {
	segments, ok := s.Tables[table]
	if !ok {
		return query.ScatterPlan{}, ErrUnknownTable
	}

	grouped := make(map[transport.Endpoint][]string)
	for _, assignment := range segments {
		if len(assignment.Endpoints) == 0 {
			return query.ScatterPlan{}, ErrNoEndpoints
		}
		endpoint := picker.Pick(assignment.Endpoints)
		grouped[endpoint] = append(grouped[endpoint], assignment.Segment)
	}

	plan := query.ScatterPlan{
		Table: table,
		Epoch: s.Epoch,
	}
	for endpoint, segs := range grouped {
		sort.Strings(segs)
		plan.Assignments = append(plan.Assignments, query.Assignment{
			Endpoint: endpoint,
			Segments: segs,
		})
	}
	sort.Slice(plan.Assignments, func(i, j int) bool {
		return plan.Assignments[i].Endpoint.String() < plan.Assignments[j].Endpoint.String()
	})

	return plan, nil
}
