package routing

import (
	"sync"

	"github.com/skatterlabs/skatter/internal/config"
	"github.com/skatterlabs/skatter/internal/query"
	"github.com/skatterlabs/skatter/internal/transport"
	"github.com/skatterlabs/skatter/internal/util"
)

// staticTable serves assignments read once from the configuration
// file. The snapshot never changes, so its epoch is constant.
type staticTable struct {
	mu       sync.RWMutex
	snapshot Snapshot
	picker   Picker
}

func NewStatic(cfg config.StaticRouting, picker Picker) (Table, error) {
	snapshot := Snapshot{
		Created: util.Timestamp(),
		Epoch:   1,
		Tables:  make(map[string][]SegmentAssignment, len(cfg.Tables)),
	}

	for _, table := range cfg.Tables {
		segments := make([]SegmentAssignment, 0, len(table.Segments))
		for _, segment := range table.Segments {
			endpoints := make([]transport.Endpoint, 0, len(segment.Endpoints))
			for _, addr := range segment.Endpoints {
				endpoint, err := transport.ParseEndpoint(addr)
				if err != nil {
					return nil, err
				}
				endpoints = append(endpoints, endpoint)
			}
			segments = append(segments, SegmentAssignment{
				Segment:   segment.Name,
				Endpoints: endpoints,
			})
		}
		snapshot.Tables[table.Name] = segments
	}

	return &staticTable{
		snapshot: snapshot,
		picker:   picker,
	}, nil
}

func (t *staticTable) Resolve(table string) (query.ScatterPlan, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snapshot.planFor(table, t.picker)
}

func (t *staticTable) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snapshot.Copy()
}

func (t *staticTable) Epoch() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snapshot.Epoch
}

func (t *staticTable) Start() error {
	return nil
}

func (t *staticTable) Shutdown() {}
