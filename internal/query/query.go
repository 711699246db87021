// Package query holds the per-query value types flowing through the
// broker: the scatter plan, per-endpoint partial results, the gathered
// map and the reduced answer.
package query

import (
	"fmt"
	"time"

	"github.com/skatterlabs/skatter/internal/transport"
	"github.com/skatterlabs/skatter/internal/util"
	"github.com/skatterlabs/skatter/pkg/wire"
)

// Assignment pins a subset of segments to one endpoint for a single
// query execution.
type Assignment struct {
	Endpoint transport.Endpoint `json:"endpoint"`
	Segments []string           `json:"segments"`
}

// ScatterPlan is immutable once resolved: the set of endpoints to
// contact for one query, plus the routing epoch it was computed from.
type ScatterPlan struct {
	ID          string       `json:"id"`
	Table       string       `json:"table"`
	Assignments []Assignment `json:"assignments"`
	Epoch       uint64       `json:"epoch"`
}

// PartialResult is one endpoint's outcome: a payload with its format
// tag, or a failure. Failures are data, never propagated as errors
// across the executor boundary.
type PartialResult struct {
	Format  wire.Format   `json:"format,omitempty"`
	Payload []byte        `json:"payload,omitempty"`
	Err     error         `json:"-"`
	Elapsed time.Duration `json:"elapsed"`
}

func (r PartialResult) Failed() bool {
	return r.Err != nil
}

// GatherResult maps each planned endpoint to its partial result.
type GatherResult struct {
	Partials map[transport.Endpoint]PartialResult
	Elapsed  time.Duration
}

// Complete reports whether every planned endpoint produced a
// non-failure partial before the deadline.
func (g GatherResult) Complete() bool {
	for _, partial := range g.Partials {
		if partial.Failed() {
			return false
		}
	}

	return len(g.Partials) > 0
}

// Stats describes how a query execution went. It is surfaced to the
// client alongside the merged payload.
type Stats struct {
	Queried   int           `json:"queried"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// ReducedResult is the merged answer for one query.
type ReducedResult struct {
	Format  wire.Format `json:"format"`
	Payload []byte      `json:"payload"`
	Stats   Stats       `json:"stats"`
}

// Fingerprint derives the deterministic cache key of a query. The
// routing epoch is mixed in so topology changes invalidate entries by
// changing the key rather than by flushing.
func Fingerprint(table string, payload []byte, format wire.Format, epoch uint64) (string, error) {
	raw := fmt.Sprintf("%s\x00%s\x00%d\x00", table, format, epoch)
	return util.GetHash(append([]byte(raw), payload...))
}
