package reduce

import (
	"encoding/json"
	"fmt"

	"github.com/skatterlabs/skatter/internal/query"
	"github.com/skatterlabs/skatter/pkg/wire"
)

// jsonDocument is the aggregation shape backends produce in the JSON
// response format.
type jsonDocument struct {
	TotalDocs    int64              `json:"totalDocs"`
	Aggregations map[string]float64 `json:"aggregations"`
}

// jsonReducer sums document counts and named aggregations across
// endpoints. Failed endpoints contribute nothing; an all-failed or
// empty gather still yields a well-formed zero document.
type jsonReducer struct{}

func NewJSONReducer() Reducer {
	return jsonReducer{}
}

func (jsonReducer) Reduce(gather query.GatherResult) (query.ReducedResult, error) {
	merged := jsonDocument{
		Aggregations: make(map[string]float64),
	}

	for _, item := range orderedPartials(gather) {
		if item.partial.Failed() {
			continue
		}

		var doc jsonDocument
		if err := json.Unmarshal(item.partial.Payload, &doc); err != nil {
			return query.ReducedResult{}, fmt.Errorf("reduce: bad json payload from %s: %w", item.endpoint, err)
		}

		merged.TotalDocs += doc.TotalDocs
		for name, value := range doc.Aggregations {
			merged.Aggregations[name] += value
		}
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return query.ReducedResult{}, err
	}

	return query.ReducedResult{
		Format:  wire.FormatJSON,
		Payload: payload,
		Stats:   statsOf(gather),
	}, nil
}
