package reduce

import (
	"fmt"

	"gopkg.in/vmihailenco/msgpack.v2"

	"github.com/skatterlabs/skatter/internal/query"
	"github.com/skatterlabs/skatter/pkg/wire"
)

// nativeBlock is the columnar shape backends produce in the native
// response format.
type nativeBlock struct {
	Columns []string        `msgpack:"columns"`
	Rows    [][]interface{} `msgpack:"rows"`
}

// nativeReducer concatenates row blocks. All successful endpoints must
// agree on the column set; a mismatch means the backends answered
// different schemas and the merge is undefined.
type nativeReducer struct{}

func NewNativeReducer() Reducer {
	return nativeReducer{}
}

func (nativeReducer) Reduce(gather query.GatherResult) (query.ReducedResult, error) {
	merged := nativeBlock{
		Rows: make([][]interface{}, 0),
	}

	for _, item := range orderedPartials(gather) {
		if item.partial.Failed() {
			continue
		}

		var block nativeBlock
		if err := msgpack.Unmarshal(item.partial.Payload, &block); err != nil {
			return query.ReducedResult{}, fmt.Errorf("reduce: bad native payload from %s: %w", item.endpoint, err)
		}

		if merged.Columns == nil {
			merged.Columns = block.Columns
		} else if !equalColumns(merged.Columns, block.Columns) {
			return query.ReducedResult{}, fmt.Errorf("reduce: column mismatch from %s", item.endpoint)
		}

		merged.Rows = append(merged.Rows, block.Rows...)
	}

	if merged.Columns == nil {
		merged.Columns = []string{}
	}

	payload, err := msgpack.Marshal(merged)
	if err != nil {
		return query.ReducedResult{}, err
	}

	return query.ReducedResult{
		Format:  wire.FormatNative,
		Payload: payload,
		Stats:   statsOf(gather),
	}, nil
}

func equalColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
