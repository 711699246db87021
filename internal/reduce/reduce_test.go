package reduce

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/vmihailenco/msgpack.v2"

	"github.com/skatterlabs/skatter/internal/query"
	"github.com/skatterlabs/skatter/internal/transport"
	"github.com/skatterlabs/skatter/pkg/wire"
)

func jsonPartial(t *testing.T, totalDocs int64, aggregations map[string]float64) query.PartialResult {
	t.Helper()

	payload, err := json.Marshal(jsonDocument{
		TotalDocs:    totalDocs,
		Aggregations: aggregations,
	})
	require.Nil(t, err)

	return query.PartialResult{
		Format:  wire.FormatJSON,
		Payload: payload,
	}
}

func TestJSONReducer_MergesAggregations(t *testing.T) {
	gather := query.GatherResult{
		Partials: map[transport.Endpoint]query.PartialResult{
			transport.NewEndpoint("10.0.0.1", 9301): jsonPartial(t, 100, map[string]float64{"count_star": 10, "sum_clicks": 1.5}),
			transport.NewEndpoint("10.0.0.2", 9301): jsonPartial(t, 50, map[string]float64{"count_star": 5}),
		},
		Elapsed: 20 * time.Millisecond,
	}

	result, err := NewJSONReducer().Reduce(gather)
	require.Nil(t, err)

	var doc jsonDocument
	require.Nil(t, json.Unmarshal(result.Payload, &doc))
	assert.Equal(t, int64(150), doc.TotalDocs)
	assert.Equal(t, 15.0, doc.Aggregations["count_star"])
	assert.Equal(t, 1.5, doc.Aggregations["sum_clicks"])

	assert.Equal(t, 2, result.Stats.Queried)
	assert.Equal(t, 2, result.Stats.Succeeded)
	assert.Equal(t, 0, result.Stats.Failed)
	assert.Equal(t, 20*time.Millisecond, result.Stats.Elapsed)
}

func TestJSONReducer_PartialFailure(t *testing.T) {
	gather := query.GatherResult{
		Partials: map[transport.Endpoint]query.PartialResult{
			transport.NewEndpoint("10.0.0.1", 9301): jsonPartial(t, 100, map[string]float64{"count_star": 10}),
			transport.NewEndpoint("10.0.0.2", 9301): {Err: errors.New("connection refused")},
		},
	}

	result, err := NewJSONReducer().Reduce(gather)
	require.Nil(t, err)

	var doc jsonDocument
	require.Nil(t, json.Unmarshal(result.Payload, &doc))
	assert.Equal(t, int64(100), doc.TotalDocs)
	assert.Equal(t, 1, result.Stats.Succeeded)
	assert.Equal(t, 1, result.Stats.Failed)
}

func TestJSONReducer_AllFailed(t *testing.T) {
	gather := query.GatherResult{
		Partials: map[transport.Endpoint]query.PartialResult{
			transport.NewEndpoint("10.0.0.1", 9301): {Err: errors.New("timeout")},
			transport.NewEndpoint("10.0.0.2", 9301): {Err: errors.New("refused")},
		},
	}

	result, err := NewJSONReducer().Reduce(gather)
	require.Nil(t, err)

	var doc jsonDocument
	require.Nil(t, json.Unmarshal(result.Payload, &doc))
	assert.Equal(t, int64(0), doc.TotalDocs)
	assert.Equal(t, 0, result.Stats.Succeeded)
	assert.Equal(t, 2, result.Stats.Failed)
}

func TestJSONReducer_Deterministic(t *testing.T) {
	gather := query.GatherResult{
		Partials: map[transport.Endpoint]query.PartialResult{},
	}
	for port := 9301; port < 9317; port++ {
		endpoint := transport.NewEndpoint("10.0.0.1", port)
		gather.Partials[endpoint] = jsonPartial(t, int64(port), map[string]float64{"count_star": float64(port)})
	}

	first, err := NewJSONReducer().Reduce(gather)
	require.Nil(t, err)

	// Map iteration order varies between runs; the payload must not.
	for i := 0; i < 16; i++ {
		next, err := NewJSONReducer().Reduce(gather)
		require.Nil(t, err)
		assert.Equal(t, first.Payload, next.Payload)
	}
}

func nativePartial(t *testing.T, columns []string, rows [][]interface{}) query.PartialResult {
	t.Helper()

	payload, err := msgpack.Marshal(nativeBlock{Columns: columns, Rows: rows})
	require.Nil(t, err)

	return query.PartialResult{
		Format:  wire.FormatNative,
		Payload: payload,
	}
}

func TestNativeReducer_ConcatenatesRows(t *testing.T) {
	gather := query.GatherResult{
		Partials: map[transport.Endpoint]query.PartialResult{
			transport.NewEndpoint("10.0.0.1", 9301): nativePartial(t, []string{"country", "clicks"}, [][]interface{}{{"de", int64(10)}}),
			transport.NewEndpoint("10.0.0.2", 9301): nativePartial(t, []string{"country", "clicks"}, [][]interface{}{{"fr", int64(20)}, {"us", int64(30)}}),
		},
	}

	result, err := NewNativeReducer().Reduce(gather)
	require.Nil(t, err)

	var block nativeBlock
	require.Nil(t, msgpack.Unmarshal(result.Payload, &block))
	assert.Equal(t, []string{"country", "clicks"}, block.Columns)
	assert.Len(t, block.Rows, 3)
}

func TestNativeReducer_ColumnMismatch(t *testing.T) {
	gather := query.GatherResult{
		Partials: map[transport.Endpoint]query.PartialResult{
			transport.NewEndpoint("10.0.0.1", 9301): nativePartial(t, []string{"country"}, nil),
			transport.NewEndpoint("10.0.0.2", 9301): nativePartial(t, []string{"city"}, nil),
		},
	}

	_, err := NewNativeReducer().Reduce(gather)
	assert.NotNil(t, err)
}

func TestNativeReducer_EmptyGather(t *testing.T) {
	result, err := NewNativeReducer().Reduce(query.GatherResult{})
	require.Nil(t, err)

	var block nativeBlock
	require.Nil(t, msgpack.Unmarshal(result.Payload, &block))
	assert.Empty(t, block.Rows)
	assert.Equal(t, 0, result.Stats.Queried)
}

func TestRegistry_SelectFallsBackToDefault(t *testing.T) {
	registry := NewDefaultRegistry()

	jsonReducer := registry.Select(wire.FormatJSON)
	nativeReducer := registry.Select(wire.FormatNative)
	unknown := registry.Select(wire.Format("csv"))

	assert.NotNil(t, jsonReducer)
	assert.NotNil(t, nativeReducer)
	assert.Equal(t, jsonReducer, unknown)
}
