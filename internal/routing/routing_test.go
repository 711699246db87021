package routing

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skatterlabs/skatter/internal/config"
	"github.com/skatterlabs/skatter/internal/transport"
)

func staticFixture() config.StaticRouting {
	return config.StaticRouting{
		Tables: []config.StaticTable{
			{
				Name: "hits",
				Segments: []config.StaticSegment{
					{Name: "hits_0", Endpoints: []string{"127.0.0.1:9301"}},
					{Name: "hits_1", Endpoints: []string{"127.0.0.1:9301"}},
					{Name: "hits_2", Endpoints: []string{"127.0.0.1:9302"}},
				},
			},
		},
	}
}

func TestStaticTable_Resolve(t *testing.T) {
	table, err := NewStatic(staticFixture(), NewPicker(PickModeRandom))
	require.Nil(t, err)
	require.Nil(t, table.Start())
	defer table.Shutdown()

	plan, err := table.Resolve("hits")
	require.Nil(t, err)
	assert.Equal(t, "hits", plan.Table)
	assert.Equal(t, uint64(1), plan.Epoch)
	assert.Equal(t, uint64(1), table.Epoch())

	require.Len(t, plan.Assignments, 2)
	assert.Equal(t, transport.NewEndpoint("127.0.0.1", 9301), plan.Assignments[0].Endpoint)
	assert.Equal(t, []string{"hits_0", "hits_1"}, plan.Assignments[0].Segments)
	assert.Equal(t, transport.NewEndpoint("127.0.0.1", 9302), plan.Assignments[1].Endpoint)
	assert.Equal(t, []string{"hits_2"}, plan.Assignments[1].Segments)
}

func TestStaticTable_ResolveUnknownTable(t *testing.T) {
	table, err := NewStatic(staticFixture(), NewPicker(PickModeRandom))
	require.Nil(t, err)

	_, err = table.Resolve("missing")
	assert.Equal(t, ErrUnknownTable, err)
}

func TestStaticTable_ResolvePicksOneReplica(t *testing.T) {
	cfg := config.StaticRouting{
		Tables: []config.StaticTable{
			{
				Name: "hits",
				Segments: []config.StaticSegment{
					{Name: "hits_0", Endpoints: []string{"127.0.0.1:9301", "127.0.0.1:9302"}},
				},
			},
		},
	}

	table, err := NewStatic(cfg, NewPicker(PickModeRandom))
	require.Nil(t, err)

	for i := 0; i < 32; i++ {
		plan, err := table.Resolve("hits")
		require.Nil(t, err)
		require.Len(t, plan.Assignments, 1)
		assert.Equal(t, []string{"hits_0"}, plan.Assignments[0].Segments)
		assert.Contains(t, []int{9301, 9302}, plan.Assignments[0].Endpoint.Port)
	}
}

func TestBuildSnapshot(t *testing.T) {
	values := announcements(t,
		Announcement{
			Addr: "10.0.0.1:9301",
			Tables: map[string][]string{
				"hits": {"hits_0", "hits_1"},
			},
		},
		Announcement{
			Addr: "10.0.0.2:9301",
			Tables: map[string][]string{
				"hits":   {"hits_0"},
				"visits": {"visits_0"},
			},
		},
	)

	snapshot := buildSnapshot(values, 7, zerolog.Nop())

	assert.Equal(t, uint64(7), snapshot.Epoch)
	require.Len(t, snapshot.Tables, 2)

	hits := snapshot.Tables["hits"]
	require.Len(t, hits, 2)
	assert.Equal(t, "hits_0", hits[0].Segment)
	assert.Len(t, hits[0].Endpoints, 2)
	assert.Equal(t, "hits_1", hits[1].Segment)
	assert.Len(t, hits[1].Endpoints, 1)
}

func TestBuildSnapshot_SkipsMalformed(t *testing.T) {
	values := announcements(t, Announcement{
		Addr: "10.0.0.1:9301",
		Tables: map[string][]string{
			"hits": {"hits_0"},
		},
	})
	values = append(values, []byte("not-json"), []byte(`{"addr":"no-port"}`))

	snapshot := buildSnapshot(values, 1, zerolog.Nop())

	require.Len(t, snapshot.Tables, 1)
	assert.Len(t, snapshot.Tables["hits"], 1)
}

func TestGoneEndpoints(t *testing.T) {
	prev := buildSnapshot(announcements(t,
		Announcement{Addr: "10.0.0.1:9301", Tables: map[string][]string{"hits": {"hits_0"}}},
		Announcement{Addr: "10.0.0.2:9301", Tables: map[string][]string{"hits": {"hits_0"}}},
	), 1, zerolog.Nop())
	next := buildSnapshot(announcements(t,
		Announcement{Addr: "10.0.0.1:9301", Tables: map[string][]string{"hits": {"hits_0"}}},
	), 2, zerolog.Nop())

	gone := goneEndpoints(prev, next)
	require.Len(t, gone, 1)
	assert.Equal(t, transport.NewEndpoint("10.0.0.2", 9301), gone[0])
}

func announcements(t *testing.T, anns ...Announcement) [][]byte {
	t.Helper()

	values := make([][]byte, 0, len(anns))
	for _, ann := range anns {
		data, err := json.Marshal(ann)
		require.Nil(t, err)
		values = append(values, data)
	}

	return values
}
