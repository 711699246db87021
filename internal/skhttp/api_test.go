package skhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/skatterlabs/skatter/internal/api"
	"github.com/skatterlabs/skatter/internal/broker"
	"github.com/skatterlabs/skatter/internal/config"
	"github.com/skatterlabs/skatter/internal/util"
	"github.com/skatterlabs/skatter/pkg/wire"
)

var (
	tDBFileName = "test.db"
	tTableName  = "hits"
)

var (
	dummyLogger = zerolog.Nop()
)

type apiSuite struct {
	suite.Suite

	broker  broker.Broker
	router  *mux.Router
	queryID string
}

func (a *apiSuite) SetupSuite() {
	t := a.Suite.T()

	addr := a.startBackend()

	cfg := &config.Config{}
	cfg.Broker.Timeout = 2 * time.Second
	cfg.Transport.ConnectTimeout = util.NewDuration(time.Second)
	cfg.Transport.RequestTimeout = util.NewDuration(time.Second)
	cfg.Pool.MinConnectionsPerServer = util.NewInt(0)
	cfg.Pool.MaxConnectionsPerServer = util.NewInt(4)
	cfg.Pool.IdleTimeout = util.NewDuration(time.Minute)
	cfg.Pool.MaxBacklogPerServer = util.NewInt(4)
	cfg.Routing = config.Routing{
		Mode: config.RoutingModeStatic,
		Static: config.StaticRouting{
			Tables: []config.StaticTable{
				{
					Name: tTableName,
					Segments: []config.StaticSegment{
						{Name: "hits_0", Endpoints: []string{addr}},
					},
				},
			},
		},
	}
	cfg.Storage = config.Storage{
		Filename:       tDBFileName,
		ConnectTimeout: time.Second,
		QueryTimeout:   time.Second,
	}

	b, err := broker.New(cfg, dummyLogger)
	require.NoError(t, err)
	require.NoError(t, b.Start())
	a.broker = b

	result, err := b.Execute(context.Background(), broker.Request{
		Table:   tTableName,
		Format:  wire.FormatJSON,
		Payload: []byte(`select count(*) from hits`),
	})
	require.NoError(t, err)
	a.queryID = result.ID

	router := mux.NewRouter()
	RegisterDebugHandlers(router, b.State, "test", "deadbeef", "today")
	RegisterQueryHandler(router, NewQueryHandler(dummyLogger, b))
	RegisterAPIHandlers(router, NewAPIHandler(dummyLogger, api.NewService(b.Storage(), b.Routing(), b.Pool())))

	a.router = router
}

func (a *apiSuite) TearDownSuite() {
	a.broker.Stop()
	require.NoError(a.T(), os.Remove(tDBFileName))
}

func (a *apiSuite) startBackend() string {
	t := a.Suite.T()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ln.Close()
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer func() {
					_ = c.Close()
				}()
				for {
					var req wire.Request
					if err := wire.ReadFrame(c, &req); err != nil {
						return
					}
					resp := wire.Response{
						ID:      req.ID,
						Format:  wire.FormatJSON,
						Payload: []byte(`{"totalDocs":100}`),
					}
					if err := wire.WriteFrame(c, &resp); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String()
}

func TestAPI(t *testing.T) {
	suite.Run(t, &apiSuite{
		Suite: suite.Suite{},
	})
}

func (a *apiSuite) TestHealth() {
	t := a.T()

	r := httptest.NewRequest(http.MethodGet, "/debug/health", nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"running"}`, w.Body.String())
}

func (a *apiSuite) TestAbout() {
	t := a.T()

	r := httptest.NewRequest(http.MethodGet, "/debug/about", nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"version":"test","commit":"deadbeef","build":"today"}`, w.Body.String())
}

func (a *apiSuite) TestQuery() {
	t := a.T()

	body, err := json.Marshal(QueryRequest{
		Table:  tTableName,
		Format: wire.FormatJSON,
		Query:  "select count(*) from hits",
	})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.True(t, resp.Complete)
	assert.Equal(t, wire.FormatJSON, resp.Format)
	assert.JSONEq(t, `{"totalDocs":100,"aggregations":{}}`, string(resp.Result))
	assert.Equal(t, 1, resp.Stats.Queried)
}

func (a *apiSuite) TestQueryUnknownTable() {
	t := a.T()

	body, err := json.Marshal(QueryRequest{Table: "missing", Query: "select 1"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "unknown table", w.Body.String())
}

func (a *apiSuite) TestQueryMalformedBody() {
	t := a.T()

	r := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader([]byte("not-json")))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func (a *apiSuite) TestQueryMissingTable() {
	t := a.T()

	r := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader([]byte(`{"query":"select 1"}`)))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, msgInvalidParams, w.Body.String())
}

func (a *apiSuite) TestTablesList() {
	t := a.T()

	r := httptest.NewRequest(http.MethodGet, "/api/v0/tables", nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"name":"hits","segments_count":1,"endpoints_count":1}]`, w.Body.String())
}

func (a *apiSuite) TestRoutingSnapshot() {
	t := a.T()

	r := httptest.NewRequest(http.MethodGet, "/api/v0/routing", nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var snapshot struct {
		Epoch  uint64                     `json:"epoch"`
		Tables map[string]json.RawMessage `json:"tables"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, uint64(1), snapshot.Epoch)
	assert.Contains(t, snapshot.Tables, tTableName)
}

func (a *apiSuite) TestEndpoints() {
	t := a.T()

	r := httptest.NewRequest(http.MethodGet, "/api/v0/endpoints", nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var endpoints []api.EndpointInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &endpoints))
	require.Len(t, endpoints, 1)
}

func (a *apiSuite) TestExecutions() {
	t := a.T()

	r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v0/executions/%s", tTableName), nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var executions []json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &executions))
	assert.NotEmpty(t, executions)
}

func (a *apiSuite) TestExecution() {
	t := a.T()

	r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v0/execution/%s", a.queryID), nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var exec struct {
		ID    string `json:"id"`
		Table string `json:"table"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exec))
	assert.Equal(t, a.queryID, exec.ID)
	assert.Equal(t, tTableName, exec.Table)
}

func (a *apiSuite) TestExecutionNotFound() {
	t := a.T()

	r := httptest.NewRequest(http.MethodGet, "/api/v0/execution/q-missing", nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "execution not found", w.Body.String())
}

func TestHealthHandler_NotRunning(t *testing.T) {
	handler := HealthHandler(func() broker.State {
		return broker.StateInit
	})

	r := httptest.NewRequest(http.MethodGet, "/debug/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"state":"init"}`, w.Body.String())
}
