// Package api exposes broker state to the HTTP surface: routing
// diagnostics, pool statistics and query execution history.
package api

import (
	"context"
	"errors"
	"sort"

	"github.com/skatterlabs/skatter/internal/routing"
	"github.com/skatterlabs/skatter/internal/storage"
	"github.com/skatterlabs/skatter/internal/storage/sqlite"
	"github.com/skatterlabs/skatter/internal/transport"
)

var (
	ErrEmptyResult = errors.New("empty result")
)

type Service interface {
	TablesList(context.Context) ([]TableInfo, error)
	RoutingSnapshot(context.Context) (routing.Snapshot, error)
	Endpoints(context.Context) ([]EndpointInfo, error)
	Executions(context.Context, string, int) ([]storage.Execution, error)
	Execution(context.Context, string) (storage.Execution, error)
}

func NewService(db storage.Storage, table routing.Table, pool *transport.Pool) Service {
	return &service{
		db:    db,
		table: table,
		pool:  pool,
	}
}

type service struct {
	db    storage.Storage
	table routing.Table
	pool  *transport.Pool
}

func (s *service) TablesList(_ context.Context) ([]TableInfo, error) {
	snapshot := s.table.Snapshot()

	resp := make([]TableInfo, 0, len(snapshot.Tables))
	for name, segments := range snapshot.Tables {
		endpoints := make(map[transport.Endpoint]struct{})
		for _, assignment := range segments {
			for _, endpoint := range assignment.Endpoints {
				endpoints[endpoint] = struct{}{}
			}
		}

		resp = append(resp, TableInfo{
			Name:           name,
			SegmentsCount:  len(segments),
			EndpointsCount: len(endpoints),
		})
	}
	sort.Slice(resp, func(i, j int) bool {
		return resp[i].Name < resp[j].Name
	})

	return resp, nil
}

func (s *service) RoutingSnapshot(_ context.Context) (routing.Snapshot, error) {
	return s.table.Snapshot(), nil
}

func (s *service) Endpoints(_ context.Context) ([]EndpointInfo, error) {
	snapshot := s.table.Snapshot()

	seen := make(map[transport.Endpoint]struct{})
	for _, segments := range snapshot.Tables {
		for _, assignment := range segments {
			for _, endpoint := range assignment.Endpoints {
				seen[endpoint] = struct{}{}
			}
		}
	}

	resp := make([]EndpointInfo, 0, len(seen))
	for endpoint := range seen {
		idle, used, backlog := s.pool.Stats(endpoint)
		resp = append(resp, EndpointInfo{
			Addr:    endpoint.String(),
			Idle:    idle,
			Used:    used,
			Backlog: backlog,
		})
	}
	sort.Slice(resp, func(i, j int) bool {
		return resp[i].Addr < resp[j].Addr
	})

	return resp, nil
}

func (s *service) Executions(ctx context.Context, table string, limit int) ([]storage.Execution, error) {
	return s.db.GetExecutions(ctx, table, limit)
}

func (s *service) Execution(ctx context.Context, queryID string) (storage.Execution, error) {
	exec, err := s.db.GetExecution(ctx, queryID)
	if err == sqlite.ErrEmptyResult {
		return storage.Execution{}, ErrEmptyResult
	}

	return exec, err
}
