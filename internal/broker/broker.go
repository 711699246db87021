// Package broker ties the pieces together: it resolves a query to a
// scatter plan, executes it, reduces the partials and serves the
// merged answer, consulting the result cache on the way.
package broker

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skatterlabs/skatter/internal/cache"
	"github.com/skatterlabs/skatter/internal/config"
	"github.com/skatterlabs/skatter/internal/metrics"
	"github.com/skatterlabs/skatter/internal/query"
	"github.com/skatterlabs/skatter/internal/reduce"
	"github.com/skatterlabs/skatter/internal/routing"
	"github.com/skatterlabs/skatter/internal/scatter"
	"github.com/skatterlabs/skatter/internal/storage"
	"github.com/skatterlabs/skatter/internal/storage/sqlite"
	"github.com/skatterlabs/skatter/internal/transport"
	"github.com/skatterlabs/skatter/internal/util"
	"github.com/skatterlabs/skatter/pkg/wire"
)

var (
	ErrAlreadyStarted = errors.New("broker: already started")
	ErrNotRunning     = errors.New("broker: not running")
	ErrQueryFailed    = errors.New("broker: query failed on every planned endpoint")
)

// Request is one client query as accepted by the broker.
type Request struct {
	Table   string
	Format  wire.Format
	Payload []byte
}

// Result is the answer to one query, with its execution metadata.
type Result struct {
	ID     string
	Cached bool

	query.ReducedResult
}

type Broker interface {
	// Start brings the components up: pool first, then routing. The
	// broker accepts queries only after Start returned nil.
	Start() error

	// Stop tears the components down in start order and ends in the
	// terminal state. It is safe to call more than once.
	Stop()

	State() State

	Execute(ctx context.Context, req Request) (Result, error)

	// Pool and Routing expose the live components for diagnostics.
	Pool() *transport.Pool
	Routing() routing.Table
	Storage() storage.Storage
}

type broker struct {
	cfg *config.Config

	pool     *transport.Pool
	table    routing.Table
	executor scatter.Executor
	reducers *reduce.Registry
	cache    cache.Cache
	db       storage.Storage

	state  int32
	logger zerolog.Logger
}

func New(cfg *config.Config, logger zerolog.Logger) (Broker, error) {
	pool := transport.NewPool(
		transport.ConnOptions{
			ConnectTimeout: *cfg.Transport.ConnectTimeout,
			RequestTimeout: *cfg.Transport.RequestTimeout,
		},
		poolConfig(cfg.Pool),
		poolOverrides(cfg.Pool.Overrides),
		logger,
	)

	table, err := routing.New(cfg.Routing, routing.Options{
		OnEndpointGone: func(endpoint transport.Endpoint) {
			pool.Drain(endpoint)
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	resultCache, err := cache.New(cfg.Cache, logger)
	if err != nil {
		// A dead cache backend must not keep the broker down.
		logger.Warn().Err(err).Msg("Result cache is unavailable, starting without it")
		resultCache = cache.NewNoop()
	}

	var db storage.Storage = storage.MockedStorage{}
	if cfg.Storage.Filename != "" {
		db, err = sqlite.New(sqlite.Config{
			FileName:       cfg.Storage.Filename,
			ConnectTimeout: cfg.Storage.ConnectTimeout,
			QueryTimeout:   cfg.Storage.QueryTimeout,
		})
		if err != nil {
			return nil, err
		}
	}

	return &broker{
		cfg:      cfg,
		pool:     pool,
		table:    table,
		executor: scatter.NewExecutor(pool, scatter.Options{
			Timeout:         cfg.Broker.Timeout,
			CheckoutTimeout: *cfg.Transport.RequestTimeout,
		}, logger),
		reducers: reduce.NewDefaultRegistry(),
		cache:    resultCache,
		db:       db,
		logger:   logger.With().Str("component", "broker").Logger(),
	}, nil
}

func (b *broker) Start() error {
	if !b.cas(StateInit, StateStarting) {
		return ErrAlreadyStarted
	}

	b.pool.Start()
	if err := b.table.Start(); err != nil {
		b.setState(StateShuttingDown)
		b.pool.Shutdown()
		b.setState(StateShutdown)
		return err
	}

	b.setState(StateRunning)
	b.logger.Info().Msg("Broker is running")

	return nil
}

func (b *broker) Stop() {
	if !b.cas(StateRunning, StateShuttingDown) && !b.cas(StateStarting, StateShuttingDown) {
		return
	}

	b.pool.Shutdown()
	b.table.Shutdown()
	b.cache.Shutdown()
	if err := b.db.Close(); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to close execution history")
	}

	b.setState(StateShutdown)
	b.logger.Info().Msg("Broker is shut down")
}

func (b *broker) State() State {
	return State(atomic.LoadInt32(&b.state))
}

func (b *broker) Pool() *transport.Pool {
	return b.pool
}

func (b *broker) Routing() routing.Table {
	return b.table
}

func (b *broker) Storage() storage.Storage {
	return b.db
}

func (b *broker) Execute(ctx context.Context, req Request) (Result, error) {
	if b.State() != StateRunning {
		return Result{}, ErrNotRunning
	}

	txn := metrics.StartQuery(req.Table)
	defer txn.End()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Broker.Timeout)
	defer cancel()

	plan, err := b.table.Resolve(req.Table)
	if err != nil {
		metrics.NewFailedQuery(req.Table)
		return Result{}, err
	}
	plan.ID = uuid.New().String()

	fingerprint, err := query.Fingerprint(req.Table, req.Payload, req.Format, plan.Epoch)
	if err != nil {
		return Result{}, err
	}

	if cached, ok := b.cache.Get(ctx, fingerprint); ok {
		result := Result{ID: plan.ID, Cached: true, ReducedResult: cached}
		b.saveExecution(plan, result)
		return result, nil
	}

	gather := b.executor.Execute(ctx, plan, req.Format, req.Payload)
	if !anySucceeded(gather) {
		metrics.NewFailedQuery(req.Table)
		return Result{}, ErrQueryFailed
	}

	reduced, err := b.reducers.Select(req.Format).Reduce(gather)
	if err != nil {
		metrics.NewFailedQuery(req.Table)
		return Result{}, err
	}

	// Only complete answers are worth caching: a partial one would
	// keep serving the gap until the entry expires.
	if gather.Complete() {
		b.cache.Put(ctx, fingerprint, reduced)
	}

	result := Result{ID: plan.ID, ReducedResult: reduced}
	b.saveExecution(plan, result)

	return result, nil
}

func (b *broker) saveExecution(plan query.ScatterPlan, result Result) {
	err := b.db.SaveExecution(context.Background(), storage.Execution{
		ID:        plan.ID,
		Table:     plan.Table,
		Format:    result.Format,
		Cached:    result.Cached,
		Complete:  result.Stats.Failed == 0,
		Stats:     result.Stats,
		CreatedAt: util.Timestamp(),
	})
	if err != nil {
		b.logger.Warn().Err(err).Str("query", plan.ID).Msg("Failed to record execution")
	}
}

func (b *broker) cas(from, to State) bool {
	return atomic.CompareAndSwapInt32(&b.state, int32(from), int32(to))
}

func (b *broker) setState(s State) {
	atomic.StoreInt32(&b.state, int32(s))
}

func anySucceeded(gather query.GatherResult) bool {
	for _, partial := range gather.Partials {
		if !partial.Failed() {
			return true
		}
	}

	return false
}

func poolConfig(cfg config.Pool) transport.PoolConfig {
	return transport.PoolConfig{
		MinConnections: *cfg.MinConnectionsPerServer,
		MaxConnections: *cfg.MaxConnectionsPerServer,
		IdleTimeout:    *cfg.IdleTimeout,
		MaxBacklog:     *cfg.MaxBacklogPerServer,
	}
}

func poolOverrides(overrides map[string]config.Pool) map[string]transport.PoolConfig {
	if len(overrides) == 0 {
		return nil
	}

	resolved := make(map[string]transport.PoolConfig, len(overrides))
	for addr, cfg := range overrides {
		resolved[addr] = poolConfig(cfg)
	}

	return resolved
}
