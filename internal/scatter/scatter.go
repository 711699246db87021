// Package scatter fans a planned query out to its endpoints and
// gathers the per-endpoint outcomes under a single deadline. Endpoint
// failures are recorded in the gather result, never retried and never
// returned as executor errors.
package scatter

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/skatterlabs/skatter/internal/metrics"
	"github.com/skatterlabs/skatter/internal/query"
	"github.com/skatterlabs/skatter/internal/transport"
	"github.com/skatterlabs/skatter/pkg/wire"
)

// Executor runs scatter plans over a shared connection pool.
type Executor interface {
	Execute(ctx context.Context, plan query.ScatterPlan, format wire.Format, payload []byte) query.GatherResult
}

type Options struct {
	// Timeout bounds the whole scatter round trip. Endpoints that did
	// not answer within it are reported as failed partials.
	Timeout time.Duration

	// CheckoutTimeout bounds the wait for a pooled connection. It is
	// clamped to the time left until the query deadline.
	CheckoutTimeout time.Duration
}

type executor struct {
	pool   *transport.Pool
	opts   Options
	logger zerolog.Logger
}

func NewExecutor(pool *transport.Pool, opts Options, logger zerolog.Logger) Executor {
	return &executor{
		pool:   pool,
		opts:   opts,
		logger: logger.With().Str("component", "scatter").Logger(),
	}
}

type callOutcome struct {
	endpoint transport.Endpoint
	partial  query.PartialResult
}

// Execute contacts every assignment of the plan concurrently and
// collects the results until all endpoints answered or the deadline
// passed. Calls still in flight at the deadline keep their borrowed
// connections until they finish; their results are dropped.
func (e *executor) Execute(ctx context.Context, plan query.ScatterPlan, format wire.Format, payload []byte) query.GatherResult {
	started := time.Now()
	gather := query.GatherResult{
		Partials: make(map[transport.Endpoint]query.PartialResult, len(plan.Assignments)),
	}

	if len(plan.Assignments) == 0 {
		gather.Elapsed = time.Since(started)
		return gather
	}

	execCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	outcomes := make(chan callOutcome, len(plan.Assignments))
	for _, assignment := range plan.Assignments {
		go e.call(execCtx, plan, assignment, format, payload, outcomes)
	}

	pending := len(plan.Assignments)
	for pending > 0 {
		select {
		case outcome := <-outcomes:
			gather.Partials[outcome.endpoint] = outcome.partial
			pending--
		case <-execCtx.Done():
			for _, assignment := range plan.Assignments {
				if _, answered := gather.Partials[assignment.Endpoint]; !answered {
					gather.Partials[assignment.Endpoint] = query.PartialResult{
						Err:     execCtx.Err(),
						Elapsed: time.Since(started),
					}
				}
			}
			pending = 0
		}
	}

	gather.Elapsed = time.Since(started)

	return gather
}

func (e *executor) call(ctx context.Context, plan query.ScatterPlan, assignment query.Assignment, format wire.Format, payload []byte, outcomes chan<- callOutcome) {
	started := time.Now()
	txn := metrics.StartScatterCall(assignment.Endpoint.String())
	defer txn.End()

	partial := e.callEndpoint(ctx, plan, assignment, format, payload)
	partial.Elapsed = time.Since(started)
	if partial.Failed() {
		metrics.NewFailedScatterCall(assignment.Endpoint.String(), failReason(partial.Err))
		e.logger.Warn().
			Err(partial.Err).
			Str("query", plan.ID).
			Msgf("Call to %s failed", assignment.Endpoint)
	}

	outcomes <- callOutcome{endpoint: assignment.Endpoint, partial: partial}
}

func (e *executor) callEndpoint(ctx context.Context, plan query.ScatterPlan, assignment query.Assignment, format wire.Format, payload []byte) query.PartialResult {
	conn, err := e.pool.Acquire(ctx, assignment.Endpoint, e.checkoutTimeout(ctx))
	if err != nil {
		return query.PartialResult{Err: err}
	}
	defer e.pool.Release(conn)

	req := &wire.Request{
		Table:    plan.Table,
		Segments: assignment.Segments,
		Format:   format,
		Payload:  payload,
	}

	resp, err := conn.Call(ctx, req)
	if err != nil {
		return query.PartialResult{Err: err}
	}
	if resp.Error != "" {
		return query.PartialResult{Err: errors.New(resp.Error)}
	}

	return query.PartialResult{
		Format:  resp.Format,
		Payload: resp.Payload,
	}
}

func (e *executor) checkoutTimeout(ctx context.Context) time.Duration {
	timeout := e.opts.CheckoutTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	return timeout
}

func failReason(err error) string {
	switch {
	case errors.Is(err, transport.ErrPoolBusy):
		return "busy"
	case errors.Is(err, transport.ErrCheckoutExpired):
		return "checkout"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	default:
		return "call"
	}
}
