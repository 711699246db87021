package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skatterlabs/skatter/internal/metrics"
)

var (
	ErrPoolBusy        = errors.New("transport: pool backlog is full")
	ErrCheckoutExpired = errors.New("transport: connection checkout timed out")
	ErrPoolClosed      = errors.New("transport: pool is shut down")
)

const reapPeriod = 1 * time.Second

// PoolConfig bounds a single endpoint's connection usage.
type PoolConfig struct {
	MinConnections int
	MaxConnections int
	IdleTimeout    time.Duration
	MaxBacklog     int
}

// Pool is a keyed pool of framed connections, one sub-pool per
// endpoint. Sub-pools are created lazily on first acquire and torn
// down on Drain or Shutdown.
type Pool struct {
	opts      ConnOptions
	defaults  PoolConfig
	overrides map[string]PoolConfig

	mu      sync.Mutex
	entries map[Endpoint]*poolEntry
	started bool
	closed  bool
	stop    chan struct{}

	logger zerolog.Logger
}

type poolEntry struct {
	cfg      PoolConfig
	idle     []*Conn
	inUse    map[*Conn]struct{}
	dialing  int
	backlog  []*waiter
	draining bool
}

// waiter receives a connection from a release, or nil when the
// sub-pool goes away while the caller is still queued.
type waiter struct {
	ch chan *Conn
}

func NewPool(opts ConnOptions, defaults PoolConfig, overrides map[string]PoolConfig, logger zerolog.Logger) *Pool {
	return &Pool{
		opts:      opts,
		defaults:  defaults,
		overrides: overrides,
		entries:   make(map[Endpoint]*poolEntry),
		stop:      make(chan struct{}),
		logger:    logger.With().Str("component", "pool").Logger(),
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true

	go p.reapLoop()
}

// Acquire checks out a connection to the endpoint. An idle connection
// is reused, a new one is dialed while under MaxConnections, otherwise
// the caller queues up to MaxBacklog waiters and fails fast with
// ErrPoolBusy beyond that. A queued caller not served within timeout
// fails with ErrCheckoutExpired.
func (p *Pool) Acquire(ctx context.Context, endpoint Endpoint, timeout time.Duration) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	e := p.entry(endpoint)
	if e.draining {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(e.idle); n > 0 {
		conn := e.idle[n-1]
		e.idle = e.idle[:n-1]
		conn.state = stateInUse
		e.inUse[conn] = struct{}{}
		p.publishGauges(endpoint, e)
		p.mu.Unlock()
		return conn, nil
	}

	if len(e.inUse)+e.dialing < e.cfg.MaxConnections {
		e.dialing++
		p.mu.Unlock()
		return p.dial(endpoint)
	}

	if len(e.backlog) >= e.cfg.MaxBacklog {
		p.mu.Unlock()
		metrics.NewFailedCheckout(endpoint.String(), "busy")
		return nil, ErrPoolBusy
	}

	w := &waiter{ch: make(chan *Conn, 1)}
	e.backlog = append(e.backlog, w)
	metrics.SetPoolBacklog(endpoint.String(), len(e.backlog))
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case conn := <-w.ch:
		if conn == nil {
			return nil, ErrPoolClosed
		}
		return conn, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	p.mu.Lock()
	removed := removeWaiter(e, w)
	metrics.SetPoolBacklog(endpoint.String(), len(e.backlog))
	p.mu.Unlock()

	if !removed {
		// A release won the race: the connection is already in the
		// buffered channel (or the channel is closed).
		if conn := <-w.ch; conn != nil {
			return conn, nil
		}
		return nil, ErrPoolClosed
	}

	metrics.NewFailedCheckout(endpoint.String(), "timeout")
	return nil, ErrCheckoutExpired
}

// Release returns a borrowed connection. Broken connections and
// connections of draining sub-pools are closed instead of reused.
// Releasing a connection twice is a no-op.
func (p *Pool) Release(conn *Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	e, ok := p.entries[conn.endpoint]
	if !ok {
		p.mu.Unlock()
		conn.close()
		return
	}
	if _, held := e.inUse[conn]; !held {
		p.mu.Unlock()
		return
	}
	delete(e.inUse, conn)

	if p.closed || e.draining || conn.Broken() {
		conn.state = stateClosed
		p.maybeDropEntry(conn.endpoint, e)
		p.publishGauges(conn.endpoint, e)
		p.mu.Unlock()
		conn.close()
		return
	}

	if len(e.backlog) > 0 {
		w := e.backlog[0]
		e.backlog = e.backlog[1:]
		e.inUse[conn] = struct{}{}
		conn.state = stateInUse
		w.ch <- conn
		metrics.SetPoolBacklog(conn.endpoint.String(), len(e.backlog))
		p.publishGauges(conn.endpoint, e)
		p.mu.Unlock()
		return
	}

	conn.state = stateIdle
	conn.idleSince = time.Now()
	e.idle = append(e.idle, conn)
	p.publishGauges(conn.endpoint, e)
	p.mu.Unlock()
}

// Drain marks the endpoint's sub-pool as going away: idle connections
// are closed now, in-use connections on release, queued callers fail.
func (p *Pool) Drain(endpoint Endpoint) {
	p.mu.Lock()
	e, ok := p.entries[endpoint]
	if !ok {
		p.mu.Unlock()
		return
	}

	e.draining = true
	idle := e.idle
	e.idle = nil
	backlog := e.backlog
	e.backlog = nil
	for _, conn := range idle {
		conn.state = stateClosed
	}
	p.maybeDropEntry(endpoint, e)
	p.publishGauges(endpoint, e)
	p.mu.Unlock()

	for _, conn := range idle {
		conn.close()
	}
	for _, w := range backlog {
		close(w.ch)
	}

	p.logger.Info().Msgf("Draining connections to %s", endpoint)
}

// Shutdown closes every connection, idle and in-use, and stops the
// reaper. It is idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.started {
		close(p.stop)
	}

	var conns []*Conn
	var waiters []*waiter
	for endpoint, e := range p.entries {
		conns = append(conns, e.idle...)
		for conn := range e.inUse {
			conns = append(conns, conn)
		}
		waiters = append(waiters, e.backlog...)
		e.idle = nil
		e.inUse = make(map[*Conn]struct{})
		e.backlog = nil
		metrics.SetPoolConnections(endpoint.String(), 0, 0)
		metrics.SetPoolBacklog(endpoint.String(), 0)
	}
	p.entries = make(map[Endpoint]*poolEntry)
	p.mu.Unlock()

	for _, conn := range conns {
		conn.state = stateClosed
		conn.close()
	}
	for _, w := range waiters {
		close(w.ch)
	}

	p.logger.Info().Msg("Connection pool is shut down")
}

// Stats reports the endpoint's idle, in-use and backlog sizes.
func (p *Pool) Stats(endpoint Endpoint) (idle, used, backlog int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[endpoint]
	if !ok {
		return 0, 0, 0
	}

	return len(e.idle), len(e.inUse) + e.dialing, len(e.backlog)
}

// Live reports the total number of open connections across endpoints.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, e := range p.entries {
		total += len(e.idle) + len(e.inUse) + e.dialing
	}

	return total
}

func (p *Pool) entry(endpoint Endpoint) *poolEntry {
	e, ok := p.entries[endpoint]
	if !ok {
		e = &poolEntry{
			cfg:   p.configFor(endpoint),
			inUse: make(map[*Conn]struct{}),
		}
		p.entries[endpoint] = e
	}

	return e
}

func (p *Pool) configFor(endpoint Endpoint) PoolConfig {
	if cfg, ok := p.overrides[endpoint.String()]; ok {
		return cfg
	}

	return p.defaults
}

func (p *Pool) dial(endpoint Endpoint) (*Conn, error) {
	conn, err := dialConn(endpoint, p.opts)

	p.mu.Lock()
	e, ok := p.entries[endpoint]
	if ok {
		e.dialing--
	}
	if err != nil {
		p.mu.Unlock()
		metrics.NewFailedCheckout(endpoint.String(), "dial")
		return nil, err
	}
	if !ok || p.closed || e.draining {
		p.mu.Unlock()
		conn.close()
		return nil, ErrPoolClosed
	}

	conn.state = stateInUse
	e.inUse[conn] = struct{}{}
	p.publishGauges(endpoint, e)
	p.mu.Unlock()

	return conn, nil
}

func (p *Pool) reapLoop() {
	tick := time.NewTicker(reapPeriod)
	defer tick.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-tick.C:
			p.reap()
		}
	}
}

// reap evicts idle connections older than the endpoint's IdleTimeout,
// never below MinConnections, and dials the pool back up to
// MinConnections when it dropped under the floor.
func (p *Pool) reap() {
	now := time.Now()

	p.mu.Lock()
	var toClose []*Conn
	type warmup struct {
		endpoint Endpoint
		count    int
	}
	var warmups []warmup

	for endpoint, e := range p.entries {
		if e.draining {
			continue
		}

		kept := e.idle[:0]
		for i, conn := range e.idle {
			// Connections surviving the scan so far plus the ones not
			// inspected yet; evicting must not drop below MinConnections.
			left := len(kept) + (len(e.idle) - i - 1) + len(e.inUse) + e.dialing
			expired := e.cfg.IdleTimeout > 0 && now.Sub(conn.idleSince) > e.cfg.IdleTimeout
			if expired && left >= e.cfg.MinConnections {
				conn.state = stateClosed
				toClose = append(toClose, conn)
				continue
			}
			kept = append(kept, conn)
		}
		e.idle = kept

		missing := e.cfg.MinConnections - (len(e.idle) + len(e.inUse) + e.dialing)
		if missing > 0 {
			e.dialing += missing
			warmups = append(warmups, warmup{endpoint: endpoint, count: missing})
		}
		p.publishGauges(endpoint, e)
	}
	p.mu.Unlock()

	for _, conn := range toClose {
		conn.close()
	}
	for _, wu := range warmups {
		for i := 0; i < wu.count; i++ {
			go p.warmDial(wu.endpoint)
		}
	}
}

func (p *Pool) warmDial(endpoint Endpoint) {
	conn, err := dialConn(endpoint, p.opts)

	p.mu.Lock()
	e, ok := p.entries[endpoint]
	if ok {
		e.dialing--
	}
	if err != nil {
		p.mu.Unlock()
		p.logger.Debug().Err(err).Msgf("Failed to warm up connection to %s", endpoint)
		return
	}
	if !ok || p.closed || e.draining {
		p.mu.Unlock()
		conn.close()
		return
	}

	if len(e.backlog) > 0 {
		w := e.backlog[0]
		e.backlog = e.backlog[1:]
		conn.state = stateInUse
		e.inUse[conn] = struct{}{}
		w.ch <- conn
	} else {
		conn.state = stateIdle
		conn.idleSince = time.Now()
		e.idle = append(e.idle, conn)
	}
	p.publishGauges(endpoint, e)
	p.mu.Unlock()
}

func (p *Pool) maybeDropEntry(endpoint Endpoint, e *poolEntry) {
	if e.draining && len(e.idle) == 0 && len(e.inUse) == 0 && e.dialing == 0 && len(e.backlog) == 0 {
		delete(p.entries, endpoint)
	}
}

func (p *Pool) publishGauges(endpoint Endpoint, e *poolEntry) {
	metrics.SetPoolConnections(endpoint.String(), len(e.idle), len(e.inUse)+e.dialing)
}

func removeWaiter(e *poolEntry, w *waiter) bool {
	for i, queued := range e.backlog {
		if queued == w {
			e.backlog = append(e.backlog[:i], e.backlog[i+1:]...)
			return true
		}
	}

	return false
}
