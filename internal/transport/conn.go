package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/skatterlabs/skatter/pkg/wire"
)

var (
	ErrConnBroken = errors.New("transport: connection is broken")
)

type connState int

const (
	stateIdle connState = iota
	stateInUse
	stateDraining
	stateClosed
)

// ConnOptions are shared dial/call settings applied to every
// connection the pool creates.
type ConnOptions struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Conn is a single framed connection to a backend node. It is owned by
// the pool and borrowed by exactly one caller at a time; Call must never
// be invoked concurrently.
type Conn struct {
	endpoint Endpoint
	nc       net.Conn

	nextID uint64
	broken bool

	// state and idleSince are guarded by the owning pool's mutex.
	state     connState
	idleSince time.Time
}

func dialConn(endpoint Endpoint, opts ConnOptions) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", endpoint.String(), opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	return &Conn{
		endpoint: endpoint,
		nc:       nc,
		state:    stateIdle,
	}, nil
}

func (c *Conn) Endpoint() Endpoint {
	return c.endpoint
}

// Broken reports whether the connection hit an I/O error and must not
// be returned to the idle set.
func (c *Conn) Broken() bool {
	return c.broken
}

// Call sends one request and waits for the paired response. The network
// deadline is taken from ctx, so a call issued close to the query
// deadline gets proportionally less time. Any transport error poisons
// the connection: the pool closes it on release.
func (c *Conn) Call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if c.broken {
		return nil, ErrConnBroken
	}

	c.nextID++
	req.ID = c.nextID

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.nc.SetDeadline(deadline); err != nil {
		c.broken = true
		return nil, err
	}

	if err := wire.WriteFrame(c.nc, req); err != nil {
		c.broken = true
		return nil, err
	}

	for {
		var resp wire.Response
		if err := wire.ReadFrame(c.nc, &resp); err != nil {
			c.broken = true
			return nil, err
		}

		if resp.ID == req.ID {
			return &resp, nil
		}
		if resp.ID > req.ID {
			c.broken = true
			return nil, fmt.Errorf("transport: response id %d ahead of request id %d", resp.ID, req.ID)
		}
		// Response left over from an abandoned call, skip it.
	}
}

func (c *Conn) close() {
	_ = c.nc.Close()
}
