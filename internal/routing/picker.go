package routing

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/skatterlabs/skatter/internal/transport"
)

type PickMode string

const (
	PickModeRandom     PickMode = "random"
	PickModeRoundRobin PickMode = "round_robin"
)

// Picker selects which replica of a segment serves a query. All
// replicas hold the same data, so the choice is purely about load
// spreading.
type Picker interface {
	// Pick selects one endpoint out of a non-empty replica list.
	Pick(replicas []transport.Endpoint) transport.Endpoint
	// Mode returns the picker type.
	Mode() PickMode
}

func NewPicker(m PickMode) Picker {
	switch m {
	case PickModeRandom, "":
		return newRandomPicker()
	case PickModeRoundRobin:
		return newRoundRobinPicker()
	}

	panic(fmt.Sprintf("Picker: got unknown mode %s", m))
}

type randomPicker struct{}

func newRandomPicker() *randomPicker {
	return &randomPicker{}
}

func (p *randomPicker) Pick(replicas []transport.Endpoint) transport.Endpoint {
	return replicas[rand.Intn(len(replicas))]
}

func (p *randomPicker) Mode() PickMode {
	return PickModeRandom
}

// roundRobinPicker cycles through replicas with a single shared
// counter. Replica lists are sorted by address, so the cycle is stable
// between routing rebuilds of the same membership.
type roundRobinPicker struct {
	counter uint64
}

func newRoundRobinPicker() *roundRobinPicker {
	return &roundRobinPicker{}
}

func (p *roundRobinPicker) Pick(replicas []transport.Endpoint) transport.Endpoint {
	n := atomic.AddUint64(&p.counter, 1)

	return replicas[(n-1)%uint64(len(replicas))]
}

func (p *roundRobinPicker) Mode() PickMode {
	return PickModeRoundRobin
}
