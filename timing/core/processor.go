// Package core provides the per-processor model. Each processor consumes
// its instruction trace, drives its private cache, and posts coherence
// requests to the shared bus.
package core

import (
	"fmt"

	"github.com/sarchlab/snoopsim/timing/bus"
	"github.com/sarchlab/snoopsim/timing/cache"
	"github.com/sarchlab/snoopsim/timing/coherence"
	"github.com/sarchlab/snoopsim/trace"
)

// State is the processor's execution state.
type State int

const (
	// Ready means the next trace entry can be consumed.
	Ready State = iota
	// Computing means a burst of non-memory instructions is running.
	Computing
	// WaitingForCache means a cache tag access is in flight.
	WaitingForCache
	// WaitingForBus means a bus transaction for the current access is
	// outstanding.
	WaitingForBus
	// Done means the trace is exhausted.
	Done
)

// String returns a short name for the state.
func (s State) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Computing:
		return "Computing"
	case WaitingForCache:
		return "WaitingForCache"
	case WaitingForBus:
		return "WaitingForBus"
	case Done:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats holds one processor's execution statistics. All counters are
// non-decreasing.
type Stats struct {
	// ComputeCycles is the number of cycles spent in compute bursts.
	ComputeCycles uint64
	// Loads is the number of load instructions issued.
	Loads uint64
	// Stores is the number of store instructions issued.
	Stores uint64
	// IdleCycles is the number of cycles spent waiting on the memory
	// system.
	IdleCycles uint64
	// Misses is the number of accesses classified as cache misses.
	Misses uint64
	// PrivateAccesses counts accesses whose block no other cache held.
	PrivateAccesses uint64
	// PublicAccesses counts accesses whose block some other cache held.
	PublicAccesses uint64
}

// MissRate returns misses over issued loads and stores.
func (s Stats) MissRate() float64 {
	accesses := s.Loads + s.Stores
	if accesses == 0 {
		return 0
	}
	return float64(s.Misses) / float64(accesses)
}

// Processor consumes one trace and drives one private cache. At most one
// memory operation is in flight per processor.
type Processor struct {
	id       int
	cache    *cache.Cache
	bus      *bus.Bus
	protocol coherence.Protocol
	trace    []trace.Entry

	pos         int
	state       State
	computeLeft uint64

	curAddr    uint64
	curIsWrite bool

	stats Stats
}

// New creates a processor with its private cache and a connection to the
// shared bus.
func New(
	id int,
	c *cache.Cache,
	b *bus.Bus,
	protocol coherence.Protocol,
	entries []trace.Entry,
) *Processor {
	return &Processor{
		id:       id,
		cache:    c,
		bus:      b,
		protocol: protocol,
		trace:    entries,
	}
}

// ID returns the processor id.
func (p *Processor) ID() int {
	return p.id
}

// State returns the current execution state.
func (p *Processor) State() State {
	return p.state
}

// Stats returns the processor's execution statistics.
func (p *Processor) Stats() Stats {
	return p.stats
}

// Cache returns the processor's private cache.
func (p *Processor) Cache() *cache.Cache {
	return p.cache
}

// Done reports whether the trace is exhausted and all work committed.
func (p *Processor) Done() bool {
	return p.state == Done
}

// Step runs one cycle of the processor: at most one state transition plus
// a trace-consumption decision. Exactly one of compute or idle is credited
// for cycles spent computing or waiting; issue and commit cycles are
// credited to neither.
func (p *Processor) Step() {
	switch p.state {
	case Done:
	case Ready:
		p.consume()
	case Computing:
		p.stats.ComputeCycles++
		p.computeLeft--
		if p.computeLeft == 0 {
			p.state = Ready
		}
	case WaitingForCache:
		p.waitForCache()
	case WaitingForBus:
		p.waitForBus()
	}
}

// consume takes the next trace entry and acts on it.
func (p *Processor) consume() {
	if p.pos >= len(p.trace) {
		p.state = Done
		return
	}

	entry := p.trace[p.pos]
	p.pos++

	switch entry.Op {
	case trace.OpOther:
		if entry.Cycles == 0 {
			return
		}
		// The consuming cycle is the burst's first compute cycle.
		p.stats.ComputeCycles++
		p.computeLeft = entry.Cycles - 1
		if p.computeLeft > 0 {
			p.state = Computing
		}
	case trace.OpLoad:
		p.stats.Loads++
		p.begin(entry.Addr, false)
	case trace.OpStore:
		p.stats.Stores++
		p.begin(entry.Addr, true)
	}
}

func (p *Processor) begin(addr uint64, isWrite bool) {
	p.curAddr = addr
	p.curIsWrite = isWrite
	if isWrite {
		p.cache.IssueWrite(addr)
	} else {
		p.cache.IssueRead(addr)
	}
	p.state = WaitingForCache
}

// waitForCache acts on the hit/miss classification once the tag access
// has elapsed.
func (p *Processor) waitForCache() {
	hit, ok := p.cache.HitPending()
	if !ok {
		p.stats.IdleCycles++
		return
	}

	if hit && p.cache.State(p.curAddr) == coherence.Invalid {
		// A peer invalidated the block between issue and classification;
		// the access is a miss now.
		hit = false
	}

	if !hit {
		p.stats.Misses++
		kind := bus.ReadMiss
		if p.curIsWrite {
			kind = bus.WriteMiss
		}
		p.post(kind)
		return
	}

	if p.curIsWrite && p.protocol.StoreNeedsBus(p.cache.State(p.curAddr)) {
		p.post(bus.WriteHit)
		return
	}

	p.commitLocal()
}

func (p *Processor) post(kind bus.RequestKind) {
	p.bus.Post(bus.Request{Requestor: p.id, Addr: p.curAddr, Kind: kind})
	p.state = WaitingForBus
	p.stats.IdleCycles++
}

// waitForBus commits the original access once the bus has delivered the
// block, crediting an idle cycle otherwise.
func (p *Processor) waitForBus() {
	delivery, ok := p.bus.TakeDelivery(p.id)
	if !ok {
		p.stats.IdleCycles++
		return
	}

	if delivery.Private {
		p.stats.PrivateAccesses++
	} else {
		p.stats.PublicAccesses++
	}

	if p.curIsWrite {
		p.cache.CommitWrite(p.curAddr)
	} else {
		p.cache.CommitRead(p.curAddr)
	}
	p.state = Ready
}

// commitLocal completes a silent hit: no bus transaction, classification
// by a read-only snoop sweep at commit time.
func (p *Processor) commitLocal() {
	if p.bus.OtherSharers(p.id, p.curAddr) {
		p.stats.PublicAccesses++
	} else {
		p.stats.PrivateAccesses++
	}

	if p.curIsWrite {
		// Checks that the state permits a store without a bus transaction.
		p.protocol.SilentStore(p.cache.State(p.curAddr))
		p.cache.CommitWrite(p.curAddr)
	} else {
		p.cache.CommitRead(p.curAddr)
	}
	p.state = Ready
}
