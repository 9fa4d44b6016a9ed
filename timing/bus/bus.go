// Package bus models the shared snooping bus that serializes coherence
// transactions among the private caches and main memory.
package bus

import (
	"fmt"

	"github.com/sarchlab/snoopsim/timing/coherence"
	"github.com/sarchlab/snoopsim/timing/latency"
	"github.com/sarchlab/snoopsim/timing/mem"
)

// RequestKind classifies a processor's bus request.
type RequestKind int

const (
	// ReadMiss fills an absent block for a load.
	ReadMiss RequestKind = iota
	// WriteMiss fills an absent block for a store.
	WriteMiss
	// WriteHit resolves a store that hit a block whose state demands a
	// coherence transaction before the store can commit.
	WriteHit
)

// Request is a processor's bus request. One request per processor may be
// outstanding at a time.
type Request struct {
	// Requestor is the posting processor's id.
	Requestor int
	// Addr is the accessed physical address.
	Addr uint64
	// Kind classifies the request.
	Kind RequestKind
}

// Delivery tells a waiting processor that its transaction completed.
type Delivery struct {
	// Private is true when no other cache held the block at transaction
	// time.
	Private bool
}

// Snooper is the bus-side view of one private cache. The bus is the only
// component allowed to mutate another processor's block states.
type Snooper interface {
	State(addr uint64) coherence.State
	SetState(addr uint64, s coherence.State)
	Allocate(addr uint64, s coherence.State) coherence.State
}

// Statistics holds bus traffic accounting.
type Statistics struct {
	// TrafficBytes is the total data moved over the bus.
	TrafficBytes uint64
	// Transactions counts issued transactions by kind.
	Transactions [coherence.NumTxnKinds]uint64
	// Invalidations is the number of cache blocks invalidated by snoops.
	Invalidations uint64
	// Updates is the number of word updates delivered to other caches.
	Updates uint64
}

// phase is one memory leg of an inflight transaction.
type phase int

const (
	// phaseWriteback flushes a dirty owner's block to memory before the
	// fetch.
	phaseWriteback phase = iota
	// phaseFetch reads the block from memory.
	phaseFetch
	// phaseEvictWriteback writes a dirty victim back after delivery.
	phaseEvictWriteback
)

type inflight struct {
	req         Request
	newState    coherence.State
	private     bool
	updateBytes uint64
	phases      []phase
	delivered   bool
	taken       bool
	tailDone    bool
}

// Bus is the single shared channel connecting the private caches and main
// memory. At most one transaction is inflight; arbitration grants the
// lowest-id pending request first.
type Bus struct {
	protocol  coherence.Protocol
	memory    *mem.Memory
	timing    *latency.TimingConfig
	blockSize uint64

	caches []Snooper

	owner     int
	cur       *inflight
	pending   []*Request
	delivered []*Delivery

	stats Statistics
}

// New creates a bus connecting the given caches (indexed by processor id)
// to memory.
func New(
	protocol coherence.Protocol,
	memory *mem.Memory,
	timing *latency.TimingConfig,
	blockSize int,
	caches []Snooper,
) *Bus {
	return &Bus{
		protocol:  protocol,
		memory:    memory,
		timing:    timing,
		blockSize: uint64(blockSize),
		caches:    caches,
		owner:     -1,
		pending:   make([]*Request, len(caches)),
		delivered: make([]*Delivery, len(caches)),
	}
}

// Stats returns the bus traffic statistics.
func (b *Bus) Stats() Statistics {
	return b.stats
}

// Owner returns the id of the processor owning the bus, -1 when idle.
func (b *Bus) Owner() int {
	return b.owner
}

// Idle reports whether no transaction is inflight and no request waits.
func (b *Bus) Idle() bool {
	if b.cur != nil {
		return false
	}
	for _, r := range b.pending {
		if r != nil {
			return false
		}
	}
	return true
}

// OtherSharers reports whether any cache other than id holds addr.
// Read-only snoop sweep; processors use it to classify silent hits.
func (b *Bus) OtherSharers(id int, addr uint64) bool {
	for i, c := range b.caches {
		if i == id {
			continue
		}
		if c.State(addr) != coherence.Invalid {
			return true
		}
	}
	return false
}

// Post submits a request. A request posted while the bus is free is
// granted within the same cycle; otherwise it waits for arbitration.
// Processors step in id order, so lower ids win ties within a cycle.
func (b *Bus) Post(r Request) {
	if b.pending[r.Requestor] != nil || b.delivered[r.Requestor] != nil ||
		(b.cur != nil && b.cur.req.Requestor == r.Requestor) {
		panic(fmt.Sprintf("bus: processor %d posted a second request", r.Requestor))
	}

	if b.cur == nil {
		b.grant(r)
		return
	}
	req := r
	b.pending[r.Requestor] = &req
}

// TakeDelivery consumes the completion notice for processor id, if any.
// The bus stays held from delivery until the requestor consumes it, so no
// later transaction can disturb the block before the original access
// commits.
func (b *Bus) TakeDelivery(id int) (Delivery, bool) {
	d := b.delivered[id]
	if d == nil {
		return Delivery{}, false
	}
	b.delivered[id] = nil

	if b.cur != nil && b.cur.req.Requestor == id && b.cur.delivered {
		b.cur.taken = true
		if b.cur.tailDone {
			b.finish()
		}
	}
	return *d, true
}

// Service advances the bus by one cycle. It completes the phase that
// elapsed, delivers finished transactions, and grants the next pending
// request. Called at the start of each cycle, before processors step.
func (b *Bus) Service() {
	if b.cur != nil && !b.memory.Busy() {
		b.advance()
	}

	if b.cur == nil {
		for id := range b.pending {
			if b.pending[id] != nil {
				r := *b.pending[id]
				b.pending[id] = nil
				b.grant(r)
				break
			}
		}
	}
}

// grant starts a transaction: it takes the sharer census, applies the
// snoop effects to every holder, classifies the access, and plans the
// memory legs. Snoop effects are visible to the other processors within
// the same cycle.
func (b *Bus) grant(r Request) {
	b.owner = r.Requestor

	sharers, dirtyOwner := b.census(r)

	cur := &inflight{req: r, private: !sharers}
	var txn coherence.TxnKind
	update := false

	switch r.Kind {
	case ReadMiss:
		out := b.protocol.OnLoadMiss(sharers)
		cur.newState = out.NewState
		txn = out.Kind
		cur.phases = fillPhases(dirtyOwner)
	case WriteMiss:
		out := b.protocol.OnStoreMiss(sharers)
		cur.newState = out.NewState
		txn = out.Kind
		cur.phases = fillPhases(dirtyOwner)
		update = out.Update
	case WriteHit:
		// The hit may have gone stale while the request waited: a peer's
		// invalidation turns it back into a write miss.
		s := b.caches[r.Requestor].State(r.Addr)
		if s == coherence.Invalid {
			out := b.protocol.OnStoreMiss(sharers)
			cur.req.Kind = WriteMiss
			cur.newState = out.NewState
			txn = out.Kind
			cur.phases = fillPhases(dirtyOwner)
			update = out.Update
		} else {
			cur.newState, txn = b.protocol.OnStoreHit(s, sharers)
			update = txn == coherence.BusUpd
		}
	}

	b.stats.Transactions[txn]++
	b.snoopAll(r, txn)

	if update && sharers {
		cur.updateBytes = b.timing.WordSize
		b.stats.Updates++
		if txn != coherence.BusUpd {
			// A store miss carries its word update on the tail of the fill.
			b.stats.Transactions[coherence.BusUpd]++
			b.snoopAll(r, coherence.BusUpd)
		}
	}

	b.cur = cur
	b.startNextPhase()
}

// census scans all other caches for copies of the requested block.
func (b *Bus) census(r Request) (sharers, dirtyOwner bool) {
	for id, c := range b.caches {
		if id == r.Requestor {
			continue
		}
		s := c.State(r.Addr)
		if s == coherence.Invalid {
			continue
		}
		sharers = true
		if s.Dirty() {
			dirtyOwner = true
		}
	}
	return sharers, dirtyOwner
}

// snoopAll applies one transaction's snoop effects to every holder.
func (b *Bus) snoopAll(r Request, txn coherence.TxnKind) {
	for id, c := range b.caches {
		if id == r.Requestor {
			continue
		}
		s := c.State(r.Addr)
		if s == coherence.Invalid {
			continue
		}

		out := b.protocol.OnSnoop(s, txn)
		c.SetState(r.Addr, out.NewState)
		if out.NewState == coherence.Invalid {
			b.stats.Invalidations++
		}
		if out.Flush {
			b.stats.Transactions[coherence.FlushTxn]++
		}
	}
}

func fillPhases(dirtyOwner bool) []phase {
	if dirtyOwner {
		return []phase{phaseWriteback, phaseFetch}
	}
	return []phase{phaseFetch}
}

// startNextPhase engages memory for the next planned leg, charging the
// block transfer to the traffic counter.
func (b *Bus) startNextPhase() {
	if b.cur == nil || len(b.cur.phases) == 0 {
		return
	}

	p := b.cur.phases[0]
	b.cur.phases = b.cur.phases[1:]
	switch p {
	case phaseFetch:
		b.memory.IssueRead()
	case phaseWriteback, phaseEvictWriteback:
		b.memory.IssueWrite()
	}
	b.stats.TrafficBytes += b.blockSize
}

// advance moves the inflight transaction forward once memory is idle.
func (b *Bus) advance() {
	if len(b.cur.phases) > 0 {
		b.startNextPhase()
		return
	}

	if !b.cur.delivered {
		b.deliver()
		return
	}

	// The tail victim writeback has drained.
	b.cur.tailDone = true
	if b.cur.taken {
		b.finish()
	}
}

// deliver hands the resolved block state to the requestor. The bus is
// released when the requestor consumes the delivery and any victim
// writeback has drained.
func (b *Bus) deliver() {
	cur := b.cur
	r := cur.req

	switch r.Kind {
	case ReadMiss, WriteMiss:
		evicted := b.caches[r.Requestor].Allocate(r.Addr, cur.newState)
		cur.delivered = true
		b.stats.TrafficBytes += cur.updateBytes
		b.delivered[r.Requestor] = &Delivery{Private: cur.private}

		if evicted.Dirty() {
			// The displaced owner's data goes back to memory; the bus
			// stays held while the processor is free to commit.
			cur.phases = append(cur.phases, phaseEvictWriteback)
			b.startNextPhase()
			return
		}
	case WriteHit:
		b.caches[r.Requestor].SetState(r.Addr, cur.newState)
		cur.delivered = true
		b.stats.TrafficBytes += cur.updateBytes
		b.delivered[r.Requestor] = &Delivery{Private: cur.private}
	}

	cur.tailDone = true
}

func (b *Bus) finish() {
	b.cur = nil
	b.owner = -1
}
