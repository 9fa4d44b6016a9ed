// Package system wires four processors, their private coherent caches,
// the snooping bus, and main memory into one deterministic cycle-accurate
// simulation.
package system

import (
	"fmt"

	"github.com/sarchlab/snoopsim/timing/bus"
	"github.com/sarchlab/snoopsim/timing/cache"
	"github.com/sarchlab/snoopsim/timing/coherence"
	"github.com/sarchlab/snoopsim/timing/core"
	"github.com/sarchlab/snoopsim/timing/latency"
	"github.com/sarchlab/snoopsim/timing/mem"
	"github.com/sarchlab/snoopsim/trace"
)

// Statistics is the full simulation report.
type Statistics struct {
	// TotalCycles is the number of cycles until all traces completed.
	TotalCycles uint64
	// Processors holds per-processor execution statistics, by id.
	Processors []core.Stats
	// BusTrafficBytes is the total data moved over the bus.
	BusTrafficBytes uint64
	// BusTransactions counts bus transactions by kind.
	BusTransactions [coherence.NumTxnKinds]uint64
	// Invalidations is the number of blocks invalidated by snoops.
	Invalidations uint64
	// Updates is the number of word updates delivered to other caches.
	Updates uint64
	// PrivateAccesses counts accesses to blocks no other cache held.
	PrivateAccesses uint64
	// PublicAccesses counts accesses to blocks some other cache held.
	PublicAccesses uint64
}

// Option is a functional option for configuring the System.
type Option func(*System)

// WithTimingConfig overrides the default timing parameters.
func WithTimingConfig(timing *latency.TimingConfig) Option {
	return func(s *System) {
		s.timing = timing
	}
}

// System is one simulated multiprocessor: the processors, their private
// caches, the bus, and memory, advanced in lockstep one cycle at a time.
type System struct {
	protocol coherence.Protocol
	timing   *latency.TimingConfig

	processors []*core.Processor
	caches     []*cache.Cache
	bus        *bus.Bus
	memory     *mem.Memory

	cycles uint64
}

// New creates a system running the given protocol and per-processor
// traces. The cache geometry applies to every private cache; its
// HitLatency is taken from the timing configuration.
func New(
	protocol coherence.Protocol,
	geometry cache.Config,
	traces [][]trace.Entry,
	opts ...Option,
) *System {
	s := &System{
		protocol: protocol,
		timing:   latency.DefaultTimingConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}

	n := len(traces)
	s.memory = mem.New(s.timing.MemoryLatency)
	s.caches = make([]*cache.Cache, n)
	snoopers := make([]bus.Snooper, n)
	for i := range s.caches {
		config := geometry
		config.HitLatency = s.timing.CacheHitLatency
		s.caches[i] = cache.New(config)
		snoopers[i] = s.caches[i]
	}

	s.bus = bus.New(protocol, s.memory, s.timing, geometry.BlockSize, snoopers)

	s.processors = make([]*core.Processor, n)
	for i := range s.processors {
		s.processors[i] = core.New(i, s.caches[i], s.bus, protocol, traces[i])
	}

	return s
}

// Protocol returns the coherence protocol the system runs.
func (s *System) Protocol() coherence.Protocol {
	return s.protocol
}

// Cache returns processor id's private cache.
func (s *System) Cache(id int) *cache.Cache {
	return s.caches[id]
}

// Processor returns the processor with the given id.
func (s *System) Processor(id int) *core.Processor {
	return s.processors[id]
}

// Cycles returns the number of cycles simulated so far.
func (s *System) Cycles() uint64 {
	return s.cycles
}

// Tick advances the whole system by one cycle: the bus completes and
// grants transactions, the processors step in id order, then every timing
// entity elapses. Processor 0's bus effects are visible to the others
// within the same cycle through snoops.
func (s *System) Tick() {
	s.bus.Service()
	for _, p := range s.processors {
		p.Step()
	}
	for _, c := range s.caches {
		c.Elapse()
	}
	s.memory.Elapse()
	s.cycles++
}

// done reports whether all traces have drained and the memory system has
// gone idle.
func (s *System) done() bool {
	for _, p := range s.processors {
		if !p.Done() {
			return false
		}
	}
	return s.bus.Idle() && !s.memory.Busy()
}

// Run advances the system until completion and returns the statistics.
func (s *System) Run() Statistics {
	for !s.done() {
		s.Tick()
	}
	return s.Stats()
}

// Stats assembles the simulation report.
func (s *System) Stats() Statistics {
	busStats := s.bus.Stats()
	stats := Statistics{
		TotalCycles:     s.cycles,
		Processors:      make([]core.Stats, len(s.processors)),
		BusTrafficBytes: busStats.TrafficBytes,
		BusTransactions: busStats.Transactions,
		Invalidations:   busStats.Invalidations,
		Updates:         busStats.Updates,
	}

	for i, p := range s.processors {
		stats.Processors[i] = p.Stats()
		stats.PrivateAccesses += stats.Processors[i].PrivateAccesses
		stats.PublicAccesses += stats.Processors[i].PublicAccesses
	}

	return stats
}

// Audit sweeps every cache and checks the protocol's sharing invariants:
// a single dirty owner per block, exclusivity of E, and no states foreign
// to the running protocol. Tests call it between and after runs.
func (s *System) Audit() error {
	type holder struct {
		id    int
		state coherence.State
	}
	holders := map[uint64][]holder{}

	var stateErr error
	for id, c := range s.caches {
		cid := id
		c.ForEachBlock(func(blockAddr uint64, st coherence.State) {
			if err := s.checkProtocolState(st); err != nil && stateErr == nil {
				stateErr = fmt.Errorf("cache %d block 0x%x: %w", cid, blockAddr, err)
			}
			holders[blockAddr] = append(holders[blockAddr], holder{cid, st})
		})
	}
	if stateErr != nil {
		return stateErr
	}

	for blockAddr, hs := range holders {
		owners := 0
		exclusive := 0
		for _, h := range hs {
			if h.state.Dirty() {
				owners++
			}
			if h.state == coherence.Exclusive || h.state == coherence.Modified {
				exclusive++
			}
		}
		if owners > 1 {
			return fmt.Errorf("block 0x%x has %d dirty owners", blockAddr, owners)
		}
		if exclusive > 0 && len(hs) > 1 {
			return fmt.Errorf("block 0x%x held exclusively and by %d caches",
				blockAddr, len(hs))
		}
	}

	return nil
}

func (s *System) checkProtocolState(st coherence.State) error {
	switch s.protocol.(type) {
	case *coherence.MESI:
		if st == coherence.SharedClean || st == coherence.SharedModified {
			return fmt.Errorf("state %v is foreign to MESI", st)
		}
	case *coherence.Dragon:
		if st == coherence.Shared {
			return fmt.Errorf("state %v is foreign to Dragon", st)
		}
	}
	return nil
}
