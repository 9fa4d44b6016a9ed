package system_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/snoopsim/timing/cache"
	"github.com/sarchlab/snoopsim/timing/coherence"
	"github.com/sarchlab/snoopsim/timing/system"
	"github.com/sarchlab/snoopsim/trace"
)

func TestSystem(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "System Suite")
}

// geometry is 1KB, 2-way, 64B lines: 8 sets.
var geometry = cache.Config{Size: 1024, Associativity: 2, BlockSize: 64}

func newSystem(protocolName string, traces [][]trace.Entry) *system.System {
	protocol, err := coherence.New(protocolName)
	Expect(err).NotTo(HaveOccurred())

	// Pad to four processors.
	for len(traces) < trace.NumProcessors {
		traces = append(traces, nil)
	}
	return system.New(protocol, geometry, traces)
}

func loads(addrs ...uint64) []trace.Entry {
	var entries []trace.Entry
	for _, a := range addrs {
		entries = append(entries, trace.Entry{Op: trace.OpLoad, Addr: a})
	}
	return entries
}

var _ = Describe("System", func() {
	It("should run a single-processor private working set", func() {
		s := newSystem("MESI", [][]trace.Entry{
			loads(0x00, 0x40, 0x80),
		})
		stats := s.Run()

		p0 := stats.Processors[0]
		Expect(p0.Loads).To(Equal(uint64(3)))
		Expect(p0.Misses).To(Equal(uint64(3)))
		Expect(p0.MissRate()).To(Equal(1.0))
		Expect(p0.ComputeCycles).To(Equal(uint64(0)))
		Expect(p0.IdleCycles).To(Equal(uint64(300)))

		Expect(stats.TotalCycles).To(Equal(uint64(307)))
		Expect(stats.BusTrafficBytes).To(Equal(uint64(192)))
		Expect(stats.BusTransactions[coherence.BusRd]).To(Equal(uint64(3)))
		Expect(stats.PrivateAccesses).To(Equal(uint64(3)))
		Expect(stats.PublicAccesses).To(Equal(uint64(0)))

		Expect(s.Audit()).To(Succeed())
	})

	It("should let two readers share a line", func() {
		s := newSystem("MESI", [][]trace.Entry{
			loads(0x100),
			loads(0x100),
		})
		stats := s.Run()

		Expect(s.Cache(0).State(0x100)).To(Equal(coherence.Shared))
		Expect(s.Cache(1).State(0x100)).To(Equal(coherence.Shared))

		// First access fills Exclusive from memory (private); the second
		// finds the sharer and both demote to Shared (public).
		Expect(stats.PrivateAccesses).To(Equal(uint64(1)))
		Expect(stats.PublicAccesses).To(Equal(uint64(1)))
		Expect(stats.BusTrafficBytes).To(Equal(uint64(128)))
		Expect(stats.BusTransactions[coherence.BusRd]).To(Equal(uint64(2)))
		Expect(stats.TotalCycles).To(Equal(uint64(204)))

		Expect(s.Audit()).To(Succeed())
	})

	It("should invalidate a reader's copy on a peer's store", func() {
		s := newSystem("MESI", [][]trace.Entry{
			loads(0x100),
			{{Op: trace.OpStore, Addr: 0x100}},
		})
		stats := s.Run()

		Expect(s.Cache(0).State(0x100)).To(Equal(coherence.Invalid))
		Expect(s.Cache(1).State(0x100)).To(Equal(coherence.Modified))

		Expect(stats.BusTransactions[coherence.BusRdX]).To(Equal(uint64(1)))
		Expect(stats.Invalidations).To(Equal(uint64(1)))
		Expect(stats.BusTrafficBytes).To(Equal(uint64(128)))

		Expect(s.Audit()).To(Succeed())
	})

	It("should update sharers in place under Dragon", func() {
		s := newSystem("Dragon", [][]trace.Entry{
			{
				{Op: trace.OpLoad, Addr: 0x200},
				{Op: trace.OpStore, Addr: 0x200},
			},
			loads(0x200),
		})
		stats := s.Run()

		Expect(s.Cache(0).State(0x200)).To(Equal(coherence.SharedModified))
		Expect(s.Cache(1).State(0x200)).To(Equal(coherence.SharedClean))

		// Two block fetches plus one four-byte word update.
		Expect(stats.BusTrafficBytes).To(Equal(uint64(64 + 64 + 4)))
		Expect(stats.BusTransactions[coherence.BusUpd]).To(Equal(uint64(1)))
		Expect(stats.Updates).To(Equal(uint64(1)))
		Expect(stats.Invalidations).To(Equal(uint64(0)))

		Expect(s.Audit()).To(Succeed())
	})

	It("should evict the least recently used block", func() {
		// 128B, 2-way, 64B lines: a single set of two ways.
		small := cache.Config{Size: 128, Associativity: 2, BlockSize: 64}
		protocol, err := coherence.New("MESI")
		Expect(err).NotTo(HaveOccurred())

		s := system.New(protocol, small, [][]trace.Entry{
			loads(0x00, 0x40, 0x80), nil, nil, nil,
		})
		s.Run()

		Expect(s.Cache(0).State(0x00)).To(Equal(coherence.Invalid))
		Expect(s.Cache(0).State(0x40)).To(Equal(coherence.Exclusive))
		Expect(s.Cache(0).State(0x80)).To(Equal(coherence.Exclusive))
	})

	It("should account idle cycles for a store miss", func() {
		s := newSystem("MESI", [][]trace.Entry{
			{{Op: trace.OpStore, Addr: 0x100}},
		})
		stats := s.Run()

		p0 := stats.Processors[0]
		Expect(p0.IdleCycles).To(Equal(uint64(100)))
		Expect(p0.ComputeCycles).To(Equal(uint64(0)))
		Expect(p0.Stores).To(Equal(uint64(1)))
		Expect(stats.TotalCycles).To(BeNumerically(">=", 101))
		Expect(stats.BusTrafficBytes).To(Equal(uint64(64)))
	})

	It("should overlap compute with nothing and count it exactly", func() {
		s := newSystem("MESI", [][]trace.Entry{
			{
				{Op: trace.OpOther, Cycles: 5},
				{Op: trace.OpLoad, Addr: 0x40},
			},
		})
		stats := s.Run()

		p0 := stats.Processors[0]
		Expect(p0.ComputeCycles).To(Equal(uint64(5)))
		// The load runs strictly after the compute burst.
		Expect(p0.IdleCycles).To(Equal(uint64(100)))
	})

	It("should keep the load/store counters consistent with the traces", func() {
		traces := [][]trace.Entry{
			{
				{Op: trace.OpLoad, Addr: 0x100},
				{Op: trace.OpStore, Addr: 0x100},
				{Op: trace.OpOther, Cycles: 3},
				{Op: trace.OpLoad, Addr: 0x180},
			},
			{
				{Op: trace.OpStore, Addr: 0x100},
				{Op: trace.OpLoad, Addr: 0x140},
			},
		}
		s := newSystem("MESI", traces)
		stats := s.Run()

		Expect(stats.Processors[0].Loads).To(Equal(uint64(2)))
		Expect(stats.Processors[0].Stores).To(Equal(uint64(1)))
		Expect(stats.Processors[1].Loads).To(Equal(uint64(1)))
		Expect(stats.Processors[1].Stores).To(Equal(uint64(1)))

		// Every access is classified exactly once.
		var accesses, classified uint64
		for _, p := range stats.Processors {
			accesses += p.Loads + p.Stores
			classified += p.PrivateAccesses + p.PublicAccesses
		}
		Expect(classified).To(Equal(accesses))

		Expect(s.Audit()).To(Succeed())
	})

	It("should preserve coherence under contended stores", func() {
		// All four processors hammer the same line.
		traces := make([][]trace.Entry, 4)
		for i := range traces {
			traces[i] = []trace.Entry{
				{Op: trace.OpStore, Addr: 0x300},
				{Op: trace.OpLoad, Addr: 0x300},
				{Op: trace.OpStore, Addr: 0x300},
			}
		}

		for _, name := range []string{"MESI", "Dragon"} {
			s := newSystem(name, traces)
			stats := s.Run()

			Expect(s.Audit()).To(Succeed(), name)

			var total uint64
			for _, p := range stats.Processors {
				Expect(p.Loads + p.Stores).To(Equal(uint64(3)))
				total += p.PrivateAccesses + p.PublicAccesses
			}
			Expect(total).To(Equal(uint64(12)), name)
		}
	})
})
