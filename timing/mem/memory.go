// Package mem models main memory as a single fixed-latency resource.
package mem

// Memory is the shared backing store. It handles one transaction at a
// time; contending processors are serialized by the bus, which is the only
// component that issues transactions here.
type Memory struct {
	latency     uint64
	busyCounter uint64

	reads  uint64
	writes uint64
}

// New creates a memory with the given per-transaction latency in cycles.
func New(latency uint64) *Memory {
	return &Memory{latency: latency}
}

// IssueRead starts a block fetch.
func (m *Memory) IssueRead() {
	m.issue()
	m.reads++
}

// IssueWrite starts a block writeback.
func (m *Memory) IssueWrite() {
	m.issue()
	m.writes++
}

func (m *Memory) issue() {
	if m.busyCounter > 0 {
		panic("memory: transaction issued while busy")
	}
	m.busyCounter = m.latency
}

// Busy reports whether a transaction is still in flight.
func (m *Memory) Busy() bool {
	return m.busyCounter > 0
}

// Elapse advances the memory by one cycle.
func (m *Memory) Elapse() {
	if m.busyCounter > 0 {
		m.busyCounter--
	}
}

// Reads returns the number of block fetches served.
func (m *Memory) Reads() uint64 {
	return m.reads
}

// Writes returns the number of block writebacks served.
func (m *Memory) Writes() uint64 {
	return m.writes
}
