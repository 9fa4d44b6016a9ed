// Package cache provides the private coherent L1 cache model built on
// Akita cache components.
package cache

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/snoopsim/timing/coherence"
)

// Config holds cache geometry and timing parameters.
type Config struct {
	// Size in bytes.
	Size int
	// Associativity (number of ways per set).
	Associativity int
	// BlockSize in bytes (cache line size).
	BlockSize int
	// HitLatency in cycles for one tag access, read or write.
	HitLatency uint64
}

// NumSets returns the number of sets the geometry implies.
func (c Config) NumSets() int {
	return c.Size / (c.Associativity * c.BlockSize)
}

// Validate checks the geometry constraints.
func (c Config) Validate() error {
	if c.Size <= 0 || c.Size&(c.Size-1) != 0 {
		return fmt.Errorf("cache size %d must be a positive power of two", c.Size)
	}
	if c.Associativity <= 0 {
		return fmt.Errorf("associativity %d must be positive", c.Associativity)
	}
	if c.BlockSize < 4 || c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("block size %d must be a power of two of at least 4", c.BlockSize)
	}
	if c.Size%(c.Associativity*c.BlockSize) != 0 {
		return fmt.Errorf("cache size %d is not divisible by associativity %d x block size %d",
			c.Size, c.Associativity, c.BlockSize)
	}
	return nil
}

// Statistics holds cache access statistics.
type Statistics struct {
	// Reads is the number of read accesses issued.
	Reads uint64
	// Writes is the number of write accesses issued.
	Writes uint64
	// Hits is the number of accesses that found the block resident.
	Hits uint64
	// Misses is the number of accesses that did not.
	Misses uint64
	// Evictions is the number of valid blocks replaced.
	Evictions uint64
}

// Cache is one processor's private coherent cache. Accesses follow a
// two-phase model: Issue classifies the access and starts the tag-access
// busy counter; Commit applies the mutation once the counter has elapsed.
// The bus reads and mutates block states through the snoop methods.
type Cache struct {
	config  Config
	decoder Decoder

	// Akita cache directory for tag lookup, set/way bookkeeping, and LRU
	// victim selection.
	directory *akitacache.DirectoryImpl

	// Coherence state per block, indexed by (setID * associativity + wayID)
	// in parallel with the directory blocks. Invalid mirrors !IsValid.
	states []coherence.State

	busyCounter uint64
	pending     bool
	pendingHit  bool

	stats Statistics
}

// New creates a cache with the given configuration. The configuration must
// have been validated.
func New(config Config) *Cache {
	numSets := config.NumSets()

	return &Cache{
		config:  config,
		decoder: NewDecoder(config.BlockSize, numSets),
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		states: make([]coherence.State, numSets*config.Associativity),
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Decoder returns the cache's address decoder.
func (c *Cache) Decoder() Decoder {
	return c.decoder
}

// Stats returns cache access statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// blockIndex computes the index into states for a directory block.
func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

// lookup returns the resident directory block for addr, or nil.
func (c *Cache) lookup(addr uint64) *akitacache.Block {
	block := c.directory.Lookup(0, c.decoder.BlockAlign(addr))
	if block == nil || !block.IsValid {
		return nil
	}
	return block
}

// IssueRead classifies a read access and starts the tag access. The block
// state is not mutated until CommitRead.
func (c *Cache) IssueRead(addr uint64) {
	c.stats.Reads++
	c.issue(addr)
}

// IssueWrite classifies a write access and starts the tag access.
func (c *Cache) IssueWrite(addr uint64) {
	c.stats.Writes++
	c.issue(addr)
}

func (c *Cache) issue(addr uint64) {
	if c.pending || c.busyCounter > 0 {
		panic("cache: issue while an access is outstanding")
	}

	hit := c.lookup(addr) != nil
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}

	c.pending = true
	c.pendingHit = hit
	c.busyCounter = c.config.HitLatency
}

// HitPending reports the classification of the outstanding access. ok is
// false while the tag access is still in flight or no access is pending.
func (c *Cache) HitPending() (hit, ok bool) {
	if !c.pending || c.busyCounter > 0 {
		return false, false
	}
	return c.pendingHit, true
}

// CommitRead completes the outstanding read access. The block must be
// resident, either because the access hit or because the bus has since
// delivered it; committing refreshes the block's LRU position.
func (c *Cache) CommitRead(addr uint64) {
	block := c.commit(addr)
	c.directory.Visit(block)
}

// CommitWrite completes the outstanding write access. The block becomes
// Modified, except that a SharedModified block delivered by the bus keeps
// its shared ownership. A write commit on an absent block is a fatal
// inconsistency: the bus must have promoted it first.
func (c *Cache) CommitWrite(addr uint64) {
	block := c.commit(addr)

	idx := c.blockIndex(block)
	if c.states[idx] != coherence.SharedModified {
		c.states[idx] = coherence.Modified
	}
	block.IsDirty = true
	c.directory.Visit(block)
}

func (c *Cache) commit(addr uint64) *akitacache.Block {
	if !c.pending {
		panic("cache: commit with no outstanding access")
	}
	if c.busyCounter > 0 {
		panic("cache: commit on a busy cache")
	}

	block := c.lookup(addr)
	if block == nil {
		panic(fmt.Sprintf("cache: commit on absent block 0x%x", addr))
	}

	c.pending = false
	c.pendingHit = false
	return block
}

// State returns the coherence state of addr's block, Invalid when absent.
// Snoop query; never mutates.
func (c *Cache) State(addr uint64) coherence.State {
	block := c.lookup(addr)
	if block == nil {
		return coherence.Invalid
	}
	return c.states[c.blockIndex(block)]
}

// SetState applies a snoop-driven state change to a resident block.
// Setting Invalid frees the slot.
func (c *Cache) SetState(addr uint64, s coherence.State) {
	block := c.lookup(addr)
	if block == nil {
		panic(fmt.Sprintf("cache: snoop state change on absent block 0x%x", addr))
	}

	idx := c.blockIndex(block)
	if s == coherence.Invalid {
		block.IsValid = false
		block.IsDirty = false
		c.states[idx] = coherence.Invalid
		return
	}

	c.states[idx] = s
	block.IsDirty = s.Dirty()
}

// Allocate installs addr's block in state s, replacing the LRU victim if
// the set has no free way. A block that is already resident is updated in
// its own way rather than duplicated. It returns the victim's prior state,
// Invalid when no valid block was displaced, so the bus can decide whether
// a writeback is required.
func (c *Cache) Allocate(addr uint64, s coherence.State) coherence.State {
	if s == coherence.Invalid {
		panic("cache: allocate in state I")
	}

	blockAddr := c.decoder.BlockAlign(addr)
	victim := c.lookup(addr)
	if victim == nil {
		victim = c.directory.FindVictim(blockAddr)
		if victim == nil {
			panic(fmt.Sprintf("cache: no victim for block 0x%x", blockAddr))
		}
	}

	idx := c.blockIndex(victim)
	evicted := coherence.Invalid
	if victim.IsValid && victim.Tag != blockAddr {
		evicted = c.states[idx]
		c.stats.Evictions++
	}

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = s.Dirty()
	c.states[idx] = s
	c.directory.Visit(victim)

	return evicted
}

// Evict removes addr's block, returning its prior state. Absent blocks
// evict as Invalid.
func (c *Cache) Evict(addr uint64) coherence.State {
	block := c.lookup(addr)
	if block == nil {
		return coherence.Invalid
	}

	idx := c.blockIndex(block)
	evicted := c.states[idx]
	block.IsValid = false
	block.IsDirty = false
	c.states[idx] = coherence.Invalid
	return evicted
}

// Busy reports whether a tag access is still in flight.
func (c *Cache) Busy() bool {
	return c.busyCounter > 0
}

// Elapse advances the cache by one cycle.
func (c *Cache) Elapse() {
	if c.busyCounter > 0 {
		c.busyCounter--
	}
}

// ForEachBlock calls fn for every resident block with its block-aligned
// address and coherence state. Used for invariant audits.
func (c *Cache) ForEachBlock(fn func(blockAddr uint64, s coherence.State)) {
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid {
				fn(block.Tag, c.states[c.blockIndex(block)])
			}
		}
	}
}
