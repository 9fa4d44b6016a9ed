package coherence

import (
	"fmt"
	"strings"
)

// MissOutcome describes how a cache miss is filled.
type MissOutcome struct {
	// NewState is the state the requesting cache loads the block in.
	NewState State
	// Kind is the bus transaction the miss puts on the bus.
	Kind TxnKind
	// Update means a word update must follow the fill (Dragon store miss
	// with other copies present).
	Update bool
}

// SnoopOutcome describes the effect of a snooped transaction on one holder
// of the block.
type SnoopOutcome struct {
	// NewState is the holder's state after the snoop.
	NewState State
	// Flush means the holder must supply the block with a writeback before
	// the transaction can complete.
	Flush bool
}

// Protocol is the pure per-block transition function of one coherence
// scheme. Inputs are the local event, the current state, and whether any
// other cache holds the block; outputs name the next state and the bus
// transaction, never mutating anything.
type Protocol interface {
	// Name returns the protocol name as printed in reports.
	Name() string

	// OnLoadMiss resolves a load of an absent block once the sharer census
	// is known.
	OnLoadMiss(sharers bool) MissOutcome

	// OnStoreMiss resolves a store to an absent block once the sharer
	// census is known.
	OnStoreMiss(sharers bool) MissOutcome

	// StoreNeedsBus reports whether a store that hits in state s must reach
	// the bus before committing.
	StoreNeedsBus(s State) bool

	// OnStoreHit resolves a bus-demanding store hit once the sharer census
	// is known. Precondition: StoreNeedsBus(s).
	OnStoreHit(s State, sharers bool) (State, TxnKind)

	// SilentStore returns the post-commit state of a store hit that never
	// reaches the bus. Precondition: !StoreNeedsBus(s) and s != Invalid.
	SilentStore(s State) State

	// OnSnoop applies a snooped transaction to a holder in state s.
	OnSnoop(s State, k TxnKind) SnoopOutcome
}

// New returns the protocol with the given name, matched case-insensitively.
func New(name string) (Protocol, error) {
	switch strings.ToUpper(name) {
	case "MESI":
		return &MESI{}, nil
	case "DRAGON":
		return &Dragon{}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q (want MESI or Dragon)", name)
	}
}

// invariant panics with a protocol invariant violation. These are fatal
// bugs, never recoverable conditions.
func invariant(format string, args ...interface{}) {
	panic(fmt.Sprintf("coherence invariant violation: "+format, args...))
}
