package engine

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Engine owns the instruction store, the address index, and the
// jump-target table. A single RWMutex guards the compound structures;
// min/max address, the dirty flag, and the stat counters are atomics
// written inside the critical section and readable without taking the
// lock.
//
// Query methods return owned copies, never references into the store:
// holding data across a subsequent mutation is therefore always safe.
// The one documented staleness hazard is the jump-target table itself —
// after a mutation and before the next analysis pass completes
// (JumpsDirty reports true), jump-target references may describe store
// positions that have shifted or no longer exist.
type Engine struct {
	mu      sync.RWMutex
	insts   []Instruction
	targets []JumpTarget
	byAddr  map[uint64]int

	minAddr    atomic.Uint64
	maxAddr    atomic.Uint64
	jumpsDirty atomic.Bool
	analyzing  atomic.Bool

	instCount      atomic.Uint64
	jumpCount      atomic.Uint64
	analysisMicros atomic.Int64
	lookupNanos    atomic.Int64
}

// New returns an empty engine. Capacity is pre-allocated for the common
// case of a few thousand visible instructions.
func New() *Engine {
	e := &Engine{
		insts:   make([]Instruction, 0, 10000),
		targets: make([]JumpTarget, 0, 1000),
		byAddr:  make(map[uint64]int, 10000),
	}
	e.jumpsDirty.Store(true)
	return e
}

// SetInstructions atomically replaces the entire store with the given
// batch, sorted ascending by address. The previous jump-target table
// becomes stale until the next analysis pass.
func (e *Engine) SetInstructions(batch []Instruction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.insts = append(e.insts[:0], batch...)
	sort.SliceStable(e.insts, func(i, j int) bool {
		return e.insts[i].Address < e.insts[j].Address
	})

	e.afterMutation()
}

// AppendInstructions appends a batch to the end of the store. If any
// appended address breaks the ascending order the whole sequence is
// re-sorted, not just the tail; with a well-behaved upstream the batch
// continues the existing range and the sort is skipped.
func (e *Engine) AppendInstructions(batch []Instruction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldLen := len(e.insts)
	e.insts = append(e.insts, batch...)

	needsSort := false
	for i := oldLen; i < len(e.insts); i++ {
		if i > 0 && e.insts[i].Address < e.insts[i-1].Address {
			needsSort = true
			break
		}
	}
	if needsSort {
		sort.SliceStable(e.insts, func(i, j int) bool {
			return e.insts[i].Address < e.insts[j].Address
		})
	}

	e.afterMutation()
}

// afterMutation refreshes the cached address range, rebuilds the address
// index, and marks the jump-target table stale. Caller holds the write
// lock.
func (e *Engine) afterMutation() {
	if len(e.insts) == 0 {
		e.minAddr.Store(0)
		e.maxAddr.Store(0)
	} else {
		e.minAddr.Store(e.insts[0].Address)
		e.maxAddr.Store(e.insts[len(e.insts)-1].Address)
	}

	clear(e.byAddr)
	for i := range e.insts {
		e.byAddr[e.insts[i].Address] = i
	}

	e.instCount.Store(uint64(len(e.insts)))
	e.jumpsDirty.Store(true)
}

// FindByAddress returns a copy of the instruction at exactly addr. The
// address index is consulted first; on a miss the sorted store is
// binary-searched. A false result means no instruction at that address
// is loaded.
func (e *Engine) FindByAddress(addr uint64) (Instruction, bool) {
	start := time.Now()
	defer func() { e.lookupNanos.Store(time.Since(start).Nanoseconds()) }()

	e.mu.RLock()
	defer e.mu.RUnlock()

	if i, ok := e.byAddr[addr]; ok {
		return e.insts[i], true
	}
	i := e.lowerBound(addr)
	if i < len(e.insts) && e.insts[i].Address == addr {
		return e.insts[i], true
	}
	return Instruction{}, false
}

// FindIndexByAddress returns the lower-bound position for addr: the
// first index whose address is >= addr, or Count() if addr is beyond
// the loaded range. Callers compare the address at the returned index
// against addr to distinguish "found" from "insertion point".
func (e *Engine) FindIndexByAddress(addr uint64) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if i, ok := e.byAddr[addr]; ok {
		return i
	}
	return e.lowerBound(addr)
}

// lowerBound is a binary search over the sorted store. Caller holds at
// least the read lock.
func (e *Engine) lowerBound(addr uint64) int {
	return sort.Search(len(e.insts), func(i int) bool {
		return e.insts[i].Address >= addr
	})
}

// VisibleRange returns copies of up to count instructions starting at
// start, clipped to the store bound. Out-of-range input yields an empty
// result, never a panic.
func (e *Engine) VisibleRange(start, count int) []Instruction {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if start < 0 || count <= 0 || start >= len(e.insts) {
		return nil
	}
	end := start + count
	if end > len(e.insts) {
		end = len(e.insts)
	}
	out := make([]Instruction, end-start)
	copy(out, e.insts[start:end])
	return out
}

// Count returns the number of loaded instructions without locking.
func (e *Engine) Count() int { return int(e.instCount.Load()) }

// MinAddress returns the lowest loaded address, 0 when empty.
func (e *Engine) MinAddress() uint64 { return e.minAddr.Load() }

// MaxAddress returns the highest loaded address, 0 when empty.
func (e *Engine) MaxAddress() uint64 { return e.maxAddr.Load() }

// JumpsDirty reports whether the jump-target table is stale relative to
// the store contents.
func (e *Engine) JumpsDirty() bool { return e.jumpsDirty.Load() }

// HasJumpTarget reports whether the last analysis pass recorded a jump
// target for the instruction at addr. True does not imply the target
// resolved to a loaded instruction; see JumpTargetAt.
func (e *Engine) HasJumpTarget(addr uint64) bool {
	_, ok := e.JumpTargetAt(addr)
	return ok
}

// JumpTargetAt returns the jump target recorded for the instruction at
// addr. While JumpsDirty reports true the returned value reflects the
// previous analysis pass and its Index may be stale.
func (e *Engine) JumpTargetAt(addr uint64) (JumpTarget, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	i, ok := e.byAddr[addr]
	if !ok {
		i = e.lowerBound(addr)
		if i >= len(e.insts) || e.insts[i].Address != addr {
			return JumpTarget{}, false
		}
	}
	ref := e.insts[i].jumpTarget
	if ref == NoIndex || int(ref) >= len(e.targets) {
		return JumpTarget{}, false
	}
	return e.targets[ref], true
}

// JumpTargets returns a snapshot copy of the jump-target table.
func (e *Engine) JumpTargets() []JumpTarget {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]JumpTarget, len(e.targets))
	copy(out, e.targets)
	return out
}

// Stats is a snapshot of the engine's performance counters. Fields are
// individually atomic but the snapshot as a whole is not taken under the
// lock; it is observability data, never input to correctness decisions.
type Stats struct {
	InstructionCount uint64
	JumpCount        uint64
	AnalysisTime     time.Duration
	LastLookupTime   time.Duration
}

// Stats returns the current counter values.
func (e *Engine) Stats() Stats {
	return Stats{
		InstructionCount: e.instCount.Load(),
		JumpCount:        e.jumpCount.Load(),
		AnalysisTime:     time.Duration(e.analysisMicros.Load()) * time.Microsecond,
		LastLookupTime:   time.Duration(e.lookupNanos.Load()),
	}
}
