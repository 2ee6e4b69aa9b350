// Package ledger remembers every process instance observed during a run.
//
// An entry is keyed by PID and holds the creation time seen with it, so a
// PID reused by the kernel for a different process is classified as new.
// Entries are never removed during a run; the ledger also keeps the CPU-time
// baseline that CPU percent is computed against.
package ledger

import (
	"time"

	"github.com/ja7ad/treemon/pkg/system/util"
	"github.com/ja7ad/treemon/pkg/types"
)

type Class int

const (
	New Class = iota
	Continuing
)

func (c Class) String() string {
	if c == Continuing {
		return "continuing"
	}
	return "new"
}

type entry struct {
	id        types.Identity
	firstSeen time.Time

	// CPU baseline; valid once sampled is true.
	sampled  bool
	lastCPU  float64
	lastTime time.Time
}

// Ledger is not safe for concurrent use; it is owned by the sampling loop.
type Ledger struct {
	entries map[int32]*entry
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[int32]*entry)}
}

// Known reports whether id, PID and creation time both, is already recorded.
// It never mutates the ledger.
func (l *Ledger) Known(id types.Identity) bool {
	e, ok := l.entries[id.PID]
	return ok && e.id.CreateTime == id.CreateTime
}

// Classify returns Continuing iff the PID is recorded with the same creation
// time. Otherwise the identity is recorded, replacing any stale entry for the
// PID, and New is returned.
func (l *Ledger) Classify(id types.Identity, at time.Time) Class {
	if l.Known(id) {
		return Continuing
	}
	l.entries[id.PID] = &entry{id: id, firstSeen: at}
	return New
}

// FirstSeen returns when id was first classified.
func (l *Ledger) FirstSeen(id types.Identity) (time.Time, bool) {
	if !l.Known(id) {
		return time.Time{}, false
	}
	return l.entries[id.PID].firstSeen, true
}

// CPUPercent returns 100*Δcpu/Δwall since the previous call for the same
// identity and stores cpuTotal as the new baseline. The first observation,
// a non-positive wall delta or a counter that went backwards yield 0.
// Identities not yet classified are ignored and yield 0.
func (l *Ledger) CPUPercent(id types.Identity, cpuTotal float64, at time.Time) float64 {
	if !l.Known(id) {
		return 0
	}
	e := l.entries[id.PID]
	defer func() {
		e.sampled = true
		e.lastCPU = cpuTotal
		e.lastTime = at
	}()
	if !e.sampled {
		return 0
	}
	wall := at.Sub(e.lastTime).Seconds()
	if wall <= 0 || cpuTotal < e.lastCPU {
		return 0
	}
	return 100 * util.SafeDiv(util.DeltaF64(cpuTotal, e.lastCPU), wall)
}

// Len is the number of distinct PIDs recorded.
func (l *Ledger) Len() int { return len(l.entries) }
