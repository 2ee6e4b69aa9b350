// Package aggregate folds the snapshots of one tick into tree-wide totals.
package aggregate

import (
	"github.com/ja7ad/treemon/pkg/snapshot"
	"github.com/ja7ad/treemon/pkg/system/inspect"
	"github.com/ja7ad/treemon/pkg/system/topology"
	"github.com/ja7ad/treemon/pkg/types"
)

// Record is one row of the aggregate series. The CPU, core and package
// counts are distinct values over the whole tree.
type Record struct {
	NumPIDs    int
	NumThreads int64
	Processors int
	Cores      int
	Packages   int
	USS        types.Bytes
	Swap       types.Bytes
	IO         inspect.IOCounters
}

// Fold never fails; no snapshots give a zero Record.
func Fold(snaps []*snapshot.Snapshot) Record {
	var r Record
	processors := make(map[string]struct{})
	cores := make(map[topology.CoreIdentity]struct{})
	packages := make(map[string]struct{})

	for _, s := range snaps {
		r.NumPIDs++
		r.NumThreads += int64(s.NumThreads)
		r.USS += s.USS
		r.Swap += s.Swap

		r.IO.ReadCount += s.IO.ReadCount
		r.IO.WriteCount += s.IO.WriteCount
		r.IO.ReadBytes += s.IO.ReadBytes
		r.IO.WriteBytes += s.IO.WriteBytes
		r.IO.ReadChars += s.IO.ReadChars
		r.IO.WriteChars += s.IO.WriteChars

		for k := range s.Processors {
			processors[k] = struct{}{}
		}
		for k := range s.Cores {
			cores[k] = struct{}{}
		}
		for k := range s.Packages {
			packages[k] = struct{}{}
		}
	}

	r.Processors = len(processors)
	r.Cores = len(cores)
	r.Packages = len(packages)
	return r
}
