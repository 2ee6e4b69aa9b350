// Package snapshot captures the metrics of one process at one tick, together
// with the logical CPUs, cores and packages its threads were last scheduled on.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ja7ad/treemon/pkg/system/inspect"
	"github.com/ja7ad/treemon/pkg/system/topology"
	"github.com/ja7ad/treemon/pkg/types"
)

// Resolver maps a logical CPU id to its core. *topology.Topology satisfies it.
type Resolver interface {
	Resolve(cpu string) topology.CoreIdentity
}

type Snapshot struct {
	Identity types.Identity
	Status   string

	Times inspect.CPUTimes
	// CPUPercent is filled in by the sampling loop from the ledger baseline.
	CPUPercent    float64
	MemoryPercent float64

	Virt types.Bytes
	Res  types.Bytes
	USS  types.Bytes
	Swap types.Bytes

	IO         inspect.IOCounters
	NumThreads int32
	TCPConns   int

	// Cmdline is only read at first sight.
	Cmdline []string

	Processors map[string]struct{}
	Cores      map[topology.CoreIdentity]struct{}
	Packages   map[string]struct{}
}

func (s *Snapshot) NumProcessors() int { return len(s.Processors) }
func (s *Snapshot) NumCores() int      { return len(s.Cores) }
func (s *Snapshot) NumPackages() int   { return len(s.Packages) }

// Capture reads every metric of p inside one Oneshot scope. Per-process
// failures come back as *ExcludeError; a cancelled ctx is returned as is.
func Capture(ctx context.Context, p inspect.Process, topo Resolver, firstSight bool) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pid := p.PID()

	ct, err := p.CreateTime(ctx)
	if err != nil {
		return nil, exclude(pid, err)
	}
	sc, err := p.Oneshot(ctx)
	if err != nil {
		return nil, exclude(pid, err)
	}
	defer sc.Release()

	s := &Snapshot{Identity: types.Identity{PID: pid, CreateTime: ct}}
	if err := s.read(sc, topo, firstSight); err != nil {
		return nil, exclude(pid, err)
	}
	return s, nil
}

func (s *Snapshot) read(sc inspect.Scope, topo Resolver, firstSight bool) error {
	alive, err := sc.Running()
	if err != nil {
		return err
	}
	if !alive {
		return ErrVanished
	}
	if s.Status, err = sc.Status(); err != nil {
		return err
	}
	if s.Status == inspect.StatusZombie {
		return ErrVanished
	}

	if err := s.placeThreads(sc, topo); err != nil {
		return err
	}

	if s.Times, err = sc.CPUTimes(); err != nil {
		return err
	}
	mem, err := sc.Memory()
	if err != nil {
		return err
	}
	s.Virt = types.ToBytes(mem.VMS)
	s.Res = types.ToBytes(mem.RSS)
	s.USS = types.ToBytes(mem.USS)
	s.Swap = types.ToBytes(mem.Swap)
	if s.MemoryPercent, err = sc.MemoryPercent(); err != nil {
		return err
	}

	if s.IO, err = sc.IO(); err != nil {
		return err
	}

	conns, err := sc.Connections()
	if err != nil {
		return err
	}
	for _, c := range conns {
		if c.TCP4() {
			s.TCPConns++
		}
	}

	if s.NumThreads, err = sc.NumThreads(); err != nil {
		return err
	}
	if firstSight {
		if s.Cmdline, err = sc.Cmdline(); err != nil {
			return err
		}
	}
	return nil
}

// placeThreads fills the three distinct-sets from the CPU each thread last
// ran on. The main thread, and any thread that exits before it can be
// queried, uses the process-level CPU.
func (s *Snapshot) placeThreads(sc inspect.Scope, topo Resolver) error {
	procCPU, err := sc.CPUNum()
	if err != nil {
		return err
	}
	tids, err := sc.Threads()
	if err != nil {
		return err
	}

	s.Processors = make(map[string]struct{}, len(tids))
	s.Cores = make(map[topology.CoreIdentity]struct{}, len(tids))
	s.Packages = make(map[string]struct{})

	if len(tids) == 0 {
		s.place(topo, procCPU)
		return nil
	}
	for _, tid := range tids {
		cpu := procCPU
		if tid != s.Identity.PID {
			n, err := sc.ThreadCPUNum(tid)
			switch {
			case err == nil:
				cpu = n
			case errors.Is(err, inspect.ErrNoSuchProcess):
				// exited mid-read
			default:
				return fmt.Errorf("thread %d: %w", tid, err)
			}
		}
		s.place(topo, cpu)
	}
	return nil
}

func (s *Snapshot) place(topo Resolver, cpu int) {
	id := strconv.Itoa(cpu)
	core := topo.Resolve(id)
	s.Processors[id] = struct{}{}
	s.Cores[core] = struct{}{}
	s.Packages[core.Package] = struct{}{}
}

func exclude(pid int32, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrVanished):
		return &ExcludeError{PID: pid, Reason: err}
	case errors.Is(err, inspect.ErrNoSuchProcess):
		return &ExcludeError{PID: pid, Reason: fmt.Errorf("%w: %w", ErrVanished, err)}
	case errors.Is(err, inspect.ErrUnavailable):
		return &ExcludeError{PID: pid, Reason: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	default:
		return &ExcludeError{PID: pid, Reason: err}
	}
}
