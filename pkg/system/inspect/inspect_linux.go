//go:build linux

package inspect

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/ja7ad/treemon/pkg/system/proc"
)

// Linux inspects processes through gopsutil and the /proc readers of
// package proc (for the fields gopsutil does not expose).
type Linux struct {
	clkTck float64
}

// NewLinux returns an Inspector for the local host.
func NewLinux() *Linux {
	return &Linux{clkTck: float64(proc.ClockTicks())}
}

func (l *Linux) Open(ctx context.Context, pid int32) (Process, error) {
	if !proc.Exists(int(pid)) {
		return nil, fmt.Errorf("%w: pid %d", ErrNoSuchProcess, pid)
	}
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, classify(pid, err)
	}
	ct, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return nil, classify(pid, err)
	}
	return &linuxProcess{p: p, createTime: ct, clkTck: l.clkTck}, nil
}

type linuxProcess struct {
	p          *process.Process
	createTime int64
	clkTck     float64
}

func (lp *linuxProcess) PID() int32 { return lp.p.Pid }

func (lp *linuxProcess) CreateTime(context.Context) (int64, error) {
	return lp.createTime, nil
}

func (lp *linuxProcess) Running(ctx context.Context) (bool, error) {
	// IsRunning compares creation times, so a reused PID reports false.
	ok, err := lp.p.IsRunningWithContext(ctx)
	if err != nil {
		if errors.Is(classify(lp.p.Pid, err), ErrNoSuchProcess) {
			return false, nil
		}
		return false, err
	}
	if !ok {
		return false, nil
	}
	st, err := proc.ReadStat(int(lp.p.Pid))
	if err != nil {
		if errors.Is(classify(lp.p.Pid, err), ErrNoSuchProcess) {
			return false, nil
		}
		return false, err
	}
	return !st.Zombie(), nil
}

func (lp *linuxProcess) Children(context.Context) ([]int32, error) {
	kids, err := proc.ReadProcChildren(int(lp.p.Pid))
	switch {
	case errors.Is(err, proc.ErrNoChildren):
		return nil, nil
	case err != nil:
		return nil, classify(lp.p.Pid, err)
	}
	out := make([]int32, 0, len(kids))
	for _, k := range kids {
		out = append(out, int32(k))
	}
	return out, nil
}

// Oneshot reads /proc/<pid>/stat once; CPU times, thread count, state and
// the process-level CPU number of the scope all come from that single read.
func (lp *linuxProcess) Oneshot(ctx context.Context) (Scope, error) {
	st, err := proc.ReadStat(int(lp.p.Pid))
	if err != nil {
		return nil, classify(lp.p.Pid, err)
	}
	return &linuxScope{ctx: ctx, lp: lp, stat: st}, nil
}

type linuxScope struct {
	ctx      context.Context
	lp       *linuxProcess
	stat     proc.Stat
	released bool
}

var errReleased = errors.New("inspect: scope released")

func (s *linuxScope) pid() int32 { return s.lp.p.Pid }

func (s *linuxScope) Running() (bool, error) {
	if s.released {
		return false, errReleased
	}
	if s.stat.Zombie() {
		return false, nil
	}
	return s.lp.Running(s.ctx)
}

func (s *linuxScope) Status() (string, error) {
	st, err := s.lp.p.StatusWithContext(s.ctx)
	if err != nil {
		return "", classify(s.pid(), err)
	}
	if len(st) == 0 {
		return "", nil
	}
	return st[0], nil
}

func (s *linuxScope) Threads() ([]int32, error) {
	tids, err := proc.ReadTaskIDs(int(s.pid()))
	if err != nil {
		return nil, classify(s.pid(), err)
	}
	out := make([]int32, 0, len(tids))
	for _, t := range tids {
		out = append(out, int32(t))
	}
	return out, nil
}

func (s *linuxScope) CPUNum() (int, error) { return s.stat.Processor, nil }

func (s *linuxScope) ThreadCPUNum(tid int32) (int, error) {
	st, err := proc.ReadThreadStat(int(s.pid()), int(tid))
	if err != nil {
		return 0, classify(s.pid(), err)
	}
	return st.Processor, nil
}

func (s *linuxScope) CPUTimes() (CPUTimes, error) {
	tck := s.lp.clkTck
	return CPUTimes{
		User:           float64(s.stat.UTime) / tck,
		System:         float64(s.stat.STime) / tck,
		ChildrenUser:   float64(s.stat.CUTime) / tck,
		ChildrenSystem: float64(s.stat.CSTime) / tck,
		IOWait:         float64(s.stat.BlkioTicks) / tck,
	}, nil
}

func (s *linuxScope) Memory() (Memory, error) {
	mi, err := s.lp.p.MemoryInfoWithContext(s.ctx)
	if err != nil {
		return Memory{}, classify(s.pid(), err)
	}
	sm, err := proc.ReadSmaps(int(s.pid()))
	if err != nil {
		if errors.Is(err, proc.ErrNoUSS) {
			return Memory{}, fmt.Errorf("%w: pid %d: %w", ErrUnavailable, s.pid(), err)
		}
		return Memory{}, classify(s.pid(), err)
	}
	return Memory{
		VMS:  mi.VMS,
		RSS:  mi.RSS,
		USS:  sm.USS.ToUint64(),
		Swap: sm.Swap.ToUint64(),
	}, nil
}

func (s *linuxScope) MemoryPercent() (float64, error) {
	v, err := s.lp.p.MemoryPercentWithContext(s.ctx)
	if err != nil {
		return 0, classify(s.pid(), err)
	}
	return float64(v), nil
}

func (s *linuxScope) IO() (IOCounters, error) {
	c, err := proc.ReadIO(int(s.pid()))
	if err != nil {
		return IOCounters{}, classify(s.pid(), err)
	}
	return IOCounters{
		ReadCount:  c.ReadCount,
		WriteCount: c.WriteCount,
		ReadBytes:  c.ReadBytes,
		WriteBytes: c.WriteBytes,
		ReadChars:  c.ReadChars,
		WriteChars: c.WriteChars,
	}, nil
}

func (s *linuxScope) Connections() ([]Connection, error) {
	conns, err := s.lp.p.ConnectionsWithContext(s.ctx)
	if err != nil {
		return nil, classify(s.pid(), err)
	}
	out := make([]Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, Connection{Family: c.Family, Type: c.Type, Status: c.Status})
	}
	return out, nil
}

func (s *linuxScope) NumThreads() (int32, error) { return int32(s.stat.NumThreads), nil }

func (s *linuxScope) Cmdline() ([]string, error) {
	args, err := s.lp.p.CmdlineSliceWithContext(s.ctx)
	if err != nil {
		return nil, classify(s.pid(), err)
	}
	return args, nil
}

func (s *linuxScope) Release() {
	s.released = true
	s.stat = proc.Stat{}
}

// classify maps the many shapes of "the process is gone" onto
// ErrNoSuchProcess and permission failures onto ErrUnavailable.
func classify(pid int32, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoSuchProcess), errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, process.ErrorProcessNotRunning),
		errors.Is(err, proc.ErrNoProcess),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, unix.ESRCH):
		return fmt.Errorf("%w: pid %d: %w", ErrNoSuchProcess, pid, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: pid %d: %w", ErrUnavailable, pid, err)
	default:
		return fmt.Errorf("inspect: pid %d: %w", pid, err)
	}
}
