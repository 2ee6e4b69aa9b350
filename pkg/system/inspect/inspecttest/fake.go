// Package inspecttest provides a scripted in-memory Inspector for tests of
// the walker, the snapshot extraction and the sampling loop.
package inspecttest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ja7ad/treemon/pkg/system/inspect"
)

// Proc describes one fake process. Zero values are sensible defaults: a
// running process with only its main thread, on CPU 0.
type Proc struct {
	PID        int32
	CreateTime int64
	Parent     int32
	Status     string
	CPU        int
	// Threads maps tid to the CPU it last ran on. Empty means only the
	// main thread (tid == PID).
	Threads map[int32]int
	// Unqueryable thread ids fail ThreadCPUNum.
	Unqueryable []int32
	Times       inspect.CPUTimes
	Memory      inspect.Memory
	MemoryPct   float64
	IO          inspect.IOCounters
	Conns       []inspect.Connection
	Cmdline     []string
	NumThreads  int32

	// Injected failures.
	OneshotErr error
	MemoryErr  error
	IOErr      error
}

// Fake is a mutable process table.
type Fake struct {
	mu    sync.Mutex
	procs map[int32]Proc

	// BeforeOneshot, when set, runs at the start of every Oneshot call.
	BeforeOneshot func(pid int32)

	released int
	opened   int
}

func New(procs ...Proc) *Fake {
	f := &Fake{procs: make(map[int32]Proc)}
	for _, p := range procs {
		f.Set(p)
	}
	return f
}

// Set adds or replaces a process.
func (f *Fake) Set(p Proc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Status == "" {
		p.Status = inspect.StatusRunning
	}
	f.procs[p.PID] = p
}

// Remove makes a process disappear.
func (f *Fake) Remove(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.procs, pid)
}

// Update mutates a process in place; it is a no-op for unknown PIDs.
func (f *Fake) Update(pid int32, fn func(*Proc)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok {
		return
	}
	fn(&p)
	f.procs[pid] = p
}

// Scopes reports how many scopes were opened and released.
func (f *Fake) Scopes() (opened, released int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.released
}

func (f *Fake) lookup(pid int32, createTime int64) (Proc, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok || p.CreateTime != createTime {
		return Proc{}, false
	}
	return p, true
}

func gone(pid int32) error {
	return fmt.Errorf("%w: pid %d", inspect.ErrNoSuchProcess, pid)
}

func (f *Fake) Open(_ context.Context, pid int32) (inspect.Process, error) {
	f.mu.Lock()
	p, ok := f.procs[pid]
	f.mu.Unlock()
	if !ok {
		return nil, gone(pid)
	}
	return &handle{f: f, pid: pid, createTime: p.CreateTime}, nil
}

type handle struct {
	f          *Fake
	pid        int32
	createTime int64
}

func (h *handle) PID() int32 { return h.pid }

func (h *handle) CreateTime(context.Context) (int64, error) { return h.createTime, nil }

func (h *handle) Running(context.Context) (bool, error) {
	p, ok := h.f.lookup(h.pid, h.createTime)
	return ok && p.Status != inspect.StatusZombie, nil
}

func (h *handle) Children(context.Context) ([]int32, error) {
	if _, ok := h.f.lookup(h.pid, h.createTime); !ok {
		return nil, gone(h.pid)
	}
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	var kids []int32
	for pid, p := range h.f.procs {
		if p.Parent == h.pid && pid != h.pid {
			kids = append(kids, pid)
		}
	}
	slices.Sort(kids)
	return kids, nil
}

func (h *handle) Oneshot(context.Context) (inspect.Scope, error) {
	if h.f.BeforeOneshot != nil {
		h.f.BeforeOneshot(h.pid)
	}
	p, ok := h.f.lookup(h.pid, h.createTime)
	if !ok {
		return nil, gone(h.pid)
	}
	if p.OneshotErr != nil {
		return nil, p.OneshotErr
	}
	h.f.mu.Lock()
	h.f.opened++
	h.f.mu.Unlock()
	return &scope{f: h.f, p: p}, nil
}

type scope struct {
	f *Fake
	p Proc
}

func (s *scope) Running() (bool, error) { return s.p.Status != inspect.StatusZombie, nil }
func (s *scope) Status() (string, error) { return s.p.Status, nil }

func (s *scope) Threads() ([]int32, error) {
	if len(s.p.Threads) == 0 {
		return []int32{s.p.PID}, nil
	}
	tids := make([]int32, 0, len(s.p.Threads))
	for tid := range s.p.Threads {
		tids = append(tids, tid)
	}
	slices.Sort(tids)
	return tids, nil
}

func (s *scope) CPUNum() (int, error) { return s.p.CPU, nil }

func (s *scope) ThreadCPUNum(tid int32) (int, error) {
	if slices.Contains(s.p.Unqueryable, tid) {
		return 0, gone(tid)
	}
	if cpu, ok := s.p.Threads[tid]; ok {
		return cpu, nil
	}
	if tid == s.p.PID {
		return s.p.CPU, nil
	}
	return 0, gone(tid)
}

func (s *scope) CPUTimes() (inspect.CPUTimes, error) { return s.p.Times, nil }

func (s *scope) Memory() (inspect.Memory, error) {
	if s.p.MemoryErr != nil {
		return inspect.Memory{}, s.p.MemoryErr
	}
	return s.p.Memory, nil
}

func (s *scope) MemoryPercent() (float64, error) { return s.p.MemoryPct, nil }

func (s *scope) IO() (inspect.IOCounters, error) {
	if s.p.IOErr != nil {
		return inspect.IOCounters{}, s.p.IOErr
	}
	return s.p.IO, nil
}

func (s *scope) Connections() ([]inspect.Connection, error) { return s.p.Conns, nil }

func (s *scope) NumThreads() (int32, error) {
	if s.p.NumThreads > 0 {
		return s.p.NumThreads, nil
	}
	if len(s.p.Threads) > 0 {
		return int32(len(s.p.Threads)), nil
	}
	return 1, nil
}

func (s *scope) Cmdline() ([]string, error) { return s.p.Cmdline, nil }

func (s *scope) Release() {
	s.f.mu.Lock()
	s.f.released++
	s.f.mu.Unlock()
}
