// Package inspect is the process-inspection capability the sampler consumes.
//
// A Process is a handle bound to one process instance (PID plus creation
// time). Per-tick metrics are read inside a Scope obtained from Oneshot so
// that every field of one process is acquired together and the scope is
// released on every exit path.
package inspect

import (
	"context"
	"errors"
)

// ErrNoSuchProcess is returned (possibly wrapped) by every method once the
// process is gone. Callers treat it as "vanished", never as fatal.
var ErrNoSuchProcess = errors.New("inspect: no such process")

// Inspector opens process handles.
type Inspector interface {
	Open(ctx context.Context, pid int32) (Process, error)
}

// Process is a handle to a single process instance.
type Process interface {
	PID() int32
	// CreateTime is milliseconds since the epoch.
	CreateTime(ctx context.Context) (int64, error)
	// Running reports whether the same instance is alive and not a zombie.
	Running(ctx context.Context) (bool, error)
	// Children returns the direct child PIDs, ascending.
	Children(ctx context.Context) ([]int32, error)
	Oneshot(ctx context.Context) (Scope, error)
}

// Scope reads the fields of one process for a single tick.
type Scope interface {
	Running() (bool, error)
	Status() (string, error)
	// Threads returns the thread ids; the main thread's id equals the PID.
	Threads() ([]int32, error)
	// CPUNum is the logical CPU the process last ran on.
	CPUNum() (int, error)
	// ThreadCPUNum is the logical CPU thread tid last ran on.
	ThreadCPUNum(tid int32) (int, error)
	CPUTimes() (CPUTimes, error)
	// Memory fails with ErrUnavailable when USS/swap cannot be read.
	Memory() (Memory, error)
	MemoryPercent() (float64, error)
	IO() (IOCounters, error)
	Connections() ([]Connection, error)
	NumThreads() (int32, error)
	Cmdline() ([]string, error)
	Release()
}

// ErrUnavailable marks a field the platform or our privileges cannot provide.
var ErrUnavailable = errors.New("inspect: field unavailable")

// CPUTimes are in seconds.
type CPUTimes struct {
	User           float64
	System         float64
	ChildrenUser   float64
	ChildrenSystem float64
	IOWait         float64
}

// Total is user+system time of the process itself.
func (c CPUTimes) Total() float64 { return c.User + c.System }

// Memory values are in bytes.
type Memory struct {
	VMS  uint64
	RSS  uint64
	USS  uint64
	Swap uint64
}

type IOCounters struct {
	ReadCount  uint64
	WriteCount uint64
	ReadBytes  uint64
	WriteBytes uint64
	ReadChars  uint64
	WriteChars uint64
}

// Connection is a socket owned by the process. Family and Type use the
// AF_* and SOCK_* values of the host.
type Connection struct {
	Family uint32
	Type   uint32
	Status string
}

// TCP4 reports whether the socket is an IPv4 stream socket. IPv6 and
// datagram sockets are not counted as TCP connections.
func (c Connection) TCP4() bool {
	return c.Family == AFInet && c.Type == SockStream
}

// Status values, matching gopsutil's.
const (
	StatusRunning = "running"
	StatusSleep   = "sleep"
	StatusStop    = "stop"
	StatusIdle    = "idle"
	StatusZombie  = "zombie"
	StatusWait    = "wait"
	StatusLock    = "lock"
)
