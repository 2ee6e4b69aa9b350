//go:build linux

package proc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/tklauser/go-sysconf"
	"golang.org/x/sys/unix"

	"github.com/ja7ad/treemon/pkg/types"
)

// ClockTicks returns the number of jiffies (clock ticks) per second.
// It first checks the env var CLK_TCK (useful for testing), then asks
// sysconf(_SC_CLK_TCK), and finally falls back to 100.
func ClockTicks() int {
	if v, _ := strconv.Atoi(os.Getenv("CLK_TCK")); v > 0 {
		return v
	}
	if v, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && v > 0 {
		return int(v)
	}
	return 100
}

// PageSize returns the system memory page size in bytes.
// Like ClockTicks, it first checks an env override (PAGE_SIZE).
func PageSize() int {
	if ps := os.Getenv("PAGE_SIZE"); ps != "" {
		if v, _ := strconv.Atoi(ps); v > 0 {
			return v
		}
	}
	return unix.Getpagesize()
}

// Exists reports whether a given PID currently exists in /proc.
func Exists(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}

//
// Per-PID readers
//

// Stat holds the /proc/<pid>/stat fields the sampler consumes. Times are raw
// jiffies; divide by ClockTicks for seconds.
type Stat struct {
	State      string
	UTime      uint64
	STime      uint64
	CUTime     uint64
	CSTime     uint64
	NumThreads int
	// Processor is the CPU the task last ran on.
	Processor int
	// BlkioTicks is delayacct_blkio_ticks, the time spent waiting on block I/O.
	BlkioTicks uint64
}

// Zombie reports whether the task is in a terminal state (Z or X).
func (s Stat) Zombie() bool {
	return s.State == "Z" || s.State == "X" || s.State == "x"
}

// ReadStat parses /proc/<pid>/stat.
func ReadStat(pid int) (Stat, error) {
	return readStatFile(fmt.Sprintf("/proc/%d/stat", pid))
}

// ReadThreadStat parses /proc/<pid>/task/<tid>/stat.
func ReadThreadStat(pid, tid int) (Stat, error) {
	return readStatFile(fmt.Sprintf("/proc/%d/task/%d/stat", pid, tid))
}

func readStatFile(path string) (Stat, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stat{}, err
	}
	defer f.Close()
	return ParseStat(f)
}

// ParseStat parses a single stat line.
//
// Caveats:
//   - comm (2nd field) is in parens and may contain spaces and parens. We
//     split at the last ") " so the remaining fields are positional.
//   - Field n of proc(5) lands at fields[n-3].
func ParseStat(r io.Reader) (Stat, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Stat{}, err
	}
	line := strings.TrimSpace(string(b))
	if line == "" {
		return Stat{}, ErrNoStat
	}

	open := strings.IndexByte(line, '(')
	i := strings.LastIndex(line, ") ")
	if open < 0 || i < open {
		return Stat{}, ErrNoStat
	}
	fields := strings.Fields(line[i+2:])
	if len(fields) < 37 {
		return Stat{}, ErrShortStat
	}

	get := func(idx int) uint64 {
		if idx >= len(fields) {
			return 0
		}
		v, _ := strconv.ParseUint(fields[idx], 10, 64)
		return v
	}
	processor, err := strconv.Atoi(fields[36])
	if err != nil {
		return Stat{}, fmt.Errorf("proc: processor field: %w", err)
	}

	return Stat{
		State:      fields[0],
		UTime:      get(11),
		STime:      get(12),
		CUTime:     get(13),
		CSTime:     get(14),
		NumThreads: int(get(17)),
		Processor:  processor,
		BlkioTicks: get(39),
	}, nil
}

// IO holds every counter of /proc/<pid>/io. Chars are what passed through
// read(2)/write(2); Bytes are what actually hit storage.
type IO struct {
	ReadChars  uint64
	WriteChars uint64
	ReadCount  uint64
	WriteCount uint64
	ReadBytes  uint64
	WriteBytes uint64
}

// ReadIO reads /proc/<pid>/io.
//
// Note: the file is only readable by the process owner (or with
// CAP_SYS_PTRACE); in that case you’ll get an error.
func ReadIO(pid int) (IO, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/io", pid))
	if err != nil {
		return IO{}, err
	}
	defer f.Close()
	return ParseIO(f)
}

func ParseIO(r io.Reader) (IO, error) {
	var out IO
	seen := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(val), 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "rchar":
			out.ReadChars = v
		case "wchar":
			out.WriteChars = v
		case "syscr":
			out.ReadCount = v
		case "syscw":
			out.WriteCount = v
		case "read_bytes":
			out.ReadBytes = v
		case "write_bytes":
			out.WriteBytes = v
		default:
			continue
		}
		seen++
	}
	if err := sc.Err(); err != nil {
		return IO{}, err
	}
	if seen == 0 {
		return IO{}, ErrNoIO
	}
	return out, nil
}

// Smaps is the memory breakdown summed over all mappings of a process.
type Smaps struct {
	USS  types.Bytes
	Swap types.Bytes
}

// ReadSmaps returns the private (unique) and swapped memory of a PID.
// It prefers smaps_rollup (aggregated, since kernel 4.14) and falls back to
// summing smaps. Both usually need ptrace access to the target.
func ReadSmaps(pid int) (Smaps, error) {
	if f, err := os.Open(fmt.Sprintf("/proc/%d/smaps_rollup", pid)); err == nil {
		defer f.Close()
		return ParseSmaps(f)
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/smaps", pid))
	if err != nil {
		return Smaps{}, err
	}
	defer f.Close()
	return ParseSmaps(f)
}

// ParseSmaps sums the kB lines of smaps or smaps_rollup. USS is
// Private_Clean + Private_Dirty + Private_Hugetlb.
func ParseSmaps(r io.Reader) (Smaps, error) {
	var (
		out     Smaps
		private bool
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fs := strings.Fields(sc.Text())
		if len(fs) < 2 || !strings.HasSuffix(fs[0], ":") {
			continue
		}
		kb, err := strconv.ParseUint(fs[1], 10, 64)
		if err != nil {
			continue
		}
		switch fs[0] {
		case "Private_Clean:", "Private_Dirty:", "Private_Hugetlb:":
			out.USS += types.KiB(kb)
			private = true
		case "Swap:":
			out.Swap += types.KiB(kb)
		}
	}
	if err := sc.Err(); err != nil {
		return Smaps{}, err
	}
	if !private {
		return Smaps{}, ErrNoUSS
	}
	return out, nil
}

// ReadTaskIDs lists the thread ids under /proc/<pid>/task, ascending.
func ReadTaskIDs(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		if tid, err := strconv.Atoi(e.Name()); err == nil {
			out = append(out, tid)
		}
	}
	slices.Sort(out)
	return out, nil
}

//
// Process tree
//

// ReadProcChildren returns the direct child PIDs of a process by reading
// /proc/<pid>/task/*/children files. Each children file lists space-separated
// PIDs for that thread’s children.
//
// Notes:
//   - Kernel 3.5+ exposes this interface (CONFIG_PROC_CHILDREN).
//   - We deduplicate across threads by using a set and return PIDs ascending.
//   - A PID that no longer exists yields ErrNoProcess; a live leaf yields ErrNoChildren.
func ReadProcChildren(pid int) ([]int, error) {
	glob := fmt.Sprintf("/proc/%d/task/*/children", pid)
	paths, _ := filepath.Glob(glob)
	if len(paths) == 0 && !Exists(pid) {
		return nil, ErrNoProcess
	}
	set := map[int]struct{}{}
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		for _, s := range strings.Fields(string(b)) {
			if id, err := strconv.Atoi(s); err == nil {
				set[id] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		return nil, ErrNoChildren
	}
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}
