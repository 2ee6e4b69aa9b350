// Package proc provides small, allocation-light readers for the /proc files
// treemon needs that gopsutil does not expose: the full stat line of a
// process or one of its threads (children CPU times, block-I/O delay, last
// processor), all six /proc/<pid>/io counters, the private/swap breakdown of
// smaps_rollup, the task list, and the direct children of a process.
//
// Every reader has a Parse* twin taking an io.Reader so the parsing can be
// tested against fixtures. Readers return the underlying *os.PathError when a
// file is missing, which callers treat as "process vanished".
//
// Permissions
//
//   - stat, task/<tid>/stat and task/*/children are world readable.
//   - io, smaps_rollup and smaps require the same uid or CAP_SYS_PTRACE.
//
// Package import path: github.com/ja7ad/treemon/pkg/system/proc
package proc
