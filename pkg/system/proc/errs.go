package proc

import "errors"

var (
	// ErrNoStat indicates that /proc/<pid>/stat was empty or malformed.
	ErrNoStat = errors.New("proc: malformed or empty stat")

	// ErrShortStat indicates that /proc/<pid>/stat had fewer fields than expected.
	ErrShortStat = errors.New("proc: short stat")

	// ErrNoIO indicates that /proc/<pid>/io carried none of the known counters.
	ErrNoIO = errors.New("proc: no io counters")

	// ErrNoUSS indicates that neither smaps_rollup nor smaps exposed private memory.
	ErrNoUSS = errors.New("proc: no unique set size")

	// ErrNoChildren indicates that /proc/<pid>/task/*/children contained none.
	ErrNoChildren = errors.New("proc: no children")

	// ErrNoProcess indicates that /proc/<pid> does not exist.
	ErrNoProcess = errors.New("proc: no such process")
)
