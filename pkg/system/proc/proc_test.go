//go:build linux

package proc

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/treemon/pkg/types"
)

const statFixture = "1234 (my (weird) proc) S 1 1234 1234 0 -1 4194304 100 0 2 0 50 25 3 4 20 0 3 0 12345 " +
	"10000000 500 18446744073709551615 1 1 0 0 0 0 0 0 0 0 0 0 17 5 0 0 7 0 0 0 0 0 0 0 0 0 0\n"

func TestClockTicksAndPageSize(t *testing.T) {
	t.Setenv("CLK_TCK", "")
	t.Setenv("PAGE_SIZE", "")
	assert.Greater(t, ClockTicks(), 0, "ClockTicks must be > 0")
	assert.Greater(t, PageSize(), 0, "PageSize must be > 0")

	t.Setenv("CLK_TCK", "250")
	t.Setenv("PAGE_SIZE", "16384")
	assert.Equal(t, 250, ClockTicks())
	assert.Equal(t, 16384, PageSize())
}

func TestExists(t *testing.T) {
	assert.True(t, Exists(os.Getpid()), "current PID should exist")
	assert.False(t, Exists(999999999), "very large PID should not exist")
}

func TestParseStat_Fixture(t *testing.T) {
	st, err := ParseStat(strings.NewReader(statFixture))
	require.NoError(t, err)

	// comm contains ") "; positional fields still line up
	assert.Equal(t, "S", st.State)
	assert.Equal(t, uint64(50), st.UTime)
	assert.Equal(t, uint64(25), st.STime)
	assert.Equal(t, uint64(3), st.CUTime)
	assert.Equal(t, uint64(4), st.CSTime)
	assert.Equal(t, 3, st.NumThreads)
	assert.Equal(t, 5, st.Processor)
	assert.Equal(t, uint64(7), st.BlkioTicks)
	assert.False(t, st.Zombie())
}

func TestParseStat_Malformed(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := ParseStat(strings.NewReader(""))
		require.ErrorIs(t, err, ErrNoStat)
	})
	t.Run("no_comm", func(t *testing.T) {
		_, err := ParseStat(strings.NewReader("1234 S 1 2 3"))
		require.ErrorIs(t, err, ErrNoStat)
	})
	t.Run("short", func(t *testing.T) {
		_, err := ParseStat(strings.NewReader("1234 (x) S 1 2 3"))
		require.ErrorIs(t, err, ErrShortStat)
	})
}

func TestParseStat_Zombie(t *testing.T) {
	line := strings.Replace(statFixture, ") S ", ") Z ", 1)
	st, err := ParseStat(strings.NewReader(line))
	require.NoError(t, err)
	assert.True(t, st.Zombie())
}

func TestReadStat_Self(t *testing.T) {
	me := os.Getpid()
	st, err := ReadStat(me)
	require.NoError(t, err)
	assert.Contains(t, []string{"R", "S", "D"}, st.State)
	assert.GreaterOrEqual(t, st.NumThreads, 1)
	assert.GreaterOrEqual(t, st.Processor, 0)

	// counters must not go backwards
	time.Sleep(5 * time.Millisecond)
	st2, err := ReadStat(me)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st2.UTime, st.UTime)
	assert.GreaterOrEqual(t, st2.STime, st.STime)
}

func TestReadThreadStat_MainThread(t *testing.T) {
	me := os.Getpid()
	st, err := ReadThreadStat(me, me)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.Processor, 0)
}

func TestReadStat_NoSuchPid(t *testing.T) {
	_, err := ReadStat(999999999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseIO(t *testing.T) {
	in := `rchar: 1000
wchar: 2000
syscr: 10
syscw: 20
read_bytes: 4096
write_bytes: 8192
cancelled_write_bytes: 0
`
	io, err := ParseIO(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, IO{
		ReadChars: 1000, WriteChars: 2000,
		ReadCount: 10, WriteCount: 20,
		ReadBytes: 4096, WriteBytes: 8192,
	}, io)

	_, err = ParseIO(strings.NewReader("garbage\n"))
	require.ErrorIs(t, err, ErrNoIO)
}

func TestReadIO_Self(t *testing.T) {
	me := os.Getpid()
	c0, err := ReadIO(me)
	// Some environments may not expose /proc/<pid>/io (rare), so allow skip
	if err != nil {
		t.Skipf("skipping: /proc/%d/io not available: %v", me, err)
	}
	f, err := os.CreateTemp(t.TempDir(), "io_*")
	require.NoError(t, err)
	_, _ = f.Write(make([]byte, 4096))
	_ = f.Close()

	c1, err := ReadIO(me)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, c1.WriteChars, c0.WriteChars+4096)
	assert.GreaterOrEqual(t, c1.WriteCount, c0.WriteCount+1)
}

func TestParseSmaps(t *testing.T) {
	t.Run("rollup", func(t *testing.T) {
		in := `55d0c0a00000-7ffd1b5fe000 ---p 00000000 00:00 0                          [rollup]
Rss:                3000 kB
Pss:                2000 kB
Shared_Clean:        800 kB
Shared_Dirty:          0 kB
Private_Clean:       200 kB
Private_Dirty:      1000 kB
Private_Hugetlb:       0 kB
Swap:                 64 kB
`
		sm, err := ParseSmaps(strings.NewReader(in))
		require.NoError(t, err)
		assert.Equal(t, types.KiB(1200), sm.USS)
		assert.Equal(t, types.KiB(64), sm.Swap)
	})
	t.Run("smaps_sums_mappings", func(t *testing.T) {
		in := `00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/dbus-daemon
Rss:                 100 kB
Private_Clean:        10 kB
Private_Dirty:         5 kB
Swap:                  1 kB
VmFlags: rd ex mr mw me dw
00651000-00652000 r--p 00051000 08:02 173521      /usr/bin/dbus-daemon
Rss:                  50 kB
Private_Clean:         0 kB
Private_Dirty:        20 kB
Swap:                  2 kB
`
		sm, err := ParseSmaps(strings.NewReader(in))
		require.NoError(t, err)
		assert.Equal(t, types.KiB(35), sm.USS)
		assert.Equal(t, types.KiB(3), sm.Swap)
	})
	t.Run("no_private_lines", func(t *testing.T) {
		_, err := ParseSmaps(strings.NewReader("Rss: 1 kB\n"))
		require.ErrorIs(t, err, ErrNoUSS)
	})
}

func TestReadSmaps_Self(t *testing.T) {
	sm, err := ReadSmaps(os.Getpid())
	if err != nil {
		t.Skipf("skipping: smaps not readable for self: %v", err)
	}
	assert.Greater(t, sm.USS, types.Bytes(0))
}

func TestReadTaskIDs_Self(t *testing.T) {
	me := os.Getpid()
	tids, err := ReadTaskIDs(me)
	require.NoError(t, err)
	require.NotEmpty(t, tids)
	assert.Contains(t, tids, me, "main thread id equals the pid")
	assert.IsIncreasing(t, tids)
}

func TestReadProcChildren_NoSuchPid(t *testing.T) {
	_, err := ReadProcChildren(999999999)
	require.ErrorIs(t, err, ErrNoProcess)
}

func TestReadProcChildren_SpawnedChild(t *testing.T) {
	p, err := os.StartProcess("/bin/sleep", []string{"sleep", "2"}, &os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	})
	if err != nil {
		t.Skipf("skip: cannot start /bin/sleep: %v", err)
	}
	defer func() {
		_ = p.Kill()
		_, _ = p.Wait()
	}()

	children, err := ReadProcChildren(os.Getpid())
	if errors.Is(err, ErrNoChildren) {
		t.Skip("skip: kernel does not expose task/*/children")
	}
	require.NoError(t, err)
	assert.Contains(t, children, p.Pid)
}
