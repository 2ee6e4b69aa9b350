package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cpuinfoBlock renders one x86-style processor block.
func cpuinfoBlock(processor, physical, core int) string {
	return fmt.Sprintf(`processor	: %d
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) CPU E5-2620 v4 @ 2.10GHz
physical id	: %d
siblings	: 4
core id		: %d
cpu cores	: 2
flags		: fpu vme de pse
`, processor, physical, core)
}

// twoSocketHT is 2 packages x 2 cores x 2 hyperthreads, enumerated the way
// Linux does: all first siblings, then all second siblings.
func twoSocketHT(trailingBlank bool) string {
	var blocks []string
	p := 0
	for ht := 0; ht < 2; ht++ {
		for pkg := 0; pkg < 2; pkg++ {
			for core := 0; core < 2; core++ {
				blocks = append(blocks, cpuinfoBlock(p, pkg, core))
				p++
			}
		}
	}
	out := strings.Join(blocks, "\n")
	if trailingBlank {
		out += "\n"
	}
	return out
}

func TestParse_TwoSocketHT(t *testing.T) {
	topo, err := Parse(strings.NewReader(twoSocketHT(true)))
	require.NoError(t, err)

	assert.Equal(t, 8, topo.NumLogical())
	assert.Equal(t, 2, topo.NumPackages())

	// hyperthread siblings share a core identity
	c0, ok := topo.CoreOf("0")
	require.True(t, ok)
	c4, ok := topo.CoreOf("4")
	require.True(t, ok)
	assert.Equal(t, CoreIdentity{Package: "0", Core: "0"}, c0)
	assert.Equal(t, c0, c4)

	// same core id on a different package is a different core
	c2, _ := topo.CoreOf("2")
	assert.Equal(t, CoreIdentity{Package: "1", Core: "0"}, c2)
	assert.NotEqual(t, c0, c2)

	pkg, ok := topo.PackageOf("7")
	require.True(t, ok)
	assert.Equal(t, "1", pkg)

	pkgs := topo.Packages()
	require.Len(t, pkgs, 2)
	assert.Equal(t, []string{"0", "1", "4", "5"}, pkgs[0].Processors)
	assert.Equal(t, []string{"2", "3", "6", "7"}, pkgs[1].Processors)
}

func TestParse_EveryCPUInExactlyOnePackage(t *testing.T) {
	for _, trailing := range []bool{true, false} {
		t.Run(fmt.Sprintf("trailing_blank_%v", trailing), func(t *testing.T) {
			topo, err := Parse(strings.NewReader(twoSocketHT(trailing)))
			require.NoError(t, err)

			membership := map[string]int{}
			for _, p := range topo.Packages() {
				for _, cpu := range p.Processors {
					membership[cpu]++
				}
			}
			require.Len(t, membership, topo.NumLogical())
			for _, a := range topo.Affinity() {
				assert.Equal(t, 1, membership[a.ProcessorID], "cpu %s", a.ProcessorID)
				_, ok := topo.CoreOf(a.ProcessorID)
				assert.True(t, ok, "CoreOf must be defined for %s", a.ProcessorID)
			}
		})
	}
}

func TestParse_TrailingBlockWithoutTerminatorIsFlushed(t *testing.T) {
	in := cpuinfoBlock(0, 0, 0) + "\n" + strings.TrimSuffix(cpuinfoBlock(1, 3, 0), "\n")
	topo, err := Parse(strings.NewReader(in))
	require.NoError(t, err)

	require.Equal(t, 2, topo.NumLogical())
	pkg, ok := topo.PackageOf("1")
	require.True(t, ok)
	assert.Equal(t, "3", pkg)
	require.Len(t, topo.Packages(), 2, "a new package seen only in the trailing block must be stored")
}

func TestParse_RepeatedKeysAppend(t *testing.T) {
	in := "processor : 0\nphysical id : 0\ncore id : 0\nflags : a\nflags : b\n"
	topo, err := Parse(strings.NewReader(in))
	require.NoError(t, err)

	pkgs := topo.Packages()
	require.Len(t, pkgs, 1)
	var flags []string
	for _, f := range pkgs[0].Fields {
		if f.Key == "flags" {
			flags = f.Values
		}
	}
	assert.Equal(t, []string{"a", "b"}, flags)
}

func TestParse_PackageKeepsFirstBlockFields(t *testing.T) {
	in := "processor : 0\nphysical id : 0\ncore id : 0\ncpu MHz : 1200.000\n\n" +
		"processor : 1\nphysical id : 0\ncore id : 1\ncpu MHz : 3400.000\n"
	topo, err := Parse(strings.NewReader(in))
	require.NoError(t, err)

	pkgs := topo.Packages()
	require.Len(t, pkgs, 1)
	b, err := json.Marshal(pkgs[0])
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"processor":"0","physical id":"0","core id":"0","cpu MHz":"1200.000","processors":["0","1"]}`,
		string(b))
}

func TestParse_ValueWithColonsIsKept(t *testing.T) {
	in := "processor : 0\nphysical id : 0\ncore id : 0\naddress sizes : 46 bits physical, 48 bits virtual\nbugs : a:b\n"
	topo, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	b, err := json.Marshal(topo.Packages()[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"bugs":"a:b"`)
}

func TestParse_ARMWithoutPhysicalOrCoreID(t *testing.T) {
	in := `processor	: 0
BogoMIPS	: 108.00
CPU part	: 0xd08

processor	: 1
BogoMIPS	: 108.00
CPU part	: 0xd08

Hardware	: BCM2835
Serial		: 10000000abcdef
`
	topo, err := Parse(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, 2, topo.NumLogical(), "the Hardware trailer has no processor and is ignored")
	c0, _ := topo.CoreOf("0")
	c1, _ := topo.CoreOf("1")
	assert.Equal(t, CoreIdentity{Package: "0", Core: "0"}, c0)
	assert.Equal(t, CoreIdentity{Package: "0", Core: "1"}, c1)
	assert.Equal(t, 1, topo.NumPackages())
}

func TestParse_BlankRunsAndDuplicates(t *testing.T) {
	in := "\n\n" + cpuinfoBlock(0, 0, 0) + "\n\n\n" + cpuinfoBlock(0, 1, 1) + "\n"
	topo, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 1, topo.NumLogical())
	c, _ := topo.CoreOf("0")
	assert.Equal(t, CoreIdentity{Package: "0", Core: "0"}, c, "first block for a processor wins")
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	require.ErrorIs(t, err, ErrTopologyUnavailable)

	_, err = Parse(strings.NewReader("Hardware : BCM2835\n"))
	require.ErrorIs(t, err, ErrTopologyUnavailable)
}

func TestResolve_Unknown(t *testing.T) {
	topo, err := Parse(strings.NewReader(cpuinfoBlock(0, 0, 0)))
	require.NoError(t, err)

	_, ok := topo.CoreOf("17")
	assert.False(t, ok)
	pkg, ok := topo.PackageOf("17")
	assert.False(t, ok)
	assert.Equal(t, UnknownPackage, pkg)

	u17 := topo.Resolve("17")
	u18 := topo.Resolve("18")
	assert.Equal(t, UnknownPackage, u17.Package)
	assert.NotEqual(t, u17, u18, "each unknown cpu is its own bucket")
	assert.Equal(t, CoreIdentity{Package: "0", Core: "0"}, topo.Resolve("0"))
}

func TestAffinity_JSON(t *testing.T) {
	topo, err := Parse(strings.NewReader(cpuinfoBlock(0, 0, 0) + "\n" + cpuinfoBlock(1, 0, 1)))
	require.NoError(t, err)

	b, err := json.Marshal(topo.Affinity())
	require.NoError(t, err)
	assert.JSONEq(t,
		`[{"processor_id":"0","cpu_id":"0","core_id":"0"},{"processor_id":"1","cpu_id":"0","core_id":"1"}]`,
		string(b))
}

func TestBuild(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		_, err := Build(filepath.Join(t.TempDir(), "nope"))
		require.ErrorIs(t, err, ErrTopologyUnavailable)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("fixture_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cpuinfo")
		require.NoError(t, os.WriteFile(path, []byte(twoSocketHT(true)), 0o644))
		topo, err := Build(path)
		require.NoError(t, err)
		assert.Equal(t, 8, topo.NumLogical())
	})
	t.Run("host", func(t *testing.T) {
		if _, err := os.Stat(DefaultPath); err != nil {
			t.Skip("no /proc/cpuinfo on this host")
		}
		topo, err := Build("")
		require.NoError(t, err)
		assert.Greater(t, topo.NumLogical(), 0)
	})
}
