// Package topology resolves logical CPUs to the physical core and package
// they belong to, from the per-processor blocks of /proc/cpuinfo.
package topology

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultPath is where the kernel exposes the per-processor blocks.
const DefaultPath = "/proc/cpuinfo"

// UnknownPackage is the package id reported for logical CPUs that are not in
// the topology.
const UnknownPackage = "unknown"

// ErrTopologyUnavailable is returned when the source cannot be read or holds
// no processor block. Affinity cannot be computed without it.
var ErrTopologyUnavailable = errors.New("topology: unavailable")

// CoreIdentity identifies a physical core. Logical CPUs sharing it are
// hyperthread siblings.
type CoreIdentity struct {
	Package string
	Core    string
}

// Field is one cpuinfo key with every value it had in the block, in order.
type Field struct {
	Key    string
	Values []string
}

// Package describes one physical package: the fields of the first block seen
// for it plus every logical CPU that belongs to it.
type Package struct {
	ID         string
	Fields     []Field
	Processors []string
}

// MarshalJSON keeps the cpuinfo key order. Single-valued keys are strings,
// repeated keys are arrays; "processors" lists the member logical CPUs.
func (p Package) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, f := range p.Fields {
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		var v []byte
		if len(f.Values) == 1 {
			v, err = json.Marshal(f.Values[0])
		} else {
			v, err = json.Marshal(f.Values)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		buf.WriteByte(',')
	}
	procs, err := json.Marshal(p.Processors)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`"processors":`)
	buf.Write(procs)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Affinity is one row of core_affinity.json.
type Affinity struct {
	ProcessorID string `json:"processor_id"`
	CPUID       string `json:"cpu_id"`
	CoreID      string `json:"core_id"`
}

// Topology is immutable once built.
type Topology struct {
	cores    map[string]CoreIdentity
	order    []string
	packages []*Package
	byID     map[string]*Package
}

// Build reads and parses the topology at path (DefaultPath when empty).
func Build(path string) (*Topology, error) {
	if path == "" {
		path = DefaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTopologyUnavailable, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads blank-line separated key/value blocks, one per logical CPU.
// A line without a colon ends the current block; a trailing block without a
// terminator is flushed at end of input.
func Parse(r io.Reader) (*Topology, error) {
	t := &Topology{
		cores: make(map[string]CoreIdentity),
		byID:  make(map[string]*Package),
	}

	var blk block
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			t.flush(&blk)
			continue
		}
		blk.add(strings.TrimSpace(key), strings.TrimSpace(val))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTopologyUnavailable, err)
	}
	t.flush(&blk)

	if len(t.order) == 0 {
		return nil, fmt.Errorf("%w: no processor entries", ErrTopologyUnavailable)
	}
	return t, nil
}

func (t *Topology) flush(b *block) {
	defer b.reset()

	processor, ok := b.first("processor")
	if !ok {
		return
	}
	if _, dup := t.cores[processor]; dup {
		return
	}
	pkgID, ok := b.first("physical id")
	if !ok {
		pkgID = "0"
	}
	coreID, ok := b.first("core id")
	if !ok {
		coreID = processor
	}

	t.cores[processor] = CoreIdentity{Package: pkgID, Core: coreID}
	t.order = append(t.order, processor)

	pkg, seen := t.byID[pkgID]
	if !seen {
		pkg = &Package{ID: pkgID, Fields: b.clone()}
		t.byID[pkgID] = pkg
		t.packages = append(t.packages, pkg)
	}
	pkg.Processors = append(pkg.Processors, processor)
}

// CoreOf returns the core a logical CPU belongs to.
func (t *Topology) CoreOf(cpu string) (CoreIdentity, bool) {
	c, ok := t.cores[cpu]
	return c, ok
}

// PackageOf returns the physical package a logical CPU belongs to.
func (t *Topology) PackageOf(cpu string) (string, bool) {
	c, ok := t.cores[cpu]
	if !ok {
		return UnknownPackage, false
	}
	return c.Package, true
}

// Resolve never fails: a logical CPU missing from the topology gets its own
// degenerate core in the unknown package, so it still counts as distinct.
func (t *Topology) Resolve(cpu string) CoreIdentity {
	if c, ok := t.cores[cpu]; ok {
		return c
	}
	return CoreIdentity{Package: UnknownPackage, Core: "unknown-" + cpu}
}

// Packages returns the package descriptors in first-seen order.
func (t *Topology) Packages() []Package {
	out := make([]Package, 0, len(t.packages))
	for _, p := range t.packages {
		out = append(out, Package{
			ID:         p.ID,
			Fields:     p.Fields,
			Processors: append([]string(nil), p.Processors...),
		})
	}
	return out
}

// Affinity lists every logical CPU with its package and core, in input order.
func (t *Topology) Affinity() []Affinity {
	out := make([]Affinity, 0, len(t.order))
	for _, cpu := range t.order {
		c := t.cores[cpu]
		out = append(out, Affinity{ProcessorID: cpu, CPUID: c.Package, CoreID: c.Core})
	}
	return out
}

// NumLogical is the number of logical CPUs in the topology.
func (t *Topology) NumLogical() int { return len(t.order) }

// NumPackages is the number of physical packages in the topology.
func (t *Topology) NumPackages() int { return len(t.packages) }

// block accumulates one processor's key/value lines. Repeated keys append.
type block struct {
	keys []string
	vals map[string][]string
}

func (b *block) add(key, val string) {
	if b.vals == nil {
		b.vals = make(map[string][]string)
	}
	if _, ok := b.vals[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.vals[key] = append(b.vals[key], val)
}

func (b *block) first(key string) (string, bool) {
	v := b.vals[key]
	if len(v) == 0 {
		return "", false
	}
	return v[0], true
}

func (b *block) clone() []Field {
	out := make([]Field, 0, len(b.keys))
	for _, k := range b.keys {
		out = append(out, Field{Key: k, Values: append([]string(nil), b.vals[k]...)})
	}
	return out
}

func (b *block) reset() {
	b.keys = nil
	b.vals = nil
}
