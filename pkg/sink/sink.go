// Package sink writes the artifacts of one sampling run into its directory:
// the topology files, the PID registry, one metrics series per process
// instance and the aggregate series.
//
// Every write opens, appends and closes its file, so a run killed at any
// point leaves complete rows behind.
package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ja7ad/treemon/pkg/aggregate"
	"github.com/ja7ad/treemon/pkg/ledger"
	"github.com/ja7ad/treemon/pkg/snapshot"
	"github.com/ja7ad/treemon/pkg/system/topology"
	"github.com/ja7ad/treemon/pkg/types"
)

const (
	CPUDetailsFile   = "cpu_details.json"
	CoreAffinityFile = "core_affinity.json"
	ReferencePIDFile = "reference_pid.txt"
	ManifestFile     = "run.json"
	RegistryFile     = "pids.txt"
	AggregateFile    = "agg_metrics.tsv"
)

var (
	MetricsHeader = []string{
		"Time", "PID", "Virt", "Res", "CPU", "Memory", "TCP Connections", "Thread Count",
		"User", "System", "Children_User", "Children_System", "IO",
		"uss", "swap", "processor_num", "core_num", "cpu_num", "process_status",
		"read_count", "write_count", "read_bytes", "write_bytes", "read_chars", "write_chars",
	}
	RegistryHeader  = []string{"Time", "PID", "create_time"}
	AggregateHeader = []string{
		"Time", "numpids", "numthreads", "maxprocessors", "maxcores", "maxcpus", "sumuss", "sumswap",
		"sum_read_count", "sum_write_count", "sum_read_bytes", "sum_write_bytes", "sum_read_chars", "sum_write_chars",
	}
)

func MetricsFile(id types.Identity) string { return "metrics-" + id.Stem() + ".csv" }
func CommandText(id types.Identity) string { return "command-" + id.Stem() + ".txt" }
func CommandJSON(id types.Identity) string { return "command-" + id.Stem() + ".json" }

func RunDirName(rootPID int32, at time.Time, layout string) string {
	return fmt.Sprintf("%s-%d", at.Format(layout), rootPID)
}

// Run is the output directory of one run.
type Run struct {
	dir      string
	tsLayout string
}

// Create makes <base>/<at formatted with dirLayout>-<rootPID>. An existing
// directory is reused.
func Create(base string, rootPID int32, at time.Time, dirLayout, tsLayout string) (*Run, error) {
	dir := filepath.Join(base, RunDirName(rootPID, at, dirLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create run dir: %w", err)
	}
	return &Run{dir: dir, tsLayout: tsLayout}, nil
}

func (r *Run) Dir() string { return r.dir }

func (r *Run) path(name string) string { return filepath.Join(r.dir, name) }

// WriteTopology writes cpu_details.json and core_affinity.json.
func (r *Run) WriteTopology(t *topology.Topology) error {
	if err := r.writeJSON(CPUDetailsFile, t.Packages()); err != nil {
		return err
	}
	return r.writeJSON(CoreAffinityFile, t.Affinity())
}

func (r *Run) WriteReferencePID(pid int32) error {
	if err := os.WriteFile(r.path(ReferencePIDFile), []byte(strconv.Itoa(int(pid))), 0o644); err != nil {
		return fmt.Errorf("sink: %s: %w", ReferencePIDFile, err)
	}
	return nil
}

func (r *Run) WriteManifest(m Manifest) error { return r.writeJSON(ManifestFile, m) }

// InitRegistries truncates pids.txt and agg_metrics.tsv to their headers.
func (r *Run) InitRegistries() error {
	if err := r.writeRows(RegistryFile, '\t', true, RegistryHeader); err != nil {
		return err
	}
	return r.writeRows(AggregateFile, '\t', true, AggregateHeader)
}

// Register records a new process instance: its registry row and both
// command files.
func (r *Run) Register(s *snapshot.Snapshot) error {
	id := s.Identity
	row := []string{id.Created().Format(r.tsLayout), strconv.Itoa(int(id.PID)), id.CreateTimeString()}
	if err := r.writeRows(RegistryFile, '\t', false, row); err != nil {
		return err
	}

	args := s.Cmdline
	if args == nil {
		args = []string{}
	}
	txt := strings.Join(args, " ") + "\n"
	if err := os.WriteFile(r.path(CommandText(id)), []byte(txt), 0o644); err != nil {
		return fmt.Errorf("sink: %s: %w", CommandText(id), err)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("sink: %s: %w", CommandJSON(id), err)
	}
	if err := os.WriteFile(r.path(CommandJSON(id)), b, 0o644); err != nil {
		return fmt.Errorf("sink: %s: %w", CommandJSON(id), err)
	}
	return nil
}

// AppendMetrics writes one row of s. A New instance truncates its file and
// starts it with the header; a Continuing one appends.
func (r *Run) AppendMetrics(s *snapshot.Snapshot, class ledger.Class, at time.Time) error {
	fresh := class == ledger.New
	row := MetricsRow(s, at.Format(r.tsLayout))
	if fresh {
		return r.writeRows(MetricsFile(s.Identity), ',', true, MetricsHeader, row)
	}
	return r.writeRows(MetricsFile(s.Identity), ',', false, row)
}

func (r *Run) AppendAggregate(rec aggregate.Record, at time.Time) error {
	return r.writeRows(AggregateFile, '\t', false, AggregateRow(rec, at.Format(r.tsLayout)))
}

// MetricsRow renders s in MetricsHeader order.
func MetricsRow(s *snapshot.Snapshot, ts string) []string {
	return []string{
		ts,
		strconv.Itoa(int(s.Identity.PID)),
		s.Virt.String(),
		s.Res.String(),
		ftoa(s.CPUPercent),
		ftoa(s.MemoryPercent),
		strconv.Itoa(s.TCPConns),
		strconv.Itoa(int(s.NumThreads)),
		ftoa(s.Times.User),
		ftoa(s.Times.System),
		ftoa(s.Times.ChildrenUser),
		ftoa(s.Times.ChildrenSystem),
		ftoa(s.Times.IOWait),
		s.USS.String(),
		s.Swap.String(),
		strconv.Itoa(s.NumProcessors()),
		strconv.Itoa(s.NumCores()),
		strconv.Itoa(s.NumPackages()),
		s.Status,
		utoa(s.IO.ReadCount),
		utoa(s.IO.WriteCount),
		utoa(s.IO.ReadBytes),
		utoa(s.IO.WriteBytes),
		utoa(s.IO.ReadChars),
		utoa(s.IO.WriteChars),
	}
}

// AggregateRow renders rec in AggregateHeader order.
func AggregateRow(rec aggregate.Record, ts string) []string {
	return []string{
		ts,
		strconv.Itoa(rec.NumPIDs),
		strconv.FormatInt(rec.NumThreads, 10),
		strconv.Itoa(rec.Processors),
		strconv.Itoa(rec.Cores),
		strconv.Itoa(rec.Packages),
		rec.USS.String(),
		rec.Swap.String(),
		utoa(rec.IO.ReadCount),
		utoa(rec.IO.WriteCount),
		utoa(rec.IO.ReadBytes),
		utoa(rec.IO.WriteBytes),
		utoa(rec.IO.ReadChars),
		utoa(rec.IO.WriteChars),
	}
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
func utoa(v uint64) string { return strconv.FormatUint(v, 10) }

func (r *Run) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("sink: %s: %w", name, err)
	}
	if err := os.WriteFile(r.path(name), b, 0o644); err != nil {
		return fmt.Errorf("sink: %s: %w", name, err)
	}
	return nil
}

func (r *Run) writeRows(name string, comma rune, truncate bool, rows ...[]string) (err error) {
	flag := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if truncate {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(r.path(name), flag, 0o644)
	if err != nil {
		return fmt.Errorf("sink: %s: %w", name, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("sink: %s: %w", name, cerr)
		}
	}()

	w := csv.NewWriter(f)
	w.Comma = comma
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("sink: %s: %w", name, err)
	}
	return nil
}
