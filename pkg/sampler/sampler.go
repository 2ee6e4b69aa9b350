// Package sampler drives a treemon run: it resolves the CPU topology once,
// then samples the process tree of the root every interval until the root
// exits or the context is cancelled.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ja7ad/treemon/pkg/aggregate"
	"github.com/ja7ad/treemon/pkg/config"
	"github.com/ja7ad/treemon/pkg/ledger"
	"github.com/ja7ad/treemon/pkg/sink"
	"github.com/ja7ad/treemon/pkg/snapshot"
	"github.com/ja7ad/treemon/pkg/system/inspect"
	"github.com/ja7ad/treemon/pkg/system/topology"
	"github.com/ja7ad/treemon/pkg/tree"
	"github.com/ja7ad/treemon/pkg/types"
)

type State int

const (
	Initializing State = iota
	Sampling
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Sampling:
		return "sampling"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tick is handed to the observer after every completed tick.
type Tick struct {
	N         int
	At        time.Time
	Snapshots []*snapshot.Snapshot
	Record    aggregate.Record
	// New is how many of Snapshots were first seen this tick.
	New int
}

type Options struct {
	RootPID   int32
	OutDir    string
	Config    config.Config
	Inspector inspect.Inspector
	Logger    *slog.Logger

	// OnTick, when set, is called synchronously at the end of each tick.
	OnTick func(Tick)

	// Now and Sleep default to the wall clock and a context-aware timer.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type Sampler struct {
	opts   Options
	cfg    config.Config
	log    *slog.Logger
	walker *tree.Walker
	ledger *ledger.Ledger

	state  State
	topo   *topology.Topology
	root   inspect.Process
	run    *sink.Run
	ticks  int
	failed int
}

func New(opts Options) (*Sampler, error) {
	if opts.Inspector == nil {
		return nil, errors.New("sampler: no inspector")
	}
	if opts.RootPID <= 0 {
		return nil, fmt.Errorf("sampler: invalid root pid %d", opts.RootPID)
	}
	if opts.OutDir == "" {
		return nil, errors.New("sampler: no output directory")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	log := opts.Logger.With("component", "sampler", "root_pid", opts.RootPID)
	return &Sampler{
		opts:   opts,
		cfg:    opts.Config,
		log:    log,
		walker: tree.NewWalker(opts.Inspector, opts.Logger),
		ledger: ledger.NewLedger(),
	}, nil
}

func (s *Sampler) State() State { return s.state }

// RunDir is empty until initialization has created the directory.
func (s *Sampler) RunDir() string {
	if s.run == nil {
		return ""
	}
	return s.run.Dir()
}

// Ticks is the number of completed ticks.
func (s *Sampler) Ticks() int { return s.ticks }

// Skipped is the number of ticks abandoned on a read error.
func (s *Sampler) Skipped() int { return s.failed }

// Identities is the number of distinct PIDs seen so far.
func (s *Sampler) Identities() int { return s.ledger.Len() }

// Run blocks until the root process is gone or ctx is cancelled; both end
// the run cleanly with a nil error. Only initialization failures are errors.
// A tick that fails for any other reason is logged and skipped.
func (s *Sampler) Run(ctx context.Context) error {
	s.transition(Initializing)
	if err := s.init(ctx); err != nil {
		s.transition(Terminated)
		return err
	}

	s.transition(Sampling)
	for {
		err := s.tick(ctx)
		if errors.Is(err, tree.ErrRootGone) {
			s.log.Info("root process gone", "ticks", s.ticks)
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("interrupted", "err", err)
				break
			}
			s.failed++
			s.log.Warn("tick skipped", "err", err)
		}
		if err := s.opts.Sleep(ctx, s.cfg.Interval); err != nil {
			s.log.Info("interrupted", "err", err)
			break
		}
	}

	s.transition(Draining)
	s.log.Info("run finished", "dir", s.run.Dir(), "ticks", s.ticks, "skipped", s.failed, "identities", s.ledger.Len())
	s.transition(Terminated)
	return nil
}

func (s *Sampler) init(ctx context.Context) error {
	topo, err := topology.Build(s.cfg.CPUInfo)
	if err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	s.topo = topo
	s.log.Debug("topology resolved", "logical_cpus", topo.NumLogical(), "packages", topo.NumPackages())

	root, err := s.opts.Inspector.Open(ctx, s.opts.RootPID)
	if err != nil {
		return fmt.Errorf("sampler: open root: %w", err)
	}
	s.root = root

	started := s.opts.Now()
	run, err := sink.Create(s.opts.OutDir, s.opts.RootPID, started, s.cfg.DirFormat, s.cfg.TimestampFormat)
	if err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	s.run = run

	if err := run.WriteTopology(topo); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	if err := run.WriteReferencePID(s.opts.RootPID); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	if err := run.WriteManifest(sink.NewManifest(s.opts.RootPID, started, s.cfg.Interval, topo)); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	if err := run.InitRegistries(); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	s.log.Info("run directory ready", "dir", run.Dir())
	return nil
}

// tick returns tree.ErrRootGone, a context error, an error reading the root,
// or nil. Failures of single descendants are logged and skipped.
func (s *Sampler) tick(ctx context.Context) error {
	at := s.opts.Now()
	procs, err := s.walker.Enumerate(ctx, s.root)
	if err != nil {
		return err
	}

	snaps := make([]*snapshot.Snapshot, 0, len(procs))
	for _, p := range procs {
		ct, err := p.CreateTime(ctx)
		if err != nil {
			s.log.Debug("create time unreadable", "pid", p.PID(), "err", err)
			continue
		}
		first := !s.ledger.Known(types.Identity{PID: p.PID(), CreateTime: ct})
		snap, err := snapshot.Capture(ctx, p, s.topo, first)
		switch {
		case err == nil:
			snaps = append(snaps, snap)
		case errors.Is(err, snapshot.ErrVanished):
			s.log.Debug("process vanished", "pid", p.PID(), "err", err)
		case snapshot.Excluded(err):
			s.log.Warn("process excluded", "pid", p.PID(), "err", err)
		default:
			return err
		}
	}

	fresh := 0
	for _, snap := range snaps {
		id := snap.Identity
		class := s.ledger.Classify(id, at)
		snap.CPUPercent = s.ledger.CPUPercent(id, snap.Times.Total(), at)
		if class == ledger.New {
			fresh++
			s.log.Info("new process", "pid", id.PID, "create_time", id.CreateTimeString(), "file", sink.MetricsFile(id))
			if err := s.run.Register(snap); err != nil {
				s.log.Error("register process", "pid", id.PID, "err", err)
			}
		}
		if err := s.run.AppendMetrics(snap, class, at); err != nil {
			s.log.Error("append metrics", "pid", id.PID, "err", err)
		}
	}

	rec := aggregate.Fold(snaps)
	if err := s.run.AppendAggregate(rec, at); err != nil {
		s.log.Error("append aggregate", "err", err)
	}
	s.ticks++
	s.log.Debug("tick", "n", s.ticks, "pids", rec.NumPIDs, "threads", rec.NumThreads)

	if s.opts.OnTick != nil {
		s.opts.OnTick(Tick{N: s.ticks, At: at, Snapshots: snaps, Record: rec, New: fresh})
	}
	return nil
}

func (s *Sampler) transition(to State) {
	if s.state != to {
		s.log.Info("state", "from", s.state, "to", to)
	}
	s.state = to
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
