//go:build linux

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ja7ad/treemon/pkg/config"
	"github.com/ja7ad/treemon/pkg/sampler"
	"github.com/ja7ad/treemon/pkg/sink"
	"github.com/ja7ad/treemon/pkg/system/inspect"
)

type opts struct {
	configPath string
	logLevel   string
	cpuinfo    string
	progress   string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "treemon <pid> <output-directory> [sleep-seconds]",
		Short: "Process tree resource sampler",
		Long: `treemon samples a process and all of its descendants every interval
until the process exits. For every process instance it writes a CSV time series
(CPU, memory, I/O, threads and the logical CPUs, cores and packages its threads
ran on), plus a tree-wide aggregate series and the CPU topology of the host.

Output goes to <output-directory>/<YYYY_MM_DD-HH_MM>-<pid>/.

Examples:
  treemon $(pidof make) ./runs
  treemon --progress always 12345 /tmp/runs 0.5`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context(), o, args)
		},
	}

	root.Flags().StringVarP(&o.configPath, "config", "c", "", "YAML config file")
	root.Flags().StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.Flags().StringVar(&o.cpuinfo, "cpuinfo", "", "CPU topology source (default /proc/cpuinfo)")
	root.Flags().StringVar(&o.progress, "progress", "auto", "live per-tick table on stdout: auto, always, never")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts, args []string) error {
	pid, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid pid %q", args[0])
	}
	out := args[1]

	override := config.Config{CPUInfo: o.cpuinfo, LogLevel: o.logLevel}
	if len(args) == 3 {
		secs, err := strconv.ParseFloat(args[2], 64)
		if err != nil || secs <= 0 {
			return fmt.Errorf("sleep-seconds must be a number > 0, got %q", args[2])
		}
		override.Interval = time.Duration(secs * float64(time.Second))
	}

	cfg := config.Default()
	if o.configPath != "" {
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}
	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return err
	}
	lvl, err := cfg.Level()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)

	show, err := showProgress(o.progress)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sopts := sampler.Options{
		RootPID:   int32(pid),
		OutDir:    out,
		Config:    cfg,
		Inspector: inspect.NewLinux(),
		Logger:    log,
	}
	if show {
		h := sink.LocalHost()
		fmt.Printf(_console, h.Hostname, h.Kernel, h.Machine, h.Cgroup, pid, cfg.Interval,
			time.Now().Format(cfg.TimestampFormat))
		tw := newTable(os.Stdout)
		printTableHeader(tw)
		sopts.OnTick = func(tk sampler.Tick) { printTableRow(tw, tk, cfg.TimestampFormat) }
	}

	s, err := sampler.New(sopts)
	if err != nil {
		return err
	}
	if err := s.Run(ctx); err != nil {
		return err
	}
	if show {
		fmt.Printf("\n# %d ticks, %d processes, output in %s\n", s.Ticks(), s.Identities(), s.RunDir())
	}
	return nil
}

func showProgress(mode string) (bool, error) {
	switch mode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
		return term.IsTerminal(int(os.Stdout.Fd())), nil
	default:
		return false, fmt.Errorf("progress must be auto, always or never, got %q", mode)
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printTableHeader(tw *tabwriter.Writer) {
	fmt.Fprintln(tw, "TIME\tPIDS\tNEW\tTHREADS\tCPU %\tUSS\tSWAP\tCPUS\tCORES\tPKGS")
	fmt.Fprintln(tw, "----\t----\t---\t-------\t-----\t---\t----\t----\t-----\t----")
	tw.Flush()
}

func printTableRow(tw *tabwriter.Writer, tk sampler.Tick, layout string) {
	var cpu float64
	for _, s := range tk.Snapshots {
		cpu += s.CPUPercent
	}
	r := tk.Record
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.1f\t%s\t%s\t%d\t%d\t%d\n",
		tk.At.Format(layout), r.NumPIDs, tk.New, r.NumThreads, cpu,
		r.USS.Humanized(), r.Swap.Humanized(), r.Processors, r.Cores, r.Packages,
	)
	tw.Flush()
}

const _console = `treemon - process tree resource sampler

       Host: %s
       Kernel: %s (%s)
       Cgroup: %s
       Root PID: %d
       Interval: %s

Sampling as of %s:

`
