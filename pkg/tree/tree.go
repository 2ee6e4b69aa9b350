// Package tree enumerates a root process and all of its descendants.
package tree

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/ja7ad/treemon/pkg/system/inspect"
)

// ErrRootGone means the root handle no longer refers to a running,
// non-zombie process. It ends the sampling run.
var ErrRootGone = errors.New("tree: root process gone")

type Walker struct {
	ins inspect.Inspector
	log *slog.Logger
}

func NewWalker(ins inspect.Inspector, log *slog.Logger) *Walker {
	if log == nil {
		log = slog.Default()
	}
	return &Walker{ins: ins, log: log.With("component", "tree")}
}

// Enumerate returns root followed by every transitive child in breadth-first
// order, children of one parent sorted by PID. Each PID appears once.
// Descendants that exit while being walked are dropped.
func (w *Walker) Enumerate(ctx context.Context, root inspect.Process) ([]inspect.Process, error) {
	alive, err := root.Running(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, inspect.ErrNoSuchProcess) {
			return nil, err
		}
	}
	if !alive {
		return nil, ErrRootGone
	}

	out := []inspect.Process{root}
	seen := map[int32]struct{}{root.PID(): {}}

	for i := 0; i < len(out); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := out[i]
		kids, err := p.Children(ctx)
		if err != nil {
			w.log.Debug("children unreadable", "pid", p.PID(), "err", err)
			continue
		}
		slices.Sort(kids)
		for _, pid := range kids {
			if _, dup := seen[pid]; dup {
				continue
			}
			seen[pid] = struct{}{}
			h, err := w.ins.Open(ctx, pid)
			if err != nil {
				w.log.Debug("child dropped", "pid", pid, "parent", p.PID(), "err", err)
				continue
			}
			out = append(out, h)
		}
	}
	return out, nil
}
