//go:build linux

package cgroup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

type Version int

const (
	Unsupported Version = iota // non-Linux or no cgroup mounts
	V1                         // legacy multi-hierarchy cgroup v1
	V2                         // unified cgroup v2
	Hybrid                     // both v1 and v2 present
)

func (v Version) String() string {
	switch v {
	case V1:
		return "cgroup v1"
	case V2:
		return "cgroup v2"
	case Hybrid:
		return "cgroup hybrid"
	default:
		return "unsupported"
	}
}

// MarshalText lets the run manifest carry the mode as a string.
func (v Version) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// Detect returns the cgroup mode of the host and a human-readable detail string.
func Detect() (Version, string, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return Unsupported, "", fmt.Errorf("open mountinfo: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return DetectFrom(f)
}

// DetectFrom parses mountinfo content looking for cgroup filesystems.
// The line format has a " - fstype " separator; we only care about fstype
// and the mount point (field 5 of the pre-separator part, see proc(5)).
func DetectFrom(r io.Reader) (Version, string, error) {
	var (
		v1Pts []string
		v2Pts []string
		sc    = bufio.NewScanner(r)
	)
	for sc.Scan() {
		line := sc.Text()
		const sep = " - "
		i := strings.LastIndex(line, sep)
		if i < 0 {
			continue
		}
		tail := strings.Fields(line[i+len(sep):])
		pre := strings.Fields(line[:i])
		if len(tail) < 1 || len(pre) < 5 {
			continue
		}

		switch tail[0] {
		case "cgroup2":
			v2Pts = append(v2Pts, pre[4])
		case "cgroup":
			v1Pts = append(v1Pts, pre[4])
		}
	}
	if err := sc.Err(); err != nil {
		return Unsupported, "", fmt.Errorf("scan mountinfo: %w", err)
	}

	switch {
	case len(v1Pts) > 0 && len(v2Pts) > 0:
		return Hybrid, fmt.Sprintf("cgroup2 on %v; cgroup v1 on %v",
			strings.Join(v2Pts, ","), strings.Join(v1Pts, ",")), nil
	case len(v2Pts) > 0:
		return V2, fmt.Sprintf("cgroup2 on %v", strings.Join(v2Pts, ",")), nil
	case len(v1Pts) > 0:
		return V1, fmt.Sprintf("cgroup v1 on %v", strings.Join(v1Pts, ",")), nil
	default:
		return Unsupported, "no cgroup mounts found", nil
	}
}
