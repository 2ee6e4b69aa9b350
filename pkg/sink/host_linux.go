//go:build linux

package sink

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/ja7ad/treemon/pkg/system/cgroup"
	"github.com/ja7ad/treemon/pkg/system/proc"
)

// LocalHost reads uname(2), the hostname, the cgroup mode and the /proc
// units. Fields that cannot be read are left empty.
func LocalHost() Host {
	h := Host{PageSize: proc.PageSize(), ClockTicks: proc.ClockTicks()}
	h.Hostname, _ = os.Hostname()

	var u unix.Utsname
	if err := unix.Uname(&u); err == nil {
		if h.Hostname == "" {
			h.Hostname = unix.ByteSliceToString(u.Nodename[:])
		}
		h.Kernel = unix.ByteSliceToString(u.Release[:])
		h.Machine = unix.ByteSliceToString(u.Machine[:])
	}

	h.Cgroup, h.CgroupDetail = cgroupMode(cgroup.Detect())
	return h
}

func cgroupMode(v cgroup.Version, detail string, err error) (string, string) {
	if err != nil {
		return cgroup.Unsupported.String(), err.Error()
	}
	return v.String(), detail
}
