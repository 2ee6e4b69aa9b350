//go:build !linux

package sink

import "os"

func LocalHost() Host {
	name, _ := os.Hostname()
	return Host{Hostname: name, Cgroup: "unsupported"}
}
