package sink

import (
	"time"

	"github.com/google/uuid"

	"github.com/ja7ad/treemon/pkg/system/topology"
)

// Manifest is run.json: what was sampled, where and how often.
type Manifest struct {
	RunID           string    `json:"run_id"`
	RootPID         int32     `json:"root_pid"`
	StartedAt       time.Time `json:"started_at"`
	IntervalSeconds float64   `json:"interval_seconds"`
	Hostname        string    `json:"hostname"`
	Kernel          string    `json:"kernel"`
	Machine         string    `json:"machine"`
	Cgroup          string    `json:"cgroup"`
	CgroupDetail    string    `json:"cgroup_detail,omitempty"`
	PageSize        int       `json:"page_size,omitempty"`
	ClockTicks      int       `json:"clock_ticks,omitempty"`
	LogicalCPUs     int       `json:"logical_cpus"`
	Packages        int       `json:"packages"`
}

// Host describes the machine a run happens on.
type Host struct {
	Hostname string
	Kernel   string
	Machine  string
	Cgroup   string
	// CgroupDetail names the cgroup mount points, or why none were found.
	CgroupDetail string
	// PageSize and ClockTicks are zero where /proc is not available.
	PageSize   int
	ClockTicks int
}

func NewManifest(rootPID int32, started time.Time, interval time.Duration, topo *topology.Topology) Manifest {
	h := LocalHost()
	return Manifest{
		RunID:           uuid.NewString(),
		RootPID:         rootPID,
		StartedAt:       started,
		IntervalSeconds: interval.Seconds(),
		Hostname:        h.Hostname,
		Kernel:          h.Kernel,
		Machine:         h.Machine,
		Cgroup:          h.Cgroup,
		CgroupDetail:    h.CgroupDetail,
		PageSize:        h.PageSize,
		ClockTicks:      h.ClockTicks,
		LogicalCPUs:     topo.NumLogical(),
		Packages:        topo.NumPackages(),
	}
}
