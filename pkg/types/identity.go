package types

import (
	"fmt"
	"strconv"
	"time"
)

// Identity is a kernel process instance: the PID alone may be reused by the
// OS, the pair with the creation time may not.
type Identity struct {
	PID int32
	// CreateTime is milliseconds since the epoch, as reported by the inspector.
	CreateTime int64
}

// CreateSeconds returns the creation time as fractional epoch seconds.
func (id Identity) CreateSeconds() float64 {
	return float64(id.CreateTime) / 1000
}

// CreateTimeString is the shortest exact decimal of CreateSeconds, e.g. "1700000000.25".
func (id Identity) CreateTimeString() string {
	return strconv.FormatFloat(id.CreateSeconds(), 'f', -1, 64)
}

// Created returns the creation time as a local time.Time.
func (id Identity) Created() time.Time {
	return time.UnixMilli(id.CreateTime)
}

// Stem is the file-name fragment "<pid>_<createTime>" shared by every
// per-identity artifact.
func (id Identity) Stem() string {
	return fmt.Sprintf("%d_%s", id.PID, id.CreateTimeString())
}

func (id Identity) String() string { return id.Stem() }
