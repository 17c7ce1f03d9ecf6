package procscan

import (
	"strconv"
	"time"
)

// Key identifies a process instance across accounting samples.
type Key struct {
	Name string
	PID  int
}

// String renders the key the way the accounting tool prints it.
func (k Key) String() string {
	return k.Name + "." + strconv.Itoa(k.PID)
}

// Counters holds cumulative byte counters reported for a process.
type Counters struct {
	RxBytes uint64
	TxBytes uint64
}

// Process is the live traffic state for one process instance.
type Process struct {
	Key           string    `json:"key"`
	PID           int       `json:"pid"`
	Name          string    `json:"name"`
	DownloadBytes uint64    `json:"download_bytes"`
	UploadBytes   uint64    `json:"upload_bytes"`
	Icon          string    `json:"icon,omitempty"`
	LastActive    time.Time `json:"last_active"`
}

// Active reports whether the process moved any bytes in the last interval.
func (p Process) Active() bool {
	return p.DownloadBytes > 0 || p.UploadBytes > 0
}

// Total is the combined download and upload for the last interval.
func (p Process) Total() uint64 {
	return p.DownloadBytes + p.UploadBytes
}

// Stats summarises engine activity.
type Stats struct {
	Live            int    `json:"live"`
	Tracked         int    `json:"tracked"`
	Cycles          uint64 `json:"cycles"`
	FailedCycles    uint64 `json:"failed_cycles"`
	SkippedTriggers uint64 `json:"skipped_triggers"`
}
