// Package units formats byte counts for humans.
package units

import (
	"fmt"
	"time"
)

var rateSuffixes = []string{"B/s", "KB/s", "MB/s", "GB/s", "TB/s"}

// FormatRate renders bytes moved in one second using 1024-based units with
// one decimal, e.g. "1.5 KB/s".
func FormatRate(bytes uint64) string {
	if bytes == 0 {
		return "0 B/s"
	}
	value := float64(bytes)
	idx := 0
	for value >= 1024 && idx < len(rateSuffixes)-1 {
		value /= 1024
		idx++
	}
	return fmt.Sprintf("%.1f %s", value, rateSuffixes[idx])
}

// FormatBytes renders a byte total, e.g. "3.0 MB".
func FormatBytes(bytes uint64) string {
	rate := FormatRate(bytes)
	return rate[:len(rate)-2]
}

// PerSecond scales an interval delta to a per-second rate. A non-positive
// elapsed time returns bytes unchanged.
func PerSecond(bytes uint64, elapsed time.Duration) uint64 {
	if elapsed <= 0 {
		return bytes
	}
	return uint64(float64(bytes) / elapsed.Seconds())
}
