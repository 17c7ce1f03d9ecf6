// Package monitor merges throughput samples and process attribution into
// snapshots and fans them out to subscribers.
package monitor

import (
	"time"

	"github.com/skobkin/netwatch-web/internal/procscan"
	"github.com/skobkin/netwatch-web/internal/sampler"
)

// TrendLength is the number of points kept in Snapshot.Trend.
const TrendLength = 20

// Snapshot is an immutable view of host traffic at one point in time.
type Snapshot struct {
	Timestamp     time.Time               `json:"ts"`
	Seq           uint64                  `json:"seq"`
	ElapsedMS     int64                   `json:"elapsed_ms"`
	UploadBytes   uint64                  `json:"upload_bytes"`
	DownloadBytes uint64                  `json:"download_bytes"`
	Interfaces    []sampler.InterfaceRate `json:"interfaces"`
	Processes     []procscan.Process      `json:"processes"`
	Trend         []TrendPoint            `json:"trend"`
}

// TrendPoint is one global throughput sample in the rolling trend.
type TrendPoint struct {
	Timestamp     time.Time `json:"ts"`
	DownloadBytes uint64    `json:"download_bytes"`
	UploadBytes   uint64    `json:"upload_bytes"`
}
