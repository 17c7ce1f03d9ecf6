package sampler

import "time"

// Sample is the host-wide traffic observed between two counter reads.
// Byte values are interval deltas, not per-second rates.
type Sample struct {
	Timestamp     time.Time       `json:"ts"`
	ElapsedMS     int64           `json:"elapsed_ms"`
	UploadBytes   uint64          `json:"upload_bytes"`
	DownloadBytes uint64          `json:"download_bytes"`
	Interfaces    []InterfaceRate `json:"interfaces"`
}

// InterfaceRate is the per-interface contribution to a Sample.
type InterfaceRate struct {
	Name          string `json:"name"`
	UploadBytes   uint64 `json:"upload_bytes"`
	DownloadBytes uint64 `json:"download_bytes"`
}
