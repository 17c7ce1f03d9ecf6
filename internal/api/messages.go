package api

import (
	"github.com/skobkin/netwatch-web/internal/history"
	"github.com/skobkin/netwatch-web/internal/monitor"
	"github.com/skobkin/netwatch-web/internal/netif"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type        string          `json:"type"`
	IntervalMS  int64           `json:"interval_ms"`
	TrendLength int             `json:"trend_length"`
	Interfaces  []netif.Info    `json:"interfaces"`
	Features    map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS int64, interfaces []netif.Info, features map[string]bool) HelloMessage {
	if interfaces == nil {
		interfaces = []netif.Info{}
	}
	return HelloMessage{
		Type:        "hello",
		IntervalMS:  intervalMS,
		TrendLength: monitor.TrendLength,
		Interfaces:  interfaces,
		Features:    features,
	}
}

// SnapshotMessage wraps a monitor snapshot for transport.
type SnapshotMessage struct {
	Type string `json:"type"`
	monitor.Snapshot
}

// NewSnapshotMessage constructs a snapshot payload.
func NewSnapshotMessage(snapshot monitor.Snapshot) SnapshotMessage {
	return SnapshotMessage{
		Type:     "snapshot",
		Snapshot: snapshot,
	}
}

// History is the sorted traffic ledger plus its totals.
type History struct {
	Sort          history.SortKey  `json:"sort"`
	TotalDownload uint64           `json:"total_download"`
	TotalUpload   uint64           `json:"total_upload"`
	Records       []history.Record `json:"records"`
}

// HistoryMessage wraps History for WebSocket transport.
type HistoryMessage struct {
	Type string `json:"type"`
	History
}

// NewHistoryMessage constructs a history payload.
func NewHistoryMessage(h History) HistoryMessage {
	return HistoryMessage{
		Type:    "history",
		History: h,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// HistoryRequest asks for the traffic ledger sorted by the given metric.
type HistoryRequest struct {
	Type string `json:"type"`
	Sort string `json:"sort"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}

// Interval is the body of GET and PUT /api/interval.
type Interval struct {
	IntervalMS int64 `json:"interval_ms"`
}
