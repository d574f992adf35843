package watcher

import "energon/pkg/state"

// EventType defines the type of event being broadcast.
type EventType string

const (
	EventSnapshotUpdated EventType = "snapshot_updated"
	EventStatusUpdated   EventType = "status_updated"
	EventTxSubmitted     EventType = "tx_submitted"
	EventTxConfirmed     EventType = "tx_confirmed"
	EventTxFailed        EventType = "tx_failed"
	EventPlasmaReleased  EventType = "plasma_released"
	EventSessionReset    EventType = "session_reset"
	EventMetadataUpdated EventType = "metadata_updated"
)

// Event represents a watcher event.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event

// Transaction kinds carried in TxEvent.
const (
	TxTick = "tick"
	TxMint = "mint"
)

// Tick sources.
const (
	SourceManual = "manual"
	SourceAuto   = "auto"
)

// TxEvent is the payload of the tx_* events.
type TxEvent struct {
	Kind        string `json:"kind"`
	Source      string `json:"source,omitempty"`
	Hash        string `json:"tx,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	Height      string `json:"energonHeight,omitempty"`
	Error       string `json:"error,omitempty"`
}

// MetadataEvent is sent once a metadata fetch for the bound token settles.
type MetadataEvent struct {
	TokenID string `json:"tokenId"`
	Rarity  string `json:"rarity"`
	Genesis bool   `json:"genesis"`
	Error   string `json:"error,omitempty"`
}

// Dashboard is the payload of snapshot_updated and the body of /api/status.
type Dashboard struct {
	View     state.View `json:"view"`
	Plasma   int64      `json:"plasma"`
	PlasmaOn bool       `json:"plasmaEnabled"`
	AutoTick bool       `json:"autoTick"`
	Status   string     `json:"status"`
	LastTx   string     `json:"lastTx,omitempty"`
	Guard    GuardView  `json:"guard"`
}

// GuardView exposes the tick guard's state for display.
type GuardView struct {
	LastTickedHeight string `json:"lastTickedHeight,omitempty"`
	CooldownUntil    int64  `json:"cooldownUntil,omitempty"`
	BackoffSeconds   int64  `json:"backoffSeconds,omitempty"`
	BackoffUntil     int64  `json:"backoffUntil,omitempty"`
	InFlight         bool   `json:"inFlight"`
}

// HistoryPoint is one sample for the TUI graph.
type HistoryPoint struct {
	Height float64
	Plasma float64
}

// PlasmaEvent reports an accumulator wrap.
type PlasmaEvent struct {
	Value    int64  `json:"value"`
	Releases int64  `json:"releases"`
	Source   string `json:"source"`
}
