package device

import "time"

// ConnState is the link's connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"

	// StateDegraded means the link is still retrying but has failed enough
	// consecutive attempts (or missed enough heartbeats) that the pager
	// should be treated as unreachable.
	StateDegraded ConnState = "degraded"
)

// Button identifies one of the pager's two physical buttons.
type Button string

const (
	ButtonA Button = "A"
	ButtonB Button = "B"
)

// Edge is a raw press or release.
type Edge string

const (
	EdgeDown Edge = "down"
	EdgeUp   Edge = "up"
)

// Event is anything the link reports to the coordinator.
// All events arrive on a single channel in wire order.
type Event interface {
	isEvent()
}

// ButtonEvent is a raw button edge with the device's timestamp.
// The router turns down/up pairs into taps and holds.
type ButtonEvent struct {
	Button      Button
	Edge        Edge
	TimestampMs int64
}

// ModeEcho is the mode the pager reports it is rendering. Logged for
// drift detection only; the coordinator's derived mode is authoritative.
type ModeEcho struct {
	Mode string
}

// BatteryEvent updates the session's battery snapshot.
type BatteryEvent struct {
	Percent  int
	Charging bool
}

// AudioFrame is one chunk of microphone PCM captured while recording.
type AudioFrame struct {
	Data []byte
}

// ConnectivityEvent reports a connection state change.
type ConnectivityEvent struct {
	State ConnState
}

func (ButtonEvent) isEvent()       {}
func (ModeEcho) isEvent()          {}
func (BatteryEvent) isEvent()      {}
func (AudioFrame) isEvent()        {}
func (ConnectivityEvent) isEvent() {}

// Session is a read-only snapshot of the device session. The link owns
// the underlying state; everything else reads snapshots.
type Session struct {
	State          ConnState
	BatteryPercent int
	Charging       bool
	LastSeen       time.Time
}
