// Package device owns the single logical connection to the pager.
// It dials the pager's WebSocket endpoint, reconnects with bounded
// exponential backoff, serializes outbound commands, and turns inbound
// wire frames into typed events for the coordinator.
package device

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// FrameType identifies the kind of wire frame exchanged with the pager.
// Frames are msgpack-encoded binary WebSocket messages; msgpack keeps
// audio frames compact enough for the device's radio.
type FrameType string

const (
	// Outbound command frames (bridge -> pager).

	// FrameSetDisplay replaces what the pager currently shows.
	FrameSetDisplay FrameType = "set_display"

	// FrameAlert flashes a transient overlay without changing the mode.
	FrameAlert FrameType = "alert"

	// FrameWake wakes a sleeping device (urgent requests only).
	FrameWake FrameType = "wake"

	// FramePing is the application-level heartbeat. Transport-level pings
	// are not enough: a half-open connection can keep accepting writes
	// long after the pager is gone.
	FramePing FrameType = "ping"

	// Inbound event frames (pager -> bridge).

	// FramePong answers a ping.
	FramePong FrameType = "pong"

	// FrameButton reports a button edge (down or up).
	FrameButton FrameType = "button"

	// FrameModeEcho reports the mode the pager is actually rendering.
	// Used only for drift detection and logging, never authoritative.
	FrameModeEcho FrameType = "mode_echo"

	// FrameBattery reports battery level and charging state.
	FrameBattery FrameType = "battery"

	// FrameAudio carries one chunk of microphone PCM while recording.
	FrameAudio FrameType = "audio"
)

// Frame is the single wire envelope for both directions. Only the fields
// relevant to the frame type are populated; msgpack omits the rest.
type Frame struct {
	Type FrameType `msgpack:"type"`

	// set_display / mode_echo
	Mode string `msgpack:"mode,omitempty"`

	// set_display / alert
	Text string `msgpack:"text,omitempty"`

	// button
	Button      string `msgpack:"button,omitempty"`
	Edge        string `msgpack:"edge,omitempty"`
	TimestampMs int64  `msgpack:"ts_ms,omitempty"`

	// battery
	Percent  int  `msgpack:"percent,omitempty"`
	Charging bool `msgpack:"charging,omitempty"`

	// audio
	Data []byte `msgpack:"data,omitempty"`

	// ping/pong sequence number
	Seq uint64 `msgpack:"seq,omitempty"`
}

// EncodeFrame serializes a frame to msgpack bytes.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := msgpack.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// DecodeFrame deserializes msgpack bytes into a frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

// Command is an outbound instruction to the pager.
type Command interface {
	// Name identifies the command for logs and error messages.
	Name() string

	frame() Frame
}

// SetDisplay replaces the pager's current display.
type SetDisplay struct {
	Mode string
	Text string
}

func (c SetDisplay) Name() string { return "set_display" }
func (c SetDisplay) frame() Frame {
	return Frame{Type: FrameSetDisplay, Mode: c.Mode, Text: c.Text}
}

// Alert flashes a transient overlay on the pager.
type Alert struct {
	Text string
}

func (c Alert) Name() string { return "alert" }
func (c Alert) frame() Frame {
	return Frame{Type: FrameAlert, Text: c.Text}
}

// Wake wakes a sleeping pager.
type Wake struct{}

func (c Wake) Name() string { return "wake" }
func (c Wake) frame() Frame {
	return Frame{Type: FrameWake}
}
