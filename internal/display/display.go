// Package display derives what the pager should currently show.
//
// The mode is a pure function of a snapshot of coordinator state: the
// connection state, the active request, and the voice session. Nothing
// mutates a mode variable in response to events; whenever an input
// changes, the coordinator recomputes the target and sends it if it
// differs from what the pager last got. The predecessor system kept the
// mode as a loosely-typed string shared across independent scripts and
// accumulated naming-drift bugs; deriving it from typed state removes
// that class of bug by construction.
package display

import (
	"github.com/clawd/pager-bridge/internal/device"
	"github.com/clawd/pager-bridge/internal/request"
)

// Mode is the pager display mode, one of a closed set the firmware knows
// how to render.
type Mode string

const (
	ModeIdle         Mode = "IDLE"
	ModeDocked       Mode = "DOCKED"
	ModeListening    Mode = "LISTENING"
	ModeProcessing   Mode = "PROCESSING"
	ModeQuestion     Mode = "QUESTION"
	ModePermission   Mode = "PERMISSION"
	ModeConfirm      Mode = "CONFIRM"
	ModeAlert        Mode = "ALERT"
	ModeAgent        Mode = "AGENT"
	ModeDisconnected Mode = "DISCONNECTED"
)

// Snapshot is everything the derivation looks at. The coordinator builds
// one after each state change; feeding a snapshot and asserting the mode
// is the entire test surface of this package.
type Snapshot struct {
	// Connection is the device link state.
	Connection device.ConnState

	// Active is the request currently holding the active slot, nil if none.
	Active *request.Request

	// VoiceActive is true while a recording session is open.
	VoiceActive bool

	// Transcribing is true while a finished capture awaits its transcript.
	Transcribing bool

	// Charging mirrors the device's dock state.
	Charging bool

	// AgentLabel names the tool an agent is currently running, empty when
	// no agent activity is in the idle-revert window.
	AgentLabel string
}

// Target is the display the pager should show for a snapshot.
type Target struct {
	Mode Mode
	Text string
}

// Command converts the target into a device command.
func (t Target) Command() device.SetDisplay {
	return device.SetDisplay{Mode: string(t.Mode), Text: t.Text}
}

// Derive computes the target display for a snapshot. Priorities, highest
// first: an unreachable device, an open voice session, the active
// request, a pending transcription, agent activity, the dock, idle.
func Derive(s Snapshot) Target {
	if s.Connection != device.StateConnected {
		return Target{Mode: ModeDisconnected, Text: "PAGER UNREACHABLE"}
	}

	if s.VoiceActive {
		return Target{Mode: ModeListening, Text: "LISTENING..."}
	}

	if s.Active != nil {
		switch s.Active.Kind {
		case request.KindPermission:
			text := "APPROVE?\n" + s.Active.Text
			if s.Active.Risk != "" {
				text += "\n" + s.Active.Risk
			}
			return Target{Mode: ModePermission, Text: text}
		default:
			// Questions and open prompts render the same way; the answer
			// path differs (tap vs hold-to-talk), not the display.
			return Target{Mode: ModeQuestion, Text: s.Active.Text}
		}
	}

	if s.Transcribing {
		return Target{Mode: ModeProcessing, Text: "THINKING..."}
	}

	if s.AgentLabel != "" {
		return Target{Mode: ModeAgent, Text: s.AgentLabel}
	}

	if s.Charging {
		return Target{Mode: ModeDocked, Text: "DOCKED"}
	}

	return Target{Mode: ModeIdle, Text: "CLAWD READY"}
}
