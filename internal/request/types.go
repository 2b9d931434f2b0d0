// Package request provides the pending-request table for the bridge.
// It tracks every in-flight interaction (question, permission, open prompt)
// from submission through resolution, expiry, or preemption, and enforces
// the single-active-slot rule for the pager display.
//
// The tracker is deliberately not safe for concurrent use: it is owned by
// the bridge coordinator and mutated only inside its serial event loop.
// Keeping it lock-free makes every admission decision atomic with respect
// to sweeps and resolutions by construction.
package request

import (
	"time"
)

// Kind identifies what sort of interaction a request is.
type Kind string

const (
	// KindQuestion expects a yes/no style answer chosen by button tap.
	KindQuestion Kind = "question"

	// KindPermission expects approve/deny for a destructive action.
	// Semantically distinct from a question: expiry defaults to deny.
	KindPermission Kind = "permission"

	// KindOpenPrompt expects free-form voice text as its answer.
	KindOpenPrompt Kind = "open_prompt"

	// KindAlert expects no response. Alerts never enter the tracker table;
	// they are rendered as a transient overlay by the coordinator and do
	// not compete for the active slot.
	KindAlert Kind = "alert"
)

// Priority orders requests competing for the single active slot.
type Priority string

const (
	// PriorityNormal requests queue behind the current active request.
	PriorityNormal Priority = "normal"

	// PriorityUrgent requests may wake a sleeping device and preempt an
	// active normal request. An urgent request never preempts another
	// urgent request.
	PriorityUrgent Priority = "urgent"
)

// State is the lifecycle state of a pending request.
type State string

const (
	StateQueued     State = "queued"
	StateActive     State = "active"
	StateResolved   State = "resolved"
	StateExpired    State = "expired"
	StateSuperseded State = "superseded"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateExpired || s == StateSuperseded
}

// Outcome describes how a request reached a terminal state.
type Outcome string

const (
	// OutcomeAnswered means the user answered by button or voice.
	OutcomeAnswered Outcome = "answered"

	// OutcomeExpired means the deadline passed with no answer.
	// For permissions the answer value is forced to deny (fail-closed).
	OutcomeExpired Outcome = "expired"

	// OutcomeSuperseded means an urgent request displaced this one.
	// The source is told "preempted", never left in silence.
	OutcomeSuperseded Outcome = "superseded"
)

// Answer is the resolved result delivered back to the requesting agent.
type Answer struct {
	// Outcome is how the request terminated.
	Outcome Outcome `json:"outcome"`

	// Value is the answer payload: "yes"/"no" for questions,
	// "approve"/"deny" for permissions, the transcript text for open
	// prompts, or "preempted" for superseded requests.
	Value string `json:"value"`

	// Truncated is set when a voice answer hit the capture buffer cap.
	Truncated bool `json:"truncated,omitempty"`

	// Via records the input path: "button", "voice", "timeout", "preempt".
	Via string `json:"via,omitempty"`
}

// DeliveryKind selects how an answer travels back to the source.
type DeliveryKind string

const (
	// DeliverCallback POSTs the answer to an HTTP URL.
	DeliverCallback DeliveryKind = "callback"

	// DeliverPoll leaves the answer readable via GET /requests/{id}
	// until the entry is evicted. This is the default: hook scripts in
	// this domain usually cannot accept inbound connections.
	DeliverPoll DeliveryKind = "poll"

	// DeliverFile appends the answer as a JSON line to a local file.
	DeliverFile DeliveryKind = "file"
)

// Delivery is a first-class delivery target variant, not a special case.
type Delivery struct {
	Kind DeliveryKind `json:"kind"`
	URL  string       `json:"url,omitempty"`  // callback target
	Path string       `json:"path,omitempty"` // file target
}

// Request is one tracked interaction.
// Created by the tracker on submission; reaches a terminal state through
// the router (resolved), the expiry sweep (expired), or an urgent
// admission (superseded); evicted after a short grace period that absorbs
// straggling button presses.
type Request struct {
	// ID is the opaque unique token assigned on admission.
	ID string `json:"id"`

	// Source identifies the requesting agent (e.g. "claude_code").
	Source string `json:"source"`

	Kind     Kind     `json:"kind"`
	Priority Priority `json:"priority"`

	// Text is the display payload.
	Text string `json:"text"`

	// Options is the answer list for questions, affirmative first.
	Options []string `json:"options,omitempty"`

	// Risk describes the destructive action for permissions.
	Risk string `json:"risk,omitempty"`

	Delivery Delivery `json:"delivery"`

	CreatedAt time.Time `json:"created_at"`

	// TimeoutAt is the absolute deadline. Zero means no deadline.
	TimeoutAt time.Time `json:"timeout_at,omitempty"`

	State State `json:"state"`

	// Answer is set when the state is terminal.
	Answer *Answer `json:"answer,omitempty"`

	// DecidedAt is when the terminal transition happened; drives eviction.
	DecidedAt time.Time `json:"decided_at,omitempty"`
}

// VoiceEligible reports whether a hold-to-talk answer may be associated
// with this request. Open prompts are answered by voice; questions and
// permissions may also be answered by voice as a fallback.
func (r *Request) VoiceEligible() bool {
	return r.Kind == KindOpenPrompt || r.Kind == KindQuestion || r.Kind == KindPermission
}

// Affirmative returns the positive answer value for this request's kind.
func (r *Request) Affirmative() string {
	switch r.Kind {
	case KindPermission:
		return "approve"
	case KindQuestion:
		if len(r.Options) > 0 {
			return r.Options[0]
		}
	}
	return "yes"
}

// Negative returns the negative answer value for this request's kind.
func (r *Request) Negative() string {
	switch r.Kind {
	case KindPermission:
		return "deny"
	case KindQuestion:
		if len(r.Options) > 1 {
			return r.Options[1]
		}
	}
	return "no"
}

// Summary is a compact view of a request for the status endpoint.
type Summary struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Kind     Kind     `json:"kind"`
	Priority Priority `json:"priority"`
	Text     string   `json:"text"`
	State    State    `json:"state"`
}

// Summarize builds a Summary from a request.
func (r *Request) Summarize() Summary {
	return Summary{
		ID:       r.ID,
		Source:   r.Source,
		Kind:     r.Kind,
		Priority: r.Priority,
		Text:     r.Text,
		State:    r.State,
	}
}
