// Package router turns raw pager input into request resolutions.
//
// The router owns the button interpretation rules: down/up edge pairs
// become taps or holds at a fixed threshold, taps answer the active
// request, and holding A runs a push to talk voice capture. Like the
// tracker and the voice pipeline it is driven solely by the coordinator
// event loop and is therefore not safe for concurrent use.
package router

import (
	"log"
	"time"

	"github.com/clawd/pager-bridge/internal/delivery"
	"github.com/clawd/pager-bridge/internal/device"
	"github.com/clawd/pager-bridge/internal/request"
	"github.com/clawd/pager-bridge/internal/voice"
)

// PressThreshold separates a tap from a hold. A release before the
// threshold is a tap; at or past it, a hold.
const PressThreshold = 400 * time.Millisecond

// AmbientFunc receives transcripts captured while no request was active.
type AmbientFunc func(text string, truncated bool)

// Router maps button input and voice results onto the request tracker.
type Router struct {
	tracker   *request.Tracker
	pipeline  *voice.Pipeline
	deliverer *delivery.Deliverer
	ambient   AmbientFunc

	// onResolved, when set, is invoked for every request this router
	// resolves, after dispatch. The coordinator hangs the audit trail
	// off it.
	onResolved func(*request.Request)

	// downAt holds the device timestamp of the last down edge per
	// button, 0 when the button is up.
	downAt map[device.Button]int64

	// transcribing is true between a successful End and the arrival of
	// the pipeline's result. The display derivation reads it.
	transcribing bool
}

// New wires a router over the coordinator's tracker and voice pipeline.
// ambient may be nil if transcripts with no associated request should be
// dropped.
func New(tracker *request.Tracker, pipeline *voice.Pipeline, deliverer *delivery.Deliverer, ambient AmbientFunc) *Router {
	return &Router{
		tracker:   tracker,
		pipeline:  pipeline,
		deliverer: deliverer,
		ambient:   ambient,
		downAt:    make(map[device.Button]int64),
	}
}

// OnResolved registers a hook for requests resolved by pager input.
func (r *Router) OnResolved(fn func(*request.Request)) {
	r.onResolved = fn
}

// Transcribing reports whether a transcript is in flight.
func (r *Router) Transcribing() bool {
	return r.transcribing
}

// HandleButton consumes one raw edge. Capture starts speculatively on A
// down so no audio is lost while the press is still ambiguous; a release
// before the threshold cancels the capture and counts as a tap.
func (r *Router) HandleButton(ev device.ButtonEvent) {
	switch ev.Edge {
	case device.EdgeDown:
		r.downAt[ev.Button] = ev.TimestampMs
		if ev.Button == device.ButtonA {
			r.maybeStartCapture()
		}
	case device.EdgeUp:
		downMs, ok := r.downAt[ev.Button]
		if !ok || downMs == 0 {
			// Release without a matching press, likely across a
			// reconnect. Ignore it.
			return
		}
		r.downAt[ev.Button] = 0
		held := time.Duration(ev.TimestampMs-downMs) * time.Millisecond
		if held < PressThreshold {
			r.tap(ev.Button)
		} else {
			r.hold(ev.Button)
		}
	default:
		log.Printf("router: unknown edge %q ignored", ev.Edge)
	}
}

// HandleAudio forwards one microphone frame to the live capture.
func (r *Router) HandleAudio(frame []byte) {
	if !r.pipeline.Active() {
		return
	}
	r.pipeline.Append(frame)
}

// HandleTranscript applies one voice result. Transcripts for requests
// that expired or were superseded while the user was speaking are
// discarded rather than delivered against the wrong question.
func (r *Router) HandleTranscript(res voice.Result) {
	r.transcribing = false

	if res.Err != nil {
		log.Printf("router: voice capture for %q failed: %v", res.RequestID, res.Err)
		return
	}

	if res.RequestID == "" {
		if r.ambient == nil {
			log.Printf("router: ambient transcript dropped, no sink configured")
			return
		}
		r.ambient(res.Text, res.Truncated)
		return
	}

	req := r.tracker.Get(res.RequestID)
	if req == nil || req.State.Terminal() {
		log.Printf("router: stale answer for %s discarded", res.RequestID)
		return
	}

	r.resolve(req, request.Answer{
		Outcome:   request.OutcomeAnswered,
		Value:     res.Text,
		Truncated: res.Truncated,
		Via:       "voice",
	})
}

// Dispatch pushes a terminal request's answer to its delivery target on
// a worker goroutine. Failures are logged; the resolution stands.
func (r *Router) Dispatch(req *request.Request) {
	go func() {
		if err := r.deliverer.Deliver(req); err != nil {
			log.Printf("router: answer for %s undelivered: %v", req.ID, err)
		}
	}()
}

// tap answers the active request with a single press.
func (r *Router) tap(b device.Button) {
	// B cancels a live capture even while A is still held.
	if b == device.ButtonB && r.pipeline.Active() {
		log.Printf("router: capture cancelled by button B")
		r.pipeline.Cancel()
		return
	}

	active := r.tracker.Active()
	if active == nil {
		log.Printf("router: tap %s with no active request, ignored", b)
		return
	}

	// A tap on A lands while its speculative capture is still open.
	// Drop the capture; the press was an answer, not speech.
	if r.pipeline.Active() {
		r.pipeline.Cancel()
	}

	var value string
	switch b {
	case device.ButtonA:
		value = active.Affirmative()
	case device.ButtonB:
		value = active.Negative()
	default:
		return
	}

	r.resolve(active, request.Answer{
		Outcome: request.OutcomeAnswered,
		Value:   value,
		Via:     "button",
	})
}

// hold finishes a push to talk capture on release of A. Holds of B, and
// holds of A when no capture ever started, do nothing.
func (r *Router) hold(b device.Button) {
	if b != device.ButtonA {
		return
	}
	if !r.pipeline.Active() {
		return
	}
	if err := r.pipeline.End(); err != nil {
		log.Printf("router: ending capture: %v", err)
		return
	}
	r.transcribing = true
}

// maybeStartCapture opens a capture on A down when the context allows
// speech: an associated capture for a voice eligible active request
// (questions, permissions and open prompts all qualify), an ambient one
// when nothing is active.
func (r *Router) maybeStartCapture() {
	active := r.tracker.Active()
	if active != nil && !active.VoiceEligible() {
		return
	}

	id := ""
	if active != nil {
		id = active.ID
	}
	if err := r.pipeline.Start(id); err != nil {
		log.Printf("router: capture not started: %v", err)
	}
}

// resolve terminates a request with an answer and dispatches it, along
// with any promotion the resolution caused.
func (r *Router) resolve(req *request.Request, ans request.Answer) {
	resolved, promoted := r.tracker.Resolve(req.ID, ans)
	if !resolved {
		return
	}
	r.Dispatch(req)
	if r.onResolved != nil {
		r.onResolved(req)
	}
	if promoted != nil {
		log.Printf("router: %s promoted to active", promoted.ID)
	}
}
