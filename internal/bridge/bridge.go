// Package bridge is the coordinator that ties the pieces together: the
// device link, the request tracker, the voice pipeline, the button
// router and the agent HTTP API.
//
// All mutable session state is owned by a single event loop. Device
// events, agent submissions, voice results and the expiry sweep arrive
// as loop turns; the tracker, pipeline and router are only ever touched
// from inside a turn, which is why none of them carry locks. After each
// turn the loop derives the display target and pushes it to the pager
// if it changed.
package bridge

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/clawd/pager-bridge/internal/config"
	"github.com/clawd/pager-bridge/internal/delivery"
	"github.com/clawd/pager-bridge/internal/device"
	"github.com/clawd/pager-bridge/internal/display"
	"github.com/clawd/pager-bridge/internal/request"
	"github.com/clawd/pager-bridge/internal/router"
	"github.com/clawd/pager-bridge/internal/storage"
	"github.com/clawd/pager-bridge/internal/voice"
)

// confirmFrameDuration is how long the brief confirmation frame stays on
// screen after a permission times out to deny.
const confirmFrameDuration = 1500 * time.Millisecond

// alertOverlayDuration is how long an agent alert overrides the derived
// display. The pager buzzes on the alert frame itself; this just keeps
// the next display push from wiping the text immediately.
const alertOverlayDuration = 3 * time.Second

// inboxSize bounds how many agent calls can be waiting on the loop.
const inboxSize = 32

// override pins the display to a fixed target until a deadline.
type override struct {
	target display.Target
	until  time.Time
}

// Bridge is the session coordinator.
type Bridge struct {
	cfg      *config.Config
	link     *device.Link
	tracker  *request.Tracker
	pipeline *voice.Pipeline
	router   *router.Router
	store    *storage.Store

	results chan voice.Result
	inbox   chan func()
	limiter *rate.Limiter

	agentLabel string
	agentSeen  time.Time

	overlay    *override
	lastTarget display.Target
	havePushed bool

	startTime time.Time
}

// New assembles a bridge from its configuration. pagerURL is the
// websocket endpoint of the device, already resolved (configured or
// discovered). store may be nil when auditing is disabled.
func New(cfg *config.Config, pagerURL string, store *storage.Store) *Bridge {
	b := &Bridge{
		cfg:       cfg,
		link:      device.NewLink(pagerURL, time.Duration(cfg.HeartbeatSeconds)*time.Second),
		tracker:   request.NewTracker(cfg.RequestCap),
		results:   make(chan voice.Result, 8),
		inbox:     make(chan func(), inboxSize),
		limiter:   rate.NewLimiter(rate.Limit(cfg.SubmitRatePerSecond), cfg.SubmitRatePerSecond),
		store:     store,
		startTime: time.Now(),
	}

	var tr voice.Transcriber
	if cfg.ASRURL != "" {
		tr = voice.NewHTTPTranscriber(cfg.ASRURL, cfg.ASRToken)
	}
	b.pipeline = voice.NewPipeline(tr, b.results)

	b.router = router.New(b.tracker, b.pipeline, delivery.NewDeliverer(), func(text string, truncated bool) {
		b.ambientNote(text, truncated)
	})
	b.router.OnResolved(b.audit)
	return b
}

// Run drives the event loop until the context ends. It also runs the
// device link's dial loop.
func (b *Bridge) Run(ctx context.Context) error {
	go b.link.Run(ctx)

	sweep := time.NewTicker(time.Duration(b.cfg.SweepMs) * time.Millisecond)
	defer sweep.Stop()

	log.Printf("bridge: coordinator running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.link.Events():
			b.handleDeviceEvent(ev)
		case res := <-b.results:
			b.router.HandleTranscript(res)
		case fn := <-b.inbox:
			fn()
		case now := <-sweep.C:
			b.sweep(now)
		}
		b.refresh()
	}
}

// do runs fn on the event loop and waits for it. Every agent-facing
// handler goes through here so the tracker only ever sees one caller.
func (b *Bridge) do(fn func()) {
	done := make(chan struct{})
	b.inbox <- func() {
		defer close(done)
		fn()
	}
	<-done
}

// handleDeviceEvent applies one event from the pager link.
func (b *Bridge) handleDeviceEvent(ev device.Event) {
	switch e := ev.(type) {
	case device.ButtonEvent:
		b.router.HandleButton(e)
	case device.AudioFrame:
		b.router.HandleAudio(e.Data)
	case device.ConnectivityEvent:
		b.handleConnectivity(e.State)
	case device.ModeEcho:
		b.checkDrift(e.Mode)
	case device.BatteryEvent:
		// The link already folded it into the session snapshot.
	default:
		log.Printf("bridge: unhandled device event %T", ev)
	}
}

// handleConnectivity reacts to link state changes. On reconnect the
// current target is re-pushed unconditionally; the pager may have
// rebooted into its idle screen.
func (b *Bridge) handleConnectivity(state device.ConnState) {
	log.Printf("bridge: pager link %s", state)
	if state == device.StateConnected {
		b.havePushed = false
	}
	if state != device.StateConnected && b.pipeline.Active() {
		// Audio frames stopped mid capture. Drop it rather than
		// transcribe a half sentence.
		log.Printf("bridge: capture abandoned on disconnect")
		b.pipeline.Cancel()
	}
}

// checkDrift compares the mode the pager says it is rendering against
// the last pushed target.
func (b *Bridge) checkDrift(echoed string) {
	if b.havePushed && echoed != string(b.lastTarget.Mode) {
		log.Printf("bridge: display drift: pager renders %q, want %q", echoed, b.lastTarget.Mode)
	}
}

// sweep expires overdue requests, audits and delivers their outcomes,
// and arranges the brief deny confirmation for permissions that timed
// out while on screen.
func (b *Bridge) sweep(now time.Time) {
	expired, promoted := b.tracker.ExpireSweep(now)
	for _, ex := range expired {
		b.router.Dispatch(ex.Request)
		b.audit(ex.Request)
		if ex.WasActive && ex.Request.Kind == request.KindPermission {
			b.setOverlay(display.Target{Mode: display.ModeConfirm, Text: "DENIED"}, now.Add(confirmFrameDuration))
		}
	}
	if promoted != nil {
		log.Printf("bridge: %s promoted to active after expiry", promoted.ID)
	}
	if b.overlay != nil && !now.Before(b.overlay.until) {
		b.overlay = nil
	}
}

// refresh derives the display target from current state and pushes it
// when it differs from what the pager is showing.
func (b *Bridge) refresh() {
	target := display.Derive(b.snapshot())
	if b.overlay != nil && time.Now().Before(b.overlay.until) {
		target = b.overlay.target
	}

	if b.havePushed && target == b.lastTarget {
		return
	}

	// Prompts and alerts wake the screen; passive states wait for the
	// user to look.
	switch target.Mode {
	case display.ModeQuestion, display.ModePermission, display.ModeConfirm, display.ModeAlert:
		if err := b.link.Send(device.Wake{}); err == nil {
			log.Printf("bridge: waking display for %s", target.Mode)
		}
	}

	if err := b.link.Send(target.Command()); err != nil {
		// The link is down; the target will be re-pushed on reconnect.
		b.lastTarget = target
		b.havePushed = false
		return
	}
	b.lastTarget = target
	b.havePushed = true
}

// snapshot collects the inputs of the display derivation.
func (b *Bridge) snapshot() display.Snapshot {
	session := b.link.Session()

	label := ""
	if b.agentLabel != "" && time.Since(b.agentSeen) < time.Duration(b.cfg.IdleRevertSeconds)*time.Second {
		label = b.agentLabel
	}

	return display.Snapshot{
		Connection:   session.State,
		Active:       b.tracker.Active(),
		VoiceActive:  b.pipeline.Active(),
		Transcribing: b.router.Transcribing(),
		Charging:     session.Charging,
		AgentLabel:   label,
	}
}

func (b *Bridge) setOverlay(target display.Target, until time.Time) {
	b.overlay = &override{target: target, until: until}
}

// audit writes one terminal request to the audit log on a worker
// goroutine. Auditing is best effort; a failed write never blocks or
// undoes a resolution.
func (b *Bridge) audit(req *request.Request) {
	if b.store == nil {
		return
	}
	entry := storage.NewAuditEntry(req)
	go func() {
		if err := b.store.SaveAudit(entry); err != nil {
			log.Printf("bridge: audit write failed: %v", err)
		}
	}()
}

// ambientNote receives transcripts captured while nothing was active.
// Each becomes an open prompt attributed to the configured default
/// source, born resolved: it enters the tracker so the answer is readable
// from the poll slot, is delivered (to the notes file when configured),
// and is audited when the store is open.
func (b *Bridge) ambientNote(text string, truncated bool) *request.Request {
	note := &request.Request{
		Source:   b.cfg.DefaultSource,
		Kind:     request.KindOpenPrompt,
		Priority: request.PriorityNormal,
		Text:     "(ambient note)",
		Delivery: request.Delivery{Kind: request.DeliverPoll},
		Answer: &request.Answer{
			Outcome:   request.OutcomeAnswered,
			Value:     text,
			Truncated: truncated,
			Via:       "voice",
		},
	}
	if b.cfg.NotesPath != "" {
		note.Delivery = request.Delivery{Kind: request.DeliverFile, Path: b.cfg.NotesPath}
	}

	b.tracker.Record(note)
	log.Printf("bridge: ambient note %s (%d chars) for %s", note.ID, len(text), note.Source)
	b.router.Dispatch(note)
	b.audit(note)
	return note
}
