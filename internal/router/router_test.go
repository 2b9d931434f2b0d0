package router

import (
	"context"
	"testing"
	"time"

	"github.com/clawd/pager-bridge/internal/delivery"
	"github.com/clawd/pager-bridge/internal/device"
	"github.com/clawd/pager-bridge/internal/request"
	"github.com/clawd/pager-bridge/internal/voice"
)

type stubTranscriber struct {
	text string
	err  error
}

func (s stubTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	return s.text, s.err
}

func newHarness(t *testing.T, transcript string) (*Router, *request.Tracker, chan voice.Result, *[]string) {
	t.Helper()
	tracker := request.NewTracker(8)
	results := make(chan voice.Result, 4)
	pipeline := voice.NewPipeline(stubTranscriber{text: transcript}, results)

	var ambientTexts []string
	ambient := func(text string, truncated bool) {
		ambientTexts = append(ambientTexts, text)
	}

	r := New(tracker, pipeline, delivery.NewDeliverer(), ambient)
	return r, tracker, results, &ambientTexts
}

func submit(t *testing.T, tracker *request.Tracker, kind request.Kind, opts []string) *request.Request {
	t.Helper()
	req := &request.Request{
		Source:   "coder",
		Kind:     kind,
		Priority: request.PriorityNormal,
		Text:     "need input",
		Options:  opts,
		Delivery: request.Delivery{Kind: request.DeliverPoll},
	}
	accepted, _, err := tracker.Submit(req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return accepted
}

func press(r *Router, b device.Button, downMs, upMs int64) {
	r.HandleButton(device.ButtonEvent{Button: b, Edge: device.EdgeDown, TimestampMs: downMs})
	r.HandleButton(device.ButtonEvent{Button: b, Edge: device.EdgeUp, TimestampMs: upMs})
}

func awaitResult(t *testing.T, results chan voice.Result) voice.Result {
	t.Helper()
	select {
	case res := <-results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no voice result arrived")
		return voice.Result{}
	}
}

func TestTapA_AnswersAffirmative(t *testing.T) {
	r, tracker, _, _ := newHarness(t, "")
	req := submit(t, tracker, request.KindQuestion, []string{"merge", "wait"})

	press(r, device.ButtonA, 1000, 1100)

	got := tracker.Get(req.ID)
	if got.State != request.StateResolved {
		t.Fatalf("state = %s, want resolved", got.State)
	}
	if got.Answer.Value != "merge" || got.Answer.Via != "button" {
		t.Fatalf("unexpected answer: %+v", got.Answer)
	}
}

func TestTapB_AnswersNegative(t *testing.T) {
	r, tracker, _, _ := newHarness(t, "")
	req := submit(t, tracker, request.KindPermission, nil)

	press(r, device.ButtonB, 1000, 1050)

	got := tracker.Get(req.ID)
	if got.Answer == nil || got.Answer.Value != "deny" {
		t.Fatalf("unexpected answer: %+v", got.Answer)
	}
}

func TestTap_ResolutionPromotesNextRequest(t *testing.T) {
	r, tracker, _, _ := newHarness(t, "")
	first := submit(t, tracker, request.KindQuestion, nil)
	second := submit(t, tracker, request.KindQuestion, nil)

	press(r, device.ButtonA, 1000, 1100)

	if tracker.Get(first.ID).State != request.StateResolved {
		t.Fatal("first request should be resolved")
	}
	if active := tracker.Active(); active == nil || active.ID != second.ID {
		t.Fatal("second request should be active after the tap")
	}
}

func TestTap_NoActiveRequestIsIgnored(t *testing.T) {
	r, tracker, _, _ := newHarness(t, "")

	press(r, device.ButtonA, 1000, 1100)
	press(r, device.ButtonB, 2000, 2100)

	if tracker.Active() != nil {
		t.Fatal("nothing should have become active")
	}
}

func TestHoldA_CapturesVoiceAnswer(t *testing.T) {
	r, tracker, results, _ := newHarness(t, "ship it after the tests pass")
	req := submit(t, tracker, request.KindQuestion, nil)

	r.HandleButton(device.ButtonEvent{Button: device.ButtonA, Edge: device.EdgeDown, TimestampMs: 1000})
	r.HandleAudio([]byte{1, 2, 3, 4})
	r.HandleButton(device.ButtonEvent{Button: device.ButtonA, Edge: device.EdgeUp, TimestampMs: 1600})

	if !r.Transcribing() {
		t.Fatal("router should report a transcript in flight")
	}
	r.HandleTranscript(awaitResult(t, results))

	got := tracker.Get(req.ID)
	if got.State != request.StateResolved {
		t.Fatalf("state = %s, want resolved", got.State)
	}
	if got.Answer.Value != "ship it after the tests pass" || got.Answer.Via != "voice" {
		t.Fatalf("unexpected answer: %+v", got.Answer)
	}
	if r.Transcribing() {
		t.Fatal("transcribing flag should clear once the result lands")
	}
}

func TestHoldA_OnPermissionRecordsVoiceAnswer(t *testing.T) {
	r, tracker, results, _ := newHarness(t, "approve but only the staging cluster")
	req := submit(t, tracker, request.KindPermission, nil)

	r.HandleButton(device.ButtonEvent{Button: device.ButtonA, Edge: device.EdgeDown, TimestampMs: 1000})
	r.HandleAudio([]byte{1, 2})
	r.HandleButton(device.ButtonEvent{Button: device.ButtonA, Edge: device.EdgeUp, TimestampMs: 1600})

	if !r.Transcribing() {
		t.Fatal("holding A on a permission should start an associated capture")
	}
	r.HandleTranscript(awaitResult(t, results))

	got := tracker.Get(req.ID)
	if got.State != request.StateResolved {
		t.Fatalf("state = %s, want resolved", got.State)
	}
	if got.Answer.Value != "approve but only the staging cluster" || got.Answer.Via != "voice" {
		t.Fatalf("unexpected answer: %+v", got.Answer)
	}
}

func TestTapB_CancelsLiveCapture(t *testing.T) {
	r, tracker, _, _ := newHarness(t, "should never surface")
	req := submit(t, tracker, request.KindQuestion, nil)

	r.HandleButton(device.ButtonEvent{Button: device.ButtonA, Edge: device.EdgeDown, TimestampMs: 1000})
	r.HandleAudio([]byte{1, 2, 3})
	press(r, device.ButtonB, 1200, 1250)
	r.HandleButton(device.ButtonEvent{Button: device.ButtonA, Edge: device.EdgeUp, TimestampMs: 1600})

	if r.Transcribing() {
		t.Fatal("cancelled capture must not transcribe")
	}
	got := tracker.Get(req.ID)
	if got.State != request.StateActive || got.Answer != nil {
		t.Fatalf("request should be untouched after cancel, got %+v", got)
	}
}

func TestStaleTranscriptDiscarded(t *testing.T) {
	r, tracker, results, _ := newHarness(t, "too late")
	req := submit(t, tracker, request.KindQuestion, nil)

	r.HandleButton(device.ButtonEvent{Button: device.ButtonA, Edge: device.EdgeDown, TimestampMs: 1000})
	r.HandleAudio([]byte{1, 2, 3})
	r.HandleButton(device.ButtonEvent{Button: device.ButtonA, Edge: device.EdgeUp, TimestampMs: 1600})

	// The request dies while the transcript is still in flight.
	tracker.Resolve(req.ID, request.Answer{Outcome: request.OutcomeExpired, Value: "deny", Via: "timeout"})
	expired := *tracker.Get(req.ID).Answer

	r.HandleTranscript(awaitResult(t, results))

	if got := tracker.Get(req.ID); *got.Answer != expired {
		t.Fatalf("stale transcript overwrote the answer: %+v", got.Answer)
	}
}

func TestHoldA_NoActiveGoesAmbient(t *testing.T) {
	r, _, results, ambientTexts := newHarness(t, "remember to rotate the pager battery")

	r.HandleButton(device.ButtonEvent{Button: device.ButtonA, Edge: device.EdgeDown, TimestampMs: 1000})
	r.HandleAudio([]byte{9, 9})
	r.HandleButton(device.ButtonEvent{Button: device.ButtonA, Edge: device.EdgeUp, TimestampMs: 1700})

	r.HandleTranscript(awaitResult(t, results))

	if len(*ambientTexts) != 1 || (*ambientTexts)[0] != "remember to rotate the pager battery" {
		t.Fatalf("ambient sink got %v", *ambientTexts)
	}
}

func TestUpWithoutDownIgnored(t *testing.T) {
	r, tracker, _, _ := newHarness(t, "")
	req := submit(t, tracker, request.KindQuestion, nil)

	r.HandleButton(device.ButtonEvent{Button: device.ButtonA, Edge: device.EdgeUp, TimestampMs: 5000})

	if tracker.Get(req.ID).State != request.StateActive {
		t.Fatal("an orphan release must not answer anything")
	}
}
