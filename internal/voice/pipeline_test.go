package voice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/clawd/pager-bridge/internal/errors"
)

// fakeTranscriber returns a canned transcript or error, optionally
// after a delay, and records whether it was called.
type fakeTranscriber struct {
	text   string
	err    error
	delay  time.Duration
	called bool
	got    []byte
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	f.called = true
	f.got = pcm
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func awaitResult(t *testing.T, results chan Result) Result {
	t.Helper()
	select {
	case res := <-results:
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a capture result")
		return Result{}
	}
}

func TestPipeline_CaptureAndTranscribe(t *testing.T) {
	results := make(chan Result, 1)
	tr := &fakeTranscriber{text: "deploy it"}
	p := NewPipeline(tr, results)

	if err := p.Start("req-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !p.Active() || p.AssociatedRequestID() != "req-1" {
		t.Fatal("session should be open and associated")
	}

	p.Append([]byte{1, 2, 3, 4})
	p.Append([]byte{5, 6})
	if err := p.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if p.Active() {
		t.Error("session should close as soon as End returns")
	}

	res := awaitResult(t, results)
	if res.Err != nil {
		t.Fatalf("result error: %v", res.Err)
	}
	if res.RequestID != "req-1" || res.Text != "deploy it" || res.Truncated {
		t.Errorf("result = %+v", res)
	}
	if len(tr.got) != 6 {
		t.Errorf("transcriber got %d bytes, want 6", len(tr.got))
	}
}

func TestPipeline_AmbientSession(t *testing.T) {
	results := make(chan Result, 1)
	p := NewPipeline(&fakeTranscriber{text: "status report"}, results)

	if err := p.Start(""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	p.Append([]byte{1})
	p.End()

	res := awaitResult(t, results)
	if res.RequestID != "" {
		t.Errorf("ambient result should carry no request ID, got %q", res.RequestID)
	}
	if res.Text != "status report" {
		t.Errorf("text = %q", res.Text)
	}
}

func TestPipeline_TruncatesAtCap(t *testing.T) {
	results := make(chan Result, 1)
	tr := &fakeTranscriber{text: "partial"}
	p := NewPipeline(tr, results)
	p.maxBytes = 10

	p.Start("req-2")
	p.Append(make([]byte, 8))
	p.Append(make([]byte, 8)) // crosses the cap
	p.Append(make([]byte, 8)) // fully dropped
	p.End()

	res := awaitResult(t, results)
	if !res.Truncated {
		t.Error("result should be marked truncated")
	}
	if len(tr.got) != 10 {
		t.Errorf("transcriber got %d bytes, want the 10-byte cap", len(tr.got))
	}
}

func TestPipeline_CancelNeverTranscribes(t *testing.T) {
	results := make(chan Result, 1)
	tr := &fakeTranscriber{text: "should not appear"}
	p := NewPipeline(tr, results)

	p.Start("req-3")
	p.Append([]byte{1, 2, 3})
	p.Cancel()

	if p.Active() {
		t.Error("cancel should close the session")
	}
	select {
	case res := <-results:
		t.Errorf("cancel must post no result, got %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
	if tr.called {
		t.Error("cancel must never call the transcriber")
	}
}

func TestPipeline_BusyAndNoSession(t *testing.T) {
	p := NewPipeline(&fakeTranscriber{}, make(chan Result, 1))

	p.Start("a")
	err := p.Start("b")
	if !apperrors.IsCode(err, apperrors.CodeVoiceBusy) {
		t.Errorf("second Start error = %v, want %s", err, apperrors.CodeVoiceBusy)
	}
	p.Cancel()

	err = p.End()
	if !apperrors.IsCode(err, apperrors.CodeVoiceNoSession) {
		t.Errorf("End with no session error = %v, want %s", err, apperrors.CodeVoiceNoSession)
	}
}

func TestPipeline_EmptyCapture(t *testing.T) {
	results := make(chan Result, 1)
	tr := &fakeTranscriber{}
	p := NewPipeline(tr, results)

	p.Start("req-4")
	p.End()

	res := awaitResult(t, results)
	if !apperrors.IsCode(res.Err, apperrors.CodeVoiceEmptyCapture) {
		t.Errorf("result error = %v, want %s", res.Err, apperrors.CodeVoiceEmptyCapture)
	}
	if tr.called {
		t.Error("empty capture must not reach the transcriber")
	}
}

func TestPipeline_TranscribeFailure(t *testing.T) {
	results := make(chan Result, 1)
	p := NewPipeline(&fakeTranscriber{err: errors.New("asr exploded")}, results)

	p.Start("req-5")
	p.Append([]byte{1})
	p.End()

	res := awaitResult(t, results)
	if !apperrors.IsCode(res.Err, apperrors.CodeVoiceTranscribeFailed) {
		t.Errorf("result error = %v, want %s", res.Err, apperrors.CodeVoiceTranscribeFailed)
	}
	if res.RequestID != "req-5" {
		t.Errorf("failure must still carry the request ID, got %q", res.RequestID)
	}
}

func TestPipeline_TranscribeTimeout(t *testing.T) {
	results := make(chan Result, 1)
	p := NewPipeline(&fakeTranscriber{text: "too late", delay: time.Second}, results)
	p.timeout = 20 * time.Millisecond

	p.Start("req-6")
	p.Append([]byte{1})
	p.End()

	res := awaitResult(t, results)
	if !apperrors.IsCode(res.Err, apperrors.CodeVoiceTranscribeTimeout) {
		t.Errorf("result error = %v, want %s", res.Err, apperrors.CodeVoiceTranscribeTimeout)
	}
}

func TestHTTPTranscriber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"text":"hello pager"}`))
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, "tok")
	text, err := tr.Transcribe(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello pager" {
		t.Errorf("text = %q", text)
	}
}

func TestHTTPTranscriber_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, "")
	if _, err := tr.Transcribe(context.Background(), []byte{1}); err == nil {
		t.Fatal("non-200 status should be an error")
	}
}

func TestHTTPTranscriber_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"no speech detected"}`))
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, "")
	if _, err := tr.Transcribe(context.Background(), []byte{1}); err == nil {
		t.Fatal("an error payload should be an error")
	}
}
