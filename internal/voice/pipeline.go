// Package voice assembles bounded audio buffers from streamed device
// frames and hands finished captures to the transcription collaborator.
// Transcription runs on a worker goroutine and reports back as an
// ordinary Result event, so button handling is never delayed by a slow
// speech-to-text call.
package voice

import (
	"context"
	"log"
	"time"

	apperrors "github.com/clawd/pager-bridge/internal/errors"
)

// MaxBufferBytes caps the capture buffer at 30 seconds of 16 kHz 16-bit
// mono PCM. Frames past the cap are dropped and the eventual transcript
// is marked truncated; memory never grows unbounded.
const MaxBufferBytes = 30 * 16000 * 2

// DefaultTranscribeTimeout bounds the external transcription call.
const DefaultTranscribeTimeout = 10 * time.Second

// Transcriber is the external speech-to-text collaborator. Treated as an
// opaque blocking call; the pipeline wraps it in a worker with a deadline.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Result is the finished-capture event posted back to the coordinator.
// Exactly one Result is posted per non-cancelled session.
type Result struct {
	// RequestID is the request this capture answers. Empty for ambient
	// captures, which create a new open-prompt request instead.
	RequestID string

	// Text is the transcript. Empty when Err is set.
	Text string

	// Truncated marks captures that hit the buffer cap.
	Truncated bool

	// Err is a capture failure (transcription error or timeout). The
	// router treats it as "no answer": the original request stays active.
	Err error
}

// Pipeline manages at most one recording session at a time.
//
// Not safe for concurrent use: all methods are called from the
// coordinator's event loop. Only the transcription worker runs
// concurrently, and it touches nothing but its own buffer copy.
type Pipeline struct {
	transcriber Transcriber
	results     chan<- Result
	timeout     time.Duration
	maxBytes    int

	active    bool
	requestID string
	startedAt time.Time
	buf       []byte
	truncated bool
}

// NewPipeline creates a pipeline that posts Results to the given channel.
func NewPipeline(tr Transcriber, results chan<- Result) *Pipeline {
	return &Pipeline{
		transcriber: tr,
		results:     results,
		timeout:     DefaultTranscribeTimeout,
		maxBytes:    MaxBufferBytes,
	}
}

// Active reports whether a recording session is open.
func (p *Pipeline) Active() bool {
	return p.active
}

// AssociatedRequestID returns the request the open session answers, or
// empty for an ambient session (or no session).
func (p *Pipeline) AssociatedRequestID() string {
	return p.requestID
}

// StartedAt returns when the open session began.
func (p *Pipeline) StartedAt() time.Time {
	return p.startedAt
}

// Start opens a recording session. An empty requestID starts an ambient
// session: its transcript becomes a brand-new open-prompt request rather
// than the answer to an existing one.
func (p *Pipeline) Start(requestID string) error {
	if p.transcriber == nil {
		return apperrors.New(apperrors.CodeVoiceTranscribeFailed, "voice capture disabled (no asr_url configured)")
	}
	if p.active {
		return apperrors.VoiceBusy()
	}
	p.active = true
	p.requestID = requestID
	p.startedAt = time.Now()
	p.buf = nil
	p.truncated = false
	if requestID == "" {
		log.Printf("voice: ambient recording started")
	} else {
		log.Printf("voice: recording started for request %s", requestID)
	}
	return nil
}

// Append adds one audio frame to the open session's buffer. Frames past
// the cap are dropped. Frames with no open session are ignored (the
// device may still be flushing after a cancel).
func (p *Pipeline) Append(frame []byte) {
	if !p.active || len(frame) == 0 {
		return
	}
	room := p.maxBytes - len(p.buf)
	if room <= 0 {
		if !p.truncated {
			log.Printf("voice: buffer cap reached, dropping further audio")
		}
		p.truncated = true
		return
	}
	if len(frame) > room {
		frame = frame[:room]
		p.truncated = true
	}
	p.buf = append(p.buf, frame...)
}

// Cancel discards the open session without transcribing. No Result is
// posted. A no-op when no session is open.
func (p *Pipeline) Cancel() {
	if !p.active {
		return
	}
	log.Printf("voice: recording cancelled, %d bytes discarded", len(p.buf))
	p.reset()
}

// End closes the open session and hands the buffer to the transcriber on
// a worker goroutine. The Result (transcript or capture error) arrives
// on the results channel; the coordinator is never blocked.
func (p *Pipeline) End() error {
	if !p.active {
		return apperrors.VoiceNoSession()
	}

	requestID := p.requestID
	truncated := p.truncated
	buf := p.buf
	p.reset()

	if len(buf) == 0 {
		go func() {
			p.results <- Result{RequestID: requestID, Err: apperrors.EmptyCapture()}
		}()
		return nil
	}

	log.Printf("voice: recording ended, transcribing %d bytes (truncated=%v)", len(buf), truncated)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		text, err := p.transcriber.Transcribe(ctx, buf)
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			p.results <- Result{RequestID: requestID, Err: apperrors.TranscribeTimeout()}
		case err != nil:
			p.results <- Result{RequestID: requestID, Err: apperrors.TranscribeFailed(err)}
		default:
			p.results <- Result{RequestID: requestID, Text: text, Truncated: truncated}
		}
	}()
	return nil
}

func (p *Pipeline) reset() {
	p.active = false
	p.requestID = ""
	p.startedAt = time.Time{}
	p.buf = nil
	p.truncated = false
}
